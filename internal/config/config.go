package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"vidplay/internal/models"
)

// Config holds the fully processed demo configuration.
type Config struct {
	LogLevel    string
	UserAgent   string
	MetricsAddr string
	Source      models.SourceOptions
}

// rawFragment is used for intermediate unmarshaling from the JSON file, to
// handle the "start-end" byte range strings.
type rawFragment struct {
	Start         float64 `json:"Start"`
	End           float64 `json:"End"`
	RelativeStart float64 `json:"RelativeStart"`
	MimeType      string  `json:"MimeType"`
	InitURL       string  `json:"InitURL,omitempty"`
	InitByteRange string  `json:"InitByteRange,omitempty"`
	URL           string  `json:"URL"`
	ByteRange     string  `json:"ByteRange,omitempty"`
}

// rawConfig is the intermediate structure that maps directly to the JSON
// file.
type rawConfig struct {
	LogLevel    string `json:"LogLevel"`
	UserAgent   string `json:"UserAgent"`
	MetricsAddr string `json:"MetricsAddr"`
	Live        *struct {
		URL              string  `json:"URL"`
		FragmentDuration float64 `json:"FragmentDuration"`
	} `json:"Live,omitempty"`
	Fragments []rawFragment `json:"Fragments,omitempty"`
}

// parseByteRange processes an inclusive "start-end" span into a ByteRange.
func parseByteRange(s string) (*models.ByteRange, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid byte range %q: expected 'start-end'", s)
	}
	start, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid byte range start %q: %w", parts[0], err)
	}
	end, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid byte range end %q: %w", parts[1], err)
	}
	if end < start {
		return nil, fmt.Errorf("inverted byte range %q", s)
	}
	return &models.ByteRange{Start: start, End: end}, nil
}

// Load reads and parses the configuration file at path, processing the
// raw fragment entries into source options.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config JSON: %w", err)
	}

	cfg := &Config{
		LogLevel:    raw.LogLevel,
		UserAgent:   raw.UserAgent,
		MetricsAddr: raw.MetricsAddr,
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	switch {
	case raw.Live != nil:
		cfg.Source.Live = &models.LiveOptions{
			URL:              raw.Live.URL,
			FragmentDuration: raw.Live.FragmentDuration,
		}
	case len(raw.Fragments) > 0:
		fragments := make([]models.Fragment, 0, len(raw.Fragments))
		for i, rf := range raw.Fragments {
			dataRange, err := parseByteRange(rf.ByteRange)
			if err != nil {
				return nil, fmt.Errorf("fragment %d: %w", i, err)
			}
			f := models.Fragment{
				StartTime:     rf.Start,
				EndTime:       rf.End,
				RelativeStart: rf.RelativeStart,
				MimeType:      rf.MimeType,
				Data:          models.SegmentData{URL: rf.URL, ByteRange: dataRange},
			}
			if rf.InitURL != "" {
				initRange, err := parseByteRange(rf.InitByteRange)
				if err != nil {
					return nil, fmt.Errorf("fragment %d init: %w", i, err)
				}
				f.InitData = &models.SegmentData{URL: rf.InitURL, ByteRange: initRange}
			}
			fragments = append(fragments, f)
		}
		cfg.Source.Fragmented = &models.FragmentedOptions{Fragments: fragments}
	default:
		return nil, fmt.Errorf("config selects neither a live URL nor a fragment list")
	}

	if err := cfg.Source.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source configuration: %w", err)
	}
	return cfg, nil
}
