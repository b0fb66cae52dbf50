package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidplay/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "player.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Live(t *testing.T) {
	path := writeConfig(t, `{
		"LogLevel": "debug",
		"UserAgent": "vidplay-test/1.0",
		"MetricsAddr": ":9090",
		"Live": {"URL": "http://origin.example/live.webm", "FragmentDuration": 4}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "vidplay-test/1.0", cfg.UserAgent)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	require.NotNil(t, cfg.Source.Live)
	assert.Nil(t, cfg.Source.Fragmented)
	assert.Equal(t, "http://origin.example/live.webm", cfg.Source.Live.URL)
	assert.Equal(t, 4.0, cfg.Source.Live.FragmentDuration)
}

func TestLoad_Fragmented(t *testing.T) {
	path := writeConfig(t, `{
		"Fragments": [
			{
				"Start": 0, "End": 5, "MimeType": "video/mp4",
				"InitURL": "http://origin.example/init.mp4",
				"InitByteRange": "0-811",
				"URL": "http://origin.example/media.mp4",
				"ByteRange": "812-52000"
			},
			{
				"Start": 5, "End": 10, "RelativeStart": 0.5, "MimeType": "video/mp4",
				"URL": "http://origin.example/media.mp4",
				"ByteRange": "52001-104000"
			}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel, "log level defaults when omitted")
	require.NotNil(t, cfg.Source.Fragmented)
	frags := cfg.Source.Fragmented.Fragments
	require.Len(t, frags, 2)

	first := frags[0]
	require.NotNil(t, first.InitData)
	assert.Equal(t, &models.ByteRange{Start: 0, End: 811}, first.InitData.ByteRange)
	assert.Equal(t, &models.ByteRange{Start: 812, End: 52000}, first.Data.ByteRange)

	second := frags[1]
	assert.Nil(t, second.InitData)
	assert.Equal(t, 0.5, second.RelativeStart)
	assert.Equal(t, 4.5, second.TimestampOffset())
}

func TestLoad_BadByteRange(t *testing.T) {
	cases := map[string]string{
		"malformed":  `"ByteRange": "812"`,
		"inverted":   `"ByteRange": "500-100"`,
		"nonnumeric": `"ByteRange": "a-b"`,
	}
	for name, field := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, `{
				"Fragments": [
					{"Start": 0, "End": 5, "MimeType": "video/mp4",
					 "URL": "http://origin.example/media.mp4", `+field+`}
				]
			}`)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_NoVariant(t *testing.T) {
	path := writeConfig(t, `{"LogLevel": "info"}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_UnsortedFragmentsRejected(t *testing.T) {
	path := writeConfig(t, `{
		"Fragments": [
			{"Start": 5, "End": 10, "MimeType": "video/mp4", "URL": "http://o/a"},
			{"Start": 0, "End": 5, "MimeType": "video/mp4", "URL": "http://o/b"}
		]
	}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
