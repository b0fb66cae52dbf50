package models

import (
	"errors"
	"fmt"
	"sort"
)

// TimeRange is a half-open span of media time in seconds.
type TimeRange struct {
	// Start is the inclusive lower bound in seconds.
	Start float64
	// End is the exclusive upper bound in seconds. Always > Start for a
	// valid range.
	End float64
}

// Duration returns the length of the range in seconds.
func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// Contains reports whether t falls inside the range.
func (r TimeRange) Contains(t float64) bool {
	return t >= r.Start && t < r.End
}

// ByteRange is an inclusive byte span within a remote blob, matching the
// HTTP Range header convention "bytes=Start-End".
type ByteRange struct {
	Start uint64
	End   uint64
}

// SegmentData identifies a fetchable blob, optionally restricted to a byte
// range. Two values with equal URL and byte range refer to the same bytes
// and share cache state.
type SegmentData struct {
	URL       string
	ByteRange *ByteRange
}

// Key returns the identity of the blob. It is the cache key for segment
// state: equal keys mean equal URL and byte range.
func (d SegmentData) Key() string {
	if d.ByteRange == nil {
		return d.URL
	}
	return fmt.Sprintf("%s#%d-%d", d.URL, d.ByteRange.Start, d.ByteRange.End)
}

// Fragment is one timeline-addressable unit of media with its own byte
// source and an optional shared initialization payload.
type Fragment struct {
	// StartTime and EndTime position the fragment on the global timeline,
	// in seconds.
	StartTime float64
	EndTime   float64
	// RelativeStart is the fragment's internal timestamp origin. The sink's
	// timestamp offset must be set to StartTime-RelativeStart so that
	// segment-local decode timestamps land at the right global position.
	RelativeStart float64
	// MimeType is the full media type including codecs, as accepted by the
	// decode sink.
	MimeType string
	// InitData is the shared initialization payload, if any. Fragments with
	// the same InitData identity belong to the same segment.
	InitData *SegmentData
	// Data is the fragment's main payload.
	Data SegmentData
}

// Range returns the fragment's span on the global timeline.
func (f Fragment) Range() TimeRange {
	return TimeRange{Start: f.StartTime, End: f.EndTime}
}

// TimestampOffset returns the offset to apply to the sink before appending
// this fragment's payload.
func (f Fragment) TimestampOffset() float64 {
	return f.StartTime - f.RelativeStart
}

// SegmentKey returns the identity the fragment's segment cache state is
// keyed by: the init payload's identity when present, else the payload's.
func (f Fragment) SegmentKey() string {
	if f.InitData != nil {
		return f.InitData.Key()
	}
	return f.Data.Key()
}

// VideoState is the engine's only upward-facing data: a value snapshot of
// the playback session. Emissions are compared by value to suppress
// duplicates, so the struct must stay comparable.
type VideoState struct {
	Paused      bool
	Seeking     bool
	Error       bool
	CurrentTime float64
	// HasTimeline is true for sources with a bounded seekable range; the
	// Timeline field is only meaningful when it is set.
	HasTimeline bool
	Timeline    TimeRange
}

// LiveOptions configures a session that tails a single unbounded byte
// stream representing "now".
type LiveOptions struct {
	// URL of the live endpoint.
	URL string
	// FragmentDuration is the nominal duration, in seconds, of one unit of
	// media produced by the origin. It sizes the anchor and retention
	// windows. Zero selects DefaultFragmentDuration.
	FragmentDuration float64
}

// DefaultFragmentDuration is assumed when a live session does not declare
// its origin's fragment length.
const DefaultFragmentDuration = 2.0

// FragmentedOptions configures a session over a seekable timeline assembled
// from independently addressable fragments.
type FragmentedOptions struct {
	// StartTime and EndTime optionally override the timeline bounds derived
	// from the fragment list.
	StartTime *float64
	EndTime   *float64
	// Fragments must be non-empty and sorted ascending by StartTime.
	Fragments []Fragment
}

// Timeline returns the session's overall seekable range.
func (o FragmentedOptions) Timeline() TimeRange {
	tr := TimeRange{
		Start: o.Fragments[0].StartTime,
		End:   o.Fragments[len(o.Fragments)-1].EndTime,
	}
	if o.StartTime != nil {
		tr.Start = *o.StartTime
	}
	if o.EndTime != nil {
		tr.End = *o.EndTime
	}
	return tr
}

// SourceOptions selects the source variant for a playback session. Exactly
// one of Live or Fragmented must be set; the choice is made once at
// construction and never changes for the life of the session.
type SourceOptions struct {
	Live       *LiveOptions
	Fragmented *FragmentedOptions
}

var (
	// ErrNoVariant is returned when neither source variant is configured.
	ErrNoVariant = errors.New("source options select no variant")
	// ErrBothVariants is returned when both source variants are configured.
	ErrBothVariants = errors.New("source options select both variants")
)

// Validate checks the structural invariants the engine relies on: exactly
// one variant, a live URL, a non-empty sorted fragment list.
func (o SourceOptions) Validate() error {
	switch {
	case o.Live == nil && o.Fragmented == nil:
		return ErrNoVariant
	case o.Live != nil && o.Fragmented != nil:
		return ErrBothVariants
	case o.Live != nil:
		if o.Live.URL == "" {
			return errors.New("live source requires a URL")
		}
		if o.Live.FragmentDuration < 0 {
			return errors.New("live fragment duration must not be negative")
		}
		return nil
	}

	frags := o.Fragmented.Fragments
	if len(frags) == 0 {
		return errors.New("fragmented source requires at least one fragment")
	}
	if !sort.SliceIsSorted(frags, func(i, j int) bool {
		return frags[i].StartTime < frags[j].StartTime
	}) {
		return errors.New("fragment list is not sorted by start time")
	}
	for i, f := range frags {
		if f.EndTime <= f.StartTime {
			return fmt.Errorf("fragment %d has an empty or inverted time range", i)
		}
		if f.MimeType == "" {
			return fmt.Errorf("fragment %d has no media type", i)
		}
		if f.Data.URL == "" {
			return fmt.Errorf("fragment %d has no payload URL", i)
		}
	}
	return nil
}
