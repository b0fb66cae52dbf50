package sink

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"vidplay/internal/models"
)

// Memory is an in-process Sink used by the demo binary and tests. It does
// not decode anything: every append is modeled as a fixed number of media
// seconds, so buffered ranges grow and shrink the way a real platform
// buffer's would without parsing container data.
//
// The model assumes payload-local timestamps start at zero, so an appended
// chunk lands at the current timestamp offset (or at the end of the
// previously appended media when the offset has not changed).
type Memory struct {
	appendSeconds float64

	mu          sync.Mutex
	appendDelay time.Duration
	buf         *MemoryBuffer
}

// NewMemory creates a simulation sink whose appends each represent
// appendSeconds of media.
func NewMemory(appendSeconds float64) *Memory {
	return &Memory{appendSeconds: appendSeconds}
}

// SetAppendDelay makes every acknowledgment take d of wall time, so tests
// can observe the one-append-in-flight invariant.
func (m *Memory) SetAppendDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendDelay = d
}

// CreateBuffer allocates the single buffer of the session.
func (m *Memory) CreateBuffer(mimeType string) (Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.buf != nil {
		return nil, errors.New("sink: buffer already created")
	}
	m.buf = &MemoryBuffer{
		appendSeconds: m.appendSeconds,
		appendDelay:   m.appendDelay,
		mimeType:      mimeType,
		nextStart:     0,
	}
	return m.buf, nil
}

// Buffer returns the buffer created for this sink, or nil.
func (m *Memory) Buffer() *MemoryBuffer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf
}

// MemoryBuffer is the Buffer implementation backing Memory.
type MemoryBuffer struct {
	appendSeconds float64
	appendDelay   time.Duration

	mu          sync.Mutex
	mimeType    string
	nextStart   float64
	ranges      []models.TimeRange
	appending   bool
	bytes       int64
	appends     int
	typeChanges int
}

// Append models appending appendSeconds of media at the current position.
func (b *MemoryBuffer) Append(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.appending {
		b.mu.Unlock()
		return ErrAppendInFlight
	}
	b.appending = true
	delay := b.appendDelay
	b.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			b.mu.Lock()
			b.appending = false
			b.mu.Unlock()
			return ctx.Err()
		case <-t.C:
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.appending = false
	b.bytes += int64(len(data))
	b.appends++

	start := b.nextStart
	b.insert(models.TimeRange{Start: start, End: start + b.appendSeconds})
	b.nextStart = start + b.appendSeconds
	return nil
}

// insert adds a range and coalesces overlapping or touching neighbors,
// mirroring how platform buffers report contiguous media as one range.
func (b *MemoryBuffer) insert(r models.TimeRange) {
	b.ranges = append(b.ranges, r)
	sort.Slice(b.ranges, func(i, j int) bool { return b.ranges[i].Start < b.ranges[j].Start })

	merged := b.ranges[:1]
	for _, next := range b.ranges[1:] {
		last := &merged[len(merged)-1]
		if next.Start <= last.End {
			if next.End > last.End {
				last.End = next.End
			}
			continue
		}
		merged = append(merged, next)
	}
	b.ranges = merged
}

// Remove evicts the media between start and end.
func (b *MemoryBuffer) Remove(ctx context.Context, start, end float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if end <= start {
		return errors.New("sink: remove range is empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var kept []models.TimeRange
	for _, r := range b.ranges {
		if r.End <= start || r.Start >= end {
			kept = append(kept, r)
			continue
		}
		if r.Start < start {
			kept = append(kept, models.TimeRange{Start: r.Start, End: start})
		}
		if r.End > end {
			kept = append(kept, models.TimeRange{Start: end, End: r.End})
		}
	}
	b.ranges = kept
	return nil
}

// ChangeType switches the declared media type, retaining buffered content.
func (b *MemoryBuffer) ChangeType(mimeType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mimeType = mimeType
	b.typeChanges++
	return nil
}

// SetTimestampOffset positions the next append on the global timeline.
func (b *MemoryBuffer) SetTimestampOffset(offset float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextStart = offset
	return nil
}

// Buffered returns the buffered ranges, sorted and disjoint.
func (b *MemoryBuffer) Buffered() ([]models.TimeRange, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.TimeRange, len(b.ranges))
	copy(out, b.ranges)
	return out, nil
}

// MimeType returns the buffer's current declared media type.
func (b *MemoryBuffer) MimeType() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mimeType
}

// Stats reports appended byte and append counts plus type switches, for
// assertions and the demo's logging.
func (b *MemoryBuffer) Stats() (bytes int64, appends, typeChanges int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytes, b.appends, b.typeChanges
}
