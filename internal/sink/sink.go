// Package sink defines the decode buffer boundary: the platform capability
// that accepts appended encoded bytes and exposes decodable time ranges.
// The engine only ever talks to this interface; the real platform buffer
// lives outside the module.
package sink

import (
	"context"
	"errors"

	"vidplay/internal/models"
)

// ErrAppendInFlight is returned when a second append is issued before the
// first one has been acknowledged. At most one append may be outstanding at
// any time; this is a platform constraint, not a convention.
var ErrAppendInFlight = errors.New("sink: append already in flight")

// Buffer is an append-only per-media-type decode buffer.
type Buffer interface {
	// Append submits encoded bytes and suspends until the platform has
	// acknowledged them. Exactly one Append may be in flight at a time.
	Append(ctx context.Context, data []byte) error

	// Remove evicts the buffered media between start and end, in seconds.
	Remove(ctx context.Context, start, end float64) error

	// ChangeType switches the buffer to a new media type. Buffered content
	// is retained; subsequent appends must match the new type.
	ChangeType(mimeType string) error

	// SetTimestampOffset shifts the decode timestamps of subsequently
	// appended media onto the global timeline.
	SetTimestampOffset(offset float64) error

	// Buffered returns the currently decodable time ranges, sorted and
	// disjoint.
	Buffered() ([]models.TimeRange, error)
}

// Sink creates decode buffers for media types.
type Sink interface {
	// CreateBuffer allocates the session's buffer for the given media type.
	CreateBuffer(mimeType string) (Buffer, error)
}
