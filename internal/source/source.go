// Package source implements the playback engine core: the live and
// fragmented media sources that keep a decode sink fed from the network
// while mirroring playback state up to the UI.
package source

import (
	"context"
	"sync"
	"time"

	"vidplay/internal/backoff"
	"vidplay/internal/fetch"
	"vidplay/internal/logger"
	"vidplay/internal/metrics"
	"vidplay/internal/models"
	"vidplay/internal/sink"
	"vidplay/internal/surface"
)

const (
	// pollInterval paces the fragmented source's polling loop.
	pollInterval = 200 * time.Millisecond

	// forwardBufferTarget is how many seconds of media the fragmented
	// source keeps fetched ahead of the playhead.
	forwardBufferTarget = 60.0

	// gapTolerance is the largest timeline discontinuity the decoder will
	// bridge without visibly stalling. Larger gaps are jumped over.
	gapTolerance = 0.03

	// clampEpsilon is the slack allowed before the playhead is pulled back
	// inside the seekable timeline.
	clampEpsilon = 0.01

	// liveChunkSize is the read size for the live tail.
	liveChunkSize = 64 << 10
)

// DefaultBackoff tunes connection retries: half-second base doubling up to
// fifteen seconds, forgiven after half a minute of sustained success.
var DefaultBackoff = backoff.Options{
	BaseDelay: 500 * time.Millisecond,
	Jitter:    250 * time.Millisecond,
	MaxDelay:  15 * time.Second,
	Cooldown:  30 * time.Second,
}

// StateFunc receives playback state snapshots. It is invoked only when the
// value differs from the previously delivered one.
type StateFunc func(models.VideoState)

// Source is the contract shared by both variants. A source is constructed
// once per playback session; Run is its single cooperative task and owns
// the playback surface until the session context is cancelled.
type Source interface {
	// Run drives the session until ctx is cancelled.
	Run(ctx context.Context) error
	// Play requests playback.
	Play() error
	// Pause halts playback.
	Pause()
	// Seek moves the playhead. A no-op for live sessions.
	Seek(t float64)
	// Update swaps configuration without tearing the session down. Only
	// meaningful for live sessions: changing the URL aborts the in-flight
	// connection attempt.
	Update(opts models.SourceOptions) error
}

// Deps are the collaborators a source is wired to.
type Deps struct {
	Logger  logger.Logger
	Fetch   *fetch.Client
	Sink    sink.Sink
	Surface surface.Surface
	OnState StateFunc
	// Backoff tunes retry timing; the zero value selects DefaultBackoff.
	Backoff backoff.Options
}

func (d *Deps) fillDefaults() {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Backoff == (backoff.Options{}) {
		d.Backoff = DefaultBackoff
	}
}

// New selects and constructs the session's source variant from the tagged
// options. The choice is made exactly once; there is no runtime
// polymorphism beyond it.
func New(opts models.SourceOptions, deps Deps) (Source, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	deps.fillDefaults()
	if opts.Live != nil {
		return newLive(*opts.Live, deps), nil
	}
	return newFragmented(*opts.Fragmented, deps), nil
}

// stateEmitter delivers VideoState snapshots, silently dropping a value
// equal to the previously delivered one.
type stateEmitter struct {
	fn StateFunc

	mu      sync.Mutex
	last    models.VideoState
	hasLast bool
}

func (e *stateEmitter) emit(st models.VideoState) {
	e.mu.Lock()
	if e.hasLast && st == e.last {
		e.mu.Unlock()
		return
	}
	e.last = st
	e.hasLast = true
	e.mu.Unlock()

	metrics.StateEmissionsTotal.Inc()
	if e.fn != nil {
		e.fn(st)
	}
}
