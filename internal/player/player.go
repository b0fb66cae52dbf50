// Package player owns a playback session: it selects the source variant
// once from the mount-time options, runs it as a single cooperative task,
// and fans the UI's imperative commands down to it.
package player

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"vidplay/internal/fetch"
	"vidplay/internal/logger"
	"vidplay/internal/models"
	"vidplay/internal/sink"
	"vidplay/internal/source"
	"vidplay/internal/surface"
)

// Config wires a Player to its collaborators.
type Config struct {
	Logger  logger.Logger
	Fetch   *fetch.Client
	Sink    sink.Sink
	Surface surface.Surface
	// OnState receives deduplicated playback state snapshots.
	OnState source.StateFunc
}

// Player is one playback session over one surface. Exactly one session is
// active per surface at a time.
type Player struct {
	logger logger.Logger
	src    source.Source
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New validates the options, constructs the matching source, and starts
// its task. The session lives until Close or until ctx is cancelled.
func New(ctx context.Context, cfg Config, opts models.SourceOptions) (*Player, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Sink == nil || cfg.Surface == nil {
		return nil, fmt.Errorf("player requires a sink and a surface")
	}
	if cfg.Fetch == nil {
		cfg.Fetch = fetch.NewClient(cfg.Logger, "")
	}

	src, err := source.New(opts, source.Deps{
		Logger:  cfg.Logger,
		Fetch:   cfg.Fetch,
		Sink:    cfg.Sink,
		Surface: cfg.Surface,
		OnState: cfg.OnState,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to construct source: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(sessionCtx)
	p := &Player{
		logger: cfg.Logger,
		src:    src,
		cancel: cancel,
		group:  group,
	}
	group.Go(func() error {
		return src.Run(groupCtx)
	})
	return p, nil
}

// Play requests playback.
func (p *Player) Play() error { return p.src.Play() }

// Pause halts playback.
func (p *Player) Pause() { p.src.Pause() }

// Seek moves the playhead. A no-op for live sessions.
func (p *Player) Seek(t float64) { p.src.Seek(t) }

// Update swaps the session's configuration without tearing it down.
func (p *Player) Update(opts models.SourceOptions) error { return p.src.Update(opts) }

// Close cancels the session and waits for its task to drain. All surface
// subscriptions and outstanding requests are released.
func (p *Player) Close() error {
	p.cancel()
	return p.group.Wait()
}
