package source

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vidplay/internal/backoff"
	"vidplay/internal/metrics"
	"vidplay/internal/models"
	"vidplay/internal/sink"
	"vidplay/internal/surface"
)

// Fragmented drives playback over a seekable timeline assembled from
// independently addressable fragments. A single cooperative polling loop
// keeps a sliding prefetch window fetched ahead of the playhead, one
// fragment at a time, and jumps the playhead over unplayable gaps.
type Fragmented struct {
	deps      Deps
	fragments []models.Fragment
	timeline  models.TimeRange

	mu       sync.Mutex
	errState bool

	emitter *stateEmitter
	wake    chan struct{}
	retry   *backoff.ExponentialBackoff

	// loop-owned state, touched only from the Run task
	segments      map[string]*segmentEntry
	activeSegment string
	buffer        sink.Buffer
	mimeType      string
}

func newFragmented(opts models.FragmentedOptions, deps Deps) *Fragmented {
	return &Fragmented{
		deps:      deps,
		fragments: opts.Fragments,
		timeline:  opts.Timeline(),
		emitter:   &stateEmitter{fn: deps.OnState},
		wake:      make(chan struct{}, 1),
		retry:     backoff.New(deps.Backoff),
		segments:  make(map[string]*segmentEntry),
	}
}

// Run owns the surface for the rest of the session. The loop re-evaluates
// every poll tick, immediately after any network operation completes, and
// whenever the surface signals an event.
func (s *Fragmented) Run(ctx context.Context) error {
	bridge := surface.NewBridge(ctx, s.deps.Surface, s.onSignal)
	defer bridge.Close()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for ctx.Err() == nil {
		if err := s.retry.BeginAttempt(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fragmented source giving up: %w", err)
		}

		fetched, err := s.step(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.retry.EndAttempt(false)
			s.deps.Logger.Warnf("Fragment load failed (retrying in %v): %v", s.retry.NextDelay(), err)
			s.setErrState(true)
			s.emitState()
			continue
		}
		s.retry.EndAttempt(true)
		s.setErrState(false)
		s.emitState()

		if fetched {
			// A network operation completed; re-evaluate immediately to
			// keep the window filling.
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.wake:
		}
	}
	return nil
}

// step runs one iteration of the polling loop: clamp, window computation,
// gap detection, loading of at most one unloaded fragment, eviction.
// fetched reports whether any network operation ran.
func (s *Fragmented) step(ctx context.Context) (fetched bool, err error) {
	now := s.clampPlayhead()

	current, wanted := wantedWindow(s.fragments, now, forwardBufferTarget)

	if target, jump := gapJump(now, current, wanted); jump {
		s.deps.Logger.Infof("Jumping unplayable gap: %.3fs -> %.3fs", now, target)
		s.deps.Surface.SetCurrentTime(target)
		metrics.GapJumpsTotal.Inc()
		now = target
	}

	for _, f := range wanted {
		entry := s.segments[f.SegmentKey()]
		if entry != nil && entry.hasRange(f.Range()) {
			continue
		}
		// Exactly one fragment per iteration bounds concurrency and
		// memory; the append must be acknowledged before anything else is
		// fetched.
		if err := s.loadFragment(ctx, f); err != nil {
			return true, err
		}
		fetched = true
		break
	}

	if err := s.evictStale(ctx, now, wanted); err != nil {
		return fetched, err
	}
	return fetched, nil
}

// clampPlayhead keeps the playhead inside the seekable timeline, with a
// small tolerance so decoder jitter at the edges does not cause seek
// storms.
func (s *Fragmented) clampPlayhead() float64 {
	now := s.deps.Surface.CurrentTime()
	clamped := now
	if now < s.timeline.Start-clampEpsilon {
		clamped = s.timeline.Start
	} else if now > s.timeline.End+clampEpsilon {
		clamped = s.timeline.End
	}
	if clamped != now {
		s.deps.Surface.SetCurrentTime(clamped)
	}
	return clamped
}

// wantedWindow computes the fragments to keep loaded: starting from the
// first fragment whose range contains or follows now, fragments accumulate
// until their remaining duration within the window reaches the forward
// buffer target. current is the index within wanted of the fragment
// containing now, or -1.
func wantedWindow(frags []models.Fragment, now, target float64) (current int, wanted []models.Fragment) {
	current = -1
	acc := 0.0
	for _, f := range frags {
		if f.EndTime <= now {
			continue
		}
		if acc >= target {
			break
		}
		remaining := f.EndTime - f.StartTime
		if f.Range().Contains(now) {
			current = len(wanted)
			remaining = f.EndTime - now
		}
		wanted = append(wanted, f)
		acc += remaining
	}
	return current, wanted
}

// gapJump decides whether the playhead should jump over a timeline hole.
// The boundary is the end of the current fragment, or the playhead itself
// when no fragment contains it. A jump happens when the playhead is within
// tolerance of the boundary and the next wanted fragment starts more than
// the tolerance after it; smaller discontinuities are bridged natively by
// the decoder.
func gapJump(now float64, current int, wanted []models.Fragment) (target float64, jump bool) {
	boundary := now
	next := -1
	if current >= 0 {
		boundary = wanted[current].EndTime
		if current+1 < len(wanted) {
			next = current + 1
		}
	} else if len(wanted) > 0 && wanted[0].StartTime > now {
		next = 0
	}
	if next < 0 {
		return 0, false
	}
	if boundary-now > gapTolerance {
		return 0, false
	}
	if wanted[next].StartTime-boundary <= gapTolerance {
		return 0, false
	}
	return wanted[next].StartTime, true
}

// loadFragment fetches one fragment and appends it to the sink: segment
// resolution, init fetch on first use, type switch and init append when
// the active segment changes, timestamp offset, then the payload append.
func (s *Fragmented) loadFragment(ctx context.Context, f models.Fragment) error {
	key := f.SegmentKey()
	entry := s.segments[key]
	if entry == nil {
		entry = &segmentEntry{}
		if f.InitData != nil {
			initBytes, err := s.deps.Fetch.Segment(ctx, *f.InitData)
			if err != nil {
				metrics.IncFragmentFetch(metrics.ResultError)
				return fmt.Errorf("failed to fetch init segment %s: %w", f.InitData.Key(), err)
			}
			entry.initBytes = initBytes
		}
		s.segments[key] = entry
	}

	if s.buffer == nil {
		buffer, err := s.deps.Sink.CreateBuffer(f.MimeType)
		if err != nil {
			return fmt.Errorf("failed to create decode buffer: %w", err)
		}
		s.buffer = buffer
		s.mimeType = f.MimeType
		if err := s.activateSegment(ctx, key, entry, f); err != nil {
			return err
		}
	} else if key != s.activeSegment {
		if err := s.buffer.ChangeType(f.MimeType); err != nil {
			return err
		}
		s.mimeType = f.MimeType
		if err := s.activateSegment(ctx, key, entry, f); err != nil {
			return err
		}
	}

	payload, err := s.deps.Fetch.Segment(ctx, f.Data)
	if err != nil {
		metrics.IncFragmentFetch(metrics.ResultError)
		return fmt.Errorf("failed to fetch fragment [%.3f,%.3f): %w", f.StartTime, f.EndTime, err)
	}
	metrics.IncFragmentFetch(metrics.ResultOK)

	// Segment-local decode timestamps land at StartTime on the global
	// timeline.
	if err := s.buffer.SetTimestampOffset(f.TimestampOffset()); err != nil {
		return err
	}
	if err := s.buffer.Append(ctx, payload); err != nil {
		return err
	}

	entry.addRange(f.Range())
	s.deps.Logger.Debugf("Loaded fragment [%.3f,%.3f) of segment %s", f.StartTime, f.EndTime, key)
	return nil
}

// activateSegment makes the segment the sink's active one, appending its
// initialization payload first when it has one.
func (s *Fragmented) activateSegment(ctx context.Context, key string, entry *segmentEntry, f models.Fragment) error {
	if entry.initBytes != nil {
		if err := s.buffer.SetTimestampOffset(f.TimestampOffset()); err != nil {
			return err
		}
		if err := s.buffer.Append(ctx, entry.initBytes); err != nil {
			return err
		}
	}
	entry.tainted = false
	s.activeSegment = key
	return nil
}

func (s *Fragmented) onSignal(surface.Signal) {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Fragmented) setErrState(v bool) {
	s.mu.Lock()
	s.errState = v
	s.mu.Unlock()
}

func (s *Fragmented) emitState() {
	s.mu.Lock()
	errState := s.errState
	s.mu.Unlock()
	s.emitter.emit(models.VideoState{
		Paused:      s.deps.Surface.Paused(),
		Seeking:     s.deps.Surface.Seeking(),
		Error:       errState,
		CurrentTime: s.deps.Surface.CurrentTime(),
		HasTimeline: true,
		Timeline:    s.timeline,
	})
}

// Play implements Source.
func (s *Fragmented) Play() error {
	err := s.deps.Surface.Play()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return err
}

// Pause implements Source.
func (s *Fragmented) Pause() {
	s.deps.Surface.Pause()
}

// Seek implements Source. The target is clamped into the seekable
// timeline before the surface moves.
func (s *Fragmented) Seek(t float64) {
	if t < s.timeline.Start {
		t = s.timeline.Start
	} else if t > s.timeline.End {
		t = s.timeline.End
	}
	s.deps.Surface.SetCurrentTime(t)
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Update implements Source. Fragment lists are immutable for the life of
// the session; configuration swaps are only meaningful for live sessions.
func (s *Fragmented) Update(opts models.SourceOptions) error {
	return errors.New("fragmented sessions cannot be reconfigured")
}
