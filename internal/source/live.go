package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"vidplay/internal/backoff"
	"vidplay/internal/metrics"
	"vidplay/internal/models"
	"vidplay/internal/sink"
	"vidplay/internal/surface"
)

// errStreamEnded marks the origin closing an unbounded stream, which is a
// genuine failure unless the session itself asked for the teardown.
var errStreamEnded = errors.New("live stream ended")

// Live continuously tails a single endpoint that returns an unbounded byte
// stream representing "now". It keeps the decode buffer trimmed to a short
// trailing window and anchors playback a fixed lag behind the buffer's
// leading edge.
type Live struct {
	deps Deps

	mu      sync.Mutex
	url     string
	fragDur float64
	// attemptCancel aborts the connection attempt in flight, if any.
	// Cancelling through it classifies the attempt as intentional.
	attemptCancel context.CancelFunc
	// resetPolicy asks the Run task to discard accrued backoff before its
	// next attempt. The policy itself is owned by the Run task and must
	// not be touched from other goroutines.
	resetPolicy bool
	errState    bool

	policy  *backoff.ExponentialBackoff
	emitter *stateEmitter
	wake    chan struct{}

	// buffer state, touched only from the Run task
	buffer   sink.Buffer
	mimeType string
}

func newLive(opts models.LiveOptions, deps Deps) *Live {
	fragDur := opts.FragmentDuration
	if fragDur == 0 {
		fragDur = models.DefaultFragmentDuration
	}
	return &Live{
		deps:    deps,
		url:     opts.URL,
		fragDur: fragDur,
		policy:  backoff.New(deps.Backoff),
		emitter: &stateEmitter{fn: deps.OnState},
		wake:    make(chan struct{}, 1),
	}
}

// Run owns the surface for the rest of the session. It cycles through
// paused waiting, backoff-gated connection attempts, and streaming, until
// ctx is cancelled.
func (s *Live) Run(ctx context.Context) error {
	bridge := surface.NewBridge(ctx, s.deps.Surface, s.onSignal)
	defer bridge.Close()

	// Muted autoplay is the only autoplay mode reliably permitted without
	// a trusted user gesture.
	s.deps.Surface.SetMuted(true)
	if err := s.deps.Surface.Play(); err != nil {
		s.deps.Logger.Warnf("Autoplay rejected: %v", err)
	}

	for ctx.Err() == nil {
		if s.deps.Surface.Paused() {
			s.emitState()
			select {
			case <-ctx.Done():
				return nil
			case <-s.wake:
			}
			continue
		}

		s.mu.Lock()
		if s.resetPolicy {
			s.resetPolicy = false
			s.policy.Reset()
		}
		s.mu.Unlock()

		if err := s.policy.BeginAttempt(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("live source giving up: %w", err)
		}

		// A pause landing while BeginAttempt was sleeping had no attempt
		// to cancel yet.
		if s.deps.Surface.Paused() {
			s.policy.EndAttempt(true)
			continue
		}

		err := s.attempt(ctx)
		switch {
		case err == nil, ctx.Err() != nil, errors.Is(err, context.Canceled):
			// A controlling cancellation fired: pause requested, URL
			// changed, or the session was destroyed. No penalty.
			s.policy.EndAttempt(true)
			metrics.IncLiveAttempt(metrics.ResultCancelled)
		default:
			s.policy.EndAttempt(false)
			s.deps.Logger.Warnf("Live attempt failed (retrying in %v): %v", s.policy.NextDelay(), err)
			metrics.IncLiveAttempt(metrics.ResultError)
			s.setErrState(true)
			s.emitState()
		}
	}
	return nil
}

// attempt runs one connection under a per-attempt cancellation scope
// derived from the session context. Any error produced after the scope was
// cancelled is normalized to context.Canceled so the loop classifies it as
// intentional.
func (s *Live) attempt(parent context.Context) error {
	actx, cancel := context.WithCancel(parent)
	defer cancel()

	s.mu.Lock()
	s.attemptCancel = cancel
	url := s.url
	fragDur := s.fragDur
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.attemptCancel = nil
		s.mu.Unlock()
	}()

	// A pause delivered before attemptCancel was published had nothing to
	// cancel; re-check now that it is visible.
	if s.deps.Surface.Paused() {
		cancel()
	}

	err := s.stream(actx, url, fragDur)
	if err != nil && actx.Err() != nil {
		return context.Canceled
	}
	return err
}

// stream issues the GET and consumes the body incrementally, appending
// each chunk to the sink.
func (s *Live) stream(actx context.Context, url string, fragDur float64) error {
	stream, err := s.deps.Fetch.OpenStream(actx, url)
	if err != nil {
		return err
	}
	defer stream.Close()

	if err := s.prepareBuffer(actx, stream.MimeType()); err != nil {
		return err
	}

	buf := make([]byte, liveChunkSize)
	for {
		n, readErr := stream.Read(buf)
		if n > 0 {
			if err := s.buffer.Append(actx, buf[:n]); err != nil {
				return err
			}
			metrics.LiveBytesAppended.Add(float64(n))
			if err := s.afterAppend(actx, fragDur); err != nil {
				return err
			}
			// Bytes arrived; the attempt is succeeding even if it later
			// dies. Keeps long-lived streams from accruing backoff.
			s.policy.EndAttempt(true)
			s.setErrState(false)
			s.emitState()
		}
		if readErr != nil {
			if readErr == io.EOF {
				return errStreamEnded
			}
			return readErr
		}
	}
}

// prepareBuffer selects the decode buffer's type from the response's
// declared media type. On a retry of an existing session, prior buffered
// content is evicted before switching.
func (s *Live) prepareBuffer(ctx context.Context, mimeType string) error {
	if s.buffer == nil {
		buffer, err := s.deps.Sink.CreateBuffer(mimeType)
		if err != nil {
			return fmt.Errorf("failed to create decode buffer: %w", err)
		}
		s.buffer = buffer
		s.mimeType = mimeType
		return nil
	}

	ranges, err := s.buffer.Buffered()
	if err != nil {
		return err
	}
	for _, r := range ranges {
		if err := s.buffer.Remove(ctx, r.Start, r.End); err != nil {
			return err
		}
	}
	if mimeType != s.mimeType {
		if err := s.buffer.ChangeType(mimeType); err != nil {
			return err
		}
		s.mimeType = mimeType
	}
	return nil
}

// afterAppend re-anchors the playhead near the leading edge and trims the
// buffer to the retention window. The trim is the session's sole
// memory-bounding mechanism.
func (s *Live) afterAppend(ctx context.Context, fragDur float64) error {
	ranges, err := s.buffer.Buffered()
	if err != nil {
		return err
	}
	if len(ranges) == 0 {
		return nil
	}
	edge := ranges[len(ranges)-1].End

	// Recovers from a stalled position and re-anchors after the view was
	// hidden for a while.
	now := s.deps.Surface.CurrentTime()
	if now < edge-4*fragDur || now > edge {
		s.deps.Surface.SetCurrentTime(edge - 2*fragDur)
	}

	window := retentionWindow(fragDur)
	if oldest := ranges[0].Start; edge-oldest > window {
		if err := s.buffer.Remove(ctx, oldest, edge-window); err != nil {
			return err
		}
		metrics.LiveBufferTrims.Inc()
	}
	return nil
}

// retentionWindow returns the buffered duration kept behind the leading
// edge: max(5, 4×fragment duration), capped at 30 seconds.
func retentionWindow(fragDur float64) float64 {
	w := 4 * fragDur
	if w < 5 {
		w = 5
	}
	if w > 30 {
		w = 30
	}
	return w
}

func (s *Live) onSignal(sig surface.Signal) {
	if sig == surface.SignalPause {
		s.cancelAttempt()
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Live) cancelAttempt() {
	s.mu.Lock()
	cancel := s.attemptCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Live) setErrState(v bool) {
	s.mu.Lock()
	s.errState = v
	s.mu.Unlock()
}

func (s *Live) emitState() {
	s.mu.Lock()
	errState := s.errState
	s.mu.Unlock()
	s.emitter.emit(models.VideoState{
		Paused:      s.deps.Surface.Paused(),
		Seeking:     s.deps.Surface.Seeking(),
		Error:       errState,
		CurrentTime: s.deps.Surface.CurrentTime(),
	})
}

// Play implements Source.
func (s *Live) Play() error {
	err := s.deps.Surface.Play()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return err
}

// Pause implements Source. The bridge observes the surface's pause signal
// and aborts the in-flight attempt.
func (s *Live) Pause() {
	s.deps.Surface.Pause()
}

// Seek implements Source. Live sessions have no seekable timeline.
func (s *Live) Seek(t float64) {
	s.deps.Logger.Debugf("Ignoring seek to %.2fs on live session", t)
}

// Update implements Source. A changed URL aborts the attempt in flight so
// the loop reconnects to the new endpoint.
func (s *Live) Update(opts models.SourceOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if opts.Live == nil {
		return errors.New("cannot update a live session with fragmented options")
	}

	fragDur := opts.Live.FragmentDuration
	if fragDur == 0 {
		fragDur = models.DefaultFragmentDuration
	}

	s.mu.Lock()
	changed := opts.Live.URL != s.url
	s.url = opts.Live.URL
	s.fragDur = fragDur
	if changed {
		// Failure history belongs to the old endpoint; the Run task
		// applies the reset before its next attempt.
		s.resetPolicy = true
	}
	s.mu.Unlock()

	if changed {
		s.deps.Logger.Infof("Live URL changed, aborting current attempt")
		s.cancelAttempt()
	}
	return nil
}
