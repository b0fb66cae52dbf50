package surface

import (
	"context"
	"sync"
	"time"
)

// Sim is a headless Surface for the demo binary and tests. It never
// decodes media; the playhead advances on wall time while playing (when
// Run is used) or under direct test control via Advance.
type Sim struct {
	mu      sync.Mutex
	current float64
	paused  bool
	seeking bool
	muted   bool
	subs    map[int]func(Signal)
	nextSub int
}

// NewSim creates a paused simulated surface at time zero.
func NewSim() *Sim {
	return &Sim{paused: true, subs: make(map[int]func(Signal))}
}

// Subscribe implements Surface.
func (s *Sim) Subscribe(fn func(Signal)) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

// Emit delivers a signal to all subscribers, as the platform would.
func (s *Sim) Emit(sig Signal) {
	s.mu.Lock()
	fns := make([]func(Signal), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(sig)
	}
}

// CurrentTime implements Surface.
func (s *Sim) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// SetCurrentTime implements Surface. The simulated seek settles
// immediately: seek-begin and seek-end are emitted back to back.
func (s *Sim) SetCurrentTime(t float64) {
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()
	s.Emit(SignalSeekBegin)
	s.Emit(SignalSeekEnd)
}

// Paused implements Surface.
func (s *Sim) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// Seeking implements Surface.
func (s *Sim) Seeking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seeking
}

// SetSeeking flips the seeking flag under test control.
func (s *Sim) SetSeeking(v bool) {
	s.mu.Lock()
	s.seeking = v
	s.mu.Unlock()
}

// Play implements Surface.
func (s *Sim) Play() error {
	s.mu.Lock()
	was := s.paused
	s.paused = false
	s.mu.Unlock()
	if was {
		s.Emit(SignalResume)
	}
	return nil
}

// Pause implements Surface.
func (s *Sim) Pause() {
	s.mu.Lock()
	was := s.paused
	s.paused = true
	s.mu.Unlock()
	if !was {
		s.Emit(SignalPause)
	}
}

// SetMuted implements Surface.
func (s *Sim) SetMuted(muted bool) {
	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()
}

// Muted reports the mute state.
func (s *Sim) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Advance moves the playhead forward by dt seconds and emits a progress
// signal, regardless of the paused state. Tests drive time with it.
func (s *Sim) Advance(dt float64) {
	s.mu.Lock()
	s.current += dt
	s.mu.Unlock()
	s.Emit(SignalProgress)
}

// Run advances the playhead on wall time while playing, emitting progress
// at the given interval, until ctx is cancelled. Used by the headless demo.
func (s *Sim) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			paused := s.paused
			if !paused {
				s.current += interval.Seconds()
			}
			s.mu.Unlock()
			if !paused {
				s.Emit(SignalProgress)
			}
		}
	}
}
