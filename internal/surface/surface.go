// Package surface wraps the platform's video element. The engine never
// touches the element directly: it observes a fixed vocabulary of lifecycle
// signals through a Bridge and issues the few imperative controls the
// Surface interface exposes.
package surface

import (
	"context"
	"sync"
)

// Signal is one lifecycle event of the playback surface.
type Signal int

const (
	// SignalSeekBegin fires when the surface starts moving its playhead.
	SignalSeekBegin Signal = iota + 1
	// SignalSeekEnd fires when a seek has settled.
	SignalSeekEnd
	// SignalPause fires when playback is paused.
	SignalPause
	// SignalResume fires when playback resumes.
	SignalResume
	// SignalProgress fires as the playhead advances.
	SignalProgress
	// SignalStall fires when the decoder ran out of data mid-playback.
	SignalStall
	// SignalWaiting fires when the surface is blocked waiting for data.
	SignalWaiting
	// SignalCanPlay fires once enough data is buffered to start.
	SignalCanPlay
	// SignalCanPlayThrough fires once the surface predicts uninterrupted
	// playback.
	SignalCanPlayThrough
)

// String returns the signal name for logging.
func (s Signal) String() string {
	switch s {
	case SignalSeekBegin:
		return "seek-begin"
	case SignalSeekEnd:
		return "seek-end"
	case SignalPause:
		return "pause"
	case SignalResume:
		return "resume"
	case SignalProgress:
		return "progress"
	case SignalStall:
		return "stall"
	case SignalWaiting:
		return "waiting"
	case SignalCanPlay:
		return "can-play"
	case SignalCanPlayThrough:
		return "can-play-through"
	default:
		return "unknown"
	}
}

// Surface is the platform video element capability the engine drives.
type Surface interface {
	// Subscribe registers fn for every signal the surface emits and
	// returns a function that cancels the subscription.
	Subscribe(fn func(Signal)) (cancel func())

	// CurrentTime returns the playhead position in seconds.
	CurrentTime() float64
	// SetCurrentTime moves the playhead.
	SetCurrentTime(t float64)

	// Paused reports whether playback is paused.
	Paused() bool
	// Seeking reports whether a seek is in progress.
	Seeking() bool

	// Play requests playback. May be rejected by the platform.
	Play() error
	// Pause halts playback.
	Pause()
	// SetMuted toggles audio. Muted autoplay is the only autoplay mode
	// platforms permit without a trusted user gesture.
	SetMuted(muted bool)
}

// Bridge owns the subscription to a Surface for the life of a session. It
// derives one boolean, "loaded" (the decoder is ready to advance), and
// forwards every raw signal to a single subscriber so owners can react,
// e.g. a live session aborting its in-flight attempt the instant a pause
// is observed.
type Bridge struct {
	surface Surface
	onSig   func(Signal)

	mu     sync.Mutex
	loaded bool

	closeOnce   sync.Once
	unsubscribe func()
}

// NewBridge subscribes to the surface until ctx is cancelled. onSignal may
// be nil; when set it is invoked for every raw signal after the bridge has
// updated its own state.
func NewBridge(ctx context.Context, s Surface, onSignal func(Signal)) *Bridge {
	b := &Bridge{surface: s, onSig: onSignal}
	b.unsubscribe = s.Subscribe(b.observe)
	go func() {
		<-ctx.Done()
		b.Close()
	}()
	return b
}

func (b *Bridge) observe(sig Signal) {
	b.mu.Lock()
	switch sig {
	case SignalCanPlay, SignalCanPlayThrough:
		b.loaded = true
	case SignalProgress:
		if !b.surface.Paused() && !b.surface.Seeking() {
			b.loaded = true
		}
	case SignalStall, SignalWaiting:
		b.loaded = false
	}
	b.mu.Unlock()

	if b.onSig != nil {
		b.onSig(sig)
	}
}

// Loaded reports whether the decoder is ready to advance.
func (b *Bridge) Loaded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

// Surface returns the wrapped surface.
func (b *Bridge) Surface() Surface {
	return b.surface
}

// Close releases the subscription. Safe to call more than once.
func (b *Bridge) Close() {
	b.closeOnce.Do(b.unsubscribe)
}
