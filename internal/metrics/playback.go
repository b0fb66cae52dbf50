// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcome labels.
const (
	ResultOK        = "ok"
	ResultError     = "error"
	ResultCancelled = "cancelled"
)

var (
	// LiveAttemptsTotal counts live connection attempts by outcome.
	LiveAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidplay_live_attempts_total",
		Help: "Live stream connection attempts by result",
	}, []string{"result"})

	// LiveBytesAppended counts bytes appended to the decode sink by the
	// live source.
	LiveBytesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidplay_live_bytes_appended_total",
		Help: "Bytes appended to the decode sink from the live stream",
	})

	// LiveBufferTrims counts retention-window evictions from the sink.
	LiveBufferTrims = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidplay_live_buffer_trims_total",
		Help: "Times the live source trimmed the decode buffer to its retention window",
	})

	// FragmentFetchesTotal counts fragment payload fetches by outcome.
	FragmentFetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vidplay_fragment_fetches_total",
		Help: "Fragment payload fetches by result",
	}, []string{"result"})

	// GapJumpsTotal counts playhead jumps over unplayable timeline gaps.
	GapJumpsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidplay_gap_jumps_total",
		Help: "Times the playhead jumped over an unplayable timeline gap",
	})

	// SegmentEvictionsTotal counts segment ranges evicted from the sink by
	// the fragmented source's bounded cache.
	SegmentEvictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidplay_segment_evictions_total",
		Help: "Segment ranges evicted from the decode sink",
	})

	// StateEmissionsTotal counts distinct VideoState values delivered to
	// the UI callback.
	StateEmissionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vidplay_state_emissions_total",
		Help: "Distinct playback state values emitted to the state callback",
	})
)

// IncLiveAttempt records one live connection attempt outcome.
func IncLiveAttempt(result string) {
	LiveAttemptsTotal.WithLabelValues(result).Inc()
}

// IncFragmentFetch records one fragment fetch outcome.
func IncFragmentFetch(result string) {
	FragmentFetchesTotal.WithLabelValues(result).Inc()
}
