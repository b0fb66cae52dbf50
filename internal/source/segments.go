package source

import (
	"context"

	"vidplay/internal/metrics"
	"vidplay/internal/models"
)

const (
	// retainBehind and retainAhead bound the media kept in the sink around
	// the playhead. Ranges outside the window are evicted explicitly so
	// memory behavior is deterministic rather than left to platform LRU.
	retainBehind = 30.0
	retainAhead  = 90.0
)

// segmentEntry is the per-segment cache state, keyed by the identity of
// the segment's init payload (or its data payload when there is no init
// segment).
type segmentEntry struct {
	// initBytes is the fetched initialization payload, nil when the
	// segment has none.
	initBytes []byte
	// loadedRanges records exactly which fragment ranges have been
	// appended to the sink for this segment. Matching is exact: partial or
	// overlapping matches do not count as loaded.
	loadedRanges []models.TimeRange
	// tainted marks an entry whose sink content was partially evicted. Its
	// init payload must be re-appended before the segment is used again.
	tainted bool
}

func (e *segmentEntry) hasRange(r models.TimeRange) bool {
	for _, lr := range e.loadedRanges {
		if lr == r {
			return true
		}
	}
	return false
}

func (e *segmentEntry) addRange(r models.TimeRange) {
	if !e.hasRange(r) {
		e.loadedRanges = append(e.loadedRanges, r)
	}
}

// evictStale removes loaded ranges that have fallen outside the retention
// window around now, both from the sink and from the bookkeeping. Ranges
// belonging to currently wanted fragments are never evicted, however far
// they sit on a sparse timeline. Entries left with no ranges are dropped
// entirely (their init payload is refetched if playback ever returns to
// them).
func (s *Fragmented) evictStale(ctx context.Context, now float64, wanted []models.Fragment) error {
	if s.buffer == nil {
		return nil
	}
	lo := now - retainBehind
	hi := now + retainAhead
	wantedRanges := make(map[models.TimeRange]struct{}, len(wanted))
	for _, f := range wanted {
		wantedRanges[f.Range()] = struct{}{}
	}

	for key, entry := range s.segments {
		kept := entry.loadedRanges[:0]
		for _, r := range entry.loadedRanges {
			if _, isWanted := wantedRanges[r]; !isWanted && (r.End < lo || r.Start > hi) {
				if err := s.buffer.Remove(ctx, r.Start, r.End); err != nil {
					return err
				}
				metrics.SegmentEvictionsTotal.Inc()
				entry.tainted = true
				continue
			}
			kept = append(kept, r)
		}
		entry.loadedRanges = kept

		if entry.tainted && key == s.activeSegment {
			// Force a type switch and init re-append on next use.
			s.activeSegment = ""
		}
		if len(kept) == 0 && key != s.activeSegment {
			delete(s.segments, key)
		}
	}
	return nil
}
