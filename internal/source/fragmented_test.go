package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vidplay/internal/fetch"
	"vidplay/internal/logger"
	"vidplay/internal/models"
	"vidplay/internal/sink"
	"vidplay/internal/surface"
)

// origin serves fragment payloads by path and counts hits so tests can
// assert fetch behavior.
type origin struct {
	server *httptest.Server

	mu   sync.Mutex
	hits map[string]int
	fail map[string]int
}

func newOrigin() *origin {
	o := &origin{hits: make(map[string]int), fail: make(map[string]int)}
	o.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o.mu.Lock()
		if o.fail[r.URL.Path] > 0 {
			o.fail[r.URL.Path]--
			o.mu.Unlock()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		o.hits[r.URL.Path]++
		o.mu.Unlock()
		fmt.Fprintf(w, "payload:%s", r.URL.Path)
	}))
	return o
}

func (o *origin) url(path string) string { return o.server.URL + path }

func (o *origin) hitCount(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.hits[path]
}

func (o *origin) failNext(path string, times int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fail[path] = times
}

func frag(o *origin, start, end float64, path string, initPath string) models.Fragment {
	f := models.Fragment{
		StartTime: start,
		EndTime:   end,
		MimeType:  "video/mp4",
		Data:      models.SegmentData{URL: o.url(path)},
	}
	if initPath != "" {
		f.InitData = &models.SegmentData{URL: o.url(initPath)}
	}
	return f
}

func newTestFragmented(t *testing.T, fragments []models.Fragment) (*Fragmented, *surface.Sim, *sink.Memory, *fetch.Client) {
	t.Helper()
	sim := surface.NewSim()
	memSink := sink.NewMemory(1.0)
	client := fetch.NewClient(logger.Nop(), "")
	t.Cleanup(client.CloseIdleConnections)

	src, err := New(models.SourceOptions{
		Fragmented: &models.FragmentedOptions{Fragments: fragments},
	}, Deps{
		Logger:  logger.Nop(),
		Fetch:   client,
		Sink:    memSink,
		Surface: sim,
	})
	require.NoError(t, err)
	return src.(*Fragmented), sim, memSink, client
}

func TestWantedWindow_AccumulatesFromCurrentFragment(t *testing.T) {
	frags := []models.Fragment{
		{StartTime: 0, EndTime: 5},
		{StartTime: 5, EndTime: 10},
		{StartTime: 12, EndTime: 17},
	}

	// At t=4 the first fragment contributes only its remainder:
	// 1 + 5 + 5 = 11 seconds, below the target, so all three are wanted.
	current, wanted := wantedWindow(frags, 4, forwardBufferTarget)
	assert.Equal(t, 0, current)
	assert.Len(t, wanted, 3)
}

func TestWantedWindow_StopsAtTarget(t *testing.T) {
	var frags []models.Fragment
	for i := 0; i < 20; i++ {
		frags = append(frags, models.Fragment{StartTime: float64(i * 10), EndTime: float64(i*10 + 10)})
	}

	current, wanted := wantedWindow(frags, 0, 60)
	assert.Equal(t, 0, current)
	// The window closes once accumulated duration reaches 60s.
	assert.Len(t, wanted, 6)
}

func TestWantedWindow_NoCurrentFragmentInsideGap(t *testing.T) {
	frags := []models.Fragment{
		{StartTime: 0, EndTime: 5},
		{StartTime: 12, EndTime: 17},
	}

	current, wanted := wantedWindow(frags, 7, forwardBufferTarget)
	assert.Equal(t, -1, current)
	require.Len(t, wanted, 1)
	assert.Equal(t, 12.0, wanted[0].StartTime)
}

func TestWantedWindow_ExhaustedPastEnd(t *testing.T) {
	frags := []models.Fragment{{StartTime: 0, EndTime: 5}}
	current, wanted := wantedWindow(frags, 5, forwardBufferTarget)
	assert.Equal(t, -1, current)
	assert.Empty(t, wanted)
}

func TestGapJump_SkipsLargeGapNearBoundary(t *testing.T) {
	frags := []models.Fragment{
		{StartTime: 0, EndTime: 5},
		{StartTime: 5, EndTime: 10},
		{StartTime: 12, EndTime: 17},
	}
	current, wanted := wantedWindow(frags, 9.99, forwardBufferTarget)

	target, jump := gapJump(9.99, current, wanted)
	require.True(t, jump)
	assert.Equal(t, 12.0, target)
}

func TestGapJump_BridgesSmallGapNatively(t *testing.T) {
	frags := []models.Fragment{
		{StartTime: 0, EndTime: 5},
		{StartTime: 5, EndTime: 10},
		{StartTime: 10.02, EndTime: 15},
	}
	current, wanted := wantedWindow(frags, 9.99, forwardBufferTarget)

	_, jump := gapJump(9.99, current, wanted)
	assert.False(t, jump)
}

func TestGapJump_NotYetNearBoundary(t *testing.T) {
	frags := []models.Fragment{
		{StartTime: 0, EndTime: 5},
		{StartTime: 12, EndTime: 17},
	}
	current, wanted := wantedWindow(frags, 2, forwardBufferTarget)

	_, jump := gapJump(2, current, wanted)
	assert.False(t, jump)
}

func TestGapJump_FromInsideHole(t *testing.T) {
	frags := []models.Fragment{
		{StartTime: 0, EndTime: 5},
		{StartTime: 12, EndTime: 17},
	}
	current, wanted := wantedWindow(frags, 7, forwardBufferTarget)

	target, jump := gapJump(7, current, wanted)
	require.True(t, jump)
	assert.Equal(t, 12.0, target)
}

func TestStep_LoadsOneFragmentPerIteration(t *testing.T) {
	o := newOrigin()
	defer o.server.Close()

	fragments := []models.Fragment{
		frag(o, 0, 5, "/seg0", "/init"),
		frag(o, 5, 10, "/seg1", "/init"),
	}
	s, _, memSink, _ := newTestFragmented(t, fragments)
	ctx := context.Background()

	fetched, err := s.step(ctx)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, 1, o.hitCount("/seg0"))
	assert.Equal(t, 0, o.hitCount("/seg1"))

	fetched, err = s.step(ctx)
	require.NoError(t, err)
	assert.True(t, fetched)
	assert.Equal(t, 1, o.hitCount("/seg1"))

	fetched, err = s.step(ctx)
	require.NoError(t, err)
	assert.False(t, fetched)

	// Shared init identity: one entry, one init fetch, no redundant type
	// switch after buffer creation.
	assert.Len(t, s.segments, 1)
	assert.Equal(t, 1, o.hitCount("/init"))
	_, _, switches := memSink.Buffer().Stats()
	assert.Equal(t, 0, switches)
}

func TestStep_IdempotentLoadTracking(t *testing.T) {
	o := newOrigin()
	defer o.server.Close()

	fragments := []models.Fragment{frag(o, 0, 5, "/seg0", "")}
	s, _, _, _ := newTestFragmented(t, fragments)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.step(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, o.hitCount("/seg0"))
}

func TestSegmentEntry_OverlappingRangesBothRecorded(t *testing.T) {
	e := &segmentEntry{}
	e.addRange(models.TimeRange{Start: 0, End: 5})
	e.addRange(models.TimeRange{Start: 0, End: 6})
	// Overlapping but non-identical ranges are tracked independently;
	// loads are deduplicated only on exact matches.
	assert.Len(t, e.loadedRanges, 2)
	assert.True(t, e.hasRange(models.TimeRange{Start: 0, End: 5}))
	assert.False(t, e.hasRange(models.TimeRange{Start: 0, End: 5.5}))

	e.addRange(models.TimeRange{Start: 0, End: 5})
	assert.Len(t, e.loadedRanges, 2)
}

func TestStep_GapSkipMovesPlayhead(t *testing.T) {
	o := newOrigin()
	defer o.server.Close()

	fragments := []models.Fragment{
		frag(o, 0, 5, "/seg0", ""),
		frag(o, 5, 10, "/seg1", ""),
		frag(o, 12, 17, "/seg2", ""),
	}
	s, sim, _, _ := newTestFragmented(t, fragments)
	sim.SetCurrentTime(9.99)

	_, err := s.step(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12.0, sim.CurrentTime())
}

func TestStep_TypeSwitchBetweenSegments(t *testing.T) {
	o := newOrigin()
	defer o.server.Close()

	fragments := []models.Fragment{
		frag(o, 0, 5, "/a/seg0", "/a/init"),
		frag(o, 5, 10, "/b/seg0", "/b/init"),
	}
	s, _, memSink, _ := newTestFragmented(t, fragments)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.step(ctx)
		require.NoError(t, err)
	}

	assert.Len(t, s.segments, 2)
	assert.Equal(t, 1, o.hitCount("/a/init"))
	assert.Equal(t, 1, o.hitCount("/b/init"))
	// Creating the buffer set the first type; the second segment required
	// one switch.
	_, _, switches := memSink.Buffer().Stats()
	assert.Equal(t, 1, switches)
}

func TestStep_ClampsPlayheadIntoTimeline(t *testing.T) {
	o := newOrigin()
	defer o.server.Close()

	fragments := []models.Fragment{frag(o, 2, 7, "/seg0", "")}
	s, sim, _, _ := newTestFragmented(t, fragments)
	ctx := context.Background()

	sim.SetCurrentTime(-4)
	_, err := s.step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, sim.CurrentTime())

	sim.SetCurrentTime(100)
	_, err = s.step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, sim.CurrentTime())
}

func TestStep_RecoversFromFetchFailure(t *testing.T) {
	o := newOrigin()
	defer o.server.Close()

	fragments := []models.Fragment{frag(o, 0, 5, "/seg0", "")}
	s, _, _, _ := newTestFragmented(t, fragments)
	ctx := context.Background()

	o.failNext("/seg0", 1)
	_, err := s.step(ctx)
	require.Error(t, err)

	_, err = s.step(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, o.hitCount("/seg0"))
}

func TestStep_EvictsRangesOutsideRetentionWindow(t *testing.T) {
	o := newOrigin()
	defer o.server.Close()

	fragments := []models.Fragment{
		frag(o, 0, 5, "/seg0", ""),
		frag(o, 200, 205, "/seg1", ""),
	}
	s, sim, memSink, _ := newTestFragmented(t, fragments)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.step(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 1, o.hitCount("/seg0"))
	require.Equal(t, 1, o.hitCount("/seg1"))

	// Jump far ahead: the first fragment's range falls out of the
	// retention window and is removed from both sink and bookkeeping.
	sim.SetCurrentTime(200)
	_, err := s.step(ctx)
	require.NoError(t, err)

	firstKey := fragments[0].SegmentKey()
	_, stillCached := s.segments[firstKey]
	assert.False(t, stillCached)

	ranges, err := memSink.Buffer().Buffered()
	require.NoError(t, err)
	for _, r := range ranges {
		assert.GreaterOrEqual(t, r.End, 170.0, "stale range %v should have been evicted", r)
	}
}

func TestFragmented_SeekClampsToTimeline(t *testing.T) {
	o := newOrigin()
	defer o.server.Close()

	fragments := []models.Fragment{frag(o, 2, 7, "/seg0", "")}
	s, sim, _, _ := newTestFragmented(t, fragments)

	s.Seek(-10)
	assert.Equal(t, 2.0, sim.CurrentTime())
	s.Seek(1000)
	assert.Equal(t, 7.0, sim.CurrentTime())
	s.Seek(5)
	assert.Equal(t, 5.0, sim.CurrentTime())
}

func TestFragmented_UpdateRejected(t *testing.T) {
	o := newOrigin()
	defer o.server.Close()

	fragments := []models.Fragment{frag(o, 0, 5, "/seg0", "")}
	s, _, _, _ := newTestFragmented(t, fragments)

	err := s.Update(models.SourceOptions{Live: &models.LiveOptions{URL: "http://elsewhere/live"}})
	assert.Error(t, err)
}

func TestFragmented_RunLoopLoadsAndEmitsTimeline(t *testing.T) {
	o := newOrigin()
	defer o.server.Close()

	fragments := []models.Fragment{
		frag(o, 0, 5, "/seg0", "/init"),
		frag(o, 5, 10, "/seg1", "/init"),
	}

	sim := surface.NewSim()
	memSink := sink.NewMemory(1.0)
	client := fetch.NewClient(logger.Nop(), "")
	defer client.CloseIdleConnections()

	var mu sync.Mutex
	var states []models.VideoState
	src, err := New(models.SourceOptions{
		Fragmented: &models.FragmentedOptions{Fragments: fragments},
	}, Deps{
		Logger:  logger.Nop(),
		Fetch:   client,
		Sink:    memSink,
		Surface: sim,
		OnState: func(st models.VideoState) {
			mu.Lock()
			states = append(states, st)
			mu.Unlock()
		},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	require.Eventually(t, func() bool {
		return o.hitCount("/seg0") == 1 && o.hitCount("/seg1") == 1
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	assert.True(t, last.HasTimeline)
	assert.Equal(t, models.TimeRange{Start: 0, End: 10}, last.Timeline)
	assert.False(t, last.Error)
}

func TestStateEmitter_SuppressesDuplicates(t *testing.T) {
	var calls int
	e := &stateEmitter{fn: func(models.VideoState) { calls++ }}

	st := models.VideoState{CurrentTime: 1.5, HasTimeline: true, Timeline: models.TimeRange{Start: 0, End: 10}}
	e.emit(st)
	e.emit(st)
	assert.Equal(t, 1, calls)

	st.CurrentTime = 2.0
	e.emit(st)
	assert.Equal(t, 2, calls)

	e.emit(st)
	assert.Equal(t, 2, calls)
}
