package jockey

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/progrium/vidjockey/catalog"
	"github.com/progrium/vidjockey/tempo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func zeroPick(int64) int64 { return 0 }

func TestPlanCycleForcedSwitch(t *testing.T) {
	// 4/1 at 120 bpm is an 8000 ms beat, longer than either file.
	beat := tempo.IntervalMs(120, tempo.FourBars.Multiplier())
	sub := tempo.SubBeatMs(120)
	require.Equal(t, 250, sub)

	exact := PlanCycle(catalog.Entry{Path: "a", DurationMs: 2000}, beat, sub, DefaultTiming, zeroPick)
	assert.Equal(t, int64(2000), exact.RepeatMs)
	assert.Equal(t, int64(2000), exact.WaitMs)

	ragged := PlanCycle(catalog.Entry{Path: "b", DurationMs: 2100}, beat, sub, DefaultTiming, zeroPick)
	assert.Equal(t, int64(2000), ragged.RepeatMs)
	assert.Equal(t, int64(2000), ragged.WaitMs)
	assert.True(t, ragged.Forced)
}

func TestPlanCycleBeatShorterThanFile(t *testing.T) {
	c := PlanCycle(catalog.Entry{DurationMs: 2000}, 500, 250, DefaultTiming, func(int64) int64 {
		t.Fatal("fast switching never picks an offset")
		return 0
	})
	assert.Equal(t, int64(500), c.WaitMs)
	assert.False(t, c.Forced)
	assert.Zero(t, c.StartOffsetMs)
}

func TestPlanCycleRandomOffset(t *testing.T) {
	var asked int64
	c := PlanCycle(catalog.Entry{DurationMs: 10_000}, 2000, 250, DefaultTiming, func(n int64) int64 {
		asked = n
		return n - 1
	})
	assert.Equal(t, int64(7000), asked, "offset leaves at least the minimum skip")
	assert.Equal(t, int64(6999), c.StartOffsetMs)
	assert.Equal(t, int64(3000), c.RepeatMs)
	assert.Equal(t, int64(2000), c.WaitMs)
	assert.False(t, c.Forced)

	short := PlanCycle(catalog.Entry{DurationMs: 3000}, 2000, 250, DefaultTiming, func(int64) int64 {
		t.Fatal("files at the minimum skip start at zero")
		return 0
	})
	assert.Zero(t, short.StartOffsetMs)
}

func TestPlanCycleClampsToOneSubBeat(t *testing.T) {
	c := PlanCycle(catalog.Entry{DurationMs: 100}, 500, 250, DefaultTiming, zeroPick)
	assert.Equal(t, int64(250), c.RepeatMs)
	assert.Equal(t, int64(250), c.WaitMs)
	assert.True(t, c.Forced)
}

func TestPlanCycleUnknownDuration(t *testing.T) {
	for _, d := range []int64{catalog.NotParsed, catalog.LengthIndeterminable, catalog.NotMediaFile, 0} {
		c := PlanCycle(catalog.Entry{DurationMs: d}, 4000, 250, DefaultTiming, func(int64) int64 {
			t.Fatal("no offset without a duration")
			return 0
		})
		assert.Equal(t, int64(4000), c.WaitMs)
		assert.False(t, c.Forced)
		assert.Zero(t, c.StartOffsetMs)
	}
}

type rig struct {
	display   *fakeDisplay
	readiness *Readiness
	tempo     *tempo.Setting
	source    *fakeSource
	engine    *fakeEngine
	sched     *Scheduler

	mu     sync.Mutex
	cycles []Cycle
}

func newRig(t *testing.T, bpm float64, note tempo.NoteLength, entries ...catalog.Entry) *rig {
	t.Helper()
	r := &rig{
		display: newFakeDisplay(),
		tempo:   tempo.NewSetting(bpm, note),
		source:  &fakeSource{entries: entries},
		engine:  &fakeEngine{},
	}
	r.readiness = NewReadiness(r.display, quickBlink, nil)
	r.readiness.SetEngineReady(true)
	r.readiness.SetCatalogReady(len(entries) > 0)
	r.readiness.SetMode(ModeReady)
	r.sched = NewScheduler(r.readiness, r.tempo, r.source, r.engine, nil)
	r.sched.OnCycle = func(c Cycle) {
		r.mu.Lock()
		r.cycles = append(r.cycles, c)
		r.mu.Unlock()
	}
	t.Cleanup(r.sched.Shutdown)
	return r
}

func (r *rig) cycleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cycles)
}

func (r *rig) lastCycle() Cycle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles[len(r.cycles)-1]
}

var clip = catalog.Entry{Path: "/m/clip.mp4", DurationMs: catalog.LengthIndeterminable}

func TestPlayWhileScanningIsNoop(t *testing.T) {
	r := newRig(t, 120, tempo.Quarter, clip)
	r.readiness.SetMode(ModeScanning)
	assert.False(t, r.sched.Play())
	assert.Equal(t, ModeScanning, r.readiness.Mode())
	assert.False(t, r.sched.Running())
	assert.Zero(t, r.engine.playCount())
}

func TestPlayNeedsReadiness(t *testing.T) {
	r := newRig(t, 120, tempo.Quarter)
	assert.False(t, r.sched.Play(), "no media")
	assert.Equal(t, ModeReady, r.readiness.Mode())
}

func TestPlayStartsExactlyOneLoop(t *testing.T) {
	r := newRig(t, 60, tempo.FourBars, clip)
	require.True(t, r.sched.Play())
	assert.Equal(t, ModePlaying, r.readiness.Mode())
	assert.Eventually(t, func() bool { return r.engine.playCount() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 5; i++ {
		assert.True(t, r.sched.Play())
	}
	assert.EqualValues(t, 1, r.sched.starts.Load())
	assert.LessOrEqual(t, r.sched.loops.Load(), int32(1))
}

func TestPlayWhilePlayingSkipsImmediately(t *testing.T) {
	// a 16 s beat would never end on its own during the test
	r := newRig(t, 60, tempo.FourBars, clip)
	require.True(t, r.sched.Play())
	require.Eventually(t, func() bool { return r.engine.playCount() == 1 }, time.Second, time.Millisecond)

	r.sched.Play()
	assert.Eventually(t, func() bool { return r.engine.playCount() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, ModePlaying, r.readiness.Mode())
}

func TestPauseStopsPlayerBeforeReturning(t *testing.T) {
	r := newRig(t, 60, tempo.FourBars, clip)
	require.True(t, r.sched.Play())
	require.Eventually(t, func() bool { return r.engine.playCount() == 1 }, time.Second, time.Millisecond)

	start := time.Now()
	require.True(t, r.sched.Pause())
	assert.Less(t, time.Since(start), time.Second, "pause does not wait out the beat")
	assert.GreaterOrEqual(t, r.engine.pauseCount(), 1)
	assert.False(t, r.engine.IsPlaying())
	assert.Equal(t, ModeReady, r.readiness.Mode())
	assert.False(t, r.sched.Running())

	assert.False(t, r.sched.Pause(), "pause from Ready is a no-op")
}

func TestPlayAfterPauseStartsFreshLoop(t *testing.T) {
	r := newRig(t, 60, tempo.FourBars, clip)
	require.True(t, r.sched.Play())
	require.Eventually(t, func() bool { return r.engine.playCount() == 1 }, time.Second, time.Millisecond)
	require.True(t, r.sched.Pause())

	require.True(t, r.sched.Play())
	assert.Eventually(t, func() bool { return r.engine.playCount() == 2 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 2, r.sched.starts.Load())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, r.engine.playCount(), "no stale wake cuts the new cycle short")
}

func TestEmptyCatalogRevertsToReady(t *testing.T) {
	r := newRig(t, 180, tempo.Sixteenth, clip)
	r.source.clear()
	require.True(t, r.sched.Play())
	assert.Eventually(t, func() bool { return r.readiness.Mode() == ModeReady }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return !r.sched.Running() }, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, r.engine.pauseCount(), 1)
}

func TestPlayerErrorsDoNotStopTheLoop(t *testing.T) {
	r := newRig(t, 180, tempo.Sixteenth, clip)
	r.engine.playErr = errors.New("broken pipe")
	require.True(t, r.sched.Play())
	assert.Eventually(t, func() bool { return r.engine.playCount() >= 3 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, ModePlaying, r.readiness.Mode())
}

func TestTempoChangeAppliesNextCycle(t *testing.T) {
	r := newRig(t, 120, tempo.Quarter, clip)
	require.True(t, r.sched.Play())
	require.Eventually(t, func() bool { return r.cycleCount() >= 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 500, r.lastCycle().BeatMs)

	require.NoError(t, r.tempo.SetBPM(60))
	require.NoError(t, r.tempo.SetNoteLength(tempo.FourBars))
	r.sched.Play()
	require.Eventually(t, func() bool { return r.lastCycle().BeatMs == 16000 }, 2*time.Second, time.Millisecond)
}

func TestForcedSwitchPicksNextFile(t *testing.T) {
	short := catalog.Entry{Path: "/m/short.mp4", DurationMs: 100}
	r := newRig(t, 60, tempo.FourBars, short)
	require.True(t, r.sched.Play())
	// 100 ms clamps to one 500 ms sub-beat, far shorter than the 16 s beat
	assert.Eventually(t, func() bool { return r.engine.playCount() >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.lastCycle().Forced)
}

func TestShutdownStopsEverything(t *testing.T) {
	r := newRig(t, 60, tempo.FourBars, clip)
	require.True(t, r.sched.Play())
	require.Eventually(t, func() bool { return r.engine.playCount() == 1 }, time.Second, time.Millisecond)

	r.sched.Shutdown()
	assert.Equal(t, ModeReady, r.readiness.Mode())
	assert.False(t, r.sched.Running())
	assert.Equal(t, 1, r.engine.stopCount())
}
