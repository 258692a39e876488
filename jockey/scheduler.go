package jockey

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/progrium/vidjockey/catalog"
	"github.com/progrium/vidjockey/tempo"
	"go.uber.org/zap"
)

// Player is the engine that actually puts a file on screen.
type Player interface {
	PlayAt(path string, startMs int64) error
	Pause() error
	Stop() error
	IsPlaying() bool
}

type Source interface {
	RandomEntry() (catalog.Entry, error)
}

type Timing struct {
	// FastSwitchMs is the beat interval at or below which files always start at 0.
	FastSwitchMs int
	// MinSkipMs is how much of a file must remain after a random start offset.
	MinSkipMs int64
}

var DefaultTiming = Timing{FastSwitchMs: 1000, MinSkipMs: 3000}

// Cycle is one pass of the playback loop.
type Cycle struct {
	Entry         catalog.Entry
	StartOffsetMs int64
	BeatMs        int
	RepeatMs      int64
	WaitMs        int64
	Forced        bool
}

// PlanCycle decides where entry starts and how long it plays. pick returns a
// value in [0, n). RepeatMs is the playable remainder trimmed to the sub-beat
// grid; when it is shorter than a beat the cycle ends early with a forced switch.
func PlanCycle(entry catalog.Entry, beatMs, subBeatMs int, timing Timing, pick func(n int64) int64) Cycle {
	c := Cycle{Entry: entry, BeatMs: beatMs, WaitMs: int64(beatMs)}
	if !entry.HasDuration() {
		return c
	}
	if beatMs > timing.FastSwitchMs && entry.DurationMs > timing.MinSkipMs && pick != nil {
		c.StartOffsetMs = pick(entry.DurationMs - timing.MinSkipMs)
	}
	sub := int64(subBeatMs)
	if sub <= 0 {
		sub = 1
	}
	c.RepeatMs = (entry.DurationMs - c.StartOffsetMs) / sub * sub
	if c.RepeatMs <= 0 {
		c.RepeatMs = sub
	}
	if c.RepeatMs < c.WaitMs {
		c.WaitMs = c.RepeatMs
		c.Forced = true
	}
	return c
}

// Scheduler runs at most one playback loop. Commands bump a generation
// counter and poke the wake channel; the loop exits when its generation is
// stale or the mode is no longer Playing.
type Scheduler struct {
	Timing  Timing
	OnCycle func(Cycle)

	readiness *Readiness
	tempo     *tempo.Setting
	source    Source
	player    Player
	log       *zap.Logger

	gen    atomic.Uint64
	wake   chan struct{}
	cycles atomic.Int64
	loops  atomic.Int32
	starts atomic.Int64

	mu   sync.Mutex
	done chan struct{}

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewScheduler(readiness *Readiness, setting *tempo.Setting, source Source, player Player, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		Timing:    DefaultTiming,
		readiness: readiness,
		tempo:     setting,
		source:    source,
		player:    player,
		log:       log,
		wake:      make(chan struct{}, 1),
		rng:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Play starts the loop from Ready, or skips to the next file when already
// Playing. Anywhere else it does nothing and returns false.
func (s *Scheduler) Play() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.readiness.Mode() {
	case ModePlaying:
		s.poke()
		return true
	case ModeReady:
	default:
		return false
	}
	if !s.readiness.ControlEnabled(PlaybackControls) {
		return false
	}
	if !s.readiness.TransitionMode(ModeReady, ModePlaying) {
		return false
	}
	s.join()
	select {
	case <-s.wake:
	default:
	}

	gen := s.gen.Add(1)
	done := make(chan struct{})
	s.done = done
	s.starts.Add(1)
	go s.loop(gen, done)
	return true
}

// Pause stops the loop. The player has been paused by the time it returns.
func (s *Scheduler) Pause() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.readiness.TransitionMode(ModePlaying, ModeReady)
	if ok || s.done != nil {
		s.cancel()
	}
	return ok
}

// Shutdown forces Ready, stops any loop and stops the player.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readiness.SetMode(ModeReady)
	s.cancel()
	if err := s.player.Stop(); err != nil {
		s.log.Warn("player stop", zap.Error(err))
	}
}

func (s *Scheduler) Running() bool {
	return s.loops.Load() > 0
}

func (s *Scheduler) Cycles() int64 {
	return s.cycles.Load()
}

func (s *Scheduler) Seed(seed uint64) {
	s.rngMu.Lock()
	s.rng = rand.New(rand.NewPCG(seed, seed))
	s.rngMu.Unlock()
}

// cancel and join require mu.
func (s *Scheduler) cancel() {
	s.gen.Add(1)
	s.poke()
	s.join()
}

func (s *Scheduler) join() {
	if s.done != nil {
		<-s.done
		s.done = nil
	}
}

func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) alive(gen uint64) bool {
	return s.gen.Load() == gen && s.readiness.Mode() == ModePlaying
}

func (s *Scheduler) loop(gen uint64, done chan struct{}) {
	s.loops.Add(1)
	defer close(done)
	defer s.loops.Add(-1)
	defer func() {
		if err := s.player.Pause(); err != nil {
			s.log.Warn("player pause", zap.Error(err))
		}
	}()

	for s.alive(gen) {
		if !s.cycle(gen) {
			return
		}
	}
}

// cycle plays one file and waits. It returns false when the loop should end.
func (s *Scheduler) cycle(gen uint64) (more bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("playback cycle panicked", zap.Any("panic", r))
			more = s.sleep(gen, int64(s.tempo.IntervalMs()))
		}
	}()

	entry, err := s.source.RandomEntry()
	if err != nil {
		s.log.Info("nothing to play", zap.Error(err))
		s.readiness.TransitionMode(ModePlaying, ModeReady)
		return false
	}

	c := PlanCycle(entry, s.tempo.IntervalMs(), s.tempo.SubBeatMs(), s.Timing, s.pick)
	if err := s.player.PlayAt(entry.Path, c.StartOffsetMs); err != nil {
		s.log.Warn("play failed, skipping", zap.String("path", entry.Path), zap.Error(err))
	}
	s.cycles.Add(1)
	s.log.Debug("cycle",
		zap.String("path", entry.Path),
		zap.Int64("start", c.StartOffsetMs),
		zap.Int64("wait_ms", c.WaitMs),
		zap.Bool("forced", c.Forced))
	if s.OnCycle != nil {
		s.OnCycle(c)
	}
	return s.sleep(gen, c.WaitMs)
}

// sleep waits ms or until poked. A poke with the generation unchanged is a
// skip and the loop goes on to the next file immediately.
func (s *Scheduler) sleep(gen uint64, ms int64) bool {
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.wake:
		return s.alive(gen)
	}
}

func (s *Scheduler) pick(n int64) int64 {
	if n <= 0 {
		return 0
	}
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Int64N(n)
}
