package jockey

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/progrium/vidjockey/catalog"
	"github.com/progrium/vidjockey/config"
	"github.com/progrium/vidjockey/ffmpeg"
	"github.com/progrium/vidjockey/tempo"
	"go.uber.org/zap"
)

// Engine is a Player that can also probe files and be pointed at a new install.
type Engine interface {
	Player
	catalog.Prober
	UseEngine(dir string) error
}

// NowPlayingDisplay is implemented by displays that show the current file.
type NowPlayingDisplay interface {
	SetNowPlaying(path string, startMs int64)
}

type progressReporter interface {
	Progress() <-chan ffmpeg.Update
}

var ErrFetchDisabled = errors.New("fetching is not configured")

type FetchFunc func(ctx context.Context, url, dir string) (string, error)

type Options struct {
	Config        config.Config
	ConfigPath    string
	Engine        Engine
	Display       Display
	Blink         BlinkTiming
	Timing        Timing
	WatchDebounce time.Duration
	Fetch         FetchFunc
	Log           *zap.Logger
}

// Session wires the tempo, catalog, readiness and scheduler together and is
// the single entry point for user commands.
type Session struct {
	Tempo     *tempo.Setting
	Library   *catalog.Library
	Readiness *Readiness
	Scheduler *Scheduler

	engine        Engine
	display       Display
	fetch         FetchFunc
	cfgPath       string
	watchDebounce time.Duration
	log           *zap.Logger

	mu         sync.Mutex
	cfg        config.Config
	cycle      Cycle
	positionMs int64

	cmdMu         sync.Mutex
	scans         atomic.Int32
	pendingRescan atomic.Bool
	watchCancel   context.CancelFunc

	ctx      context.Context
	cancel   context.CancelFunc
	shutdown sync.Once
	done     chan struct{}
}

func New(opts Options) *Session {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	display := Tee(opts.Display)
	if opts.Blink == (BlinkTiming{}) {
		opts.Blink = DefaultBlink
	}
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming
	}
	if opts.WatchDebounce == 0 {
		opts.WatchDebounce = 2 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		Tempo:         tempo.NewSetting(opts.Config.Tempo, opts.Config.Note()),
		Library:       catalog.NewLibrary(opts.Engine, log.Named("catalog")),
		Readiness:     NewReadiness(display, opts.Blink, log.Named("readiness")),
		engine:        opts.Engine,
		display:       display,
		fetch:         opts.Fetch,
		cfgPath:       opts.ConfigPath,
		watchDebounce: opts.WatchDebounce,
		log:           log,
		cfg:           opts.Config,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
	s.Scheduler = NewScheduler(s.Readiness, s.Tempo, s.Library, opts.Engine, log.Named("scheduler"))
	s.Scheduler.Timing = opts.Timing
	s.Scheduler.OnCycle = s.recordCycle
	return s
}

// Start checks the engine, shows the tempo and kicks off the first scan.
func (s *Session) Start() <-chan catalog.ScanResult {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	s.Readiness.SetMode(ModeIdle)
	s.showTempo()
	s.checkEngine(s.EnginePath())
	if p, ok := s.engine.(progressReporter); ok {
		go s.handleProgress(p.Progress())
	}
	s.startWatch(s.MediaPath())
	return s.rescan(false)
}

func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) Play() bool {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.Scheduler.Play()
}

func (s *Session) Pause() bool {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	ok := s.Scheduler.Pause()
	if s.pendingRescan.Swap(false) {
		s.rescan(true)
	}
	return ok
}

// SetTempo applies typed tempo text. Rejected text blinks a warning and the
// tempo field goes back to the value still in effect.
func (s *Session) SetTempo(text string) error {
	err := s.Tempo.SetBPMText(text)
	if err != nil {
		s.Readiness.Blink(string(StatusTempoRejected))
	}
	s.showTempo()
	return err
}

func (s *Session) SetNoteLength(n tempo.NoteLength) error {
	return s.Tempo.SetNoteLength(n)
}

func (s *Session) Rescan(force bool) <-chan catalog.ScanResult {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	return s.rescan(force)
}

// SetMediaPath switches to dir, expanding a leading ~, and rescans it.
func (s *Session) SetMediaPath(dir string) <-chan catalog.ScanResult {
	dir = config.ExpandPath(dir)
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	s.mu.Lock()
	s.cfg.MediaPath = dir
	s.mu.Unlock()
	s.startWatch(dir)
	return s.rescan(false)
}

func (s *Session) SetEnginePath(dir string) <-chan catalog.ScanResult {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	s.mu.Lock()
	s.cfg.EnginePath = dir
	s.mu.Unlock()
	if !s.checkEngine(dir) {
		s.Scheduler.Pause()
	}
	return s.rescan(false)
}

// Fetch downloads url into the media directory and rescans it.
func (s *Session) Fetch(url string) (string, error) {
	if s.fetch == nil {
		return "", ErrFetchDisabled
	}
	dir := s.MediaPath()
	if dir == "" {
		return "", errors.New("no media directory set")
	}
	path, err := s.fetch(s.ctx, url, dir)
	if err != nil {
		return "", err
	}
	s.log.Info("fetched", zap.String("url", url), zap.String("path", path))
	s.Rescan(true)
	return path, nil
}

// Shutdown stops playback, saves the config and releases Done.
func (s *Session) Shutdown() error {
	var err error
	s.shutdown.Do(func() {
		s.cmdMu.Lock()
		defer s.cmdMu.Unlock()

		s.Scheduler.Shutdown()
		s.Readiness.CancelBlink()
		if s.watchCancel != nil {
			s.watchCancel()
		}
		s.cancel()

		cfg := s.Config()
		if s.cfgPath != "" {
			if err = cfg.Save(s.cfgPath); err != nil {
				s.log.Error("save config", zap.Error(err))
			}
		}
		close(s.done)
	})
	return err
}

// Config is the current configuration including live tempo and note length.
func (s *Session) Config() config.Config {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	cfg.Tempo = s.Tempo.BPM()
	cfg.NoteLength = s.Tempo.NoteLength().Label()
	return cfg
}

func (s *Session) MediaPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.MediaPath
}

func (s *Session) EnginePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.EnginePath
}

func (s *Session) Snapshot() Snapshot {
	cat := s.Library.Current()
	snap := Snapshot{
		Status:         s.Readiness.Status(),
		Mode:           s.Readiness.Mode(),
		EngineReady:    s.Readiness.EngineReady(),
		CatalogReady:   s.Readiness.CatalogReady(),
		PlaybackOn:     s.Readiness.ControlEnabled(PlaybackControls),
		PathsOn:        s.Readiness.ControlEnabled(PathControls),
		BPM:            s.Tempo.BPM(),
		Tempo:          tempo.FormatBPM(s.Tempo.BPM()),
		NoteLength:     s.Tempo.NoteLength().Label(),
		IntervalMs:     s.Tempo.IntervalMs(),
		MediaPath:      s.MediaPath(),
		EnginePath:     s.EnginePath(),
		CatalogSize:    cat.Len(),
		CatalogID:      cat.ID().String(),
		CatalogSource:  string(cat.Source()),
		CatalogDir:     cat.Dir(),
		CatalogBuiltAt: cat.BuiltAt(),
		Cycles:         s.Scheduler.Cycles(),
	}
	s.mu.Lock()
	if snap.Mode == ModePlaying {
		snap.NowPlaying = s.cycle.Entry.Path
		snap.StartMs = s.cycle.StartOffsetMs
		snap.PositionMs = s.positionMs
		snap.Position = ffmpeg.FormatTimeMs(int(s.positionMs))
	}
	s.mu.Unlock()
	return snap
}

// rescan requires cmdMu. Scanning and playing never overlap, so playback is
// paused first.
func (s *Session) rescan(force bool) <-chan catalog.ScanResult {
	out := make(chan catalog.ScanResult, 1)
	if !s.Readiness.EngineReady() {
		out <- catalog.ScanResult{Catalog: s.Library.Current(), Err: ffmpeg.ErrEngineNotFound}
		close(out)
		return out
	}
	s.Scheduler.Pause()
	s.pendingRescan.Store(false)
	s.scans.Add(1)
	s.Readiness.SetMode(ModeScanning)

	results := s.Library.Scan(s.ctx, s.MediaPath(), force)
	go func() {
		defer close(out)
		res := <-results
		if res.Err != nil {
			s.log.Warn("scan failed", zap.Error(res.Err))
		}
		s.Readiness.SetCatalogReady(s.Library.Size() > 0)
		if s.scans.Add(-1) == 0 {
			s.Readiness.TransitionMode(ModeScanning, ModeReady)
		}
		out <- res
	}()
	return out
}

func (s *Session) checkEngine(dir string) bool {
	err := s.engine.UseEngine(dir)
	if err != nil {
		s.log.Warn("engine unavailable", zap.String("dir", dir), zap.Error(err))
	}
	s.Readiness.SetEngineReady(err == nil)
	return err == nil
}

func (s *Session) showTempo() {
	s.Readiness.ShowTempo(tempo.FormatBPM(s.Tempo.BPM()))
}

// startWatch requires cmdMu.
func (s *Session) startWatch(dir string) {
	if s.watchCancel != nil {
		s.watchCancel()
		s.watchCancel = nil
	}
	s.mu.Lock()
	watch := s.cfg.Watch
	s.mu.Unlock()
	if !watch || dir == "" {
		return
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.watchCancel = cancel
	go func() {
		err := catalog.Watch(ctx, dir, s.watchDebounce, s.log.Named("watch"), s.mediaChanged)
		if err != nil {
			s.log.Warn("watch stopped", zap.String("dir", dir), zap.Error(err))
		}
	}()
}

// mediaChanged rescans right away unless a set is playing, in which case the
// rescan waits for the next pause.
func (s *Session) mediaChanged() {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if s.Readiness.Mode() == ModePlaying {
		s.pendingRescan.Store(true)
		return
	}
	s.rescan(true)
}

func (s *Session) recordCycle(c Cycle) {
	s.mu.Lock()
	s.cycle = c
	s.positionMs = c.StartOffsetMs
	s.mu.Unlock()
	if d, ok := s.display.(NowPlayingDisplay); ok {
		d.SetNowPlaying(c.Entry.Path, c.StartOffsetMs)
	}
}

func (s *Session) handleProgress(updates <-chan ffmpeg.Update) {
	lastRun := 0
	for {
		select {
		case <-s.ctx.Done():
			return
		case update := <-updates:
			if update.Run < lastRun || update.Ended {
				continue
			}
			lastRun = update.Run
			if update.Progress["out_time"] == "N/A" {
				continue
			}
			s.mu.Lock()
			if update.Path == s.cycle.Entry.Path {
				s.positionMs = update.PositionMs()
			}
			s.mu.Unlock()
		}
	}
}
