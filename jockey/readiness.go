package jockey

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Display receives everything the user is shown. Implementations must not
// call back into Readiness.
type Display interface {
	SetStatusText(text string)
	SetTempoText(text string)
	SetControlEnabled(c Control, enabled bool)
}

type BlinkTiming struct {
	Repeats int
	Hidden  time.Duration
	Shown   time.Duration
}

var DefaultBlink = BlinkTiming{Repeats: 5, Hidden: 200 * time.Millisecond, Shown: 600 * time.Millisecond}

// Readiness tracks the two readiness flags and the activity mode, and
// republishes the derived status and control state on every change.
type Readiness struct {
	mu           sync.Mutex
	engineReady  bool
	catalogReady bool
	mode         Mode
	display      Display
	blink        BlinkTiming
	blinkGen     uint64
	blinking     bool
	log          *zap.Logger
}

func NewReadiness(display Display, blink BlinkTiming, log *zap.Logger) *Readiness {
	if display == nil {
		display = Tee()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Readiness{display: display, blink: blink, log: log}
}

func (r *Readiness) SetEngineReady(ready bool) {
	r.mu.Lock()
	r.engineReady = ready
	r.publish()
	r.mu.Unlock()
	if !ready {
		r.Blink(string(StatusEngineNotFound))
	}
}

func (r *Readiness) SetCatalogReady(ready bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogReady = ready
	r.publish()
}

func (r *Readiness) SetMode(mode Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
	r.publish()
}

// TransitionMode moves to `to` only when the current mode is `from`.
func (r *Readiness) TransitionMode(from, to Mode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode != from {
		return false
	}
	r.mode = to
	r.publish()
	return true
}

func (r *Readiness) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Readiness) EngineReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engineReady
}

func (r *Readiness) CatalogReady() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.catalogReady
}

func (r *Readiness) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status()
}

func (r *Readiness) ControlEnabled(c Control) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controlEnabled(c)
}

// ShowTempo sends tempo text straight to the display.
func (r *Readiness) ShowTempo(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.display.SetTempoText(text)
}

func (r *Readiness) status() Status {
	switch {
	case !r.engineReady:
		return StatusEngineNotFound
	case !r.catalogReady:
		return StatusNoMedia
	}
	return r.mode.Status()
}

func (r *Readiness) controlEnabled(c Control) bool {
	switch c {
	case PlaybackControls:
		return r.engineReady && r.catalogReady && (r.mode == ModeReady || r.mode == ModePlaying)
	case PathControls:
		return r.mode != ModeScanning
	}
	return false
}

// publish must be called with mu held. While a blink runs, the status text
// belongs to the blink, which redisplays the latest status when it ends.
func (r *Readiness) publish() {
	if !r.blinking {
		r.display.SetStatusText(string(r.status()))
	}
	r.display.SetControlEnabled(PlaybackControls, r.controlEnabled(PlaybackControls))
	r.display.SetControlEnabled(PathControls, r.controlEnabled(PathControls))
}

// Blink flashes text in the status field and then shows the current status.
// It returns immediately. A newer Blink or CancelBlink supersedes it.
func (r *Readiness) Blink(text string) {
	r.mu.Lock()
	r.blinkGen++
	gen := r.blinkGen
	r.blinking = true
	timing := r.blink
	r.mu.Unlock()
	r.log.Debug("blink", zap.String("text", text), zap.Uint64("gen", gen))

	go func() {
		for i := 0; i < timing.Repeats; i++ {
			if !r.blinkStep(gen, "", timing.Hidden) {
				return
			}
			if !r.blinkStep(gen, text, timing.Shown) {
				return
			}
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.blinkGen != gen {
			return
		}
		r.blinking = false
		r.display.SetStatusText(string(r.status()))
	}()
}

func (r *Readiness) blinkStep(gen uint64, text string, d time.Duration) bool {
	r.mu.Lock()
	if r.blinkGen != gen {
		r.mu.Unlock()
		return false
	}
	r.display.SetStatusText(text)
	r.mu.Unlock()
	time.Sleep(d)
	return true
}

// CancelBlink stops any running blink and shows the current status.
func (r *Readiness) CancelBlink() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blinkGen++
	if r.blinking {
		r.blinking = false
		r.display.SetStatusText(string(r.status()))
	}
}

func (r *Readiness) Blinking() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.blinking
}

type tee []Display

// Tee fans display updates out to every non-nil display.
func Tee(displays ...Display) Display {
	var t tee
	for _, d := range displays {
		if d != nil {
			t = append(t, d)
		}
	}
	return t
}

func (t tee) SetStatusText(text string) {
	for _, d := range t {
		d.SetStatusText(text)
	}
}

func (t tee) SetTempoText(text string) {
	for _, d := range t {
		d.SetTempoText(text)
	}
}

func (t tee) SetControlEnabled(c Control, enabled bool) {
	for _, d := range t {
		d.SetControlEnabled(c, enabled)
	}
}

func (t tee) SetNowPlaying(path string, startMs int64) {
	for _, d := range t {
		if np, ok := d.(NowPlayingDisplay); ok {
			np.SetNowPlaying(path, startMs)
		}
	}
}
