package jockey

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/progrium/vidjockey/catalog"
)

type fakeDisplay struct {
	mu       sync.Mutex
	statuses []string
	tempo    string
	controls map[Control]bool
	playing  []string
}

func newFakeDisplay() *fakeDisplay {
	return &fakeDisplay{controls: map[Control]bool{}}
}

func (d *fakeDisplay) SetStatusText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, text)
}

func (d *fakeDisplay) SetTempoText(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tempo = text
}

func (d *fakeDisplay) SetControlEnabled(c Control, enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.controls[c] = enabled
}

func (d *fakeDisplay) SetNowPlaying(path string, startMs int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playing = append(d.playing, path)
}

func (d *fakeDisplay) lastStatus() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.statuses) == 0 {
		return ""
	}
	return d.statuses[len(d.statuses)-1]
}

func (d *fakeDisplay) sawStatus(text string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.statuses {
		if s == text {
			return true
		}
	}
	return false
}

func (d *fakeDisplay) tempoText() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tempo
}

func (d *fakeDisplay) control(c Control) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.controls[c]
}

type play struct {
	path    string
	startMs int64
}

// fakeEngine records player calls and answers probes from a table.
type fakeEngine struct {
	mu        sync.Mutex
	plays     []play
	pauses    int
	stops     int
	playing   bool
	playErr   error
	engineErr error
	durations map[string]int64
	onPause   func()
}

func (e *fakeEngine) PlayAt(path string, startMs int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plays = append(e.plays, play{path, startMs})
	if e.playErr != nil {
		return e.playErr
	}
	e.playing = true
	return nil
}

func (e *fakeEngine) Pause() error {
	e.mu.Lock()
	e.pauses++
	e.playing = false
	hook := e.onPause
	e.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	e.playing = false
	return nil
}

func (e *fakeEngine) IsPlaying() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.playing
}

func (e *fakeEngine) ProbeDuration(ctx context.Context, path string) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durations[filepath.Base(path)], nil
}

func (e *fakeEngine) UseEngine(dir string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.engineErr
}

func (e *fakeEngine) playCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.plays)
}

func (e *fakeEngine) pauseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pauses
}

func (e *fakeEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

// fakeSource serves entries round-robin so tests can predict the pick.
type fakeSource struct {
	mu      sync.Mutex
	entries []catalog.Entry
	next    int
}

func (s *fakeSource) RandomEntry() (catalog.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return catalog.Entry{}, catalog.ErrEmptyCatalog
	}
	e := s.entries[s.next%len(s.entries)]
	s.next++
	return e, nil
}

func (s *fakeSource) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
}
