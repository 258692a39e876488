package tempo

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
)

const (
	MinBPM     = 60.0
	MaxBPM     = 180.0
	DefaultBPM = 120.0
)

var (
	ErrInvalidTempo      = errors.New("tempo is not a number")
	ErrTempoOutOfRange   = fmt.Errorf("tempo must be between %.0f and %.0f", MinBPM, MaxBPM)
	ErrInvalidNoteLength = errors.New("unknown note length")
)

// NoteLength indexes into the fixed table of selectable note lengths.
// Tempo is counted in quarter notes, so a 1/16 note switches four times per beat.
type NoteLength int

const (
	Sixteenth NoteLength = iota
	Eighth
	Quarter
	Half
	Whole
	FourBars
)

var noteLengths = []struct {
	label      string
	multiplier float64
}{
	{"1/16", 4.0},
	{"1/8", 2.0},
	{"1/4", 1.0},
	{"1/2", 0.5},
	{"1/1", 0.25},
	{"4/1", 0.0625},
}

// subBeatMultiplier is the eighth-note grid used to trim play time so a cycle
// never lands exactly on the end of a file.
const subBeatMultiplier = 2.0

func (n NoteLength) Valid() bool {
	return n >= 0 && int(n) < len(noteLengths)
}

func (n NoteLength) Label() string {
	if !n.Valid() {
		return "?"
	}
	return noteLengths[n].label
}

func (n NoteLength) Multiplier() float64 {
	if !n.Valid() {
		return 0
	}
	return noteLengths[n].multiplier
}

func (n NoteLength) String() string {
	return n.Label()
}

// NoteLengths returns every selectable note length in display order.
func NoteLengths() []NoteLength {
	out := make([]NoteLength, len(noteLengths))
	for i := range noteLengths {
		out[i] = NoteLength(i)
	}
	return out
}

// ParseNoteLength accepts either a label ("1/8") or a table index ("1").
func ParseNoteLength(s string) (NoteLength, error) {
	s = strings.TrimSpace(s)
	for i, nl := range noteLengths {
		if nl.label == s {
			return NoteLength(i), nil
		}
	}
	idx, err := strconv.Atoi(s)
	if err != nil || !NoteLength(idx).Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNoteLength, s)
	}
	return NoteLength(idx), nil
}

// IntervalMs returns the length of one beat cycle in milliseconds.
// Callers guarantee bpm > 0 and multiplier > 0.
func IntervalMs(bpm, multiplier float64) int {
	return int(math.Round(60000 / (bpm * multiplier)))
}

// SubBeatMs is the eighth-note grid length at bpm, independent of the note length.
func SubBeatMs(bpm float64) int {
	return IntervalMs(bpm, subBeatMultiplier)
}

// ParseBPM parses and range-checks tempo text typed by a user.
func ParseBPM(text string) (float64, error) {
	bpm, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(bpm) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTempo, text)
	}
	if bpm < MinBPM || bpm > MaxBPM {
		return 0, fmt.Errorf("%w: %q", ErrTempoOutOfRange, text)
	}
	return bpm, nil
}

// Setting holds the live tempo and note length. It is read by the scheduler
// loop and written by commands, so every access goes through atomics.
type Setting struct {
	bpmBits atomic.Uint64
	note    atomic.Int32
}

func NewSetting(bpm float64, note NoteLength) *Setting {
	s := &Setting{}
	if bpm < MinBPM || bpm > MaxBPM {
		bpm = DefaultBPM
	}
	if !note.Valid() {
		note = Quarter
	}
	s.bpmBits.Store(math.Float64bits(bpm))
	s.note.Store(int32(note))
	return s
}

func (s *Setting) BPM() float64 {
	return math.Float64frombits(s.bpmBits.Load())
}

func (s *Setting) NoteLength() NoteLength {
	return NoteLength(s.note.Load())
}

// SetBPM stores bpm if it is in range. Out of range values leave the prior tempo.
func (s *Setting) SetBPM(bpm float64) error {
	if math.IsNaN(bpm) || bpm < MinBPM || bpm > MaxBPM {
		return fmt.Errorf("%w: %v", ErrTempoOutOfRange, bpm)
	}
	s.bpmBits.Store(math.Float64bits(bpm))
	return nil
}

func (s *Setting) SetBPMText(text string) error {
	bpm, err := ParseBPM(text)
	if err != nil {
		return err
	}
	s.bpmBits.Store(math.Float64bits(bpm))
	return nil
}

func (s *Setting) SetNoteLength(n NoteLength) error {
	if !n.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidNoteLength, int(n))
	}
	s.note.Store(int32(n))
	return nil
}

// IntervalMs is the current beat interval derived from the live values.
func (s *Setting) IntervalMs() int {
	return IntervalMs(s.BPM(), s.NoteLength().Multiplier())
}

func (s *Setting) SubBeatMs() int {
	return SubBeatMs(s.BPM())
}

// FormatBPM renders a tempo the way it is shown in the tempo field.
func FormatBPM(bpm float64) string {
	return fmt.Sprintf("%.1f", bpm)
}
