package jockey

import (
	"fmt"
	"time"
)

type Mode int32

const (
	ModeIdle Mode = iota
	ModeReady
	ModePlaying
	ModeScanning
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeReady:
		return "ready"
	case ModePlaying:
		return "playing"
	case ModeScanning:
		return "scanning"
	}
	return "unknown"
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	for _, mode := range []Mode{ModeIdle, ModeReady, ModePlaying, ModeScanning} {
		if mode.String() == string(b) {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown mode %q", b)
}

type Status string

const (
	StatusIdle           Status = "█ IDLE"
	StatusReady          Status = "⏯ READY"
	StatusPlaying        Status = "⏵ PLAYING"
	StatusScanning       Status = "⏬ SCANNING"
	StatusNoMedia        Status = "█ NO MEDIA FOUND"
	StatusEngineNotFound Status = "! ENGINE NOT FOUND"
	StatusTempoRejected  Status = "60 < Tempo < 180!"
)

func (m Mode) Status() Status {
	switch m {
	case ModeReady:
		return StatusReady
	case ModePlaying:
		return StatusPlaying
	case ModeScanning:
		return StatusScanning
	}
	return StatusIdle
}

type Control int

const (
	PlaybackControls Control = iota
	PathControls
)

func (c Control) String() string {
	if c == PathControls {
		return "path"
	}
	return "playback"
}

// Snapshot is everything a control client needs to redraw itself.
type Snapshot struct {
	Status         Status    `json:"status"`
	Mode           Mode      `json:"mode"`
	EngineReady    bool      `json:"engineReady"`
	CatalogReady   bool      `json:"catalogReady"`
	PlaybackOn     bool      `json:"playbackEnabled"`
	PathsOn        bool      `json:"pathsEnabled"`
	BPM            float64   `json:"bpm"`
	Tempo          string    `json:"tempo"`
	NoteLength     string    `json:"noteLength"`
	IntervalMs     int       `json:"intervalMs"`
	MediaPath      string    `json:"mediaPath"`
	EnginePath     string    `json:"enginePath"`
	CatalogSize    int       `json:"catalogSize"`
	CatalogID      string    `json:"catalogId"`
	CatalogSource  string    `json:"catalogSource"`
	CatalogDir     string    `json:"catalogDir"`
	CatalogBuiltAt time.Time `json:"catalogBuiltAt"`
	NowPlaying     string    `json:"nowPlaying,omitempty"`
	StartMs        int64     `json:"startMs"`
	Position       string    `json:"position,omitempty"`
	PositionMs     int64     `json:"positionMs"`
	Cycles         int64     `json:"cycles"`
}
