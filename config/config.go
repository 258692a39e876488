package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/progrium/vidjockey/tempo"
	"gopkg.in/yaml.v3"
)

const DefaultFile = "vidjockey.yaml"

type Config struct {
	MediaPath    string  `yaml:"media_path"`
	EnginePath   string  `yaml:"engine_path"`
	Tempo        float64 `yaml:"tempo"`
	NoteLength   string  `yaml:"note_length"`
	Output       string  `yaml:"output,omitempty"`
	OutputFormat string  `yaml:"output_format,omitempty"`
	Listen       string  `yaml:"listen"`
	Watch        bool    `yaml:"watch"`
	LogLevel     string  `yaml:"log_level"`

	LiveKit LiveKit `yaml:"livekit,omitempty"`
}

type LiveKit struct {
	URL       string `yaml:"url,omitempty"`
	APIKey    string `yaml:"api_key,omitempty"`
	APISecret string `yaml:"api_secret,omitempty"`
	Room      string `yaml:"room,omitempty"`
}

func (lk LiveKit) Enabled() bool {
	return lk.URL != "" && lk.APIKey != "" && lk.APISecret != ""
}

func Default() Config {
	return Config{
		Tempo:      tempo.DefaultBPM,
		NoteLength: tempo.Quarter.Label(),
		Listen:     "127.0.0.1:8088",
		LogLevel:   "info",
		LiveKit: LiveKit{
			Room: "vidjockey",
		},
	}
}

// Load reads path on top of the defaults. A missing file is not an error:
// first runs start from defaults and the file is written at shutdown.
// Environment overrides are not applied; see Resolved.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(ExpandPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}
	return cfg, nil
}

// Resolved is the runtime view of c with LIVEKIT_* environment overrides
// applied. It is never what gets saved.
func (c Config) Resolved() Config {
	c.LiveKit = c.LiveKit.withEnv()
	return c
}

// Save writes the config next to where it was loaded from, replacing the old
// file in one rename.
func (c Config) Save(path string) error {
	path = ExpandPath(path)
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".vidjockey-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (c Config) Validate() error {
	var errs []error
	if c.Tempo < tempo.MinBPM || c.Tempo > tempo.MaxBPM {
		errs = append(errs, fmt.Errorf("tempo: %w", tempo.ErrTempoOutOfRange))
	}
	if _, err := tempo.ParseNoteLength(c.NoteLength); err != nil {
		errs = append(errs, fmt.Errorf("note_length: %w", err))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level: unknown level %q", c.LogLevel))
	}
	if c.LiveKit.URL != "" && (c.LiveKit.APIKey == "" || c.LiveKit.APISecret == "") {
		errs = append(errs, errors.New("livekit: url set without api_key and api_secret"))
	}
	return errors.Join(errs...)
}

// Note returns the configured note length, falling back to a quarter note.
func (c Config) Note() tempo.NoteLength {
	n, err := tempo.ParseNoteLength(c.NoteLength)
	if err != nil {
		return tempo.Quarter
	}
	return n
}

func (lk LiveKit) withEnv() LiveKit {
	if v := os.Getenv("LIVEKIT_URL"); v != "" {
		lk.URL = v
	}
	if v := os.Getenv("LIVEKIT_API_KEY"); v != "" {
		lk.APIKey = v
	}
	if v := os.Getenv("LIVEKIT_API_SECRET"); v != "" {
		lk.APISecret = v
	}
	return lk
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
