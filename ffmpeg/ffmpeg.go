package ffmpeg

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Runner plays one file at a time by streaming it through ffmpeg to Output.
// Starting a new file kills the previous process.
type Runner struct {
	Engine  Engine
	Output  string
	Format  string
	Updates chan Update

	Process *exec.Cmd
	Run     int
	current string
	log     *zap.Logger
	sync.Mutex
}

func NewRunner(engine Engine, output, format string, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if format == "" {
		format = "flv"
	}
	return &Runner{
		Engine:  engine,
		Output:  output,
		Format:  format,
		Updates: make(chan Update, 16),
		log:     log,
	}
}

type Update struct {
	Run      int
	Path     string
	SeekMs   int64
	Progress Progress
	Ended    bool
}

type Progress map[string]string

// PositionMs is the playback position inside the file, including the seek offset.
func (u Update) PositionMs() int64 {
	t, ok := u.Progress["out_time"]
	if !ok {
		return u.SeekMs
	}
	ms, err := ParseTimeToMs(t)
	if err != nil {
		return u.SeekMs
	}
	return u.SeekMs + ms
}

// UseEngine points the runner at the ffmpeg install in dir ($PATH when empty).
// On failure the previous engine is cleared.
func (r *Runner) UseEngine(dir string) error {
	engine, err := Locate(dir)
	r.Lock()
	defer r.Unlock()
	r.Engine = engine
	return err
}

// Installed is the engine currently in use.
func (r *Runner) Installed() Engine {
	r.Lock()
	defer r.Unlock()
	return r.Engine
}

func (r *Runner) Progress() <-chan Update {
	return r.Updates
}

func (r *Runner) PlayAt(path string, startMs int64) error {
	r.Lock()
	defer r.Unlock()
	if !r.Engine.Ready() {
		return ErrEngineNotFound
	}
	if r.Process != nil {
		r.kill()
	}
	r.Run++
	cmd, err := r.stream(path, startMs, r.Run)
	if err != nil {
		return err
	}
	r.Process = cmd
	r.current = path
	r.log.Debug("streaming", zap.String("path", path), zap.String("seek", FormatTimeMs(int(startMs))), zap.Int("run", r.Run))
	return nil
}

// Pause halts output. The stream holds no position, so resuming means a new PlayAt.
func (r *Runner) Pause() error {
	r.Lock()
	defer r.Unlock()
	return r.kill()
}

func (r *Runner) Stop() error {
	r.Lock()
	defer r.Unlock()
	err := r.kill()
	r.current = ""
	return err
}

func (r *Runner) IsPlaying() bool {
	r.Lock()
	defer r.Unlock()
	return r.Process != nil
}

func (r *Runner) Current() string {
	r.Lock()
	defer r.Unlock()
	return r.current
}

func (r *Runner) kill() error {
	if r.Process == nil {
		return nil
	}
	err := r.Process.Process.Kill()
	r.Process = nil
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func (r *Runner) stream(filename string, seekMs int64, run int) (*exec.Cmd, error) {
	output, format := r.Output, r.Format
	if output == "" {
		output, format = "-", "null"
	}
	cmd := exec.Command(r.Engine.FFmpeg,
		"-nostats",
		"-progress", "pipe:1",
		"-loglevel", "quiet",
		"-re",
		"-ss", formatSeek(seekMs),
		"-i", filename,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:a", "160k",
		"-b:v", "3M",
		"-preset", "veryfast",
		"-f", format,
		output)
	cmd.Stderr = os.Stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	go func() {
		ReadProgress(stdout, func(p Progress) {
			r.publish(Update{Run: run, Path: filename, SeekMs: seekMs, Progress: p})
		})
		cmd.Wait()
		r.finished(cmd, run, filename, seekMs)
	}()
	return cmd, nil
}

func (r *Runner) finished(cmd *exec.Cmd, run int, filename string, seekMs int64) {
	r.Lock()
	if r.Process == cmd {
		r.Process = nil
	}
	r.Unlock()
	r.publish(Update{Run: run, Path: filename, SeekMs: seekMs, Ended: true})
}

// publish drops updates nobody is reading instead of stalling the stream.
func (r *Runner) publish(u Update) {
	select {
	case r.Updates <- u:
	default:
	}
}

// ReadProgress parses ffmpeg -progress output, calling emit once per block.
func ReadProgress(rd io.Reader, emit func(Progress)) {
	scanner := bufio.NewScanner(rd)
	current := make(Progress)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		current[key] = value
		if key != "progress" {
			continue
		}
		emit(current)
		current = make(Progress)
		if value == "end" {
			return
		}
	}
}

func (r *Runner) ProbeDuration(ctx context.Context, path string) (int64, error) {
	engine := r.Installed()
	if !engine.Ready() {
		return 0, ErrEngineNotFound
	}
	format, err := engine.ProbeFormat(ctx, path)
	if err != nil {
		return 0, err
	}
	return formatDurationMs(format)
}

func MergeAV(engine Engine, videoFilename, audioFilename, outputFilename, title string) error {
	cmd := exec.Command(engine.FFmpeg, "-y", "-i", videoFilename, "-i", audioFilename, "-metadata", "title="+title, "-c", "copy", "-shortest", outputFilename)
	return cmd.Run()
}

func (e Engine) ProbeFormat(ctx context.Context, filename string) (map[string]any, error) {
	cmd := exec.CommandContext(ctx, e.FFprobe, "-i", filename, "-show_format", "-v", "quiet", "-of", "json")
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	return parseFormat(output)
}

func parseFormat(output []byte) (map[string]any, error) {
	var probe struct {
		Format map[string]any `json:"format"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, err
	}
	if probe.Format == nil {
		return nil, fmt.Errorf("ffprobe: no format section")
	}
	return probe.Format, nil
}

// formatDurationMs reads the duration field. A missing or "N/A" duration is a
// length of zero, not an error: the file opened but has no known length.
func formatDurationMs(format map[string]any) (int64, error) {
	duration, ok := format["duration"].(string)
	if !ok || duration == "N/A" {
		return 0, nil
	}
	secs, err := strconv.ParseFloat(duration, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe duration %q: %w", duration, err)
	}
	return int64(math.Round(secs * 1000)), nil
}

// FormatTimeMs takes milliseconds and returns a string in mm:ss or hh:mm:ss format.
func FormatTimeMs(ms int) string {
	seconds := ms / 1000
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60

	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func formatSeek(ms int64) string {
	return fmt.Sprintf("%d.%03d", ms/1000, ms%1000)
}

// ParseTimeToMs parses "HH:MM:SS.ffffff" or "MM:SS" into milliseconds.
func ParseTimeToMs(timeStr string) (int64, error) {
	parts := strings.Split(strings.TrimSpace(timeStr), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time format: %s", timeStr)
	}
	var h, m int64
	var err error
	if len(parts) == 3 {
		if h, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
			return 0, fmt.Errorf("invalid time format: %s", timeStr)
		}
		parts = parts[1:]
	}
	if m, err = strconv.ParseInt(parts[0], 10, 64); err != nil {
		return 0, fmt.Errorf("invalid time format: %s", timeStr)
	}
	s, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || s < 0 {
		return 0, fmt.Errorf("invalid time format: %s", timeStr)
	}
	return (h*3600+m*60)*1000 + int64(math.Round(s*1000)), nil
}
