package ffmpeg

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

var ErrEngineNotFound = errors.New("ffmpeg engine not found")

// Engine holds the resolved paths of the two binaries the player needs.
type Engine struct {
	FFmpeg  string
	FFprobe string
}

func (e Engine) Ready() bool {
	return e.FFmpeg != "" && e.FFprobe != ""
}

// Locate finds ffmpeg and ffprobe inside dir, or on $PATH when dir is empty.
func Locate(dir string) (Engine, error) {
	ffmpeg, err := lookup(dir, "ffmpeg")
	if err != nil {
		return Engine{}, err
	}
	ffprobe, err := lookup(dir, "ffprobe")
	if err != nil {
		return Engine{}, err
	}
	return Engine{FFmpeg: ffmpeg, FFprobe: ffprobe}, nil
}

func lookup(dir, name string) (string, error) {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	if dir == "" {
		path, err := exec.LookPath(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s not on PATH", ErrEngineNotFound, name)
		}
		return path, nil
	}
	for _, candidate := range []string{filepath.Join(dir, name), filepath.Join(dir, "bin", name)} {
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("%w: no %s in %s", ErrEngineNotFound, name, dir)
}
