package feed

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kkdai/youtube/v2"
	"github.com/progrium/vidjockey/ffmpeg"
	"golang.org/x/sync/errgroup"
)

// YouTube downloads videos into a media directory, merging the best 1080p
// video-only stream with the first audio stream.
type YouTube struct {
	Engine func() ffmpeg.Engine
	Client youtube.Client
}

// Fetch downloads url into dir and returns the merged file's path.
func (y *YouTube) Fetch(ctx context.Context, url, dir string) (string, error) {
	videoID, ok := DetectYouTubeURL(url)
	if !ok {
		return "", fmt.Errorf("invalid YouTube URL: %s", url)
	}
	engine := y.Engine()
	if !engine.Ready() {
		return "", ffmpeg.ErrEngineNotFound
	}

	video, err := y.Client.GetVideoContext(ctx, videoID)
	if err != nil {
		return "", err
	}
	vformats := video.Formats.Type("video").AudioChannels(0)
	aformats := video.Formats.Type("audio")
	if len(vformats) == 0 || len(aformats) == 0 {
		return "", fmt.Errorf("youtube %s: no downloadable streams", videoID)
	}
	idx := 0
	for i, format := range vformats {
		if strings.Contains(format.Quality, "1080") {
			idx = i
		}
	}

	tempDir, err := os.MkdirTemp("", "vidjockey-"+videoID)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tempDir)

	videoFilename := filepath.Join(tempDir, "video.mp4")
	audioFilename := filepath.Join(tempDir, "audio.mp4")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return y.download(gctx, video, &vformats[idx], videoFilename) })
	g.Go(func() error { return y.download(gctx, video, &aformats[0], audioFilename) })
	if err := g.Wait(); err != nil {
		return "", err
	}

	// Dot-prefixed while merging so a directory watcher ignores the partial file.
	partial := filepath.Join(dir, "."+videoID+".mp4")
	if err := ffmpeg.MergeAV(engine, videoFilename, audioFilename, partial, video.Title); err != nil {
		os.Remove(partial)
		return "", fmt.Errorf("merge: %w", err)
	}
	outputFilename := filepath.Join(dir, videoID+".mp4")
	if err := os.Rename(partial, outputFilename); err != nil {
		return "", err
	}
	return outputFilename, nil
}

func (y *YouTube) download(ctx context.Context, video *youtube.Video, format *youtube.Format, filename string) error {
	stream, _, err := y.Client.GetStreamContext(ctx, video, format)
	if err != nil {
		return err
	}
	defer stream.Close()
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, stream); err != nil {
		return fmt.Errorf("download %s: %w", filepath.Base(filename), err)
	}
	return nil
}

// DetectYouTubeURL returns the video ID of a watch, short or youtu.be link.
func DetectYouTubeURL(s string) (string, bool) {
	if !strings.HasPrefix(s, "https://www.youtube.com/") &&
		!strings.HasPrefix(s, "https://youtu.be/") &&
		!strings.HasPrefix(s, "https://youtube.com") {
		return "", false
	}
	s = strings.ReplaceAll(s, "https://www.youtube.com/watch?v=", "")
	s = strings.ReplaceAll(s, "https://youtube.com/watch?v=", "")
	s = strings.ReplaceAll(s, "https://youtu.be/", "")
	s = strings.ReplaceAll(s, "https://www.youtube.com/shorts/", "")
	s = strings.ReplaceAll(s, "https://youtube.com/shorts/", "")
	if i := strings.IndexAny(s, "?&#"); i >= 0 {
		s = s[:i]
	}
	if s == "" || strings.Contains(s, "/") {
		return "", false
	}
	return s, true
}
