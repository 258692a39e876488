package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/progrium/vidjockey/catalog"
	"github.com/progrium/vidjockey/config"
	"github.com/progrium/vidjockey/ffmpeg"
	"tractor.dev/toolkit-go/engine/cli"
)

func scanCmd() *cli.Command {
	cmd := &cli.Command{
		Usage: "scan [media-dir] [force]",
		Short: "build the catalog and duration cache for a directory",
		Run: func(ctx *cli.Context, args []string) {
			_, cfg := loadConfig()
			dir := cfg.MediaPath
			if len(args) > 0 {
				dir = args[0]
			}
			force := len(args) > 1 && args[1] == "force"

			runner := ffmpeg.NewRunner(ffmpeg.Engine{}, "", "", nil)
			if err := runner.UseEngine(cfg.EnginePath); err != nil {
				log.Fatal(err)
			}
			lib := catalog.NewLibrary(runner, newLogger(cfg.LogLevel))
			cat, err := lib.Build(context.Background(), config.ExpandPath(dir), force)
			if err != nil {
				log.Fatal(err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			for _, e := range cat.Entries() {
				fmt.Fprintf(w, "%s\t%s\n", filepath.Base(e.Path), formatDuration(e.DurationMs))
			}
			w.Flush()
			fmt.Printf("%d entries (%s)\n", cat.Len(), cat.Source())
		},
	}
	return cmd
}

func probeCmd() *cli.Command {
	cmd := &cli.Command{
		Usage: "probe <file>",
		Short: "print the duration of a media file",
		Args:  cli.MinArgs(1),
		Run: func(ctx *cli.Context, args []string) {
			_, cfg := loadConfig()
			runner := ffmpeg.NewRunner(ffmpeg.Engine{}, "", "", nil)
			if err := runner.UseEngine(cfg.EnginePath); err != nil {
				log.Fatal(err)
			}
			ms, err := runner.ProbeDuration(context.Background(), args[0])
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("%d ms (%s)\n", ms, ffmpeg.FormatTimeMs(int(ms)))
		},
	}
	return cmd
}

func formatDuration(ms int64) string {
	switch ms {
	case catalog.NotParsed:
		return "not parsed"
	case catalog.LengthIndeterminable:
		return "unknown length"
	case catalog.NotMediaFile:
		return "not media"
	}
	return ffmpeg.FormatTimeMs(int(ms))
}
