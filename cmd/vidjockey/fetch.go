package main

import (
	"context"
	"fmt"
	"log"

	"github.com/progrium/vidjockey/config"
	"github.com/progrium/vidjockey/feed"
	"github.com/progrium/vidjockey/ffmpeg"
	"tractor.dev/toolkit-go/engine/cli"
)

func fetchCmd() *cli.Command {
	cmd := &cli.Command{
		Usage: "fetch <youtube-url> [media-dir]",
		Short: "download a YouTube video into the media directory",
		Args:  cli.MinArgs(1),
		Run: func(ctx *cli.Context, args []string) {
			_, cfg := loadConfig()
			dir := cfg.MediaPath
			if len(args) > 1 {
				dir = args[1]
			}
			if dir == "" {
				log.Fatal("no media directory")
			}
			engine, err := ffmpeg.Locate(cfg.EnginePath)
			if err != nil {
				log.Fatal(err)
			}
			yt := &feed.YouTube{Engine: func() ffmpeg.Engine { return engine }}
			path, err := yt.Fetch(context.Background(), args[0], config.ExpandPath(dir))
			if err != nil {
				log.Fatal(err)
			}
			fmt.Println(path)
		},
	}
	return cmd
}
