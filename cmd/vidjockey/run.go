package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/progrium/vidjockey/config"
	"github.com/progrium/vidjockey/feed"
	"github.com/progrium/vidjockey/ffmpeg"
	"github.com/progrium/vidjockey/jockey"
	"github.com/progrium/vidjockey/livekit"
	"github.com/progrium/vidjockey/server"
	"go.uber.org/zap"
	"tractor.dev/toolkit-go/engine/cli"
)

func runCmd() *cli.Command {
	cmd := &cli.Command{
		Usage: "run [media-dir]",
		Short: "start the jockey and its control server",
		Run: func(ctx *cli.Context, args []string) {
			path, cfg := loadConfig()
			if len(args) > 0 {
				cfg.MediaPath = args[0]
			}
			cfg.MediaPath = config.ExpandPath(cfg.MediaPath)
			if err := cfg.Resolved().Validate(); err != nil {
				log.Fatal(err)
			}
			logger := newLogger(cfg.LogLevel)
			defer logger.Sync()
			if err := run(path, cfg, logger); err != nil {
				log.Fatal(err)
			}
		},
	}
	return cmd
}

func run(cfgPath string, cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := ffmpeg.NewRunner(ffmpeg.Engine{}, cfg.Output, cfg.OutputFormat, logger.Named("ffmpeg"))
	hub := server.NewHub(logger.Named("hub"))
	srv := server.New(nil, hub, logger.Named("server"))

	// Only the runtime view carries env credentials; sess saves cfg as loaded.
	live := cfg.Resolved()
	var lk *livekit.Client
	if live.LiveKit.Enabled() {
		lk = livekit.New(live.LiveKit, logger.Named("livekit"))
		ingress, err := lk.EnsureIngress(ctx)
		if err != nil {
			return err
		}
		if cfg.Output == "" {
			runner.Output = livekit.OutputURL(ingress)
			runner.Format = "flv"
		}
		if addr, err := livekit.IngressAddr(ingress); err == nil {
			srv.IngressAddr = addr
		}
		rtc, err := url.Parse(live.LiveKit.URL)
		if err != nil {
			return err
		}
		srv.RTC = rtc
		srv.Invites = lk
	}

	yt := &feed.YouTube{Engine: runner.Installed}
	sess := jockey.New(jockey.Options{
		Config:     cfg,
		ConfigPath: cfgPath,
		Engine:     runner,
		Display:    hub,
		Fetch:      yt.Fetch,
		Log:        logger.Named("jockey"),
	})
	srv.Controller = sess

	l, err := server.Listen(ctx, cfg.Listen)
	if err != nil {
		return err
	}
	srv.PublicURL = server.ServiceURL(l)
	logger.Info("control server", zap.String("url", srv.PublicURL))
	if srv.Invites != nil {
		logger.Info("invite", zap.String("url", srv.PublicURL+"/invite"))
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	httpSrv := &http.Server{Handler: srv.Handler()}
	go func() {
		if err := httpSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", zap.Error(err))
			stop()
		}
	}()

	if lk != nil {
		room, err := lk.ConnectBot(sess.Exec)
		if err != nil {
			logger.Warn("chat bot", zap.Error(err))
		} else {
			defer room.Disconnect()
		}
	}

	sess.Start()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case <-sess.Done():
	}
	if err := sess.Shutdown(); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
