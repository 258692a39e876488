package main

import (
	"context"
	"log"
	"os"

	"github.com/progrium/vidjockey/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"tractor.dev/toolkit-go/engine/cli"
)

var Version = "dev"

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	root := &cli.Command{
		Version: Version,
		Usage:   "vidjockey",
		Short:   "tempo-synced random video playback",
	}

	root.AddCommand(runCmd())
	root.AddCommand(scanCmd())
	root.AddCommand(probeCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(fetchCmd())
	root.AddCommand(intervalCmd())

	if err := cli.Execute(context.Background(), root, os.Args[1:]); err != nil {
		log.Fatal(err)
	}
}

// configPath is $VIDJOCKEY_CONFIG or vidjockey.yaml in the working directory.
func configPath() string {
	if path := os.Getenv("VIDJOCKEY_CONFIG"); path != "" {
		return path
	}
	return config.DefaultFile
}

func loadConfig() (string, config.Config) {
	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal("config: ", err)
	}
	return path, cfg
}

func newLogger(level string) *zap.Logger {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		log.Fatal("log level: ", err)
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = lvl
	cfg.Development = false
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := cfg.Build()
	if err != nil {
		log.Fatal("logger: ", err)
	}
	return logger
}
