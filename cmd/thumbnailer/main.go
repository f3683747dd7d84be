package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/andresuchdata/thumbnailer/internal/config"
	"github.com/andresuchdata/thumbnailer/pkg/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logger.Log.Fatal().Err(err).Msg("thumbnailer failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "thumbnailer",
		Usage: "Turn bucket upload notifications into 60x60 PNG thumbnails",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (console, json)",
			},
			&cli.StringFlag{
				Name:  "storage-driver",
				Usage: "Object store driver (s3, minio, memory)",
			},
			&cli.StringFlag{
				Name:  "naming-preset",
				Usage: "Destination naming preset (relocate, suffix)",
			},
		},
		Before: loadConfig,
		Commands: []*cli.Command{
			lambdaCommand(),
			serveCommand(),
			processCommand(),
			planCommand(),
			runsCommand(),
			ledgerCommand(),
		},
	}
}

// loadConfig applies command-line overrides on top of the environment.
func loadConfig(c *cli.Context) error {
	cfg := config.Load()

	if c.IsSet("log-level") {
		cfg.App.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.App.LogFormat = c.String("log-format")
	}
	if c.IsSet("storage-driver") {
		cfg.Storage.Driver = c.String("storage-driver")
	}
	if c.IsSet("naming-preset") {
		cfg.Naming.Preset = c.String("naming-preset")
	}

	setupLogging(cfg)
	return nil
}
