// Command streamcast-server serves pre-encoded video chunks to
// registered clients over UDP, with a TCP control channel for
// registration, quality switching, and seeking.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamcast/config"
	"github.com/opd-ai/streamcast/server"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	chunkDir := flag.String("chunk-dir", "", "chunk storage root (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Configuration failed")
	}
	if *chunkDir != "" {
		cfg.ChunkDir = *chunkDir
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	setupLogging(cfg.LogLevel)

	srv, err := server.New(cfg, nil)
	if err != nil {
		logrus.WithError(err).Fatal("Server startup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("Server failed")
	}
}

func setupLogging(level string) {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("log_level", level).Warn("Unknown log level, using info")
		parsed = logrus.InfoLevel
	}
	logrus.SetLevel(parsed)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
