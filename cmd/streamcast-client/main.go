// Command streamcast-client receives an adaptive video stream. It
// registers with a server, consumes frames, and continuously adapts
// the quality level to observed network conditions.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamcast/client"
	"github.com/opd-ai/streamcast/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	serverAddr := flag.String("server", "", "server control address (overrides config)")
	initialLevel := flag.String("level", "", "initial quality level (overrides config)")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	statsInterval := flag.Duration("stats-interval", 5*time.Second, "network statistics log interval")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Configuration failed")
	}
	if *serverAddr != "" {
		cfg.ServerAddr = *serverAddr
	}
	if *initialLevel != "" {
		cfg.InitialLevel = *initialLevel
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	setupLogging(cfg.LogLevel)

	c, err := client.Connect(cfg, func(frame client.ReceivedFrame) {
		logrus.WithFields(logrus.Fields{
			"bytes":       len(frame.Data),
			"level":       frame.Level,
			"chunk_id":    frame.ChunkID,
			"frame_index": frame.FrameIndex,
		}).Debug("Frame received")
	})
	if err != nil {
		logrus.WithError(err).Fatal("Connection failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go logStats(ctx, c, *statsInterval)

	if err := c.Run(ctx); err != nil {
		logrus.WithError(err).Fatal("Client failed")
	}
}

func logStats(ctx context.Context, c *client.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := c.Stats()
		logrus.WithFields(logrus.Fields{
			"level":          c.CurrentLevel().String(),
			"latency_ms":     snap.LatencyAvgMs,
			"jitter_ms":      snap.JitterMs,
			"loss_percent":   snap.LossPercent,
			"throughput_bps": snap.ThroughputBps,
			"packets":        snap.TotalPackets,
		}).Info("Network statistics")
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
