package server

import (
	"context"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/streamcast/adaptation"
	"github.com/opd-ai/streamcast/config"
	"github.com/opd-ai/streamcast/metrics"
)

// Server binds the video and control endpoints and owns the component
// lifecycle. Bind failures surface from New; per-client errors during
// operation are logged and isolated to their session.
type Server struct {
	cfg    config.ServerConfig
	source FrameSource

	videoConn net.PacketConn
	listener  net.Listener

	registry      *Registry
	scheduler     *Scheduler
	controlServer *ControlServer

	metrics       *metrics.StreamMetrics
	metricsServer *metrics.Server
}

// New binds the configured endpoints and assembles the server. source
// may be nil when cfg.ChunkDir is set, in which case a disk chunk
// store is opened.
func New(cfg config.ServerConfig, source FrameSource) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if source == nil {
		if cfg.ChunkDir == "" {
			return nil, fmt.Errorf("no frame source: provide one or set chunk_dir")
		}
		store, err := OpenChunkStore(cfg.ChunkDir, cfg.FrameRate, cfg.ChunkDuration())
		if err != nil {
			return nil, err
		}
		source = store
	}

	initialLevel, err := adaptation.ParseLevel(cfg.InitialLevel)
	if err != nil {
		return nil, fmt.Errorf("initial_level: %w", err)
	}

	videoConn, err := net.ListenPacket("udp", cfg.VideoListen)
	if err != nil {
		return nil, fmt.Errorf("bind video endpoint %s: %w", cfg.VideoListen, err)
	}

	listener, err := net.Listen("tcp", cfg.ControlListen)
	if err != nil {
		videoConn.Close()
		return nil, fmt.Errorf("bind control endpoint %s: %w", cfg.ControlListen, err)
	}

	var m *metrics.StreamMetrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		m = metrics.New(registry)
		metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, registry)
	}

	registry := NewRegistry()
	scheduler := NewScheduler(videoConn, source, registry, cfg.MaxPacketSize, cfg.MaxFrameRate, m)
	controlServer := NewControlServer(listener, registry, scheduler, source, initialLevel, m)

	return &Server{
		cfg:           cfg,
		source:        source,
		videoConn:     videoConn,
		listener:      listener,
		registry:      registry,
		scheduler:     scheduler,
		controlServer: controlServer,
		metrics:       m,
		metricsServer: metricsServer,
	}, nil
}

// VideoAddr returns the bound video endpoint address.
func (s *Server) VideoAddr() net.Addr { return s.videoConn.LocalAddr() }

// ControlAddr returns the bound control endpoint address.
func (s *Server) ControlAddr() net.Addr { return s.listener.Addr() }

// Registry returns the session registry.
func (s *Server) Registry() *Registry { return s.registry }

// Run serves until the context is cancelled, then drains delivery
// goroutines and releases the sockets.
func (s *Server) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function":     "Run",
		"video_addr":   s.VideoAddr().String(),
		"control_addr": s.ControlAddr().String(),
		"total_chunks": s.source.TotalChunks(),
	}).Info("Server started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.controlServer.Run(gctx)
	})
	if s.metricsServer != nil {
		g.Go(func() error {
			return s.metricsServer.Run(gctx)
		})
	}

	err := g.Wait()
	s.scheduler.Wait()
	s.videoConn.Close()

	logrus.WithField("function", "Run").Info("Server stopped")
	return err
}
