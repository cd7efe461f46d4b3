// Package client implements the adaptive streaming receiver. It
// registers with a server over the control channel, receives video
// datagrams over UDP, reassembles fragmented frames, and feeds network
// observations into the quality-adaptation loop that negotiates level
// changes with the server.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/opd-ai/streamcast/adaptation"
	"github.com/opd-ai/streamcast/config"
	"github.com/opd-ai/streamcast/control"
	"github.com/opd-ai/streamcast/metrics"
	"github.com/opd-ai/streamcast/monitor"
	"github.com/opd-ai/streamcast/protocol"
)

// readPollInterval bounds each blocking UDP read so the receive loop
// notices cancellation promptly.
const readPollInterval = 100 * time.Millisecond

// adaptInterval is how often the adaptation loop consults the monitor.
const adaptInterval = time.Second

// ReceivedFrame is a complete frame handed to the frame handler.
type ReceivedFrame struct {
	Data       []byte
	Level      string
	ChunkID    uint32
	FrameIndex uint32
}

// FrameHandler consumes complete frames in arrival order. It runs on
// the receive goroutine, so a slow handler backpressures reception.
type FrameHandler func(ReceivedFrame)

// Client is a connected streaming receiver.
type Client struct {
	cfg     config.ClientConfig
	handler FrameHandler

	conn      *control.Conn
	videoConn net.PacketConn

	mon    *monitor.Monitor
	engine *adaptation.Engine
	reasm  *protocol.Reassembler

	metrics       *metrics.StreamMetrics
	metricsServer *metrics.Server

	totalChunks   uint32
	chunkDuration time.Duration

	// reqMu serializes request/ack exchanges on the control channel so
	// each requester reads its own acknowledgment.
	reqMu sync.Mutex
	// requestedLevel is the last level negotiated with the server.
	requestedLevel adaptation.Level
}

// Connect binds the video socket, dials the server's control channel,
// and performs the registration handshake. handler may be nil when the
// caller only wants statistics.
func Connect(cfg config.ClientConfig, handler FrameHandler) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	initialLevel, err := adaptation.ParseLevel(cfg.InitialLevel)
	if err != nil {
		return nil, fmt.Errorf("initial_level: %w", err)
	}

	videoConn, err := net.ListenPacket("udp", cfg.VideoListen)
	if err != nil {
		return nil, fmt.Errorf("bind video endpoint %s: %w", cfg.VideoListen, err)
	}

	conn, err := control.Dial(cfg.ServerAddr)
	if err != nil {
		videoConn.Close()
		return nil, err
	}

	c := &Client{
		cfg:            cfg,
		handler:        handler,
		conn:           conn,
		videoConn:      videoConn,
		requestedLevel: initialLevel,
	}

	if err := c.register(); err != nil {
		conn.Close()
		videoConn.Close()
		return nil, err
	}

	engineCfg := adaptation.DefaultConfig()
	engineCfg.Cooldown = cfg.Cooldown()

	c.mon = monitor.New(
		monitor.WithWindowSize(cfg.WindowSize),
		monitor.WithThroughputWindow(cfg.ThroughputWindow()),
	)
	c.engine = adaptation.NewEngine(engineCfg, initialLevel)
	c.reasm = protocol.NewReassembler(protocol.WithMaxAge(cfg.ReassemblyMaxAge()))

	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		c.metrics = metrics.New(registry)
		c.metricsServer = metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path, registry)
		c.metrics.CurrentLevel.Set(float64(initialLevel))
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Connect",
		"server_addr":    cfg.ServerAddr,
		"video_addr":     videoConn.LocalAddr().String(),
		"initial_level":  initialLevel.String(),
		"total_chunks":   c.totalChunks,
		"chunk_duration": c.chunkDuration,
	}).Info("Connected")

	return c, nil
}

// register announces the bound video port and reads the server's
// acknowledgment.
func (c *Client) register() error {
	port := c.videoConn.LocalAddr().(*net.UDPAddr).Port
	if err := c.conn.WriteMessage(control.Register{VideoPort: port}); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	msg, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("register ack: %w", err)
	}
	ack, ok := msg.(control.RegisterAck)
	if !ok {
		return fmt.Errorf("register ack: unexpected %T", msg)
	}
	if ack.Status != control.StatusSuccess {
		return fmt.Errorf("registration refused: %s", ack.Status)
	}

	c.totalChunks = ack.TotalChunks
	c.chunkDuration = time.Duration(ack.ChunkDuration * float64(time.Second))
	return nil
}

// TotalChunks returns the server-announced chunk count, 0 for a
// non-chunked stream.
func (c *Client) TotalChunks() uint32 { return c.totalChunks }

// ChunkDuration returns the server-announced chunk duration.
func (c *Client) ChunkDuration() time.Duration { return c.chunkDuration }

// CurrentLevel returns the level last negotiated with the server.
func (c *Client) CurrentLevel() adaptation.Level {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	return c.requestedLevel
}

// Stats returns the monitor's current network quality snapshot.
func (c *Client) Stats() monitor.Snapshot {
	return c.mon.Snapshot()
}

// Run receives and adapts until the context is cancelled, then
// releases both sockets. The frame handler stops being called once Run
// returns.
func (c *Client) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.receiveLoop(gctx) })
	g.Go(func() error { return c.adaptLoop(gctx) })
	g.Go(func() error { return c.evictLoop(gctx) })
	if c.metricsServer != nil {
		g.Go(func() error { return c.metricsServer.Run(gctx) })
	}

	err := g.Wait()
	c.videoConn.Close()
	c.conn.Close()

	logrus.WithField("function", "Run").Info("Client stopped")
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Stop closes both sockets, ending a concurrent Run. It may be called
// instead of, or in addition to, cancelling Run's context.
func (c *Client) Stop() {
	c.videoConn.Close()
	c.conn.Close()
}

// receiveLoop reads video datagrams, feeds the monitor, and delivers
// complete frames.
func (c *Client) receiveLoop(ctx context.Context) error {
	log := logrus.WithField("function", "receiveLoop")
	buf := make([]byte, 65536)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.videoConn.SetReadDeadline(time.Now().Add(readPollInterval)); err != nil {
			return err
		}
		n, _, err := c.videoConn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			// Socket closure (Stop or teardown) ends the whole run.
			return err
		}

		c.handlePacket(log, buf[:n], n)
	}
}

// handlePacket classifies one datagram by shape. Strict parse
// validation keeps the two shapes from aliasing each other.
func (c *Client) handlePacket(log *logrus.Entry, data []byte, size int) {
	if c.metrics != nil {
		c.metrics.PacketsReceived.Inc()
		c.metrics.BytesReceived.Add(float64(size))
	}

	if frag, err := protocol.ParseFragmentPacket(data); err == nil {
		c.mon.Observe(frag.Sequence, frag.Timestamp, size, frag.ChunkID)
		if frame, ok := c.reasm.Add(frag); ok {
			c.deliver(ReceivedFrame{
				Data:       frame.Data,
				Level:      frame.Level,
				ChunkID:    frame.ChunkID,
				FrameIndex: frame.FrameIndex,
			})
		}
		return
	}

	if pkt, err := protocol.ParseFramePacket(data); err == nil {
		c.mon.Observe(pkt.Sequence, pkt.Timestamp, size, 0)
		c.deliver(ReceivedFrame{
			Data:  pkt.Payload,
			Level: pkt.Level,
		})
		return
	}

	log.WithField("bytes", size).Debug("Unparseable datagram dropped")
}

func (c *Client) deliver(frame ReceivedFrame) {
	if c.metrics != nil {
		c.metrics.FramesDelivered.Inc()
	}
	if c.handler != nil {
		c.handler(frame)
	}
}

// adaptLoop periodically evaluates network quality and negotiates
// level changes with the server.
func (c *Client) adaptLoop(ctx context.Context) error {
	log := logrus.WithField("function", "adaptLoop")
	ticker := time.NewTicker(adaptInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		snap := c.mon.Snapshot()
		if snap.TotalPackets == 0 {
			continue
		}

		target := c.engine.Evaluate(snap)
		if target == c.CurrentLevel() {
			continue
		}

		trigger := c.engine.LastTrigger()
		log.WithFields(logrus.Fields{
			"level":          target.String(),
			"trigger":        trigger,
			"latency_ms":     snap.LatencyAvgMs,
			"jitter_ms":      snap.JitterMs,
			"loss_percent":   snap.LossPercent,
			"throughput_bps": snap.ThroughputBps,
		}).Info("Adapting quality level")

		granted, err := c.RequestQuality(target)
		if err != nil {
			log.WithError(err).Warn("Quality negotiation failed")
			continue
		}
		if c.metrics != nil {
			c.metrics.LevelChanges.WithLabelValues(trigger).Inc()
			c.metrics.CurrentLevel.Set(float64(granted))
		}
	}
}

// evictLoop ages out incomplete fragment sets.
func (c *Client) evictLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.ReassemblyMaxAge() / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if n := c.reasm.EvictStale(); n > 0 {
			logrus.WithFields(logrus.Fields{
				"function": "evictLoop",
				"evicted":  n,
			}).Debug("Evicted stale fragment sets")
			if c.metrics != nil {
				c.metrics.ReassemblyEvictions.Add(float64(n))
			}
		}
	}
}

// RequestQuality asks the server to switch levels and returns the
// level the server acknowledges, which may differ from the request.
func (c *Client) RequestQuality(level adaptation.Level) (adaptation.Level, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.conn.WriteMessage(control.QualityRequest{Level: level.String()}); err != nil {
		return c.requestedLevel, fmt.Errorf("quality request: %w", err)
	}
	msg, err := c.conn.ReadMessage()
	if err != nil {
		return c.requestedLevel, fmt.Errorf("quality ack: %w", err)
	}
	ack, ok := msg.(control.QualityAck)
	if !ok {
		return c.requestedLevel, fmt.Errorf("quality ack: unexpected %T", msg)
	}

	granted, err := adaptation.ParseLevel(ack.Level)
	if err != nil {
		return c.requestedLevel, fmt.Errorf("quality ack: %w", err)
	}
	c.requestedLevel = granted
	return granted, nil
}

// RequestChunk seeks the stream to the given chunk. The server does
// not acknowledge seeks; an out-of-range request is silently ignored
// on its side.
func (c *Client) RequestChunk(chunkID uint32) error {
	if c.totalChunks == 0 {
		return errors.New("stream is not chunked")
	}
	if chunkID >= c.totalChunks {
		return fmt.Errorf("chunk %d out of range, stream has %d", chunkID, c.totalChunks)
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()
	if err := c.conn.WriteMessage(control.ChunkRequest{ChunkID: chunkID}); err != nil {
		return fmt.Errorf("chunk request: %w", err)
	}
	return nil
}
