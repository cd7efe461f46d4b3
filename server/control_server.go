package server

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamcast/adaptation"
	"github.com/opd-ai/streamcast/control"
	"github.com/opd-ai/streamcast/metrics"
)

// ControlServer accepts control-channel connections and runs one
// handler goroutine per client. Each handler performs the registration
// handshake, starts delivery, then serves quality and seek requests
// until the connection drops.
type ControlServer struct {
	listener     net.Listener
	registry     *Registry
	scheduler    *Scheduler
	source       FrameSource
	initialLevel adaptation.Level
	metrics      *metrics.StreamMetrics
}

// NewControlServer wires the control listener to the session registry
// and delivery scheduler. metrics may be nil.
func NewControlServer(listener net.Listener, registry *Registry, scheduler *Scheduler, source FrameSource, initialLevel adaptation.Level, m *metrics.StreamMetrics) *ControlServer {
	return &ControlServer{
		listener:     listener,
		registry:     registry,
		scheduler:    scheduler,
		source:       source,
		initialLevel: initialLevel,
		metrics:      m,
	}
}

// Run accepts connections until the context is cancelled.
func (cs *ControlServer) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"listen":   cs.listener.Addr().String(),
	}).Info("Control channel listening")

	go func() {
		<-ctx.Done()
		cs.listener.Close()
	}()

	for {
		conn, err := cs.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go cs.handleConnection(ctx, conn)
	}
}

// handleConnection owns one client's control session from handshake to
// teardown.
func (cs *ControlServer) handleConnection(ctx context.Context, netConn net.Conn) {
	conn := control.NewConn(netConn)
	log := logrus.WithFields(logrus.Fields{
		"function":    "handleConnection",
		"remote_addr": netConn.RemoteAddr().String(),
	})

	sess, err := cs.register(conn, netConn)
	if err != nil {
		log.WithError(err).Warn("Registration failed")
		conn.Close()
		return
	}

	log = log.WithField("session_id", sess.ID)
	log.WithFields(logrus.Fields{
		"video_addr": sess.VideoAddr.String(),
		"level":      sess.Level().String(),
	}).Info("Client registered")

	cs.registry.Add(sess)
	if cs.metrics != nil {
		cs.metrics.ActiveSessions.Inc()
		cs.metrics.SessionsTotal.Inc()
	}
	defer func() {
		cs.registry.Remove(sess.ID)
		if cs.metrics != nil {
			cs.metrics.ActiveSessions.Dec()
		}
		conn.Close()
		log.Info("Client disconnected")
	}()

	ack := control.RegisterAck{
		Status:        control.StatusSuccess,
		TotalChunks:   cs.source.TotalChunks(),
		ChunkDuration: cs.source.ChunkDuration().Seconds(),
	}
	if err := conn.WriteMessage(ack); err != nil {
		log.WithError(err).Warn("Registration ack failed")
		return
	}

	cs.scheduler.StartSession(ctx, sess)

	for {
		msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.WithError(err).Debug("Control read ended")
			}
			return
		}
		cs.handleMessage(log, conn, sess, msg)
	}
}

// register reads the handshake message and builds the session. The
// video endpoint pairs the control connection's source IP with the
// client-announced UDP port.
func (cs *ControlServer) register(conn *control.Conn, netConn net.Conn) (*Session, error) {
	msg, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	reg, ok := msg.(control.Register)
	if !ok {
		return nil, errors.New("expected register as first message")
	}
	if reg.VideoPort <= 0 || reg.VideoPort > 65535 {
		return nil, errors.New("register carries invalid video port")
	}

	tcpAddr, ok := netConn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil, errors.New("control connection has no TCP remote address")
	}
	videoAddr := &net.UDPAddr{IP: tcpAddr.IP, Port: reg.VideoPort}

	return NewSession(conn, videoAddr, cs.initialLevel), nil
}

func (cs *ControlServer) handleMessage(log *logrus.Entry, conn *control.Conn, sess *Session, msg control.Message) {
	switch m := msg.(type) {
	case control.QualityRequest:
		level, err := adaptation.ParseLevel(m.Level)
		if err != nil {
			log.WithField("level", m.Level).Warn("Quality request for unknown level")
			// Acknowledge the level actually being served so the client
			// stays consistent.
			level = sess.Level()
		} else {
			sess.SetLevel(level)
			log.WithField("level", level.String()).Info("Quality changed")
		}
		if err := conn.WriteMessage(control.QualityAck{Level: level.String()}); err != nil {
			log.WithError(err).Warn("Quality ack failed")
		}

	case control.ChunkRequest:
		total := cs.source.TotalChunks()
		if total == 0 || m.ChunkID >= total {
			log.WithFields(logrus.Fields{
				"chunk_id":     m.ChunkID,
				"total_chunks": total,
			}).Warn("Chunk request out of range")
			return
		}
		sess.SetChunkID(m.ChunkID)
		log.WithField("chunk_id", m.ChunkID).Info("Playback position changed")

	case control.Register:
		log.Warn("Duplicate register ignored")

	default:
		log.WithField("type", msg.Type()).Warn("Unexpected control message")
	}
}
