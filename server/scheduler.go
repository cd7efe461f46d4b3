package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamcast/metrics"
	"github.com/opd-ai/streamcast/protocol"
)

// Scheduler runs one delivery goroutine per session. Each goroutine
// loads the session's current chunk, fragments every frame, paces
// transmission to the frame interval, and advances the chunk with
// wraparound. A level or chunk change on the session interrupts the
// current chunk at the next frame boundary.
type Scheduler struct {
	conn          net.PacketConn
	source        FrameSource
	registry      *Registry
	maxPacketSize int
	frameInterval time.Duration
	metrics       *metrics.StreamMetrics

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler delivering over conn. The pacing
// interval derives from the smaller of the source frame rate and
// maxFrameRate. metrics may be nil.
func NewScheduler(conn net.PacketConn, source FrameSource, registry *Registry, maxPacketSize int, maxFrameRate float64, m *metrics.StreamMetrics) *Scheduler {
	rate := source.FrameRate()
	if maxFrameRate > 0 && maxFrameRate < rate {
		rate = maxFrameRate
	}
	return &Scheduler{
		conn:          conn,
		source:        source,
		registry:      registry,
		maxPacketSize: maxPacketSize,
		frameInterval: time.Duration(float64(time.Second) / rate),
		metrics:       m,
	}
}

// StartSession launches the delivery goroutine for a session. The
// goroutine exits when the context is cancelled or the session leaves
// the registry.
func (s *Scheduler) StartSession(ctx context.Context, sess *Session) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.streamSession(ctx, sess)
	}()
}

// Wait blocks until every delivery goroutine has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) streamSession(ctx context.Context, sess *Session) {
	log := logrus.WithFields(logrus.Fields{
		"function":   "streamSession",
		"session_id": sess.ID,
		"video_addr": sess.VideoAddr.String(),
	})
	log.Info("Delivery started")
	defer log.Info("Delivery stopped")

	for {
		if ctx.Err() != nil || !s.registry.Contains(sess.ID) {
			return
		}

		level := sess.Level()
		chunkID := sess.ChunkID()

		frames, err := s.source.Frames(level, chunkID)
		if err != nil || len(frames) == 0 {
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"level":    level.String(),
					"chunk_id": chunkID,
				}).Warn("Chunk unavailable")
			}
			if !sleepCtx(ctx, s.frameInterval) {
				return
			}
			continue
		}

		interrupted := false
		for i, frame := range frames {
			if ctx.Err() != nil || !s.registry.Contains(sess.ID) {
				return
			}
			// Mid-chunk quality or seek request: restart delivery at
			// the new position rather than finishing stale frames.
			if sess.Level() != level || sess.ChunkID() != chunkID {
				interrupted = true
				break
			}
			if err := s.sendFrame(sess, level.String(), chunkID, uint32(i), frame); err != nil {
				log.WithError(err).WithField("frame_index", i).Warn("Frame send failed")
				if s.metrics != nil {
					s.metrics.SendErrors.Inc()
				}
			}
			if !sleepCtx(ctx, s.frameInterval) {
				return
			}
		}

		if !interrupted {
			sess.AdvanceChunk(s.source.TotalChunks())
		}
	}
}

// sendFrame transmits one frame. A non-chunked source that fits the
// frame in a single datagram uses the simple packet shape; everything
// else goes out as fragments.
func (s *Scheduler) sendFrame(sess *Session, level string, chunkID, frameIndex uint32, frame []byte) error {
	timestamp := float64(time.Now().UnixNano()) / float64(time.Second)

	if s.source.TotalChunks() == 0 && protocol.FitsSinglePacket(len(frame), level, s.maxPacketSize) {
		pkt := &protocol.FramePacket{
			Sequence:  sess.NextSequence(1),
			Timestamp: timestamp,
			Level:     level,
			Payload:   frame,
		}
		data, err := pkt.Marshal()
		if err != nil {
			return err
		}
		return s.write(sess, level, data)
	}

	count := protocol.FragmentCount(len(frame), level, s.maxPacketSize)
	base := sess.NextSequence(uint32(count))
	packets, err := protocol.FragmentFrame(frame, level, chunkID, frameIndex, base, timestamp, s.maxPacketSize)
	if err != nil {
		return err
	}
	for _, pkt := range packets {
		data, err := pkt.Marshal()
		if err != nil {
			return err
		}
		if err := s.write(sess, level, data); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) write(sess *Session, level string, data []byte) error {
	if _, err := s.conn.WriteTo(data, sess.VideoAddr); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.PacketsSent.WithLabelValues(level).Inc()
		s.metrics.BytesSent.WithLabelValues(level).Add(float64(len(data)))
	}
	return nil
}

// sleepCtx waits for d or context cancellation, reporting false when
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
