package protocol

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// FitsSinglePacket reports whether a frame of payloadLen bytes fits in
// one simple frame packet at the given level tag and packet budget.
func FitsSinglePacket(payloadLen int, level string, maxPacketSize int) bool {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	return frameHeaderSize(len(level))+payloadLen <= maxPacketSize
}

// FragmentCount returns the number of fragments FragmentFrame produces
// for a frame of payloadLen bytes, letting callers reserve a contiguous
// sequence run before fragmenting.
func FragmentCount(payloadLen int, level string, maxPacketSize int) int {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	maxPayload := maxPacketSize - fragmentHeaderSize(len(level))
	if maxPayload <= 0 || payloadLen <= 0 {
		return 0
	}
	return (payloadLen + maxPayload - 1) / maxPayload
}

// FragmentFrame splits an encoded frame into fragment packets that each
// fit within maxPacketSize.
//
// The payload budget per fragment is maxPacketSize minus the header
// size for the given level string, so a frame of S bytes yields exactly
// ceil(S/budget) fragments. Fragment i carries sequence baseSequence+i:
// a fully delivered frame presents the receiver's loss detector with a
// contiguous sequence run.
//
// Parameters:
//   - payload: the complete encoded frame bytes (must be non-empty)
//   - level: quality level tag carried in every fragment header
//   - chunkID: source chunk, 0 in non-chunked mode
//   - frameIndex: frame position within the chunk
//   - baseSequence: outgoing sequence number of the first fragment
//   - timestamp: sender clock in fractional seconds since the Unix epoch
//   - maxPacketSize: largest datagram to emit (0 selects the default)
func FragmentFrame(payload []byte, level string, chunkID, frameIndex, baseSequence uint32, timestamp float64, maxPacketSize int) ([]*FragmentPacket, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("cannot fragment empty frame")
	}
	if len(level) > maxLevelLen {
		return nil, ErrLevelTooLong
	}
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}

	maxPayload := maxPacketSize - fragmentHeaderSize(len(level))
	if maxPayload <= 0 {
		return nil, fmt.Errorf("max packet size %d leaves no payload room", maxPacketSize)
	}

	total := (len(payload) + maxPayload - 1) / maxPayload
	packets := make([]*FragmentPacket, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		packets = append(packets, &FragmentPacket{
			Sequence:       baseSequence + uint32(i),
			Timestamp:      timestamp,
			ChunkID:        chunkID,
			FrameIndex:     frameIndex,
			Level:          level,
			TotalFragments: uint32(total),
			FragmentIndex:  uint32(i),
			Fragment:       payload[start:end],
		})
	}

	logrus.WithFields(logrus.Fields{
		"function":    "FragmentFrame",
		"frame_bytes": len(payload),
		"fragments":   total,
		"chunk_id":    chunkID,
		"frame_index": frameIndex,
	}).Debug("Fragmented frame")

	return packets, nil
}
