// Package protocol implements the binary wire formats for video
// delivery over UDP, including frame fragmentation and reassembly.
//
// Two packet shapes exist, both in network byte order. The simple frame
// packet carries a whole encoded frame in one datagram and is used for
// legacy single-stream delivery when the frame fits. The fragment
// packet carries one piece of a frame that exceeds the safe datagram
// size, keyed by (chunk ID, frame index) for reassembly on the
// receiver.
//
// Simple frame packet:
//
//	sequence:u32 | timestamp:f64 | levelLen:u8 | level | payloadLen:u32 | payload
//
// Fragment packet:
//
//	sequence:u32 | timestamp:f64 | chunkID:u32 | frameIndex:u32 |
//	levelLen:u8 | level | totalFragments:u32 | fragmentIndex:u32 |
//	fragmentLen:u32 | fragment
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// DefaultMaxPacketSize is the largest datagram the codec will emit.
// Chosen below typical UDP limits so a packet never needs IP-level
// fragmentation on common paths.
const DefaultMaxPacketSize = 60000

// maxLevelLen bounds the level string carried in a header.
const maxLevelLen = 255

var (
	// ErrPacketTruncated indicates a packet shorter than its declared
	// contents. The packet must be dropped without touching any state.
	ErrPacketTruncated = errors.New("packet truncated")

	// ErrInvalidFragment indicates inconsistent fragment bookkeeping,
	// such as an index at or beyond the declared total.
	ErrInvalidFragment = errors.New("invalid fragment")

	// ErrLevelTooLong indicates a level string that cannot fit the
	// one-byte length prefix.
	ErrLevelTooLong = errors.New("level string too long")
)

// FramePacket is the simple single-datagram frame shape.
type FramePacket struct {
	Sequence  uint32
	Timestamp float64 // sender clock, fractional seconds since the Unix epoch
	Level     string
	Payload   []byte
}

// frameHeaderSize returns the serialized header length for a simple
// frame packet carrying a level string of the given length.
func frameHeaderSize(levelLen int) int {
	return 4 + 8 + 1 + levelLen + 4
}

// Marshal serializes the packet in network byte order.
func (p *FramePacket) Marshal() ([]byte, error) {
	if len(p.Level) > maxLevelLen {
		return nil, ErrLevelTooLong
	}

	buf := make([]byte, 0, frameHeaderSize(len(p.Level))+len(p.Payload))
	buf = binary.BigEndian.AppendUint32(buf, p.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(p.Timestamp))
	buf = append(buf, byte(len(p.Level)))
	buf = append(buf, p.Level...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Payload)))
	buf = append(buf, p.Payload...)
	return buf, nil
}

// ParseFramePacket decodes a simple frame packet. The declared payload
// length must exactly match the remaining bytes; anything else is
// rejected so a fragment packet can never be misread as a frame.
func ParseFramePacket(data []byte) (*FramePacket, error) {
	if len(data) < frameHeaderSize(0) {
		return nil, fmt.Errorf("frame packet of %d bytes: %w", len(data), ErrPacketTruncated)
	}

	offset := 0
	sequence := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	timestamp := math.Float64frombits(binary.BigEndian.Uint64(data[offset:]))
	offset += 8
	levelLen := int(data[offset])
	offset++

	if len(data) < offset+levelLen+4 {
		return nil, fmt.Errorf("frame packet header: %w", ErrPacketTruncated)
	}
	level := string(data[offset : offset+levelLen])
	offset += levelLen

	payloadLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4
	if len(data)-offset != payloadLen {
		return nil, fmt.Errorf("frame payload declares %d bytes, %d remain: %w",
			payloadLen, len(data)-offset, ErrPacketTruncated)
	}

	payload := make([]byte, payloadLen)
	copy(payload, data[offset:])

	return &FramePacket{
		Sequence:  sequence,
		Timestamp: timestamp,
		Level:     level,
		Payload:   payload,
	}, nil
}

// FragmentPacket is one piece of a fragmented frame.
type FragmentPacket struct {
	Sequence       uint32
	Timestamp      float64
	ChunkID        uint32
	FrameIndex     uint32
	Level          string
	TotalFragments uint32
	FragmentIndex  uint32
	Fragment       []byte
}

// fragmentHeaderSize returns the serialized header length for a
// fragment packet carrying a level string of the given length.
func fragmentHeaderSize(levelLen int) int {
	return 4 + 8 + 4 + 4 + 1 + levelLen + 4 + 4 + 4
}

// Marshal serializes the packet in network byte order.
func (p *FragmentPacket) Marshal() ([]byte, error) {
	if len(p.Level) > maxLevelLen {
		return nil, ErrLevelTooLong
	}
	if p.TotalFragments == 0 || p.FragmentIndex >= p.TotalFragments {
		return nil, fmt.Errorf("fragment %d of %d: %w",
			p.FragmentIndex, p.TotalFragments, ErrInvalidFragment)
	}

	buf := make([]byte, 0, fragmentHeaderSize(len(p.Level))+len(p.Fragment))
	buf = binary.BigEndian.AppendUint32(buf, p.Sequence)
	buf = binary.BigEndian.AppendUint64(buf, math.Float64bits(p.Timestamp))
	buf = binary.BigEndian.AppendUint32(buf, p.ChunkID)
	buf = binary.BigEndian.AppendUint32(buf, p.FrameIndex)
	buf = append(buf, byte(len(p.Level)))
	buf = append(buf, p.Level...)
	buf = binary.BigEndian.AppendUint32(buf, p.TotalFragments)
	buf = binary.BigEndian.AppendUint32(buf, p.FragmentIndex)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(p.Fragment)))
	buf = append(buf, p.Fragment...)
	return buf, nil
}

// ParseFragmentPacket decodes a fragment packet, validating the
// fragment bookkeeping and the declared length against the remaining
// bytes. Malformed input returns an error and leaves no state behind.
func ParseFragmentPacket(data []byte) (*FragmentPacket, error) {
	if len(data) < fragmentHeaderSize(0) {
		return nil, fmt.Errorf("fragment packet of %d bytes: %w", len(data), ErrPacketTruncated)
	}

	offset := 0
	sequence := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	timestamp := math.Float64frombits(binary.BigEndian.Uint64(data[offset:]))
	offset += 8
	chunkID := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	frameIndex := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	levelLen := int(data[offset])
	offset++

	if len(data) < offset+levelLen+12 {
		return nil, fmt.Errorf("fragment packet header: %w", ErrPacketTruncated)
	}
	level := string(data[offset : offset+levelLen])
	offset += levelLen

	totalFragments := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	fragmentIndex := binary.BigEndian.Uint32(data[offset:])
	offset += 4
	fragmentLen := int(binary.BigEndian.Uint32(data[offset:]))
	offset += 4

	if totalFragments == 0 || fragmentIndex >= totalFragments {
		return nil, fmt.Errorf("fragment %d of %d: %w",
			fragmentIndex, totalFragments, ErrInvalidFragment)
	}
	if len(data)-offset != fragmentLen {
		return nil, fmt.Errorf("fragment declares %d bytes, %d remain: %w",
			fragmentLen, len(data)-offset, ErrPacketTruncated)
	}

	fragment := make([]byte, fragmentLen)
	copy(fragment, data[offset:])

	return &FragmentPacket{
		Sequence:       sequence,
		Timestamp:      timestamp,
		ChunkID:        chunkID,
		FrameIndex:     frameIndex,
		Level:          level,
		TotalFragments: totalFragments,
		FragmentIndex:  fragmentIndex,
		Fragment:       fragment,
	}, nil
}
