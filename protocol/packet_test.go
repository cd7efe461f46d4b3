package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramePacketRoundTrip(t *testing.T) {
	original := &FramePacket{
		Sequence:  42,
		Timestamp: 1_700_000_123.456,
		Level:     "720p",
		Payload:   []byte("encoded frame bytes"),
	}

	data, err := original.Marshal()
	require.NoError(t, err)

	parsed, err := ParseFramePacket(data)
	require.NoError(t, err)
	assert.Equal(t, original.Sequence, parsed.Sequence)
	assert.InDelta(t, original.Timestamp, parsed.Timestamp, 1e-9)
	assert.Equal(t, original.Level, parsed.Level)
	assert.Equal(t, original.Payload, parsed.Payload)
}

func TestFramePacketEmptyPayload(t *testing.T) {
	pkt := &FramePacket{Sequence: 1, Level: "240p"}
	data, err := pkt.Marshal()
	require.NoError(t, err)

	parsed, err := ParseFramePacket(data)
	require.NoError(t, err)
	assert.Empty(t, parsed.Payload)
}

func TestParseFramePacketTruncated(t *testing.T) {
	pkt := &FramePacket{Sequence: 7, Level: "480p", Payload: make([]byte, 100)}
	data, err := pkt.Marshal()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", data[:10]},
		{"cut inside level", data[:14]},
		{"payload shorter than declared", data[:len(data)-5]},
		{"trailing garbage", append(append([]byte{}, data...), 0xFF)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFramePacket(tt.data)
			assert.ErrorIs(t, err, ErrPacketTruncated)
		})
	}
}

func TestFragmentPacketRoundTrip(t *testing.T) {
	original := &FragmentPacket{
		Sequence:       1001,
		Timestamp:      1_700_000_456.789,
		ChunkID:        12,
		FrameIndex:     34,
		Level:          "1080p",
		TotalFragments: 3,
		FragmentIndex:  1,
		Fragment:       []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}

	data, err := original.Marshal()
	require.NoError(t, err)

	parsed, err := ParseFragmentPacket(data)
	require.NoError(t, err)
	assert.Equal(t, original.Sequence, parsed.Sequence)
	assert.InDelta(t, original.Timestamp, parsed.Timestamp, 1e-9)
	assert.Equal(t, original.ChunkID, parsed.ChunkID)
	assert.Equal(t, original.FrameIndex, parsed.FrameIndex)
	assert.Equal(t, original.Level, parsed.Level)
	assert.Equal(t, original.TotalFragments, parsed.TotalFragments)
	assert.Equal(t, original.FragmentIndex, parsed.FragmentIndex)
	assert.Equal(t, original.Fragment, parsed.Fragment)
}

func TestParseFragmentPacketRejectsBadBookkeeping(t *testing.T) {
	good := &FragmentPacket{
		Sequence:       1,
		ChunkID:        0,
		FrameIndex:     0,
		Level:          "360p",
		TotalFragments: 2,
		FragmentIndex:  0,
		Fragment:       []byte("abc"),
	}

	_, err := (&FragmentPacket{
		Level:          "360p",
		TotalFragments: 2,
		FragmentIndex:  2,
		Fragment:       []byte("x"),
	}).Marshal()
	assert.ErrorIs(t, err, ErrInvalidFragment)

	data, err := good.Marshal()
	require.NoError(t, err)

	_, err = ParseFragmentPacket(data[:15])
	assert.ErrorIs(t, err, ErrPacketTruncated)

	_, err = ParseFragmentPacket(data[:len(data)-1])
	assert.ErrorIs(t, err, ErrPacketTruncated)
}

func TestFrameAndFragmentShapesDoNotAlias(t *testing.T) {
	// A simple frame packet must not parse as a fragment and vice
	// versa: the strict length checks disambiguate the two shapes.
	frame := &FramePacket{Sequence: 9, Level: "480p", Payload: make([]byte, 500)}
	frameData, err := frame.Marshal()
	require.NoError(t, err)
	_, err = ParseFragmentPacket(frameData)
	assert.Error(t, err)

	fragment := &FragmentPacket{
		Sequence:       9,
		Level:          "480p",
		TotalFragments: 2,
		FragmentIndex:  0,
		Fragment:       make([]byte, 500),
	}
	fragmentData, err := fragment.Marshal()
	require.NoError(t, err)
	_, err = ParseFramePacket(fragmentData)
	assert.Error(t, err)
}
