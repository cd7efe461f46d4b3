package server

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/streamcast/adaptation"
)

func writeChunkFiles(t *testing.T, dir string, level adaptation.Level, chunks [][][]byte) {
	t.Helper()
	levelDir := filepath.Join(dir, level.String())
	require.NoError(t, os.MkdirAll(levelDir, 0o755))
	for i, frames := range chunks {
		path := filepath.Join(levelDir, fmt.Sprintf("chunk_%04d.bin", i))
		require.NoError(t, os.WriteFile(path, EncodeChunk(frames), 0o644))
	}
}

func TestChunkCodecRoundTrip(t *testing.T) {
	frames := [][]byte{
		bytes.Repeat([]byte{0xAA}, 100),
		{},
		bytes.Repeat([]byte{0xBB}, 5000),
	}

	decoded, err := decodeChunk(EncodeChunk(frames))
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	for i := range frames {
		assert.Equal(t, frames[i], decoded[i], "frame %d", i)
	}
}

func TestDecodeChunkRejectsCorruptData(t *testing.T) {
	valid := EncodeChunk([][]byte{bytes.Repeat([]byte{1}, 50)})

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short header", valid[:3]},
		{"truncated frame", valid[:len(valid)-10]},
		{"trailing garbage", append(append([]byte{}, valid...), 0xFF)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeChunk(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestChunkStoreServesFrames(t *testing.T) {
	dir := t.TempDir()
	low := [][][]byte{
		{[]byte("low-c0-f0"), []byte("low-c0-f1")},
		{[]byte("low-c1-f0")},
	}
	high := [][][]byte{
		{[]byte("high-c0-f0"), []byte("high-c0-f1")},
		{[]byte("high-c1-f0")},
	}
	writeChunkFiles(t, dir, adaptation.Level240p, low)
	writeChunkFiles(t, dir, adaptation.Level1080p, high)

	store, err := OpenChunkStore(dir, 30, 2*time.Second)
	require.NoError(t, err)

	assert.Equal(t, uint32(2), store.TotalChunks())
	assert.Equal(t, 30.0, store.FrameRate())
	assert.Equal(t, 2*time.Second, store.ChunkDuration())

	frames, err := store.Frames(adaptation.Level1080p, 0)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("high-c0-f0"), frames[0])

	frames, err = store.Frames(adaptation.Level240p, 1)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("low-c1-f0"), frames[0])
}

func TestChunkStoreMissingChunk(t *testing.T) {
	dir := t.TempDir()
	writeChunkFiles(t, dir, adaptation.Level240p, [][][]byte{{[]byte("f")}})

	store, err := OpenChunkStore(dir, 30, 2*time.Second)
	require.NoError(t, err)

	// Level directory exists only for 240p.
	_, err = store.Frames(adaptation.Level720p, 0)
	assert.Error(t, err)

	_, err = store.Frames(adaptation.Level240p, 99)
	assert.Error(t, err)
}

func TestOpenChunkStoreRejectsEmptyDir(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenChunkStore(dir, 30, 2*time.Second)
	assert.Error(t, err, "missing reference level directory")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, adaptation.MinLevel.String()), 0o755))
	_, err = OpenChunkStore(dir, 30, 2*time.Second)
	assert.Error(t, err, "empty reference level directory")
}

func TestMemorySourceChunked(t *testing.T) {
	src, err := NewMemorySource(30, 2*time.Second, map[adaptation.Level][][][]byte{
		adaptation.Level240p: {{[]byte("a")}, {[]byte("b")}},
		adaptation.Level480p: {{[]byte("c")}, {[]byte("d")}},
	})
	require.NoError(t, err)

	assert.Equal(t, uint32(2), src.TotalChunks())

	frames, err := src.Frames(adaptation.Level480p, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("d")}, frames)

	_, err = src.Frames(adaptation.Level480p, 2)
	assert.Error(t, err)

	_, err = src.Frames(adaptation.Level1080p, 0)
	assert.Error(t, err)
}

func TestMemorySourceRejectsUnevenChunks(t *testing.T) {
	_, err := NewMemorySource(30, 2*time.Second, map[adaptation.Level][][][]byte{
		adaptation.Level240p: {{[]byte("a")}},
		adaptation.Level480p: {{[]byte("b")}, {[]byte("c")}},
	})
	assert.Error(t, err)
}

func TestSingleStreamSource(t *testing.T) {
	src := NewSingleStreamSource(30, map[adaptation.Level][][]byte{
		adaptation.Level480p: {[]byte("f0"), []byte("f1")},
	})

	assert.Equal(t, uint32(0), src.TotalChunks())

	// chunkID is ignored for a single-stream source.
	for _, chunkID := range []uint32{0, 7} {
		frames, err := src.Frames(adaptation.Level480p, chunkID)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{[]byte("f0"), []byte("f1")}, frames)
	}
}
