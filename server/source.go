package server

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/streamcast/adaptation"
)

// FrameSource supplies encoded frames to the delivery scheduler. A
// source with TotalChunks zero is non-chunked: the same frame list
// plays regardless of chunk position and the scheduler never advances.
type FrameSource interface {
	// Frames returns the encoded frames for one chunk at one quality
	// level. Implementations may return an error for missing chunks;
	// the scheduler logs it and retries on the next tick.
	Frames(level adaptation.Level, chunkID uint32) ([][]byte, error)
	// FrameRate returns the source media frame rate.
	FrameRate() float64
	// TotalChunks returns the chunk count, or 0 for a non-chunked
	// source.
	TotalChunks() uint32
	// ChunkDuration returns the fixed duration of each chunk.
	ChunkDuration() time.Duration
}

// chunkFilePattern names chunk files within a level directory.
const chunkFilePattern = "chunk_%04d.bin"

// ChunkStore reads pre-encoded chunks from disk. Layout is one
// subdirectory per quality level, each holding chunk_0000.bin,
// chunk_0001.bin and so on. A chunk file is a big-endian uint32 frame
// count followed by, per frame, a uint32 length and the frame bytes.
type ChunkStore struct {
	dir           string
	frameRate     float64
	chunkDuration time.Duration
	totalChunks   uint32
}

// OpenChunkStore validates the storage layout under dir and counts the
// available chunks using the lowest quality level as the reference.
//
// Parameters:
//   - dir: chunk storage root
//   - frameRate: source media frame rate
//   - chunkDuration: fixed duration of each chunk
//
// Returns an error if the reference level directory is missing or
// holds no chunk files.
func OpenChunkStore(dir string, frameRate float64, chunkDuration time.Duration) (*ChunkStore, error) {
	refDir := filepath.Join(dir, adaptation.MinLevel.String())
	entries, err := os.ReadDir(refDir)
	if err != nil {
		return nil, fmt.Errorf("open chunk store %s: %w", dir, err)
	}

	var count uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasPrefix(e.Name(), "chunk_") && strings.HasSuffix(e.Name(), ".bin") {
			count++
		}
	}
	if count == 0 {
		return nil, fmt.Errorf("chunk store %s: no chunk files under %s", dir, refDir)
	}

	logrus.WithFields(logrus.Fields{
		"function":     "OpenChunkStore",
		"dir":          dir,
		"total_chunks": count,
	}).Info("Opened chunk store")

	return &ChunkStore{
		dir:           dir,
		frameRate:     frameRate,
		chunkDuration: chunkDuration,
		totalChunks:   count,
	}, nil
}

// Frames loads and decodes one chunk file.
func (cs *ChunkStore) Frames(level adaptation.Level, chunkID uint32) ([][]byte, error) {
	path := filepath.Join(cs.dir, level.String(), fmt.Sprintf(chunkFilePattern, chunkID))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk %d at %s: %w", chunkID, level, err)
	}
	frames, err := decodeChunk(data)
	if err != nil {
		return nil, fmt.Errorf("chunk file %s: %w", path, err)
	}
	return frames, nil
}

// FrameRate returns the source media frame rate.
func (cs *ChunkStore) FrameRate() float64 { return cs.frameRate }

// TotalChunks returns the number of chunks on disk.
func (cs *ChunkStore) TotalChunks() uint32 { return cs.totalChunks }

// ChunkDuration returns the fixed duration of each chunk.
func (cs *ChunkStore) ChunkDuration() time.Duration { return cs.chunkDuration }

// decodeChunk parses the chunk file framing: uint32 frame count, then
// uint32 length plus bytes per frame, all big-endian.
func decodeChunk(data []byte) ([][]byte, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("truncated header, %d bytes", len(data))
	}
	count := binary.BigEndian.Uint32(data)
	offset := 4

	frames := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(data)-offset < 4 {
			return nil, fmt.Errorf("truncated length prefix for frame %d", i)
		}
		frameLen := int(binary.BigEndian.Uint32(data[offset:]))
		offset += 4
		if len(data)-offset < frameLen {
			return nil, fmt.Errorf("truncated frame %d: want %d bytes, have %d", i, frameLen, len(data)-offset)
		}
		frames = append(frames, data[offset:offset+frameLen])
		offset += frameLen
	}
	if offset != len(data) {
		return nil, fmt.Errorf("%d trailing bytes after %d frames", len(data)-offset, count)
	}
	return frames, nil
}

// EncodeChunk serializes frames in the chunk file framing. It is the
// inverse of the on-disk decoder and is used by ingest tooling and
// tests.
func EncodeChunk(frames [][]byte) []byte {
	size := 4
	for _, f := range frames {
		size += 4 + len(f)
	}
	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(frames)))
	for _, f := range frames {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(f)))
		buf = append(buf, f...)
	}
	return buf
}

// MemorySource serves frames from memory. Chunked construction takes a
// per-level list of chunks; single-stream construction takes one frame
// list per level and reports TotalChunks zero.
type MemorySource struct {
	frameRate     float64
	chunkDuration time.Duration
	chunks        map[adaptation.Level][][][]byte
	totalChunks   uint32
}

// NewMemorySource builds a chunked in-memory source. chunks maps each
// level to its ordered chunk list; every level must carry the same
// number of chunks.
func NewMemorySource(frameRate float64, chunkDuration time.Duration, chunks map[adaptation.Level][][][]byte) (*MemorySource, error) {
	var total uint32
	first := true
	for level, list := range chunks {
		if first {
			total = uint32(len(list))
			first = false
			continue
		}
		if uint32(len(list)) != total {
			return nil, fmt.Errorf("level %s has %d chunks, want %d", level, len(list), total)
		}
	}
	if total == 0 {
		return nil, fmt.Errorf("memory source has no chunks")
	}
	return &MemorySource{
		frameRate:     frameRate,
		chunkDuration: chunkDuration,
		chunks:        chunks,
		totalChunks:   total,
	}, nil
}

// NewSingleStreamSource builds a non-chunked in-memory source that
// loops one frame list per level.
func NewSingleStreamSource(frameRate float64, frames map[adaptation.Level][][]byte) *MemorySource {
	chunks := make(map[adaptation.Level][][][]byte, len(frames))
	for level, list := range frames {
		chunks[level] = [][][]byte{list}
	}
	return &MemorySource{
		frameRate: frameRate,
		chunks:    chunks,
	}
}

// Frames returns the frames for one chunk. A non-chunked source
// ignores chunkID and always serves its single frame list.
func (m *MemorySource) Frames(level adaptation.Level, chunkID uint32) ([][]byte, error) {
	list, ok := m.chunks[level]
	if !ok {
		return nil, fmt.Errorf("no frames at level %s", level)
	}
	if m.totalChunks == 0 {
		return list[0], nil
	}
	if chunkID >= uint32(len(list)) {
		return nil, fmt.Errorf("chunk %d out of range at level %s", chunkID, level)
	}
	return list[chunkID], nil
}

// FrameRate returns the source media frame rate.
func (m *MemorySource) FrameRate() float64 { return m.frameRate }

// TotalChunks returns the chunk count, 0 for a single-stream source.
func (m *MemorySource) TotalChunks() uint32 { return m.totalChunks }

// ChunkDuration returns the fixed duration of each chunk.
func (m *MemorySource) ChunkDuration() time.Duration { return m.chunkDuration }
