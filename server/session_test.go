package server

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/streamcast/adaptation"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}
	return NewSession(nil, addr, adaptation.Level480p)
}

func TestSessionDefaults(t *testing.T) {
	sess := newTestSession(t)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, adaptation.Level480p, sess.Level())
	assert.Equal(t, uint32(0), sess.ChunkID())
	assert.False(t, sess.LastSeen().IsZero())
}

func TestSessionLevelAndSeek(t *testing.T) {
	sess := newTestSession(t)

	sess.SetLevel(adaptation.Level1080p)
	assert.Equal(t, adaptation.Level1080p, sess.Level())

	sess.SetChunkID(42)
	assert.Equal(t, uint32(42), sess.ChunkID())
}

func TestSessionAdvanceChunkWraps(t *testing.T) {
	sess := newTestSession(t)

	sess.SetChunkID(4)
	sess.AdvanceChunk(5)
	assert.Equal(t, uint32(0), sess.ChunkID(), "last chunk should wrap to the start")

	sess.AdvanceChunk(5)
	assert.Equal(t, uint32(1), sess.ChunkID())
}

func TestSessionAdvanceChunkNonChunked(t *testing.T) {
	sess := newTestSession(t)

	sess.AdvanceChunk(0)
	assert.Equal(t, uint32(0), sess.ChunkID())
}

func TestSessionNextSequenceContiguous(t *testing.T) {
	sess := newTestSession(t)

	assert.Equal(t, uint32(0), sess.NextSequence(3))
	assert.Equal(t, uint32(3), sess.NextSequence(1))
	assert.Equal(t, uint32(4), sess.NextSequence(5))
	assert.Equal(t, uint32(9), sess.NextSequence(1))
}

func TestRegistryAddRemove(t *testing.T) {
	reg := NewRegistry()
	sess := newTestSession(t)

	reg.Add(sess)
	assert.Equal(t, 1, reg.Len())
	assert.True(t, reg.Contains(sess.ID))

	require.True(t, reg.Remove(sess.ID))
	assert.Equal(t, 0, reg.Len())
	assert.False(t, reg.Contains(sess.ID))

	assert.False(t, reg.Remove(sess.ID), "second remove should report absence")
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry()
	a := newTestSession(t)
	b := newTestSession(t)
	reg.Add(a)
	reg.Add(b)

	ids := make(map[string]bool)
	for _, s := range reg.List() {
		ids[s.ID] = true
	}
	assert.True(t, ids[a.ID])
	assert.True(t, ids[b.ID])
}

func TestRegistryConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess := NewSession(nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9000}, adaptation.Level240p)
			reg.Add(sess)
			reg.Contains(sess.ID)
			reg.List()
			reg.Remove(sess.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, reg.Len())
}
