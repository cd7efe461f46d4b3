// Package server implements the streaming server: a lock-guarded
// client session registry, a per-session delivery scheduler that
// fragments and paces frames over UDP, and the control-channel
// listener that manages session lifecycle.
package server

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opd-ai/streamcast/adaptation"
	"github.com/opd-ai/streamcast/control"
)

// Session is the server-side record of one registered client.
//
// The control handler mutates the requested level and playback
// position; the delivery goroutine reads them and owns the outgoing
// sequence counter. All cross-goroutine fields are guarded by the
// session's own lock.
type Session struct {
	// ID uniquely identifies the session for registry bookkeeping.
	ID string
	// Control is the client's control-channel connection.
	Control *control.Conn
	// VideoAddr is where video datagrams are sent.
	VideoAddr *net.UDPAddr

	mu       sync.RWMutex
	level    adaptation.Level
	chunkID  uint32
	lastSeen time.Time
	sequence uint32
}

// NewSession creates a session starting at the given level with the
// playback position at chunk zero.
func NewSession(conn *control.Conn, videoAddr *net.UDPAddr, level adaptation.Level) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Control:   conn,
		VideoAddr: videoAddr,
		level:     level,
		lastSeen:  time.Now(),
	}
}

// Level returns the requested quality level.
func (s *Session) Level() adaptation.Level {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.level
}

// SetLevel updates the requested quality level.
func (s *Session) SetLevel(level adaptation.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = level
	s.lastSeen = time.Now()
}

// ChunkID returns the playback position.
func (s *Session) ChunkID() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chunkID
}

// SetChunkID seeks the playback position.
func (s *Session) SetChunkID(chunkID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkID = chunkID
	s.lastSeen = time.Now()
}

// AdvanceChunk moves the playback position forward by one, wrapping to
// the start after the last chunk. It is a no-op for a non-chunked
// source (totalChunks zero).
func (s *Session) AdvanceChunk(totalChunks uint32) {
	if totalChunks == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunkID = (s.chunkID + 1) % totalChunks
}

// NextSequence reserves n outgoing sequence numbers and returns the
// first. Fragments of one frame therefore occupy a contiguous run.
func (s *Session) NextSequence(n uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	base := s.sequence
	s.sequence += n
	return base
}

// LastSeen returns the time of the last control activity.
func (s *Session) LastSeen() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Registry is the shared map of active sessions. The control accept
// path adds and removes entries while delivery goroutines consult it,
// so every access goes through the lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Add registers a session.
func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
}

// Remove deletes a session by ID and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	return true
}

// Contains reports whether a session is still registered.
func (r *Registry) Contains(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// List returns a snapshot of the active sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of active sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
