package protocol

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultFragmentMaxAge is how long an incomplete fragment set may
// linger before eviction reclaims it.
const DefaultFragmentMaxAge = 10 * time.Second

// Clock supplies the current time for fragment aging.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FrameKey identifies one frame under reassembly.
type FrameKey struct {
	ChunkID    uint32
	FrameIndex uint32
}

// fragmentSet accumulates the fragments of a single frame. It exists
// only while the frame is incompletely received.
type fragmentSet struct {
	fragments map[uint32][]byte
	total     uint32
	level     string
	createdAt time.Time
}

// AssembledFrame is a completely reassembled frame ready for the
// decode collaborator.
type AssembledFrame struct {
	Data       []byte
	Level      string
	ChunkID    uint32
	FrameIndex uint32
}

// Reassembler reconstructs frames from fragments arriving in any
// order.
//
// A frame completes if and only if every index in [0, total) is
// present; partial bytes are never emitted. Completed sets are removed
// immediately and sets that never complete are evicted once they exceed
// the configured age, bounding memory under sustained loss. Duplicate
// fragments are idempotent overwrites.
type Reassembler struct {
	mu     sync.Mutex
	sets   map[FrameKey]*fragmentSet
	maxAge time.Duration
	clock  Clock
}

// ReassemblerOption configures a Reassembler.
type ReassemblerOption func(*Reassembler)

// WithMaxAge overrides the incomplete-set eviction age.
func WithMaxAge(d time.Duration) ReassemblerOption {
	return func(r *Reassembler) {
		if d > 0 {
			r.maxAge = d
		}
	}
}

// WithClock injects a clock for deterministic eviction tests.
func WithClock(c Clock) ReassemblerOption {
	return func(r *Reassembler) {
		if c != nil {
			r.clock = c
		}
	}
}

// NewReassembler creates an empty reassembler.
func NewReassembler(opts ...ReassemblerOption) *Reassembler {
	r := &Reassembler{
		sets:   make(map[FrameKey]*fragmentSet),
		maxAge: DefaultFragmentMaxAge,
		clock:  systemClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add inserts one fragment. When the fragment completes its frame the
// assembled frame is returned and the set is discarded; otherwise the
// second return value is false.
func (r *Reassembler) Add(pkt *FragmentPacket) (*AssembledFrame, bool) {
	if pkt == nil || pkt.TotalFragments == 0 || pkt.FragmentIndex >= pkt.TotalFragments {
		return nil, false
	}

	key := FrameKey{ChunkID: pkt.ChunkID, FrameIndex: pkt.FrameIndex}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[key]
	if !ok {
		set = &fragmentSet{
			fragments: make(map[uint32][]byte, pkt.TotalFragments),
			total:     pkt.TotalFragments,
			level:     pkt.Level,
			createdAt: r.clock.Now(),
		}
		r.sets[key] = set
	}

	set.fragments[pkt.FragmentIndex] = pkt.Fragment

	if uint32(len(set.fragments)) < set.total {
		return nil, false
	}

	// Concatenate strictly in index order; bail if anything is absent.
	size := 0
	for i := uint32(0); i < set.total; i++ {
		frag, present := set.fragments[i]
		if !present {
			return nil, false
		}
		size += len(frag)
	}
	data := make([]byte, 0, size)
	for i := uint32(0); i < set.total; i++ {
		data = append(data, set.fragments[i]...)
	}

	delete(r.sets, key)

	logrus.WithFields(logrus.Fields{
		"function":    "Add",
		"chunk_id":    key.ChunkID,
		"frame_index": key.FrameIndex,
		"fragments":   set.total,
		"frame_bytes": len(data),
	}).Debug("Frame reassembled")

	return &AssembledFrame{
		Data:       data,
		Level:      set.level,
		ChunkID:    key.ChunkID,
		FrameIndex: key.FrameIndex,
	}, true
}

// EvictStale removes incomplete fragment sets older than the configured
// age and returns how many were dropped.
func (r *Reassembler) EvictStale() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	evicted := 0
	for key, set := range r.sets {
		if now.Sub(set.createdAt) > r.maxAge {
			delete(r.sets, key)
			evicted++
		}
	}

	if evicted > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "EvictStale",
			"evicted":  evicted,
			"pending":  len(r.sets),
		}).Warn("Evicted stale fragment sets")
	}

	return evicted
}

// Pending returns the number of frames currently under reassembly.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sets)
}
