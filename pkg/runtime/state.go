package runtime

import (
	"strconv"
	"sync"

	"github.com/cuemby/nebula/pkg/operator"
)

// MemoryStateManager is an in-process StateManager: partial-aggregate and
// join state live only as long as the worker process that holds them.
type MemoryStateManager struct {
	mu   sync.RWMutex
	data map[uint64]map[string][]byte
}

// NewMemoryStateManager builds an empty in-process state manager.
func NewMemoryStateManager() *MemoryStateManager {
	return &MemoryStateManager{data: make(map[uint64]map[string][]byte)}
}

func (m *MemoryStateManager) Load(pipelineID uint64, key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bucket, ok := m.data[pipelineID]
	if !ok {
		return nil, false
	}
	v, ok := bucket[key]
	return v, ok
}

func (m *MemoryStateManager) Store(pipelineID uint64, key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bucket, ok := m.data[pipelineID]
	if !ok {
		bucket = make(map[string][]byte)
		m.data[pipelineID] = bucket
	}
	bucket[key] = value
}

// windowBounds computes the [start, end) bounds of the slice a timestamp
// falls into for the given window shape. A threshold window has no time
// bounds and is reported as a single all-time slice.
func windowBounds(w operator.WindowDescriptor, t int64) (start, end int64) {
	if w.Size <= 0 {
		return 0, 0
	}
	switch w.Kind {
	case operator.WindowSliding:
		slide := w.Slide
		if slide <= 0 {
			slide = w.Size
		}
		start = (t / slide) * slide
		return start, start + w.Size
	case operator.WindowThreshold:
		return 0, 0
	default: // WindowTumbling
		start = (t / w.Size) * w.Size
		return start, start + w.Size
	}
}

type windowBucket struct {
	start, end int64
	data       []byte
	count      int64
}

// DefaultWindowState is the engine's window/slice implementation: one
// bucket per (key, slice-start), closed once the state's watermark (the
// latest event time seen across all buckets) reaches its end bound, or
// once its tuple count reaches a threshold window's trigger
// count. A closed bucket's most recently updated payload is what the
// generated pipeline emits downstream; the model carries no aggregate
// function of its own, leaving value computation to a following Map step.
type DefaultWindowState struct {
	mu        sync.Mutex
	desc      operator.WindowDescriptor
	buckets   map[string]*windowBucket
	watermark int64
	ready     []WindowSlice
}

// NewDefaultWindowState builds window state shaped by desc.
func NewDefaultWindowState(desc operator.WindowDescriptor) *DefaultWindowState {
	return &DefaultWindowState{desc: desc, buckets: make(map[string]*windowBucket)}
}

func (s *DefaultWindowState) Update(windowKey string, timestamp int64, tuple []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, end := windowBounds(s.desc, timestamp)
	key := windowKey + "@" + strconv.FormatInt(start, 10)
	b, ok := s.buckets[key]
	if !ok {
		b = &windowBucket{start: start, end: end}
		s.buckets[key] = b
	}
	b.data = tuple
	b.count++
	if timestamp > s.watermark {
		s.watermark = timestamp
	}
	return nil
}

// closeReady moves every bucket that meets its closing condition into the
// ready queue, locked by the caller.
func (s *DefaultWindowState) closeReady() {
	for key, b := range s.buckets {
		var closed bool
		switch s.desc.Kind {
		case operator.WindowThreshold:
			closed = s.desc.Threshold > 0 && b.count >= s.desc.Threshold
		default:
			closed = b.end > 0 && s.watermark >= b.end
		}
		if !closed {
			continue
		}
		s.ready = append(s.ready, WindowSlice{StartTime: b.start, EndTime: b.end, Data: b.data})
		delete(s.buckets, key)
	}
}

func (s *DefaultWindowState) Slices() []WindowSlice {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeReady()
	out := s.ready
	s.ready = nil
	return out
}

// DefaultWindowHandler is the production runtime.WindowHandler: started
// against a pipeline's shared state manager, it re-evaluates its window
// state's closing conditions both on-record (the generated scan loop
// calls Trigger after every Update batch) and on-time (the trigger
// scheduler's periodic sweep calls Trigger with no new records).
type DefaultWindowHandler struct {
	state *DefaultWindowState
}

// NewDefaultWindowHandler builds a handler for a window operator shaped
// by desc.
func NewDefaultWindowHandler(desc operator.WindowDescriptor) *DefaultWindowHandler {
	return &DefaultWindowHandler{state: NewDefaultWindowState(desc)}
}

func (h *DefaultWindowHandler) Start(stateManager StateManager, pipelineID uint64) error {
	return nil
}

func (h *DefaultWindowHandler) Stop() error { return nil }

func (h *DefaultWindowHandler) Trigger() error {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	h.state.closeReady()
	return nil
}

func (h *DefaultWindowHandler) GetTypedWindowState() WindowState { return h.state }

type joinBucketKey struct {
	start, end int64
	key        string
}

// DefaultJoinState is the engine's join-state implementation: an
// append-list hash join keyed by the equality field, scoped per window
// bucket so a sliding/tumbling join only matches tuples whose slices
// coincide.
type DefaultJoinState struct {
	mu    sync.Mutex
	left  map[joinBucketKey][][]byte
	right map[joinBucketKey][][]byte
}

// NewDefaultJoinState builds empty join state.
func NewDefaultJoinState() *DefaultJoinState {
	return &DefaultJoinState{left: make(map[joinBucketKey][][]byte), right: make(map[joinBucketKey][][]byte)}
}

func (s *DefaultJoinState) AppendLeft(key string, windowStart, windowEnd int64, tuple []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := joinBucketKey{windowStart, windowEnd, key}
	s.left[k] = append(s.left[k], tuple)
	return nil
}

func (s *DefaultJoinState) AppendRight(key string, windowStart, windowEnd int64, tuple []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := joinBucketKey{windowStart, windowEnd, key}
	s.right[k] = append(s.right[k], tuple)
	return nil
}

func (s *DefaultJoinState) Matches(windowStart, windowEnd int64) [][2][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out [][2][]byte
	for k, lefts := range s.left {
		if k.start != windowStart || k.end != windowEnd {
			continue
		}
		rights := s.right[k]
		for _, l := range lefts {
			for _, r := range rights {
				out = append(out, [2][]byte{l, r})
			}
		}
	}
	return out
}

// DefaultJoinHandler is the production runtime.JoinHandler. The same
// underlying state backs both sides, since a join's left and right
// pipeline halves must append into (and match against) one shared table.
type DefaultJoinHandler struct {
	state *DefaultJoinState
}

// NewDefaultJoinHandler builds a handler over fresh join state.
func NewDefaultJoinHandler() *DefaultJoinHandler {
	return &DefaultJoinHandler{state: NewDefaultJoinState()}
}

func (h *DefaultJoinHandler) Start(stateManager StateManager, pipelineID uint64) error { return nil }
func (h *DefaultJoinHandler) Stop() error                                              { return nil }
func (h *DefaultJoinHandler) Trigger() error                                           { return nil }
func (h *DefaultJoinHandler) GetLeftJoinState() JoinState                              { return h.state }
func (h *DefaultJoinHandler) GetRightJoinState() JoinState                             { return h.state }
