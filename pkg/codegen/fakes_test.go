package codegen

import "github.com/cuemby/nebula/pkg/runtime"

// fakeStateManager is a no-op StateManager, sufficient for tests that
// don't exercise handler persistence directly.
type fakeStateManager struct{}

func (fakeStateManager) Load(pipelineID uint64, key string) ([]byte, bool) { return nil, false }
func (fakeStateManager) Store(pipelineID uint64, key string, value []byte) {}

// fakeWindowState collects every Update call and replays them verbatim as
// completed slices once Trigger fires, modeling an on-record trigger
// policy with no slice merging.
type fakeWindowState struct {
	updates   []runtime.WindowSlice
	triggered bool
}

func (s *fakeWindowState) Update(windowKey string, timestamp int64, tuple []byte) error {
	s.updates = append(s.updates, runtime.WindowSlice{Key: windowKey, StartTime: timestamp, EndTime: timestamp, Data: tuple})
	return nil
}

func (s *fakeWindowState) Slices() []runtime.WindowSlice {
	if !s.triggered {
		return nil
	}
	out := s.updates
	s.updates = nil
	return out
}

type fakeWindowHandler struct {
	state *fakeWindowState
}

func newFakeWindowHandler() *fakeWindowHandler { return &fakeWindowHandler{state: &fakeWindowState{}} }

func (h *fakeWindowHandler) Start(stateManager runtime.StateManager, pipelineID uint64) error {
	return nil
}
func (h *fakeWindowHandler) Stop() error { return nil }
func (h *fakeWindowHandler) Trigger() error {
	h.state.triggered = true
	return nil
}
func (h *fakeWindowHandler) GetTypedWindowState() runtime.WindowState { return h.state }

// fakeJoinState appends left/right tuples into per-key lists and matches
// every left/right pair sharing a key within the queried window.
type fakeJoinState struct {
	left  map[string][][]byte
	right map[string][][]byte
}

func newFakeJoinState() *fakeJoinState {
	return &fakeJoinState{left: make(map[string][][]byte), right: make(map[string][][]byte)}
}

func (s *fakeJoinState) AppendLeft(key string, windowStart, windowEnd int64, tuple []byte) error {
	s.left[key] = append(s.left[key], tuple)
	return nil
}

func (s *fakeJoinState) AppendRight(key string, windowStart, windowEnd int64, tuple []byte) error {
	s.right[key] = append(s.right[key], tuple)
	return nil
}

func (s *fakeJoinState) Matches(windowStart, windowEnd int64) [][2][]byte {
	var out [][2][]byte
	for key, lefts := range s.left {
		for _, r := range s.right[key] {
			for _, l := range lefts {
				out = append(out, [2][]byte{l, r})
			}
		}
	}
	return out
}

type fakeJoinHandler struct {
	state *fakeJoinState
}

func newFakeJoinHandler() *fakeJoinHandler { return &fakeJoinHandler{state: newFakeJoinState()} }

func (h *fakeJoinHandler) Start(stateManager runtime.StateManager, pipelineID uint64) error {
	return nil
}
func (h *fakeJoinHandler) Stop() error                                { return nil }
func (h *fakeJoinHandler) Trigger() error                             { return nil }
func (h *fakeJoinHandler) GetLeftJoinState() runtime.JoinState        { return h.state }
func (h *fakeJoinHandler) GetRightJoinState() runtime.JoinState       { return h.state }

// fakeSink records every buffer a pipeline emits.
type fakeSink struct {
	consumed []*runtime.TupleBuffer
}

func (s *fakeSink) Consume(buf *runtime.TupleBuffer, wc *runtime.WorkerContext) error {
	s.consumed = append(s.consumed, buf)
	return nil
}
