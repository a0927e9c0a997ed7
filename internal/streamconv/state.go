package streamconv

// maxBlockIndex is the Anthropic content-block-count limit spec §4.3
// enforces: further content-block starts past this index are dropped and
// counted rather than emitted.
const maxBlockIndex = 128

// toolEntry tracks one tool call's streaming state. index is -1 when the
// block was suppressed by the overflow cap — later deltas/ends for the
// same id are dropped without emitting anything, rather than looked up
// against a stale index.
type toolEntry struct {
	index            int
	name             string
	receivedAnyDelta bool
}

func (t *toolEntry) suppressed() bool { return t.index < 0 }

// openBlock tracks the currently open non-tool block (text or thinking);
// only one can be open at a time since the backend emits *_start/*_end
// pairs sequentially for these variants.
type openBlock struct {
	kind       string // "text" or "thinking"
	index      int
	suppressed bool
}

// State is the per-request state the Stream Converter owns exclusively,
// the StreamConverterState struct spec §9's redesign notes ask for in
// place of closure-captured mutable state. One instance per request,
// touched only by the single goroutine running Convert.
type State struct {
	nextIndex int

	open  *openBlock
	tools map[string]*toolEntry

	// completedTools marks tool-call ids whose streamed form (start +
	// deltas + end) already closed, so a late duplicate tool_call for the
	// same id is dropped instead of re-opening a block.
	completedTools map[string]bool

	// atomicTools marks tool-call ids already emitted as a fresh
	// start/stop pair from a bare tool_call chunk, so a redundant repeat
	// of that same atomic chunk is dropped too.
	atomicTools map[string]bool

	finishEmitted bool
}

// NewState returns a fresh converter state for one request.
func NewState() *State {
	return &State{
		tools:          make(map[string]*toolEntry),
		completedTools: make(map[string]bool),
		atomicTools:    make(map[string]bool),
	}
}

// allocIndex returns the next content-block index, or ok=false if the
// 128-index cap (spec §4.3) has been reached — the caller must not emit a
// content_block_start in that case, only count the overflow.
func (s *State) allocIndex() (int, bool) {
	if s.nextIndex >= maxBlockIndex {
		indexOverflowTotal.Inc()
		return -1, false
	}
	idx := s.nextIndex
	s.nextIndex++
	return idx, true
}
