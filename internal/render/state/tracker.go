package state

import (
	"sync"

	"storyreel/internal/paths"
	"storyreel/internal/timeline"
)

// SegmentState tracks the render inputs and composite output for a single
// timeline position.
type SegmentState struct {
	Index         int
	Fingerprint   string
	CompositePath string
	Rendering     bool
	LastError     string
}

// Update describes a segment state transition for UI consumers.
type Update struct {
	Index     int
	Ready     bool
	Rendering bool
	Err       string
}

// Listener receives segment state transitions. Listeners must not call back
// into the tracker.
type Listener func(Update)

// Tracker owns the per-index segment states. It is the single source of
// truth for "is this segment ready to export"; the export engine only reads
// it through IsReady and CompositePath.
type Tracker struct {
	mu       sync.Mutex
	states   map[int]*SegmentState
	listener Listener
}

// NewTracker returns an empty tracker. The listener may be nil.
func NewTracker(listener Listener) *Tracker {
	return &Tracker{
		states:   make(map[int]*SegmentState),
		listener: listener,
	}
}

// Apply computes the fingerprint for the spec and reconciles the stored
// state. It reports whether the segment needs a (re-)render: true for new
// segments and fingerprint changes, false when the state is untouched.
func (t *Tracker) Apply(spec timeline.SegmentSpec) bool {
	fp := Fingerprint(spec)

	t.mu.Lock()
	st, exists := t.states[spec.Index]
	if exists && st.Fingerprint == fp {
		t.mu.Unlock()
		return false
	}
	if !exists {
		st = &SegmentState{Index: spec.Index}
		t.states[spec.Index] = st
	}
	st.Fingerprint = fp
	st.CompositePath = ""
	st.LastError = ""
	update := t.updateLocked(st)
	t.mu.Unlock()

	t.notify(update)
	return true
}

// Get returns a copy of the state for an index.
func (t *Tracker) Get(index int) (SegmentState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[index]
	if !ok {
		return SegmentState{}, false
	}
	return *st, true
}

// IsReady reports whether the segment's composite exists on disk and no
// render is in flight for it.
func (t *Tracker) IsReady(index int) bool {
	t.mu.Lock()
	st, ok := t.states[index]
	if !ok || st.Rendering || st.CompositePath == "" {
		t.mu.Unlock()
		return false
	}
	path := st.CompositePath
	t.mu.Unlock()

	exists, err := paths.FileExists(path)
	return err == nil && exists
}

// CompositePath returns the cached composite path when the segment is ready.
func (t *Tracker) CompositePath(index int) (string, bool) {
	if !t.IsReady(index) {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[index].CompositePath, true
}

// MarkRendering flips the in-flight flag. It reports false when the segment
// is unknown or already in the requested state, so queue workers can skip
// duplicate work.
func (t *Tracker) MarkRendering(index int, rendering bool) bool {
	t.mu.Lock()
	st, ok := t.states[index]
	if !ok || st.Rendering == rendering {
		t.mu.Unlock()
		return false
	}
	st.Rendering = rendering
	update := t.updateLocked(st)
	t.mu.Unlock()

	t.notify(update)
	return true
}

// Complete records a successful composite render. The path is ignored when
// the fingerprint no longer matches (the spec changed while rendering).
func (t *Tracker) Complete(index int, fingerprint, compositePath string) {
	t.mu.Lock()
	st, ok := t.states[index]
	if !ok {
		t.mu.Unlock()
		return
	}
	st.Rendering = false
	if st.Fingerprint == fingerprint {
		st.CompositePath = compositePath
		st.LastError = ""
	}
	update := t.updateLocked(st)
	t.mu.Unlock()

	t.notify(update)
}

// Fail records a render failure. The segment simply stays "not ready".
func (t *Tracker) Fail(index int, renderErr error) {
	t.mu.Lock()
	st, ok := t.states[index]
	if !ok {
		t.mu.Unlock()
		return
	}
	st.Rendering = false
	st.CompositePath = ""
	if renderErr != nil {
		st.LastError = renderErr.Error()
	}
	update := t.updateLocked(st)
	t.mu.Unlock()

	t.notify(update)
}

// Reset clears all segment states. Used when the timeline is replaced.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.states = make(map[int]*SegmentState)
	t.mu.Unlock()
}

// Snapshot returns a copy of every tracked state, ordered by caller.
func (t *Tracker) Snapshot() map[int]SegmentState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]SegmentState, len(t.states))
	for idx, st := range t.states {
		out[idx] = *st
	}
	return out
}

func (t *Tracker) updateLocked(st *SegmentState) Update {
	return Update{
		Index:     st.Index,
		Ready:     st.CompositePath != "" && !st.Rendering,
		Rendering: st.Rendering,
		Err:       st.LastError,
	}
}

func (t *Tracker) notify(update Update) {
	if t.listener != nil {
		t.listener(update)
	}
}
