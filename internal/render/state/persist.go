package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// persistedSegment is the on-disk record of a completed composite render.
type persistedSegment struct {
	Fingerprint   string    `json:"fingerprint"`
	CompositePath string    `json:"composite_path"`
	RenderedAt    time.Time `json:"rendered_at"`
}

// persistedState is the render state file layout. In-flight renders and
// errors are process-scoped and never persisted.
type persistedState struct {
	Segments map[string]persistedSegment `json:"segments"`
}

// Load reads tracker state from the given path. A missing or corrupt file
// yields an empty tracker without error.
func Load(path string, listener Listener) (*Tracker, error) {
	t := NewTracker(listener)

	data, err := os.ReadFile(path)
	if err != nil {
		return t, nil
	}
	var ps persistedState
	if err := json.Unmarshal(data, &ps); err != nil {
		return t, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for key, seg := range ps.Segments {
		index, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		t.states[index] = &SegmentState{
			Index:         index,
			Fingerprint:   seg.Fingerprint,
			CompositePath: seg.CompositePath,
		}
	}
	return t, nil
}

// Save writes the tracker's completed renders atomically to the given path.
func (t *Tracker) Save(path string) error {
	ps := persistedState{Segments: map[string]persistedSegment{}}

	t.mu.Lock()
	for index, st := range t.states {
		if st.CompositePath == "" || st.Rendering {
			continue
		}
		ps.Segments[strconv.Itoa(index)] = persistedSegment{
			Fingerprint:   st.Fingerprint,
			CompositePath: st.CompositePath,
			RenderedAt:    time.Now().UTC(),
		}
	}
	t.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ps, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
