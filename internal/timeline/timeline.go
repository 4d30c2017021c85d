package timeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// SegmentSpec is one timed unit of the final video as supplied by the
// timeline producer. Index is the stable position key.
type SegmentSpec struct {
	Index           int     `json:"index"`
	SourceVideoPath string  `json:"source_video_path"`
	CaptionText     string  `json:"caption_text,omitempty"`
	CreditText      string  `json:"credit_text,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Timeline is the ordered segment list plus optional narration and music
// tracks for the final mix.
type Timeline struct {
	Segments      []SegmentSpec `json:"segments"`
	NarrationPath string        `json:"narration_path,omitempty"`
	MusicPath     string        `json:"music_path,omitempty"`
}

// Load reads a timeline JSON file.
func Load(path string) (Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Timeline{}, fmt.Errorf("read timeline: %w", err)
	}
	var tl Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		return Timeline{}, fmt.Errorf("decode timeline: %w", err)
	}
	if err := tl.Validate(); err != nil {
		return Timeline{}, err
	}
	return tl, nil
}

// Validate rejects timelines that cannot drive any render.
func (t Timeline) Validate() error {
	if len(t.Segments) == 0 {
		return errors.New("timeline has no segments")
	}
	for i, seg := range t.Segments {
		if strings.TrimSpace(seg.SourceVideoPath) == "" {
			return fmt.Errorf("segment %d has no source video path", seg.Index)
		}
		if seg.DurationSeconds <= 0 {
			return fmt.Errorf("segment %d has non-positive duration", seg.Index)
		}
		if i > 0 && seg.Index <= t.Segments[i-1].Index {
			return fmt.Errorf("segment indices must be strictly increasing (saw %d after %d)",
				seg.Index, t.Segments[i-1].Index)
		}
	}
	return nil
}

// TotalDuration sums segment durations.
func (t Timeline) TotalDuration() float64 {
	var total float64
	for _, seg := range t.Segments {
		total += seg.DurationSeconds
	}
	return total
}

// StartOffset returns the cumulative start time of the segment at position i
// in the segment list.
func (t Timeline) StartOffset(i int) float64 {
	var offset float64
	for j := 0; j < i && j < len(t.Segments); j++ {
		offset += t.Segments[j].DurationSeconds
	}
	return offset
}
