package state

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"

	"storyreel/internal/timeline"
)

// fingerprintInput is the canonical structure hashed for change detection.
// Duration is carried in tenths of a second so float noise in the timeline
// never invalidates a render.
type fingerprintInput struct {
	SourceVideoPath string `json:"source_video_path"`
	CaptionText     string `json:"caption_text"`
	CreditText      string `json:"credit_text"`
	DurationDecis   int64  `json:"duration_decis"`
}

// Fingerprint returns a deterministic digest of the render-relevant inputs of
// a segment. Two specs with equal fingerprints produce identical composites.
func Fingerprint(spec timeline.SegmentSpec) string {
	input := fingerprintInput{
		SourceVideoPath: spec.SourceVideoPath,
		CaptionText:     spec.CaptionText,
		CreditText:      spec.CreditText,
		DurationDecis:   RoundDecis(spec.DurationSeconds),
	}
	return hashJSON(input)
}

// RoundDecis converts seconds to the nearest tenth of a second.
func RoundDecis(seconds float64) int64 {
	return int64(math.Round(seconds * 10))
}

func hashJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// Should never happen with known struct types.
		return fmt.Sprintf("sha256:error-%v", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("sha256:%x", sum)
}
