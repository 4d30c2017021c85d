package export

import (
	"math"
	"time"
)

// Stage names the phases of an export, in order.
type Stage string

const (
	StagePreparing Stage = "preparing"
	StageOverlays  Stage = "generating_overlays"
	StageEncoding  Stage = "encoding"
	StageComplete  Stage = "complete"
	StageError     Stage = "error"
	StageCancelled Stage = "cancelled"
)

// Progress is one export progress report.
type Progress struct {
	Stage      Stage
	Percent    float64
	ETASeconds float64 // negative when unknown
}

// encodePercent converts the encoder's output-timeline position to a percent,
// clamped below 100 so completion is only ever reported on true process exit.
func encodePercent(outTime, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	percent := outTime.Seconds() / total.Seconds() * 100
	return math.Min(99, math.Max(0, percent))
}

// encodeETA derives the remaining seconds from elapsed wall-clock time and
// the completed fraction of the output timeline.
func encodeETA(wallElapsed time.Duration, outTime, total time.Duration) float64 {
	if total <= 0 || outTime <= 0 {
		return -1
	}
	frac := outTime.Seconds() / total.Seconds()
	if frac <= 0 || frac > 1 {
		return -1
	}
	remaining := wallElapsed.Seconds()*(1-frac)/frac
	return math.Max(0, remaining)
}
