package export

import (
	"fmt"
	"strings"
)

// audioPlan describes the audio inputs available to the mix. Indices are
// ffmpeg input positions, -1 when absent.
type audioPlan struct {
	NarrationIdx int
	MusicIdx     int
	SampleRate   int
	MusicVolume  float64
}

// buildAudioMix returns the audio filter chain and the output map label.
// The mix policy is deterministic:
//
//  1. narration + music: both resampled to a common rate, mixed without
//     normalization so narration is never ducked; the looped music is
//     truncated to the narration duration (amix duration=first, narration
//     is the first input).
//  2. narration only: passthrough resample.
//  3. music only: full volume, bounded by the video duration (caller adds -t).
//
// Neither present returns empty strings and the caller emits -an.
func buildAudioMix(plan audioPlan) (filter string, mapLabel string) {
	rate := plan.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	volume := plan.MusicVolume
	if volume <= 0 {
		volume = 1.0
	}

	switch {
	case plan.NarrationIdx >= 0 && plan.MusicIdx >= 0:
		parts := []string{
			fmt.Sprintf("[%d:a]aresample=%d[nar]", plan.NarrationIdx, rate),
			fmt.Sprintf("[%d:a]aresample=%d,volume=%s[mus]", plan.MusicIdx, rate, formatSeconds(volume)),
			"[nar][mus]amix=inputs=2:duration=first:normalize=0[aout]",
		}
		return strings.Join(parts, ";"), "[aout]"

	case plan.NarrationIdx >= 0:
		return fmt.Sprintf("[%d:a]aresample=%d[aout]", plan.NarrationIdx, rate), "[aout]"

	case plan.MusicIdx >= 0:
		return fmt.Sprintf("[%d:a]aresample=%d,volume=%s[aout]",
			plan.MusicIdx, rate, formatSeconds(volume)), "[aout]"
	}
	return "", ""
}
