package export

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"storyreel/internal/config"
	"storyreel/internal/overlay"
)

// ResolvedSegment is one timeline entry after readiness resolution: either a
// pre-rendered composite (overlays already baked in) or the raw source clip.
type ResolvedSegment struct {
	Index           int
	InputPath       string
	DurationSeconds float64
	StartSeconds    float64
	Prerendered     bool
}

// OverlayJob is one overlay clip that still has to be composited at export
// time because its segment fell back to the raw source.
type OverlayJob struct {
	Kind         overlay.Kind
	Path         string
	StartSeconds float64
	EndSeconds   float64
}

// exportPlan carries everything needed to assemble the final ffmpeg command.
type exportPlan struct {
	Segments      []ResolvedSegment
	Overlays      []OverlayJob
	NarrationPath string
	MusicPath     string
	OutputPath    string
	TotalSeconds  float64
}

// buildExportArgs assembles the single compositing-and-encoding invocation
// for the whole timeline. Stage order is fixed: scale/pad per input, concat,
// vignette, brand mark, then time-windowed overlays with credits below
// captions regardless of declaration order.
func buildExportArgs(plan exportPlan, opts Options, cfg config.Config, encoder string) []string {
	width, height := opts.Dimensions()

	args := []string{"-hide_banner", "-y"}

	for _, seg := range plan.Segments {
		args = append(args, "-t", formatSeconds(seg.DurationSeconds), "-i", seg.InputPath)
	}

	overlayBase := len(plan.Segments)
	orderedOverlays := stackOverlays(plan.Overlays)
	for _, job := range orderedOverlays {
		windowDur := job.EndSeconds - job.StartSeconds
		args = append(args, overlayInputArgs(job.Path, formatSeconds(windowDur))...)
	}

	narrationIdx, musicIdx := -1, -1
	next := overlayBase + len(orderedOverlays)
	if plan.NarrationPath != "" {
		args = append(args, "-i", plan.NarrationPath)
		narrationIdx = next
		next++
	}
	if plan.MusicPath != "" {
		args = append(args, "-stream_loop", "-1", "-i", plan.MusicPath)
		musicIdx = next
	}

	var graph []string

	// Per-segment normalization so concat sees uniform streams.
	labels := make([]string, len(plan.Segments))
	for i := range plan.Segments {
		label := fmt.Sprintf("s%d", i)
		graph = append(graph, fmt.Sprintf(
			"[%d:v]scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=w=%d:h=%d:x=(ow-iw)/2:y=(oh-ih)/2:color=black,setsar=1,fps=%d[%s]",
			i, width, height, width, height, opts.FPS, label))
		labels[i] = label
	}

	var concat strings.Builder
	for _, label := range labels {
		concat.WriteString("[" + label + "]")
	}
	fmt.Fprintf(&concat, "concat=n=%d:v=1:a=0[cat]", len(labels))
	graph = append(graph, concat.String())

	// Subtle vignette: a darkened copy multiplied under the frame at low opacity.
	graph = append(graph,
		"[cat]split=2[vmain][vdark]",
		"[vdark]eq=brightness=-0.35[vdarker]",
		"[vmain][vdarker]blend=all_mode=multiply:all_opacity=0.18[vg]")

	current := "vg"
	if brand := brandFilter(cfg.Brand, cfg.Overlays.FontFile); brand != "" {
		graph = append(graph, fmt.Sprintf("[%s]%s[vb]", current, brand))
		current = "vb"
	}

	for i, job := range orderedOverlays {
		inputIdx := overlayBase + i
		shifted := fmt.Sprintf("osh%d", i)
		graph = append(graph, fmt.Sprintf("[%d:v]setpts=PTS+%s/TB[%s]",
			inputIdx, formatSeconds(job.StartSeconds), shifted))

		next := fmt.Sprintf("ov%d", i)
		graph = append(graph, fmt.Sprintf(
			"[%s][%s]overlay=x=0:y=%s:enable='between(t,%s,%s)':repeatlast=1[%s]",
			current, shifted, overlayY(job.Kind, height),
			formatSeconds(job.StartSeconds), formatSeconds(job.EndSeconds), next))
		current = next
	}

	audioFilter, audioMap := buildAudioMix(audioPlan{
		NarrationIdx: narrationIdx,
		MusicIdx:     musicIdx,
		SampleRate:   cfg.Audio.SampleRate,
		MusicVolume:  cfg.Audio.MusicVolume,
	})
	if audioFilter != "" {
		graph = append(graph, audioFilter)
	}

	args = append(args,
		"-filter_complex", strings.Join(graph, ";"),
		"-map", "["+current+"]",
	)
	if audioMap != "" {
		args = append(args, "-map", audioMap)
	} else {
		args = append(args, "-an")
	}

	args = append(args,
		"-c:v", encoder,
		"-b:v", fmt.Sprintf("%dk", opts.BitrateKbps),
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(opts.FPS),
	)
	if audioMap != "" {
		args = append(args, "-c:a", cfg.Audio.ACodec)
		if cfg.Audio.BitrateKbps > 0 {
			args = append(args, "-b:a", fmt.Sprintf("%dk", cfg.Audio.BitrateKbps))
		}
		if cfg.Audio.SampleRate > 0 {
			args = append(args, "-ar", strconv.Itoa(cfg.Audio.SampleRate))
		}
	}

	// Music-only mixes have no narration to bound the output; the video
	// timeline does. Narration-led mixes end with amix duration=first.
	if musicIdx >= 0 && narrationIdx < 0 {
		args = append(args, "-t", formatSeconds(plan.TotalSeconds))
	}

	args = append(args,
		"-movflags", "+faststart",
		"-progress", "pipe:1",
		"-nostats",
		plan.OutputPath,
	)
	return args
}

// stackOverlays fixes the compositing order: credits first (bottom), then
// captions (topmost), each group in timeline order.
func stackOverlays(jobs []OverlayJob) []OverlayJob {
	ordered := make([]OverlayJob, 0, len(jobs))
	for _, job := range jobs {
		if job.Kind == overlay.KindCredit {
			ordered = append(ordered, job)
		}
	}
	for _, job := range jobs {
		if job.Kind == overlay.KindCaption {
			ordered = append(ordered, job)
		}
	}
	return ordered
}

func overlayY(kind overlay.Kind, frameHeight int) string {
	if kind == overlay.KindCaption {
		return fmt.Sprintf("main_h-overlay_h-%d", frameHeight/8)
	}
	return "main_h-overlay_h"
}

// brandFilter renders the corner branding mark. Image brands are handled as
// drawtext-free overlay inputs by callers with a configured image; the text
// form covers the common case.
func brandFilter(brand config.BrandConfig, fontFile string) string {
	text := strings.TrimSpace(brand.Text)
	if text == "" {
		return ""
	}
	x, y := brandPosition(brand.Corner)
	values := []string{
		fmt.Sprintf("text='%s'", escapeDrawText(text)),
		"fontsize=24",
		"fontcolor=white@0.7",
		"x=" + x,
		"y=" + y,
	}
	if strings.TrimSpace(fontFile) != "" {
		values = append(values, fmt.Sprintf("fontfile='%s'", escapeFFmpegPath(fontFile)))
	}
	return "drawtext=" + strings.Join(values, ":")
}

func brandPosition(corner string) (string, string) {
	switch strings.ToLower(strings.TrimSpace(corner)) {
	case "top-left":
		return "24", "24"
	case "bottom-left":
		return "24", "h-text_h-24"
	case "bottom-right":
		return "w-text_w-24", "h-text_h-24"
	default:
		return "w-text_w-24", "24"
	}
}

func formatSeconds(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func escapeDrawText(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, ":", `\:`)
	value = strings.ReplaceAll(value, ",", `\,`)
	value = strings.ReplaceAll(value, "'", "''")
	return value
}

func escapeFFmpegPath(value string) string {
	value = filepath.Clean(value)
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, ":", `\:`)
	value = strings.ReplaceAll(value, "'", `\'`)
	return value
}
