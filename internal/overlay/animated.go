package overlay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"storyreel/internal/capability"
	"storyreel/internal/execx"
)

// renderAnimated produces a transparent animated overlay clip via ffmpeg: a
// fully transparent canvas with the bar, accent line, and text drawn on top,
// alpha-faded in and out, encoded with an alpha-preserving codec. Failure or
// timeout here is recoverable; the caller falls back to a static image.
func (r *Renderer) renderAnimated(ctx context.Context, text string, durationSeconds float64) (string, error) {
	if durationSeconds <= 0 {
		return "", fmt.Errorf("overlay duration %v not renderable", durationSeconds)
	}

	outPath := r.artifactPath(uuid.NewString(), ".mov")
	args := r.buildAnimatedArgs(text, durationSeconds, outPath)

	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := r.runner().Run(runCtx, r.ffmpeg(), args, execx.RunOptions{}); err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("animated overlay render: %w", err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("animated overlay output missing: %w", err)
	}
	return outPath, nil
}

// buildAnimatedArgs assembles the full ffmpeg invocation for one overlay clip.
func (r *Renderer) buildAnimatedArgs(text string, durationSeconds float64, outPath string) []string {
	width := r.frameWidth()
	height := r.barHeight()
	dur := formatFloat(durationSeconds)

	source := fmt.Sprintf("color=c=black@0.0:s=%dx%d:d=%s:r=%d", width, height, dur, r.fps())

	filters := []string{"format=yuva420p"}
	filters = append(filters, r.barFilters(width, height)...)
	filters = append(filters, r.textFilter(text, height))
	filters = append(filters, r.fadeFilters(durationSeconds)...)

	args := []string{
		"-hide_banner",
		"-y",
		"-f", "lavfi",
		"-i", source,
	}
	if r.Graphics == capability.GraphicsSoftware {
		args = append(args, "-filter_threads", "2")
	}
	args = append(args,
		"-vf", strings.Join(filters, ","),
		"-c:v", "qtrle",
		"-t", dur,
		outPath,
	)
	return args
}

// barFilters draws the translucent background bar and the accent line under it.
func (r *Renderer) barFilters(width, height int) []string {
	barColor := r.Style.BarColor
	if strings.TrimSpace(barColor) == "" {
		barColor = "black"
	}
	opacity := r.Style.BarOpacity
	if opacity <= 0 {
		opacity = 0.5
	}
	accentHeight := height / 12
	if accentHeight < 4 {
		accentHeight = 4
	}
	return []string{
		fmt.Sprintf("drawbox=x=0:y=0:w=iw:h=ih:color=%s@%s:t=fill", barColor, formatFloat(opacity)),
		fmt.Sprintf("drawbox=x=0:y=ih-%d:w=iw:h=%d:color=white@0.85:t=fill", accentHeight, accentHeight),
	}
}

func (r *Renderer) textFilter(text string, height int) string {
	fontSize := r.Style.FontSize
	if fontSize <= 0 {
		fontSize = height / 2
	}
	values := []string{
		fmt.Sprintf("text='%s'", escapeDrawText(text)),
		fmt.Sprintf("fontsize=%d", fontSize),
		fmt.Sprintf("fontcolor=%s", fallback(r.Style.FontColor, "white")),
		"x=40",
		"y=(h-text_h)/2",
	}
	if strings.TrimSpace(r.FontFile) != "" {
		values = append(values, fmt.Sprintf("fontfile='%s'", escapeFFmpegPath(r.FontFile)))
	}
	return "drawtext=" + strings.Join(values, ":")
}

// fadeFilters fade only the alpha channel so the clip stays transparent.
func (r *Renderer) fadeFilters(durationSeconds float64) []string {
	var filters []string
	if fadeIn := r.Style.FadeInSec; fadeIn > 0 && fadeIn < durationSeconds {
		filters = append(filters, fmt.Sprintf("fade=t=in:st=0:d=%s:alpha=1", formatFloat(fadeIn)))
	}
	if fadeOut := r.Style.FadeOutSec; fadeOut > 0 && fadeOut < durationSeconds {
		start := durationSeconds - fadeOut
		filters = append(filters, fmt.Sprintf("fade=t=out:st=%s:d=%s:alpha=1",
			formatFloat(start), formatFloat(fadeOut)))
	}
	return filters
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}

func escapeDrawText(value string) string {
	value = strings.ReplaceAll(value, "\r\n", "\n")
	value = strings.ReplaceAll(value, "\r", "\n")

	const newlinePlaceholder = "\u0000"
	value = strings.ReplaceAll(value, "\n", newlinePlaceholder)

	value = escapeFilterValueNoQuotes(value)
	value = strings.ReplaceAll(value, newlinePlaceholder, `\n`)
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

func escapeFilterValueNoQuotes(value string) string {
	value = strings.ReplaceAll(value, `\`, `\\`)
	value = strings.ReplaceAll(value, ":", `\:`)
	value = strings.ReplaceAll(value, ",", `\,`)
	return value
}
