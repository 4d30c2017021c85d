package export

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"storyreel/internal/capability"
	"storyreel/internal/config"
	"storyreel/internal/execx"
	"storyreel/internal/timeline"
)

// SegmentRenderer bakes one segment's overlays into a standalone composite
// clip. The render queue uses it for pre-rendering; a ready composite lets
// the final export skip that segment's overlay inputs entirely.
type SegmentRenderer struct {
	Config     config.Config
	Capability capability.Capability
	FFmpegPath string
	Runner     execx.Runner
	Start      execx.StartFunc
	Timeout    time.Duration
	LogDir     string
}

// RenderComposite renders source video + overlays to outPath. The caller
// supplies already-rendered overlay clip paths (empty string when the
// segment has no text of that kind).
func (s *SegmentRenderer) RenderComposite(ctx context.Context, spec timeline.SegmentSpec, captionPath, creditPath, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure segment directory: %w", err)
	}

	args := s.BuildCompositeArgs(spec, captionPath, creditPath, outPath)

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var logWriter io.Writer
	if s.LogDir != "" {
		logPath := filepath.Join(s.LogDir, fmt.Sprintf("segment_%03d.log", spec.Index))
		if f, err := os.Create(logPath); err == nil {
			defer f.Close()
			logWriter = f
		}
	}

	if _, err := s.runner().Run(runCtx, s.ffmpeg(), args, execx.RunOptions{Stderr: logWriter}); err != nil {
		_ = os.Remove(outPath)
		return fmt.Errorf("segment %d composite: %w", spec.Index, err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("segment %d composite output missing: %w", spec.Index, err)
	}
	return nil
}

// RenderCompositeWithProgress renders like RenderComposite but monitors the
// encode's output-timeline position, reporting the completed fraction of the
// segment as a percent clamped below 100.
func (s *SegmentRenderer) RenderCompositeWithProgress(ctx context.Context, spec timeline.SegmentSpec, captionPath, creditPath, outPath string, onProgress func(percent float64)) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure segment directory: %w", err)
	}

	args := s.BuildCompositeArgs(spec, captionPath, creditPath, outPath)
	args = append(args[:len(args)-1], "-progress", "pipe:1", "-nostats", outPath)

	total := time.Duration(spec.DurationSeconds * float64(time.Second))

	var logWriter io.Writer
	if s.LogDir != "" {
		logPath := filepath.Join(s.LogDir, fmt.Sprintf("segment_%03d.log", spec.Index))
		if f, err := os.Create(logPath); err == nil {
			defer f.Close()
			logWriter = f
		}
	}

	start := s.Start
	if start == nil {
		start = execx.Start
	}
	proc, err := start(s.ffmpeg(), args, execx.MonitorOptions{
		Stderr: logWriter,
		OnProgress: func(outTime time.Duration) {
			if onProgress != nil {
				onProgress(encodePercent(outTime, total))
			}
		},
	})
	if err != nil {
		return fmt.Errorf("segment %d composite: %w", spec.Index, err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		select {
		case <-waitCtx.Done():
			proc.Kill()
		case <-done:
		}
	}()

	waitErr := proc.Wait()
	close(done)

	if waitErr != nil {
		_ = os.Remove(outPath)
		if ctxErr := waitCtx.Err(); ctxErr != nil {
			return fmt.Errorf("segment %d composite: %w", spec.Index, ctxErr)
		}
		return fmt.Errorf("segment %d composite: %w", spec.Index, waitErr)
	}
	if _, err := os.Stat(outPath); err != nil {
		return fmt.Errorf("segment %d composite output missing: %w", spec.Index, err)
	}
	return nil
}

// BuildCompositeArgs assembles the ffmpeg invocation for a single segment.
// Credit overlays composite first, captions last (topmost).
func (s *SegmentRenderer) BuildCompositeArgs(spec timeline.SegmentSpec, captionPath, creditPath, outPath string) []string {
	width, height := s.Config.Video.Dimensions()
	fps := s.Config.Video.FPS
	dur := formatSeconds(spec.DurationSeconds)

	args := []string{
		"-hide_banner",
		"-y",
		"-t", dur,
		"-i", spec.SourceVideoPath,
	}

	type overlayInput struct {
		index int
		y     string
	}
	var credit, caption *overlayInput

	inputIdx := 1
	if creditPath != "" {
		args = append(args, overlayInputArgs(creditPath, dur)...)
		credit = &overlayInput{index: inputIdx, y: "main_h-overlay_h"}
		inputIdx++
	}
	if captionPath != "" {
		args = append(args, overlayInputArgs(captionPath, dur)...)
		caption = &overlayInput{index: inputIdx, y: fmt.Sprintf("main_h-overlay_h-%d", height/8)}
		inputIdx++
	}

	var graph []string
	graph = append(graph, fmt.Sprintf(
		"[0:v]scale=w=%d:h=%d:force_original_aspect_ratio=decrease,pad=w=%d:h=%d:x=(ow-iw)/2:y=(oh-ih)/2:color=black,setsar=1,fps=%d[base]",
		width, height, width, height, fps))

	current := "base"
	step := 0
	for _, ov := range []*overlayInput{credit, caption} {
		if ov == nil {
			continue
		}
		next := fmt.Sprintf("ov%d", step)
		graph = append(graph, fmt.Sprintf("[%s][%d:v]overlay=x=0:y=%s:repeatlast=1[%s]",
			current, ov.index, ov.y, next))
		current = next
		step++
	}

	args = append(args,
		"-filter_complex", strings.Join(graph, ";"),
		"-map", "["+current+"]",
		"-map", "0:a?",
		"-t", dur,
	)
	args = append(args, s.encodeArgs()...)
	args = append(args, outPath)
	return args
}

// overlayInputArgs prepares one overlay file as an ffmpeg input. Still
// images loop for the full segment; clips play once and the overlay filter
// holds their last frame.
func overlayInputArgs(path, dur string) []string {
	if strings.EqualFold(filepath.Ext(path), ".png") {
		return []string{"-loop", "1", "-t", dur, "-i", path}
	}
	return []string{"-i", path}
}

func (s *SegmentRenderer) encodeArgs() []string {
	cfg := s.Config
	encoder := s.Capability.EncoderFor(cfg.Video.Codec)
	args := []string{
		"-c:v", encoder,
		"-b:v", fmt.Sprintf("%dk", cfg.Video.BitrateKbps),
		"-pix_fmt", "yuv420p",
	}
	if acodec := strings.TrimSpace(cfg.Audio.ACodec); acodec != "" {
		args = append(args, "-c:a", acodec)
	}
	if cfg.Audio.BitrateKbps > 0 {
		args = append(args, "-b:a", fmt.Sprintf("%dk", cfg.Audio.BitrateKbps))
	}
	if cfg.Audio.SampleRate > 0 {
		args = append(args, "-ar", fmt.Sprintf("%d", cfg.Audio.SampleRate))
	}
	args = append(args, "-movflags", "+faststart")
	return args
}

func (s *SegmentRenderer) runner() execx.Runner {
	if s.Runner != nil {
		return s.Runner
	}
	return execx.CmdRunner{}
}

func (s *SegmentRenderer) ffmpeg() string {
	if s.FFmpegPath != "" {
		return s.FFmpegPath
	}
	return capability.FFmpegPath()
}
