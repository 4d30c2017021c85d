package export

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"storyreel/internal/capability"
	"storyreel/internal/config"
	"storyreel/internal/execx"
	"storyreel/internal/timeline"
)

func composeTestRenderer() *SegmentRenderer {
	return &SegmentRenderer{
		Config: config.Default(),
		Capability: capability.Capability{
			EncoderByFamily: map[string]string{"h264": "h264_videotoolbox"},
		},
	}
}

func composeTestSpec() timeline.SegmentSpec {
	return timeline.SegmentSpec{
		Index:           1,
		SourceVideoPath: "/media/raw.mp4",
		DurationSeconds: 6,
	}
}

func TestBuildCompositeArgsStacksCreditBelowCaption(t *testing.T) {
	s := composeTestRenderer()
	args := s.BuildCompositeArgs(composeTestSpec(), "/cache/cap.mov", "/cache/cred.mov", "/out/seg.mp4")
	graph := extractFilterGraph(t, args)

	creditAt := strings.Index(graph, "y=main_h-overlay_h:")
	captionAt := strings.Index(graph, "y=main_h-overlay_h-135")
	if creditAt < 0 || captionAt < 0 {
		t.Fatalf("overlay stages missing: %s", graph)
	}
	if creditAt > captionAt {
		t.Error("credit must composite before (below) the caption")
	}
}

func TestBuildCompositeArgsWithoutOverlays(t *testing.T) {
	s := composeTestRenderer()
	args := s.BuildCompositeArgs(composeTestSpec(), "", "", "/out/seg.mp4")
	graph := extractFilterGraph(t, args)

	if strings.Contains(graph, "overlay=") {
		t.Errorf("no overlay inputs but overlay stage present: %s", graph)
	}
	if !containsArg(args, "[base]") {
		t.Error("bare segment should map the normalized base stream")
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-map 0:a?") {
		t.Error("source audio must be carried when present")
	}
}

func TestBuildCompositeArgsUsesProbedEncoder(t *testing.T) {
	s := composeTestRenderer()
	args := s.BuildCompositeArgs(composeTestSpec(), "", "", "/out/seg.mp4")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-c:v h264_videotoolbox") {
		t.Errorf("probed encoder not used: %s", joined)
	}
}

func TestRenderCompositeWithProgressReportsFraction(t *testing.T) {
	s := composeTestRenderer()
	outPath := filepath.Join(t.TempDir(), "seg.mp4")

	// The fake encoder reports the halfway point of the 6s segment, writes
	// the output, and exits cleanly.
	s.Start = func(_ string, args []string, opts execx.MonitorOptions) (execx.Process, error) {
		if args[len(args)-1] != outPath {
			t.Errorf("output path must stay the final argument, got %q", args[len(args)-1])
		}
		if !containsArg(args, "pipe:1") {
			t.Error("monitored render must request -progress pipe:1")
		}
		opts.OnProgress(3 * time.Second)
		if err := os.WriteFile(outPath, []byte("fake"), 0o644); err != nil {
			t.Fatal(err)
		}
		proc := newFakeProcess()
		proc.waitCh <- nil
		return proc, nil
	}

	var percents []float64
	err := s.RenderCompositeWithProgress(context.Background(), composeTestSpec(), "", "", outPath,
		func(p float64) { percents = append(percents, p) })
	if err != nil {
		t.Fatalf("monitored render failed: %v", err)
	}
	if len(percents) != 1 || percents[0] != 50 {
		t.Errorf("progress percents: got %v, want [50]", percents)
	}
}

func TestRenderCompositeWithProgressFailsOnMissingOutput(t *testing.T) {
	s := composeTestRenderer()
	s.Start = func(_ string, _ []string, _ execx.MonitorOptions) (execx.Process, error) {
		proc := newFakeProcess()
		proc.waitCh <- nil
		return proc, nil
	}

	outPath := filepath.Join(t.TempDir(), "seg.mp4")
	if err := s.RenderCompositeWithProgress(context.Background(), composeTestSpec(), "", "", outPath, nil); err == nil {
		t.Error("missing output file must be reported")
	}
}

func TestOverlayInputArgsLoopsStillImages(t *testing.T) {
	got := overlayInputArgs("/cache/fallback.png", "6")
	want := []string{"-loop", "1", "-t", "6", "-i", "/cache/fallback.png"}
	if len(got) != len(want) {
		t.Fatalf("png input args: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("png input args: got %v, want %v", got, want)
		}
	}

	got = overlayInputArgs("/cache/anim.mov", "6")
	if len(got) != 2 || got[0] != "-i" {
		t.Errorf("clip input args: got %v, want plain -i", got)
	}
}
