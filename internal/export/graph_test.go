package export

import (
	"strings"
	"testing"

	"storyreel/internal/config"
	"storyreel/internal/overlay"
)

func graphTestPlan() exportPlan {
	return exportPlan{
		Segments: []ResolvedSegment{
			{Index: 1, InputPath: "/cache/001_abc.mp4", DurationSeconds: 5, StartSeconds: 0, Prerendered: true},
			{Index: 2, InputPath: "/media/raw002.mp4", DurationSeconds: 7, StartSeconds: 5},
		},
		OutputPath:   "/out/final.mp4",
		TotalSeconds: 12,
	}
}

func graphTestOptions() Options {
	opts, err := Options{}.Normalize()
	if err != nil {
		panic(err)
	}
	return opts
}

func TestBuildExportArgsConcatenatesAllSegments(t *testing.T) {
	args := buildExportArgs(graphTestPlan(), graphTestOptions(), config.Default(), "libx264")
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-i /cache/001_abc.mp4") {
		t.Error("prerendered composite missing from inputs")
	}
	if !strings.Contains(joined, "-i /media/raw002.mp4") {
		t.Error("raw fallback source missing from inputs")
	}
	if !strings.Contains(joined, "concat=n=2:v=1:a=0[cat]") {
		t.Errorf("concat stage wrong: %s", joined)
	}
	if !strings.Contains(joined, "-c:v libx264") {
		t.Error("selected encoder not applied")
	}
	if args[len(args)-1] != "/out/final.mp4" {
		t.Errorf("output path must be the final argument, got %q", args[len(args)-1])
	}
}

func TestBuildExportArgsNormalizesEverySegment(t *testing.T) {
	args := buildExportArgs(graphTestPlan(), graphTestOptions(), config.Default(), "libx264")
	graph := extractFilterGraph(t, args)

	for _, stage := range []string{"[0:v]scale=", "[1:v]scale="} {
		if !strings.Contains(graph, stage) {
			t.Errorf("segment normalization missing %q in graph: %s", stage, graph)
		}
	}
	if !strings.Contains(graph, "setsar=1") || !strings.Contains(graph, "fps=30") {
		t.Error("sar/fps normalization missing")
	}
}

func TestBuildExportArgsAppliesVignetteAndBrand(t *testing.T) {
	cfg := config.Default()
	cfg.Brand.Text = "storyreel"
	cfg.Brand.Corner = "bottom-left"

	args := buildExportArgs(graphTestPlan(), graphTestOptions(), cfg, "libx264")
	graph := extractFilterGraph(t, args)

	if !strings.Contains(graph, "blend=all_mode=multiply:all_opacity=0.18") {
		t.Error("vignette blend missing")
	}
	if !strings.Contains(graph, "drawtext=text='storyreel'") {
		t.Error("brand drawtext missing")
	}
	if !strings.Contains(graph, "x=24:y=h-text_h-24") {
		t.Errorf("brand corner position wrong: %s", graph)
	}
}

func TestBuildExportArgsWindowsOverlays(t *testing.T) {
	plan := graphTestPlan()
	plan.Overlays = []OverlayJob{
		{Kind: overlay.KindCaption, Path: "/cache/cap.mov", StartSeconds: 5, EndSeconds: 12},
	}

	args := buildExportArgs(plan, graphTestOptions(), config.Default(), "libx264")
	graph := extractFilterGraph(t, args)

	if !strings.Contains(graph, "setpts=PTS+5/TB") {
		t.Error("overlay start shift missing")
	}
	if !strings.Contains(graph, "enable='between(t,5,12)'") {
		t.Errorf("overlay enable window missing: %s", graph)
	}
	if !strings.Contains(graph, "repeatlast=1") {
		t.Error("overlay must hold its last frame")
	}
}

func TestStackOverlaysPutsCreditsUnderCaptions(t *testing.T) {
	jobs := []OverlayJob{
		{Kind: overlay.KindCaption, Path: "cap1"},
		{Kind: overlay.KindCredit, Path: "cred1"},
		{Kind: overlay.KindCaption, Path: "cap2"},
	}

	ordered := stackOverlays(jobs)
	want := []string{"cred1", "cap1", "cap2"}
	for i, job := range ordered {
		if job.Path != want[i] {
			t.Fatalf("overlay order: got %v, want %v", pathsOf(ordered), want)
		}
	}
}

func TestBuildExportArgsAudioVariants(t *testing.T) {
	base := graphTestPlan()
	cfg := config.Default()
	opts := graphTestOptions()

	t.Run("no audio", func(t *testing.T) {
		args := buildExportArgs(base, opts, cfg, "libx264")
		if !containsArg(args, "-an") {
			t.Error("silent export must carry -an")
		}
	})

	t.Run("narration and music", func(t *testing.T) {
		plan := base
		plan.NarrationPath = "/audio/narration.m4a"
		plan.MusicPath = "/audio/music.mp3"
		args := buildExportArgs(plan, opts, cfg, "libx264")
		joined := strings.Join(args, " ")

		if !strings.Contains(joined, "amix=inputs=2:duration=first:normalize=0") {
			t.Error("mix must be narration-bounded and unnormalized")
		}
		if !strings.Contains(joined, "-stream_loop -1 -i /audio/music.mp3") {
			t.Error("music must loop")
		}
		if containsArg(args, "-an") {
			t.Error("-an emitted despite audio inputs")
		}
	})

	t.Run("music only is duration bounded", func(t *testing.T) {
		plan := base
		plan.MusicPath = "/audio/music.mp3"
		args := buildExportArgs(plan, opts, cfg, "libx264")
		joined := strings.Join(args, " ")

		if !strings.Contains(joined, "-t 12 -movflags") {
			t.Errorf("music-only export must bound output to the video duration: %s", joined)
		}
	})
}

func TestBuildAudioMix(t *testing.T) {
	t.Run("both", func(t *testing.T) {
		filter, mapLabel := buildAudioMix(audioPlan{NarrationIdx: 2, MusicIdx: 3, SampleRate: 48000, MusicVolume: 0.5})
		if mapLabel != "[aout]" {
			t.Errorf("map label: got %q", mapLabel)
		}
		if !strings.Contains(filter, "[2:a]aresample=48000[nar]") {
			t.Errorf("narration chain wrong: %s", filter)
		}
		if !strings.Contains(filter, "volume=0.5[mus]") {
			t.Errorf("music volume missing: %s", filter)
		}
	})

	t.Run("narration only", func(t *testing.T) {
		filter, mapLabel := buildAudioMix(audioPlan{NarrationIdx: 2, MusicIdx: -1, SampleRate: 44100})
		if mapLabel != "[aout]" || filter != "[2:a]aresample=44100[aout]" {
			t.Errorf("got %q / %q", filter, mapLabel)
		}
	})

	t.Run("neither", func(t *testing.T) {
		filter, mapLabel := buildAudioMix(audioPlan{NarrationIdx: -1, MusicIdx: -1})
		if filter != "" || mapLabel != "" {
			t.Errorf("got %q / %q, want empty", filter, mapLabel)
		}
	})
}

func TestOverlayY(t *testing.T) {
	if got := overlayY(overlay.KindCredit, 1080); got != "main_h-overlay_h" {
		t.Errorf("credit y: got %q", got)
	}
	if got := overlayY(overlay.KindCaption, 1080); got != "main_h-overlay_h-135" {
		t.Errorf("caption y: got %q", got)
	}
}

func extractFilterGraph(t *testing.T, args []string) string {
	t.Helper()
	for i, arg := range args {
		if arg == "-filter_complex" && i+1 < len(args) {
			return args[i+1]
		}
	}
	t.Fatal("no -filter_complex in args")
	return ""
}

func containsArg(args []string, want string) bool {
	for _, arg := range args {
		if arg == want {
			return true
		}
	}
	return false
}

func pathsOf(jobs []OverlayJob) []string {
	out := make([]string, len(jobs))
	for i, job := range jobs {
		out[i] = job.Path
	}
	return out
}
