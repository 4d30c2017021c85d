package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"storyreel/internal/capability"
	"storyreel/internal/config"
	"storyreel/internal/execx"
	"storyreel/internal/overlay"
	"storyreel/internal/paths"
	"storyreel/internal/render/state"
	"storyreel/internal/timeline"
)

// fakeProcess resolves Wait on demand and on Kill.
type fakeProcess struct {
	waitCh   chan error
	killCh   chan struct{}
	killOnce sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{
		waitCh: make(chan error, 1),
		killCh: make(chan struct{}),
	}
}

func (p *fakeProcess) Wait() error {
	select {
	case err := <-p.waitCh:
		return err
	case <-p.killCh:
		return errors.New("signal: killed")
	}
}

func (p *fakeProcess) Kill() {
	p.killOnce.Do(func() { close(p.killCh) })
}

// fakeStart records the encode invocation and hands back a controllable process.
type fakeStart struct {
	mu      sync.Mutex
	args    []string
	proc    *fakeProcess
	started chan struct{}
}

func newFakeStart() *fakeStart {
	return &fakeStart{
		proc:    newFakeProcess(),
		started: make(chan struct{}),
	}
}

func (f *fakeStart) fn(_ string, args []string, _ execx.MonitorOptions) (execx.Process, error) {
	f.mu.Lock()
	f.args = args
	f.mu.Unlock()
	close(f.started)
	return f.proc, nil
}

func (f *fakeStart) capturedArgs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.args
}

// progressLog collects stage emissions across goroutines.
type progressLog struct {
	mu     sync.Mutex
	stages []Stage
}

func (l *progressLog) record(p Progress) {
	l.mu.Lock()
	l.stages = append(l.stages, p.Stage)
	l.mu.Unlock()
}

func (l *progressLog) has(stage Stage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.stages {
		if s == stage {
			return true
		}
	}
	return false
}

func engineTestSetup(t *testing.T) (*Engine, timeline.Timeline, *fakeStart, *progressLog) {
	t.Helper()
	root := t.TempDir()
	pp := paths.New(root)
	if err := pp.EnsureMetaDirs(); err != nil {
		t.Fatal(err)
	}

	source1 := filepath.Join(root, "raw1.mp4")
	source2 := filepath.Join(root, "raw2.mp4")
	for _, p := range []string{source1, source2} {
		if err := os.WriteFile(p, []byte("fake video"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	tl := timeline.Timeline{Segments: []timeline.SegmentSpec{
		{Index: 1, SourceVideoPath: source1, DurationSeconds: 5},
		{Index: 2, SourceVideoPath: source2, DurationSeconds: 7},
	}}

	// Segment 1 has a ready composite; segment 2 falls back to its source.
	tracker := state.NewTracker(nil)
	tracker.Apply(tl.Segments[0])
	composite := filepath.Join(pp.SegmentsDir, "001_cached.mp4")
	if err := os.WriteFile(composite, []byte("fake composite"), 0o644); err != nil {
		t.Fatal(err)
	}
	tracker.Complete(1, state.Fingerprint(tl.Segments[0]), composite)

	start := newFakeStart()
	log := &progressLog{}
	engine := &Engine{
		Config: config.Default(),
		Paths:  pp,
		Capability: capability.Capability{
			EncoderByFamily: map[string]string{"h264": "libx264", "h265": "libx265"},
		},
		Tracker:    tracker,
		Start:      start.fn,
		OnProgress: log.record,
	}
	return engine, tl, start, log
}

func TestExportUsesCompositesAndFallsBack(t *testing.T) {
	engine, tl, start, log := engineTestSetup(t)
	start.proc.waitCh <- nil

	result, err := engine.Export(context.Background(), tl, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if result.Cancelled {
		t.Fatal("successful export reported cancelled")
	}
	if filepath.Base(result.OutputPath) != "export.mp4" {
		t.Errorf("output path: got %q", result.OutputPath)
	}

	joined := strings.Join(start.capturedArgs(), " ")
	if !strings.Contains(joined, "001_cached.mp4") {
		t.Error("ready composite not used as input")
	}
	if !strings.Contains(joined, "raw2.mp4") {
		t.Error("raw source fallback not used for unready segment")
	}

	for _, stage := range []Stage{StagePreparing, StageOverlays, StageEncoding, StageComplete} {
		if !log.has(stage) {
			t.Errorf("stage %q never emitted", stage)
		}
	}
}

func TestExportCancelResolvesCleanly(t *testing.T) {
	engine, tl, start, log := engineTestSetup(t)

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := engine.Export(context.Background(), tl, Options{})
		done <- outcome{result, err}
	}()

	<-start.started
	engine.Cancel()

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("cancelled export must not error, got %v", out.err)
		}
		if !out.result.Cancelled {
			t.Error("cancelled export must report Cancelled")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("export did not resolve after cancel")
	}

	if !log.has(StageCancelled) {
		t.Error("cancelled stage never emitted")
	}
	if log.has(StageError) {
		t.Error("cancellation must not surface as an error stage")
	}
}

func TestExportRejectsConcurrentRuns(t *testing.T) {
	engine, tl, start, _ := engineTestSetup(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = engine.Export(context.Background(), tl, Options{})
	}()
	<-start.started

	if _, err := engine.Export(context.Background(), tl, Options{}); !errors.Is(err, ErrExportBusy) {
		t.Errorf("second export: got %v, want ErrExportBusy", err)
	}

	start.proc.waitCh <- nil
	<-done
}

func TestExportEncodeFailureRemovesPartialOutput(t *testing.T) {
	engine, tl, start, log := engineTestSetup(t)

	outPath := filepath.Join(engine.Paths.OutputDir, "export.mp4")
	go func() {
		<-start.started
		// Simulate the encoder dying after writing a partial file.
		_ = os.WriteFile(outPath, []byte("partial"), 0o644)
		start.proc.waitCh <- errors.New("encoder crashed")
	}()

	_, err := engine.Export(context.Background(), tl, Options{})
	if err == nil {
		t.Fatal("failed encode must return an error")
	}
	if !log.has(StageError) {
		t.Error("error stage never emitted")
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Error("partial output left behind after failure")
	}
}

func TestExportValidatesInputsUpFront(t *testing.T) {
	engine, tl, _, log := engineTestSetup(t)
	tl.Segments[1].SourceVideoPath = filepath.Join(t.TempDir(), "missing.mp4")

	if _, err := engine.Export(context.Background(), tl, Options{}); err == nil {
		t.Fatal("missing input must fail before encoding")
	}
	if log.has(StageEncoding) {
		t.Error("encoding started despite unresolvable input")
	}
}

func TestExportKillsHungEncodeOnTimeout(t *testing.T) {
	engine, tl, start, log := engineTestSetup(t)
	engine.Timeout = 50 * time.Millisecond

	outPath := filepath.Join(engine.Paths.OutputDir, "export.mp4")
	go func() {
		<-start.started
		// The encoder hangs after writing a partial file; waitCh never
		// resolves, only the kill ends the wait.
		_ = os.WriteFile(outPath, []byte("partial"), 0o644)
	}()

	result, err := engine.Export(context.Background(), tl, Options{})
	if err == nil {
		t.Fatal("hung encode must fail once the timeout elapses")
	}
	if result.Cancelled {
		t.Error("timeout must surface as a failure, not a cancellation")
	}
	if !log.has(StageError) {
		t.Error("error stage never emitted")
	}
	if _, statErr := os.Stat(outPath); !os.IsNotExist(statErr) {
		t.Error("partial output left behind after timeout")
	}
}

func TestExportCancelBeforeEncodeKeepsPriorOutput(t *testing.T) {
	engine, tl, _, log := engineTestSetup(t)

	prior := filepath.Join(engine.Paths.OutputDir, "export.mp4")
	if err := os.WriteFile(prior, []byte("previous export"), 0o644); err != nil {
		t.Fatal(err)
	}

	engine.OnProgress = func(p Progress) {
		log.record(p)
		if p.Stage == StageOverlays {
			engine.Cancel()
		}
	}

	result, err := engine.Export(context.Background(), tl, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Cancelled {
		t.Error("cancelled export must report Cancelled")
	}
	if log.has(StageEncoding) {
		t.Error("encoding started after cancellation")
	}
	if _, statErr := os.Stat(prior); statErr != nil {
		t.Error("cancel before the encoder started must not remove an earlier export")
	}
}

// batchRunner fakes the overlay render binary and records how many
// invocations overlap.
type batchRunner struct {
	mu      sync.Mutex
	active  int
	maxSeen int
	calls   int
}

func (r *batchRunner) Run(_ context.Context, _ string, args []string, _ execx.RunOptions) (execx.RunResult, error) {
	r.mu.Lock()
	r.active++
	r.calls++
	if r.active > r.maxSeen {
		r.maxSeen = r.active
	}
	r.mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	r.mu.Lock()
	r.active--
	r.mu.Unlock()
	return execx.RunResult{}, os.WriteFile(args[len(args)-1], []byte("fake overlay"), 0o644)
}

func TestExportBoundsOverlayRenderBatch(t *testing.T) {
	engine, _, start, _ := engineTestSetup(t)
	start.proc.waitCh <- nil
	engine.Config.Render.OverlayBatchSize = 2

	runner := &batchRunner{}
	captions := overlay.NewRenderer(overlay.KindCaption, t.TempDir(), overlay.NewStore())
	captions.Runner = runner
	engine.Captions = captions

	root := t.TempDir()
	var tl timeline.Timeline
	for i := 1; i <= 4; i++ {
		src := filepath.Join(root, fmt.Sprintf("raw%d.mp4", i))
		if err := os.WriteFile(src, []byte("fake video"), 0o644); err != nil {
			t.Fatal(err)
		}
		tl.Segments = append(tl.Segments, timeline.SegmentSpec{
			Index:           10 + i,
			SourceVideoPath: src,
			CaptionText:     fmt.Sprintf("caption %d", i),
			DurationSeconds: 5,
		})
	}

	if _, err := engine.Export(context.Background(), tl, Options{EnableCaptions: true}); err != nil {
		t.Fatal(err)
	}

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.calls != 4 {
		t.Errorf("overlay renders: got %d, want 4", runner.calls)
	}
	if runner.maxSeen > 2 {
		t.Errorf("overlay batch bound violated: saw %d simultaneous renders", runner.maxSeen)
	}
}

func TestExportHonorsOutputOptions(t *testing.T) {
	engine, tl, start, _ := engineTestSetup(t)
	start.proc.waitCh <- nil

	outDir := t.TempDir()
	result, err := engine.Export(context.Background(), tl, Options{
		OutputDirectory: outDir,
		FileBaseName:    "episode-01",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(outDir, "episode-01.mp4")
	if result.OutputPath != want {
		t.Errorf("output path: got %q, want %q", result.OutputPath, want)
	}
}
