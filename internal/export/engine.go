package export

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"storyreel/internal/capability"
	"storyreel/internal/config"
	"storyreel/internal/execx"
	"storyreel/internal/logx"
	"storyreel/internal/overlay"
	"storyreel/internal/paths"
	"storyreel/internal/render/state"
	"storyreel/internal/timeline"
)

// ErrExportBusy is returned when an export is requested while another one is
// still running. Only one export job may run at a time.
var ErrExportBusy = errors.New("an export is already running")

// Result is the outcome of an export. A cancelled export resolves with
// Cancelled=true and no error; failures return an error instead.
type Result struct {
	OutputPath string
	Cancelled  bool
}

// Engine assembles and runs the final multi-segment export. It reads segment
// readiness through the tracker and never mutates render state.
type Engine struct {
	Config     config.Config
	Paths      paths.ProjectPaths
	Capability capability.Capability
	Tracker    *state.Tracker
	Captions   *overlay.Renderer
	Credits    *overlay.Renderer
	FFmpegPath string
	Start      execx.StartFunc
	Timeout    time.Duration
	Logger     *log.Logger
	OnProgress func(Progress)

	inFlight  atomic.Bool
	cancelled atomic.Bool

	procMu sync.Mutex
	proc   execx.Process
}

// Cancel requests cancellation of the running export: the in-flight encode
// process is terminated and the export resolves with a cancelled result.
func (e *Engine) Cancel() {
	e.cancelled.Store(true)
	e.procMu.Lock()
	proc := e.proc
	e.procMu.Unlock()
	if proc != nil {
		proc.Kill()
	}
}

// Export renders the timeline to a single output file, using pre-rendered
// composites where the tracker reports them ready and raw source clips
// otherwise, so export always succeeds in a degraded form.
func (e *Engine) Export(ctx context.Context, tl timeline.Timeline, opts Options) (Result, error) {
	if !e.inFlight.CompareAndSwap(false, true) {
		return Result{}, ErrExportBusy
	}
	defer e.inFlight.Store(false)
	e.cancelled.Store(false)

	e.emit(Progress{Stage: StagePreparing})

	opts, err := opts.Normalize()
	if err != nil {
		return e.fail(err)
	}
	if err := tl.Validate(); err != nil {
		return e.fail(fmt.Errorf("invalid timeline: %w", err))
	}

	plan, err := e.resolve(tl, opts)
	if err != nil {
		return e.fail(err)
	}

	e.emit(Progress{Stage: StageOverlays})
	if err := e.prepareOverlays(ctx, tl, opts, &plan); err != nil {
		return e.fail(err)
	}
	if e.cancelled.Load() {
		// The encoder never started; a file at the output path is a previous
		// export and must survive.
		return e.cancelResult("")
	}

	encoder := e.Capability.EncoderFor(opts.Codec)
	args := buildExportArgs(plan, opts, e.Config, encoder)
	total := time.Duration(plan.TotalSeconds * float64(time.Second))

	e.emit(Progress{Stage: StageEncoding, ETASeconds: -1})
	e.logger().Printf("export: encoding %d segments with %s -> %s", len(plan.Segments), encoder, plan.OutputPath)

	started := time.Now()
	start := e.Start
	if start == nil {
		start = execx.Start
	}
	proc, err := start(e.ffmpeg(), args, execx.MonitorOptions{
		OnProgress: func(outTime time.Duration) {
			e.emit(Progress{
				Stage:      StageEncoding,
				Percent:    encodePercent(outTime, total),
				ETASeconds: encodeETA(time.Since(started), outTime, total),
			})
		},
	})
	if err != nil {
		return e.fail(fmt.Errorf("start encoder: %w", err))
	}

	e.procMu.Lock()
	e.proc = proc
	e.procMu.Unlock()
	if e.cancelled.Load() {
		proc.Kill()
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = time.Hour
	}
	waitCtx, cancelWait := context.WithTimeout(ctx, timeout)
	defer cancelWait()

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

	e.procMu.Lock()
	e.proc = nil
	e.procMu.Unlock()

	if e.cancelled.Load() {
		// A process error after cancellation is the expected side effect of
		// the kill, not a failure.
		return e.cancelResult(plan.OutputPath)
	}
	if waitErr != nil {
		_ = os.Remove(plan.OutputPath)
		if ctxErr := waitCtx.Err(); ctxErr != nil {
			return e.fail(fmt.Errorf("export encode: %w", ctxErr))
		}
		return e.fail(fmt.Errorf("export encode failed: %w", waitErr))
	}

	e.emit(Progress{Stage: StageComplete, Percent: 100})
	return Result{OutputPath: plan.OutputPath}, nil
}

// resolve maps each timeline entry to a composite or raw input and validates
// every path before any process is spawned.
func (e *Engine) resolve(tl timeline.Timeline, opts Options) (exportPlan, error) {
	plan := exportPlan{
		NarrationPath: tl.NarrationPath,
		MusicPath:     tl.MusicPath,
		TotalSeconds:  tl.TotalDuration(),
	}

	for i, spec := range tl.Segments {
		seg := ResolvedSegment{
			Index:           spec.Index,
			DurationSeconds: spec.DurationSeconds,
			StartSeconds:    tl.StartOffset(i),
		}
		if path, ok := e.Tracker.CompositePath(spec.Index); ok {
			seg.InputPath = path
			seg.Prerendered = true
		} else {
			seg.InputPath = spec.SourceVideoPath
		}
		exists, err := paths.FileExists(seg.InputPath)
		if err != nil || !exists {
			return plan, fmt.Errorf("segment %d input not resolvable: %s", spec.Index, seg.InputPath)
		}
		plan.Segments = append(plan.Segments, seg)
	}

	for _, audioPath := range []string{plan.NarrationPath, plan.MusicPath} {
		if audioPath == "" {
			continue
		}
		exists, err := paths.FileExists(audioPath)
		if err != nil || !exists {
			return plan, fmt.Errorf("audio track not resolvable: %s", audioPath)
		}
	}

	outDir := opts.OutputDirectory
	if strings.TrimSpace(outDir) == "" {
		outDir = e.Paths.OutputDir
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return plan, fmt.Errorf("ensure output directory: %w", err)
	}
	plan.OutputPath = filepath.Join(outDir, opts.FileBaseName+".mp4")
	return plan, nil
}

// overlayTask is one overlay render owed to a raw-source segment.
type overlayTask struct {
	segIndex int
	kind     overlay.Kind
	renderer *overlay.Renderer
	text     string
	duration float64
	start    float64
	end      float64
}

// prepareOverlays renders (or pulls from cache) the overlay clips for every
// segment that fell back to its raw source, and computes their time windows
// from cumulative segment offsets. Renders run in parallel bounded by the
// configured overlay batch size; results keep timeline order.
func (e *Engine) prepareOverlays(ctx context.Context, tl timeline.Timeline, opts Options, plan *exportPlan) error {
	var tasks []overlayTask
	for i, spec := range tl.Segments {
		if plan.Segments[i].Prerendered {
			continue
		}
		start := plan.Segments[i].StartSeconds
		end := start + spec.DurationSeconds

		if opts.EnableCredits && strings.TrimSpace(spec.CreditText) != "" {
			tasks = append(tasks, overlayTask{
				segIndex: spec.Index, kind: overlay.KindCredit, renderer: e.Credits,
				text: spec.CreditText, duration: spec.DurationSeconds,
				start: start, end: end,
			})
		}
		if opts.EnableCaptions && strings.TrimSpace(spec.CaptionText) != "" {
			tasks = append(tasks, overlayTask{
				segIndex: spec.Index, kind: overlay.KindCaption, renderer: e.Captions,
				text: spec.CaptionText, duration: spec.DurationSeconds,
				start: start, end: end,
			})
		}
	}

	batch := e.Config.Render.OverlayBatchSize
	if batch < 1 {
		batch = 1
	}
	clipPaths := make([]string, len(tasks))
	renderErrs := make([]error, len(tasks))
	sem := make(chan struct{}, batch)
	var wg sync.WaitGroup
	for i, task := range tasks {
		if e.cancelled.Load() {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, task overlayTask) {
			defer wg.Done()
			defer func() { <-sem }()
			clipPaths[i], renderErrs[i] = task.renderer.Render(ctx, task.text, task.duration)
		}(i, task)
	}
	wg.Wait()

	for i, task := range tasks {
		if renderErrs[i] != nil {
			return fmt.Errorf("%s overlay for segment %d: %w", task.kind, task.segIndex, renderErrs[i])
		}
		if clipPaths[i] == "" {
			continue
		}
		plan.Overlays = append(plan.Overlays, OverlayJob{
			Kind: task.kind, Path: clipPaths[i],
			StartSeconds: task.start, EndSeconds: task.end,
		})
	}
	return nil
}

func (e *Engine) cancelResult(outputPath string) (Result, error) {
	if outputPath != "" {
		// Never leave partial output behind as a usable artifact.
		_ = os.Remove(outputPath)
	}
	e.emit(Progress{Stage: StageCancelled})
	return Result{Cancelled: true}, nil
}

func (e *Engine) fail(err error) (Result, error) {
	e.logger().Printf("export: %v", err)
	e.emit(Progress{Stage: StageError})
	return Result{}, err
}

func (e *Engine) emit(p Progress) {
	if e.OnProgress != nil {
		e.OnProgress(p)
	}
}

func (e *Engine) ffmpeg() string {
	if e.FFmpegPath != "" {
		return e.FFmpegPath
	}
	return capability.FFmpegPath()
}

func (e *Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logx.Discard()
}
