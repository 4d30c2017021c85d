package cli

import (
	"context"
	"io"
	"log"
	"time"

	"storyreel/internal/capability"
	"storyreel/internal/config"
	"storyreel/internal/execx"
	"storyreel/internal/export"
	"storyreel/internal/logx"
	"storyreel/internal/overlay"
	"storyreel/internal/paths"
	"storyreel/internal/render"
	"storyreel/internal/render/state"
)

// app wires the pipeline components for one CLI invocation.
type app struct {
	Paths      paths.ProjectPaths
	Config     config.Config
	Capability capability.Capability
	Tracker    *state.Tracker
	Queue      *render.Queue
	Engine     *export.Engine
	Captions   *overlay.Renderer
	Credits    *overlay.Renderer
	Logger     *log.Logger

	logCloser io.Closer
}

// newApp resolves the project, loads config and persisted state, probes
// capability, and constructs the renderer/queue/engine graph.
func newApp(ctx context.Context) (*app, error) {
	pp, err := paths.Resolve(projectDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(pp.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := pp.EnsureMetaDirs(); err != nil {
		return nil, err
	}

	logger, closer, err := logx.New(pp)
	if err != nil {
		return nil, err
	}

	ffmpeg := capability.FFmpegPath()
	detector := &capability.Detector{
		FFmpegPath:  ffmpeg,
		ProfilePath: pp.CapabilityFile,
	}
	cap := detector.Detect(ctx)
	logger.Printf("capability: %s", cap)

	width, _ := cfg.Video.Dimensions()

	captions := overlay.NewRenderer(overlay.KindCaption, pp.OverlayKindDir("caption"), overlay.NewStore())
	captions.Style = cfg.Overlays.Caption
	captions.FontFile = cfg.Overlays.FontFile
	captions.FrameWidth = width
	captions.FPS = cfg.Video.FPS
	captions.Timeout = time.Duration(cfg.Render.OverlayTimeoutSec) * time.Second
	captions.FFmpegPath = ffmpeg
	captions.Graphics = cap.Graphics
	captions.Logger = logger

	credits := overlay.NewRenderer(overlay.KindCredit, pp.OverlayKindDir("credit"), overlay.NewStore())
	credits.Style = cfg.Overlays.Credit
	credits.FontFile = cfg.Overlays.FontFile
	credits.FrameWidth = width
	credits.FPS = cfg.Video.FPS
	credits.Timeout = time.Duration(cfg.Render.OverlayTimeoutSec) * time.Second
	credits.FFmpegPath = ffmpeg
	credits.Graphics = cap.Graphics
	credits.Logger = logger

	tracker, err := state.Load(pp.RenderStateFile, nil)
	if err != nil {
		return nil, err
	}

	compositor := &export.SegmentRenderer{
		Config:     cfg,
		Capability: cap,
		FFmpegPath: ffmpeg,
		Runner:     execx.CmdRunner{},
		Timeout:    time.Duration(cfg.Render.SegmentTimeoutSec) * time.Second,
		LogDir:     pp.LogsDir,
	}

	queue := render.NewQueue(ctx, tracker, compositor)
	queue.Captions = captions
	queue.Credits = credits
	queue.SegmentsDir = pp.SegmentsDir
	queue.MaxConcurrent = cfg.Render.MaxConcurrentSegments
	queue.EnableCaptions = cfg.Overlays.CaptionsEnabled()
	queue.EnableCredits = cfg.Overlays.CreditsEnabled()
	queue.Logger = logger

	engine := &export.Engine{
		Config:     cfg,
		Paths:      pp,
		Capability: cap,
		Tracker:    tracker,
		Captions:   captions,
		Credits:    credits,
		FFmpegPath: ffmpeg,
		Timeout:    time.Duration(cfg.Render.ExportTimeoutSec) * time.Second,
		Logger:     logger,
	}

	return &app{
		Paths:      pp,
		Config:     cfg,
		Capability: cap,
		Tracker:    tracker,
		Queue:      queue,
		Engine:     engine,
		Captions:   captions,
		Credits:    credits,
		Logger:     logger,
		logCloser:  closer,
	}, nil
}

// Close flushes and releases the invocation log.
func (a *app) Close() {
	if a.logCloser != nil {
		_ = a.logCloser.Close()
	}
}

// SaveState persists completed renders for the next invocation.
func (a *app) SaveState() error {
	return a.Tracker.Save(a.Paths.RenderStateFile)
}
