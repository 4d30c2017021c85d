package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"storyreel/internal/export"
	"storyreel/internal/timeline"
	"storyreel/internal/tui"
)

var (
	exportOutputDir  string
	exportName       string
	exportResolution string
	exportBitrate    int
	exportFPS        int
	exportCodec      string
	exportNoCaptions bool
	exportNoCredits  bool
	exportNoProgress bool
)

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the timeline to a single video file",
		RunE:  runExport,
	}

	cmd.Flags().StringVar(&exportOutputDir, "output-dir", "", "Directory for the exported file (defaults to the project output dir)")
	cmd.Flags().StringVar(&exportName, "name", "export", "Base name of the exported file")
	cmd.Flags().StringVar(&exportResolution, "resolution", "", "Output resolution: 480p, 720p, or 1080p (defaults to config)")
	cmd.Flags().IntVar(&exportBitrate, "bitrate", 0, "Video bitrate in kbps (defaults to config)")
	cmd.Flags().IntVar(&exportFPS, "fps", 0, "Output framerate (defaults to config)")
	cmd.Flags().StringVar(&exportCodec, "codec", "", "Video codec: h264 or h265 (defaults to config)")
	cmd.Flags().BoolVar(&exportNoCaptions, "no-captions", false, "Skip caption overlays")
	cmd.Flags().BoolVar(&exportNoCredits, "no-credits", false, "Skip credit overlays")
	cmd.Flags().BoolVar(&exportNoProgress, "no-progress", false, "Disable interactive progress output")

	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	tl, err := timeline.Load(app.Paths.TimelineFile)
	if err != nil {
		return err
	}

	opts := export.Options{
		Resolution:      app.Config.Video.Resolution,
		BitrateKbps:     app.Config.Video.BitrateKbps,
		FPS:             app.Config.Video.FPS,
		Codec:           app.Config.Video.Codec,
		OutputDirectory: exportOutputDir,
		FileBaseName:    exportName,
		EnableCaptions:  app.Config.Overlays.CaptionsEnabled() && !exportNoCaptions,
		EnableCredits:   app.Config.Overlays.CreditsEnabled() && !exportNoCredits,
	}
	if exportResolution != "" {
		opts.Resolution = exportResolution
	}
	if exportBitrate > 0 {
		opts.BitrateKbps = exportBitrate
	}
	if exportFPS > 0 {
		opts.FPS = exportFPS
	}
	if exportCodec != "" {
		opts.Codec = exportCodec
	}

	// An interrupt cancels the running export instead of abandoning the
	// encode process.
	go func() {
		<-ctx.Done()
		app.Engine.Cancel()
	}()

	if exportNoProgress || outputJSON {
		result, err := app.Engine.Export(ctx, tl, opts)
		if err != nil {
			return err
		}
		return writeExportResult(cmd, result)
	}

	columns := []tui.Column{
		{Header: "INDEX", Width: 5},
		{Header: "CAPTION", Width: 28},
		{Header: "STATUS", Width: 12},
	}
	model := tui.NewProgressModel("Exporting", columns)
	for _, spec := range tl.Segments {
		status := "not ready"
		if app.Tracker.IsReady(spec.Index) {
			status = "ready"
		}
		model.AddRow(tui.SegmentKey(spec.Index), []string{
			fmt.Sprintf("%03d", spec.Index),
			tui.TruncateWithEllipsis(spec.CaptionText, 28),
			status,
		})
	}

	var (
		result    export.Result
		exportErr error
	)
	err = tui.RunWithWork(cmd.OutOrStdout(), model, func(send func(tea.Msg)) {
		app.Engine.OnProgress = tui.ExportListener(send)
		result, exportErr = app.Engine.Export(ctx, tl, opts)
	})
	if err != nil {
		return err
	}
	if exportErr != nil {
		return exportErr
	}
	return writeExportResult(cmd, result)
}

func writeExportResult(cmd *cobra.Command, result export.Result) error {
	if outputJSON {
		payload := struct {
			OutputPath string `json:"output_path,omitempty"`
			Cancelled  bool   `json:"cancelled"`
		}{result.OutputPath, result.Cancelled}
		return json.NewEncoder(cmd.OutOrStdout()).Encode(payload)
	}

	if result.Cancelled {
		fmt.Fprintln(cmd.OutOrStdout(), "export cancelled")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "exported %s\n", result.OutputPath)
	return nil
}
