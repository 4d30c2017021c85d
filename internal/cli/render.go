package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"storyreel/internal/render"
	"storyreel/internal/timeline"
	"storyreel/internal/tui"
)

var (
	renderConcurrency int
	renderForce       bool
	renderNoProgress  bool
)

func newRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Pre-render stale segment composites from the timeline",
		RunE:  runRender,
	}

	cmd.Flags().IntVar(&renderConcurrency, "concurrency", 0, "Concurrent segment renders (0 uses config)")
	cmd.Flags().BoolVar(&renderForce, "force", false, "Re-render every segment regardless of cached state")
	cmd.Flags().BoolVar(&renderNoProgress, "no-progress", false, "Disable interactive progress output")

	return cmd
}

func runRender(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	tl, err := timeline.Load(app.Paths.TimelineFile)
	if err != nil {
		return err
	}

	if renderConcurrency > 0 {
		app.Queue.MaxConcurrent = renderConcurrency
	}
	if renderForce {
		app.Queue.Reset()
	}

	var (
		mu      sync.Mutex
		results = make(map[int]render.Event, len(tl.Segments))
	)
	recordResult := func(ev render.Event) {
		if ev.Type == render.EventStarted {
			return
		}
		mu.Lock()
		results[ev.Index] = ev
		mu.Unlock()
	}

	if renderNoProgress || outputJSON {
		app.Queue.Listener = recordResult
		app.Queue.SetTimeline(tl)
		if err := app.Queue.Quiesce(ctx); err != nil {
			return err
		}
		if err := app.SaveState(); err != nil {
			return err
		}
		if outputJSON {
			return writeRenderJSON(cmd, app.Paths.Root, tl, results)
		}
		writeRenderTable(cmd, tl, results)
		return nil
	}

	columns := []tui.Column{
		{Header: "INDEX", Width: 5},
		{Header: "CAPTION", Width: 28},
		{Header: "STATUS", Width: 10},
		{Header: "OUTPUT", Width: 48},
	}
	model := tui.NewProgressModel("Rendering segments", columns)
	for _, spec := range tl.Segments {
		status := "pending"
		if app.Tracker.IsReady(spec.Index) && !renderForce {
			status = "cached"
		}
		model.AddRow(tui.SegmentKey(spec.Index), []string{
			fmt.Sprintf("%03d", spec.Index),
			tui.TruncateWithEllipsis(spec.CaptionText, 28),
			status,
			"-",
		})
	}

	err = tui.RunWithWork(cmd.OutOrStdout(), model, func(send func(tea.Msg)) {
		rowListener := tui.QueueListener(send)
		app.Queue.Listener = func(ev render.Event) {
			recordResult(ev)
			rowListener(ev)
		}
		app.Queue.SetTimeline(tl)

		quiesceCtx, cancel := context.WithTimeout(ctx, 2*time.Hour)
		defer cancel()
		if err := app.Queue.Quiesce(quiesceCtx); err != nil {
			send(tui.ErrorMsg{Err: err})
		}
	})
	if err != nil {
		return err
	}
	if err := app.SaveState(); err != nil {
		return err
	}

	writeRenderSummary(cmd, tl, results)
	return nil
}

func writeRenderTable(cmd *cobra.Command, tl timeline.Timeline, results map[int]render.Event) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tSTATUS\tOUTPUT")
	for _, spec := range tl.Segments {
		status, output := "cached", "-"
		if ev, ok := results[spec.Index]; ok {
			if ev.Type == render.EventError {
				status = "failed"
				if ev.Err != nil {
					output = ev.Err.Error()
				}
			} else {
				status = "rendered"
				output = ev.CompositePath
			}
		}
		fmt.Fprintf(w, "%03d\t%s\t%s\n", spec.Index, status, output)
	}
	w.Flush()

	writeRenderSummary(cmd, tl, results)
}

func writeRenderSummary(cmd *cobra.Command, tl timeline.Timeline, results map[int]render.Event) {
	var rendered, failed int
	for _, ev := range results {
		if ev.Type == render.EventError {
			failed++
		} else {
			rendered++
		}
	}
	cached := len(tl.Segments) - rendered - failed
	if cached < 0 {
		cached = 0
	}

	fmt.Fprintf(cmd.OutOrStdout(), "completed renders: %d rendered, %d cached, %d failed\n", rendered, cached, failed)
	if failed > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d render(s) failed; see logs for details\n", failed)
	}
}

func writeRenderJSON(cmd *cobra.Command, project string, tl timeline.Timeline, results map[int]render.Event) error {
	payload := struct {
		Project string             `json:"project"`
		Results []renderJSONResult `json:"results"`
		Summary renderJSONSummary  `json:"summary"`
	}{
		Project: project,
		Results: make([]renderJSONResult, 0, len(tl.Segments)),
	}

	for _, spec := range tl.Segments {
		res := renderJSONResult{Index: spec.Index, Status: "cached"}
		if ev, ok := results[spec.Index]; ok {
			if ev.Type == render.EventError {
				res.Status = "failed"
				res.Error = errorString(ev.Err)
				payload.Summary.Failed++
			} else {
				res.Status = "rendered"
				res.OutputPath = ev.CompositePath
				payload.Summary.Rendered++
			}
		} else {
			payload.Summary.Cached++
		}
		payload.Results = append(payload.Results, res)
	}

	sort.Slice(payload.Results, func(i, j int) bool {
		return payload.Results[i].Index < payload.Results[j].Index
	})

	out, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode render json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

type renderJSONResult struct {
	Index      int    `json:"index"`
	Status     string `json:"status"`
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

type renderJSONSummary struct {
	Rendered int `json:"rendered"`
	Cached   int `json:"cached"`
	Failed   int `json:"failed"`
}

func errorString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
