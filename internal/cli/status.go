package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"storyreel/internal/render/state"
	"storyreel/internal/timeline"
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show segment readiness for the current timeline",
		RunE:  runStatus,
	}
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
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

	rows := make([]statusRow, 0, len(tl.Segments))
	var ready int
	for _, spec := range tl.Segments {
		row := statusRow{
			Index:           spec.Index,
			Caption:         spec.CaptionText,
			DurationSeconds: spec.DurationSeconds,
		}

		// Stale entries count as not ready even when a composite file exists.
		current := state.Fingerprint(spec)
		if st, ok := app.Tracker.Get(spec.Index); ok && st.Fingerprint == current && app.Tracker.IsReady(spec.Index) {
			row.Ready = true
			row.CompositePath = st.CompositePath
			ready++
		} else if st, ok := app.Tracker.Get(spec.Index); ok && st.LastError != "" {
			row.Error = st.LastError
		}
		rows = append(rows, row)
	}

	if outputJSON {
		payload := struct {
			Project string      `json:"project"`
			Ready   int         `json:"ready"`
			Total   int         `json:"total"`
			Rows    []statusRow `json:"rows"`
		}{app.Paths.Root, ready, len(rows), rows}
		out, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("encode status json: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Project: %s\n", app.Paths.Root)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tREADY\tDURATION\tCAPTION\tCOMPOSITE")
	for _, row := range rows {
		readyLabel := "no"
		if row.Ready {
			readyLabel = "yes"
		}
		composite := row.CompositePath
		if composite == "" {
			composite = "-"
		}
		if row.Error != "" {
			composite = "error: " + row.Error
		}
		fmt.Fprintf(w, "%03d\t%s\t%.1fs\t%s\t%s\n",
			row.Index, readyLabel, row.DurationSeconds, row.Caption, composite)
	}
	w.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "%d/%d segments ready\n", ready, len(rows))
	return nil
}

type statusRow struct {
	Index           int     `json:"index"`
	Caption         string  `json:"caption,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Ready           bool    `json:"ready"`
	CompositePath   string  `json:"composite_path,omitempty"`
	Error           string  `json:"error,omitempty"`
}
