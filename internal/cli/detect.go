package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"storyreel/internal/capability"
	"storyreel/internal/paths"
)

var detectRefresh bool

func newDetectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Probe ffmpeg encoders and graphics capability",
		RunE:  runDetect,
	}

	cmd.Flags().BoolVar(&detectRefresh, "refresh", false, "Discard the cached profile and re-probe")

	return cmd
}

func runDetect(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	pp, err := paths.Resolve(projectDir)
	if err != nil {
		return err
	}
	if err := pp.EnsureMetaDirs(); err != nil {
		return err
	}

	detector := &capability.Detector{
		FFmpegPath:  capability.FFmpegPath(),
		ProfilePath: pp.CapabilityFile,
	}
	if detectRefresh {
		if err := detector.Refresh(); err != nil {
			return err
		}
	}
	cap := detector.Detect(ctx)

	if outputJSON {
		out, err := json.MarshalIndent(cap, "", "  ")
		if err != nil {
			return fmt.Errorf("encode capability json: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
	fmt.Fprintln(w, "FAMILY\tENCODER\tHARDWARE")
	for _, family := range capability.Families {
		fmt.Fprintf(w, "%s\t%s\t%v\n", family.Name, cap.EncoderFor(family.Name), cap.HardwareEncoder(family.Name))
	}
	w.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "graphics: %s\nparallelism: %d\nprobed: %s\n",
		cap.Graphics, cap.Parallelism, cap.ProbedAt.Format("2006-01-02 15:04:05 MST"))
	return nil
}
