package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ivlev/storyreel/internal/sink"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var grace time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove abandoned partial encodes from the videos directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("grace") {
				grace = cfg.Encoder.StalePartialGrace
			}
			removed, err := sink.SweepStale(cfg.Paths.VideosDir(), grace, logger)
			for _, p := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), "removed", p)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d stale partial file(s) removed\n", len(removed))
			return nil
		},
	}
	cmd.Flags().DurationVar(&grace, "grace", 30*time.Minute, "Only remove partials older than this")
	return cmd
}
