package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivlev/storyreel/internal/system"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight",
		Short: "Check ffmpeg, ffprobe and the host before composing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			checker := system.NewChecker(cfg.Encoder.FFmpegPath, cfg.Encoder.FFprobePath)
			rep, err := checker.Preflight(cmd.Context(), "libx264", cfg.Encoder.VideoCodec, cfg.Encoder.AudioCodec)
			if err != nil {
				return err
			}

			missing := func(names []string) string {
				if len(names) == 0 {
					return "none"
				}
				return strings.Join(names, ", ")
			}
			rows := [][2]string{
				{"ffmpeg", rep.FFmpeg},
				{"ffprobe", rep.FFprobe},
				{"Missing filters", missing(rep.MissingFilters)},
				{"Missing encoders", missing(rep.MissingEncoders)},
				{"Best H.264 encoder", rep.BestH264},
				{"Logical CPUs", strconv.Itoa(rep.Host.LogicalCPUs)},
				{"Memory", fmt.Sprintf("%s available of %s", humanize.Bytes(rep.Host.MemAvailable), humanize.Bytes(rep.Host.MemTotal))},
				{"Scene workers", strconv.Itoa(system.DefaultSceneWorkers(cmd.Context()))},
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderFields("Check", "Result", rows))
			if !rep.OK() {
				return errors.New("preflight failed")
			}
			return nil
		},
	}
}
