package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ivlev/storyreel/internal/engine"
	"github.com/ivlev/storyreel/internal/manifest"
	"github.com/ivlev/storyreel/internal/model"
)

func newComposeCommand(ctx *commandContext) *cobra.Command {
	var resultPath, outputDir string

	cmd := &cobra.Command{
		Use:   "compose <manifest.yaml>",
		Short: "Compose one video from a scene manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.Paths.OutputDir = outputDir
			}
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}

			m, err := manifest.Read(args[0])
			if err != nil {
				return err
			}
			req, err := m.Request()
			if err != nil {
				return err
			}

			eng, err := engine.New(cfg, engine.Deps{Logger: logger})
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			res, err := eng.Compose(runCtx, req)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderResult(req, res))
			if resultPath != "" {
				if err := manifest.WriteResult(manifest.NewResult(req.ProjectID, res), resultPath); err != nil {
					return fmt.Errorf("write result: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&resultPath, "result", "", "Write the composition result as YAML to this path")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "Override paths.output_dir")
	return cmd
}

func renderResult(req model.CompositionRequest, res *model.CompositionResult) string {
	bg := "no"
	if res.BackgroundMixed {
		bg = fmt.Sprintf("yes (volume %s)", strconv.FormatFloat(res.BackgroundVolume, 'f', -1, 64))
	}
	rows := [][2]string{
		{"Project", req.ProjectID},
		{"Video", res.VideoURL},
		{"File", res.LocalPath},
		{"Duration", fmt.Sprintf("%.1fs (timeline %.3fs)", res.Duration, res.TimelineDuration)},
		{"Size", humanize.Bytes(uint64(res.FileSize))},
		{"Scenes", fmt.Sprintf("%d used, %d skipped", res.ScenesUsed, len(res.Skipped))},
		{"Background", bg},
	}
	if len(res.CaptionsDropped) > 0 {
		rows = append(rows, [2]string{"Captions dropped", fmt.Sprint(res.CaptionsDropped)})
	}
	out := renderFields("Field", "Value", rows)
	if skipped := renderSkipped(res.Skipped); skipped != "" {
		out += "\n" + skipped
	}
	return out
}
