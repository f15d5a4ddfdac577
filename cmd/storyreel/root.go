package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ivlev/storyreel/internal/config"
	"github.com/ivlev/storyreel/internal/logging"
	"github.com/ivlev/storyreel/internal/system"
)

type commandContext struct {
	configPath *string
	envFiles   *[]string
	logLevel   *string

	cfg    *config.Config
	logger *zap.Logger
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load(*c.configPath, *c.envFiles...)
	if err != nil {
		return nil, err
	}
	if *c.logLevel != "" {
		cfg.Logging.Level = *c.logLevel
	}
	cfg.BuildVersion = version
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) ensureLogger() (*zap.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, err
	}
	c.logger = logger
	return logger, nil
}

func newRootCommand() *cobra.Command {
	var configFlag, logLevelFlag string
	var envFlag []string
	ctx := &commandContext{configPath: &configFlag, envFiles: &envFlag, logLevel: &logLevelFlag}

	rootCmd := &cobra.Command{
		Use:           "storyreel",
		Short:         "Compose short-form videos from narrated scenes",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			system.InitResourceLimits(logger)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if ctx.logger != nil {
				_ = ctx.logger.Sync()
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (YAML)")
	rootCmd.PersistentFlags().StringSliceVar(&envFlag, "env-file", []string{".env"}, "Dotenv files to load; missing files are ignored")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Override the configured log level")

	rootCmd.AddCommand(newComposeCommand(ctx))
	rootCmd.AddCommand(newSweepCommand(ctx))
	rootCmd.AddCommand(newPreflightCommand(ctx))
	return rootCmd
}
