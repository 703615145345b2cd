package main

import (
	"github.com/mohammad-safakhou/newsbrief/config"
	"github.com/mohammad-safakhou/newsbrief/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// cli holds state shared by every subcommand.
type cli struct {
	cfgPath string
	debug   bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "newsbrief",
		Short:         "Topic-routed news briefs from a single query",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c.cfgPath)
			if err != nil {
				return err
			}
			if c.debug {
				cfg.General.Debug = true
			}
			logger, err := logging.New(cfg.General.LogLevel, cfg.General.Debug)
			if err != nil {
				return err
			}
			c.cfg = cfg
			c.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.logger != nil {
				_ = c.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "", "config file (default searches ./config and .)")
	root.PersistentFlags().BoolVar(&c.debug, "debug", false, "debug logging")

	root.AddCommand(
		briefCmd(c),
		watchCmd(c),
		serveCmd(c),
		memoryCmd(c),
		eventsCmd(c),
	)
	return root
}
