package main

import (
	"github.com/mohammad-safakhou/newsbrief/internal/server"
	"github.com/spf13/cobra"
)

func serveCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()

			sc := c.cfg.Server
			if addr != "" {
				sc.Address = addr
			}
			srv, err := server.New(server.Options{
				Config:     sc,
				Briefer:    a.orch,
				Memory:     a.memory,
				Vocabulary: a.vocab,
				Telemetry:  a.telemetry,
				Logger:     c.logger,
			})
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return cmd
}
