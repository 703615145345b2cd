package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/spf13/cobra"
)

func briefCmd(c *cli) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "brief [query]",
		Short: "Run one brief and print it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.TrimSpace(strings.Join(args, " "))
			if query == "" {
				return fmt.Errorf("query is required")
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()
			a.serveMetrics(ctx)

			return runBrief(ctx, a, query, asJSON, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the artifact as JSON")
	return cmd
}

func runBrief(ctx context.Context, a *app, query string, asJSON bool, out io.Writer) error {
	art, err := a.orch.Run(ctx, query)
	if err != nil {
		return err
	}
	return printArtifact(out, art, asJSON)
}

func printArtifact(out io.Writer, art models.Artifact, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(art)
	}
	_, err := fmt.Fprintln(out, art.Render())
	return err
}
