package main

import (
	"fmt"
	"io"

	"github.com/mohammad-safakhou/newsbrief/internal/memory"
	"github.com/mohammad-safakhou/newsbrief/models"
	"github.com/spf13/cobra"
)

func memoryCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect or clear the per-topic memory (meaningful with memory.store=redis)",
	}

	show := &cobra.Command{
		Use:   "show [topic]",
		Short: "Print remembered keys, most recent first",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if c.cfg.Memory.Store != string(memory.RedisStore) {
				fmt.Fprintln(cmd.ErrOrStderr(), "note: memory.store is inmemory; a fresh process remembers nothing")
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				topic := models.NormalizeTopic(args[0])
				if !a.vocab.Contains(topic) {
					return fmt.Errorf("%w: %s", models.ErrTopicNotFound, args[0])
				}
				keys, err := a.memory.Recent(cmd.Context(), topic)
				if err != nil {
					return err
				}
				printTopic(out, topic, keys)
				return nil
			}

			snap, err := a.memory.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if len(snap) == 0 {
				fmt.Fprintln(out, "memory is empty")
				return nil
			}
			for _, t := range a.vocab {
				if keys, ok := snap[t]; ok {
					printTopic(out, t, keys)
				}
			}
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget every topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.orch.ResetMemory(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "memory cleared")
			return nil
		},
	}

	cmd.AddCommand(show, clearCmd)
	return cmd
}

func printTopic(out io.Writer, topic models.Topic, keys []string) {
	fmt.Fprintf(out, "%s (%d)\n", topic, len(keys))
	for _, k := range keys {
		fmt.Fprintf(out, "  - %s\n", k)
	}
}
