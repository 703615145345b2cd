package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mohammad-safakhou/newsbrief/internal/memory"
	"github.com/mohammad-safakhou/newsbrief/internal/queue/streams"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func eventsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read completed-run events from the Redis stream",
	}

	var (
		group     string
		name      string
		fromStart bool
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Follow completed runs as JSON lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := c.cfg.Storage.Redis
			client, err := memory.Conn(ctx, r.Addr(), r.Password, r.DB, r.Timeout)
			if err != nil {
				return err
			}
			defer client.Close()

			stream := c.cfg.Events.Stream
			start := "$"
			if fromStart {
				start = "0"
			}
			if err := streams.EnsureGroup(ctx, client, stream, group, start); err != nil {
				return err
			}
			if name == "" {
				host, _ := os.Hostname()
				name = fmt.Sprintf("%s-%d", host, os.Getpid())
			}
			consumer, err := streams.NewConsumer(client, stream, group, name, c.logger)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return consumer.Tail(ctx, streams.ReadOptions{Count: 16, Block: 5 * time.Second}, func(m streams.Message) error {
				ev, err := streams.DecodeRun(m.Envelope)
				if err != nil {
					c.logger.Warn("skipping event", zap.String("id", m.ID), zap.Error(err))
					return nil
				}
				return enc.Encode(ev)
			})
		},
	}
	tail.Flags().StringVar(&group, "group", "newsbrief-tail", "consumer group")
	tail.Flags().StringVar(&name, "name", "", "consumer name (default host-pid)")
	tail.Flags().BoolVar(&fromStart, "from-start", false, "replay the stream from its first entry")

	lag := &cobra.Command{
		Use:   "lag",
		Short: "Show pending and lag counts for a consumer group",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r := c.cfg.Storage.Redis
			client, err := memory.Conn(ctx, r.Addr(), r.Password, r.DB, r.Timeout)
			if err != nil {
				return err
			}
			defer client.Close()
			m, err := streams.GroupLag(ctx, client, c.cfg.Events.Stream, group)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stream=%s length=%d group=%s pending=%d lag=%d consumers=%d oldest_idle=%s\n",
				c.cfg.Events.Stream, m.Length, group, m.Pending, m.Lag, m.Consumers, m.OldestIdle)
			return nil
		},
	}
	lag.Flags().StringVar(&group, "group", "newsbrief-tail", "consumer group")

	cmd.AddCommand(tail, lag)
	return cmd
}
