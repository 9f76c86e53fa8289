package cmds

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/launchpad/pkg/mirror"
	"github.com/go-go-golems/launchpad/pkg/redisstream"
	"github.com/go-go-golems/launchpad/pkg/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var tailFlagKeys = map[string]string{
	"topic":      "mirror.topic",
	"redis-addr": "redis.addr",
	"group":      "redis.group",
	"consumer":   "redis.consumer",
}

// NewTailCommand follows the chat changes another launcher mirrors to Redis.
func NewTailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Follow a mirrored chat session from Redis Streams",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := loadSettings(cmd, tailFlagKeys)
			if err != nil {
				return err
			}
			rs := s.Redis
			rs.Enabled = true

			if err := redisstream.EnsureGroupAtTail(ctx, rs, s.Mirror.Topic); err != nil {
				return errors.Wrap(err, "prepare consumer group")
			}
			bus, err := redisstream.Build(rs)
			if err != nil {
				return err
			}
			defer func() { _ = bus.Close() }()

			out := cmd.OutOrStdout()
			return mirror.Tail(ctx, bus.Subscriber, s.Mirror.Topic, func(rec mirror.Record) error {
				line := ui.FormatChange(rec.Change)
				if line == "" {
					return nil
				}
				_, err := fmt.Fprintf(out, "[%s] %s\n", rec.Session, line)
				return err
			})
		},
	}
	f := cmd.Flags()
	f.String("topic", mirror.Topic, "Mirror topic (Redis stream) to follow")
	f.String("redis-addr", "", "Redis address")
	f.String("group", "", "Consumer group")
	f.String("consumer", "", "Consumer name")
	return cmd
}
