package cmds

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/atotto/clipboard"
	"github.com/go-go-golems/launchpad/pkg/chat"
	"github.com/go-go-golems/launchpad/pkg/chatrunner"
	"github.com/go-go-golems/launchpad/pkg/hostbridge"
	"github.com/go-go-golems/launchpad/pkg/mirror"
	"github.com/go-go-golems/launchpad/pkg/redisstream"
	"github.com/go-go-golems/launchpad/pkg/transport"
	"github.com/go-go-golems/launchpad/pkg/ui"
	"github.com/go-go-golems/launchpad/pkg/update"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var chatFlagKeys = map[string]string{
	"server-url":    "server-url",
	"mode":          "mode",
	"store":         "store.kind",
	"feed-url":      "update.feed-url",
	"check-updates": "update.check-on-start",
	"poll-interval": "update.poll-interval",
	"mirror":        "mirror.enabled",
	"mirror-topic":  "mirror.topic",
	"redis":         "redis.enabled",
	"redis-addr":    "redis.addr",
	"max-attempts":  "transport.max-attempts",
	"max-lines":     "max-lines",
}

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join the launcher chat",
		Args:  cobra.NoArgs,
		RunE:  runChat,
	}
	f := cmd.Flags()
	f.String("server-url", "", "Chat server websocket URL")
	f.String("mode", "auto", "Presentation: auto, tui or line")
	f.String("store", "", "Settings store: yaml, sqlite or redis")
	f.String("feed-url", "", "Release feed URL used for update checks")
	f.Bool("check-updates", true, "Check for launcher updates on start")
	f.Duration("poll-interval", 0, "Re-check the release feed on this interval (0 disables)")
	f.Bool("mirror", false, "Publish chat changes to the mirror topic")
	f.String("mirror-topic", mirror.Topic, "Topic used by --mirror")
	f.Bool("redis", false, "Use Redis Streams for the mirror")
	f.String("redis-addr", "", "Redis address for the mirror")
	f.Int("max-attempts", 5, "Connection attempts before giving up")
	f.Int("max-lines", 1000, "Chat lines kept in view")
	return cmd
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := loadSettings(cmd, chatFlagKeys)
	if err != nil {
		return err
	}

	mode := chatrunner.ResolveMode(chatrunner.RunMode(s.Mode), os.Stdin, os.Stdout)
	if mode == chatrunner.RunModeTUI && viper.GetString("log-file") == "" {
		// stderr logging would tear the alternate screen
		log.Logger = log.Output(io.Discard)
	}

	terminate := make(chan struct{})
	var terminateOnce sync.Once
	desktop, closeStore, err := openDesktop(ctx, s,
		hostbridge.WithTerminate(func() {
			terminateOnce.Do(func() { close(terminate) })
		}, s.Update.TerminateDelay),
	)
	if err != nil {
		return err
	}
	defer closeStore()

	tcfg := transport.DefaultConfig(s.ServerURL)
	tcfg.MaxAttempts = s.Transport.MaxAttempts
	tcfg.RetryDelay = s.Transport.RetryDelay
	tcfg.HandshakeTimeout = s.Transport.HandshakeTimeout
	client, err := transport.NewClient(tcfg)
	if err != nil {
		return errors.Wrap(err, "create chat transport")
	}

	var renderer chat.Renderer
	if mode == chatrunner.RunModeLine {
		renderer = ui.NewLineRenderer(os.Stdout)
	}
	if s.Mirror.Enabled {
		bus, err := redisstream.Build(s.Redis)
		if err != nil {
			return errors.Wrap(err, "build mirror bus")
		}
		defer func() { _ = bus.Close() }()
		renderer = mirror.New(bus.Publisher, renderer, mirror.WithTopic(s.Mirror.Topic))
		log.Info().Str("topic", s.Mirror.Topic).Bool("redis", s.Redis.Enabled).Msg("mirroring chat")
	}

	session, err := chat.NewSession(desktop, client, renderer, chat.WithMaxLines(s.MaxLines))
	if err != nil {
		return err
	}
	notifier, err := update.NewNotifier(desktop, nil)
	if err != nil {
		return err
	}

	runner, err := chatrunner.NewBuilder().
		WithContext(ctx).
		WithSession(session).
		WithNotifier(notifier, desktop).
		WithMode(mode).
		WithUpdateCheck(s.Update.CheckOnStart && s.Update.FeedURL != "").
		WithClipboard(clipboard.WriteAll).
		WithTerminate(terminate).
		Build()
	if err != nil {
		return err
	}

	eg, childCtx := errgroup.WithContext(ctx)
	childCtx, cancel := context.WithCancel(childCtx)
	eg.Go(func() error {
		return hostbridge.NewPoller(desktop, s.Update.PollInterval).Run(childCtx)
	})
	eg.Go(func() error {
		defer cancel()
		return runner.Run()
	})
	return eg.Wait()
}
