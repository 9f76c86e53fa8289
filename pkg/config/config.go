// Package config maps viper keys onto launcher settings.
package config

import (
	"strings"
	"time"

	"github.com/go-go-golems/launchpad/pkg/hostbridge"
	"github.com/go-go-golems/launchpad/pkg/redisstream"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type Settings struct {
	ServerURL string                   `mapstructure:"server-url"`
	Mode      string                   `mapstructure:"mode"`
	MaxLines  int                      `mapstructure:"max-lines"`
	Transport TransportSettings        `mapstructure:"transport"`
	Store     hostbridge.StoreSettings `mapstructure:"store"`
	Update    UpdateSettings           `mapstructure:"update"`
	Mirror    MirrorSettings           `mapstructure:"mirror"`
	Redis     redisstream.Settings     `mapstructure:"redis"`
}

type TransportSettings struct {
	MaxAttempts      int           `mapstructure:"max-attempts"`
	RetryDelay       time.Duration `mapstructure:"retry-delay"`
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`
}

type UpdateSettings struct {
	FeedURL        string        `mapstructure:"feed-url"`
	CheckOnStart   bool          `mapstructure:"check-on-start"`
	PollInterval   time.Duration `mapstructure:"poll-interval"`
	TerminateDelay time.Duration `mapstructure:"terminate-delay"`
}

type MirrorSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Topic   string `mapstructure:"topic"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server-url", "ws://localhost:3001/chat")
	v.SetDefault("mode", "auto")
	v.SetDefault("max-lines", 1000)

	v.SetDefault("transport.max-attempts", 5)
	v.SetDefault("transport.retry-delay", time.Second)
	v.SetDefault("transport.handshake-timeout", 10*time.Second)

	v.SetDefault("store.kind", string(hostbridge.StoreYAML))
	v.SetDefault("store.yaml-path", hostbridge.DefaultYAMLPath)
	v.SetDefault("store.sqlite-dsn", hostbridge.DefaultSQLiteDSN)
	v.SetDefault("store.redis-addr", "localhost:6379")
	v.SetDefault("store.redis-key", hostbridge.DefaultRedisKey)

	v.SetDefault("update.feed-url", "")
	v.SetDefault("update.check-on-start", true)
	v.SetDefault("update.poll-interval", 0)
	v.SetDefault("update.terminate-delay", 2*time.Second)

	v.SetDefault("mirror.enabled", false)
	v.SetDefault("mirror.topic", "launchpad.chat")

	d := redisstream.DefaultSettings()
	v.SetDefault("redis.enabled", d.Enabled)
	v.SetDefault("redis.addr", d.Addr)
	v.SetDefault("redis.group", d.Group)
	v.SetDefault("redis.consumer", d.Consumer)
}

// Load applies defaults to v and unmarshals it.
func Load(v *viper.Viper) (*Settings, error) {
	if v == nil {
		v = viper.GetViper()
	}
	SetDefaults(v)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, errors.Wrap(err, "decode settings")
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) Validate() error {
	if strings.TrimSpace(s.ServerURL) == "" {
		return errors.New("server-url must be set")
	}
	switch s.Mode {
	case "auto", "tui", "line":
	default:
		return errors.Errorf("mode must be auto, tui or line, got %q", s.Mode)
	}
	if s.Transport.MaxAttempts <= 0 {
		return errors.Errorf("transport.max-attempts must be positive, got %d", s.Transport.MaxAttempts)
	}
	if s.MaxLines <= 0 {
		return errors.Errorf("max-lines must be positive, got %d", s.MaxLines)
	}
	return nil
}
