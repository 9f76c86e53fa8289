package cmds

import (
	"context"

	"github.com/go-go-golems/launchpad/pkg/config"
	"github.com/go-go-golems/launchpad/pkg/hostbridge"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is the running launcher version, compared against the release feed.
var Version = "dev"

// loadSettings binds the running command's flags to their viper keys, then
// decodes the settings. keys maps flag name to key. Binding happens at run time
// because several commands share keys.
func loadSettings(cmd *cobra.Command, keys map[string]string) (*config.Settings, error) {
	for name, key := range keys {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			return nil, errors.Errorf("unknown flag %q", name)
		}
		if err := viper.BindPFlag(key, f); err != nil {
			return nil, errors.Wrapf(err, "bind flag %s", name)
		}
	}
	s, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, errors.Wrap(err, "load settings")
	}
	return s, nil
}

// openDesktop opens the settings store and builds the host bridge on top of
// it. The returned close func releases the store.
func openDesktop(ctx context.Context, s *config.Settings, opts ...hostbridge.DesktopOption) (*hostbridge.Desktop, func(), error) {
	store, err := hostbridge.OpenStore(ctx, s.Store)
	if err != nil {
		return nil, nil, errors.Wrap(err, "open settings store")
	}
	closeStore := func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("closing settings store")
		}
	}

	if s.Update.FeedURL != "" {
		opts = append([]hostbridge.DesktopOption{
			hostbridge.WithUpdateChecker(hostbridge.NewUpdateChecker(s.Update.FeedURL, Version)),
		}, opts...)
	}
	d, err := hostbridge.NewDesktop(store, opts...)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return d, closeStore, nil
}
