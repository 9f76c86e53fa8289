package cmds

import (
	"github.com/go-go-golems/launchpad/pkg/hostbridge"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var updateFlagKeys = map[string]string{
	"feed-url": "update.feed-url",
	"store":    "store.kind",
}

func NewUpdateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Check the release feed",
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "Report whether a newer launcher is available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd, updateFlagKeys)
			if err != nil {
				return err
			}
			d, closeStore, err := openDesktop(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer closeStore()

			info, err := d.CheckForUpdates(cmd.Context())
			if err != nil {
				return errors.Wrap(err, "check for updates")
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer func() { _ = enc.Close() }()
			return enc.Encode(info)
		},
	}

	open := &cobra.Command{
		Use:   "open",
		Short: "Open the download page of the latest release",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd, updateFlagKeys)
			if err != nil {
				return err
			}
			d, closeStore, err := openDesktop(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer closeStore()

			err = d.OpenDownloadPage(cmd.Context())
			if errors.Is(err, hostbridge.ErrNoDownloadURL) {
				return errors.New("no release with a download url is known, is --feed-url set?")
			}
			return err
		},
	}

	for _, c := range []*cobra.Command{check, open} {
		c.Flags().String("feed-url", "", "Release feed URL")
		c.Flags().String("store", "", "Settings store: yaml, sqlite or redis")
	}
	cmd.AddCommand(check, open)
	return cmd
}
