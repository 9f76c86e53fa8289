package cmds

import (
	"fmt"

	"github.com/go-go-golems/launchpad/pkg/chat"
	"github.com/spf13/cobra"
)

var usernameFlagKeys = map[string]string{
	"store": "store.kind",
}

func NewUsernameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "username",
		Short: "Show or change the stored chat username",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored chat username",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd, usernameFlagKeys)
			if err != nil {
				return err
			}
			d, closeStore, err := openDesktop(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer closeStore()

			name, err := d.LoadChatUsername(cmd.Context())
			if err != nil {
				return err
			}
			if name == "" {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "no chat username stored")
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
			return nil
		},
	}

	set := &cobra.Command{
		Use:   "set NAME",
		Short: "Validate and store a chat username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, err := chat.ValidateUsername(args[0])
			if err != nil {
				return err
			}
			s, err := loadSettings(cmd, usernameFlagKeys)
			if err != nil {
				return err
			}
			d, closeStore, err := openDesktop(cmd.Context(), s)
			if err != nil {
				return err
			}
			defer closeStore()

			return d.SaveChatUsername(cmd.Context(), name)
		},
	}

	for _, c := range []*cobra.Command{show, set} {
		c.Flags().String("store", "", "Settings store: yaml, sqlite or redis")
	}
	cmd.AddCommand(show, set)
	return cmd
}
