package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/launchpad/cmd/launchpad/cmds"
	"github.com/spf13/cobra"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "launchpad",
	Short: "launchpad is the launcher chat client",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// reinitialize the logger because we can now parse --log-level and co
		// from the command line flag
		err := clay.InitLogger()
		cobra.CheckErr(err)
	},
}

func main() {
	cmds.Version = version

	err := clay.InitViper("launchpad", rootCmd)
	cobra.CheckErr(err)
	err = clay.InitLogger()
	cobra.CheckErr(err)

	rootCmd.AddCommand(
		cmds.NewChatCommand(),
		cmds.NewUpdateCommand(),
		cmds.NewUsernameCommand(),
		cmds.NewTailCommand(),
		cmds.NewVersionCommand(),
	)

	err = rootCmd.Execute()
	cobra.CheckErr(err)
}
