package main

import (
	"github.com/spf13/cobra"
)

type globalFlags struct {
	Profile string
	Socket  string
	WSURL   string
	Verbose bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "bio",
		Short: "Talk to a bio host as an embedded miniapp",
		Long: `bio connects to a bio host over its unix socket (or WebSocket) and
behaves like a miniapp embedded in the wallet: it sends bio_request
messages, prints responses, and streams bio_event pushes.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.Profile, "profile", "./_dev_profile", "Profile directory")
	root.PersistentFlags().StringVar(&flags.Socket, "socket", "", "Override socket path")
	root.PersistentFlags().StringVar(&flags.WSURL, "ws", "", "Connect over WebSocket instead (ws://host:port/bio)")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Log provider diagnostics")

	root.AddCommand(
		newInitCmd(flags),
		newDiagCmd(flags),
		newCallCmd(flags),
		newEmitCmd(flags),
		newWatchCmd(flags),
		newLaunchURLCmd(),
		newJournalCmd(flags),
	)
	return root
}
