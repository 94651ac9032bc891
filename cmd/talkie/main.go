package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version    = "dev"
	configPath string
	logLevel   string
)

func main() {
	root := &cobra.Command{
		Use:   "talkie",
		Short: "Talkie chat core: stores, presence and voice for Talkie conversations",
		Long: "talkie keeps the message timeline, typing and recording presence, and voice\n" +
			"clips of Talkie group, support and community chats in sync with Supabase.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default: $TALKIE_CONFIG)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(serveCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(sendCmd())
	root.AddCommand(voiceCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "talkie", version)
		},
	}
}
