package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultServer = "http://localhost:5000"

type globalOptions struct {
	server string
	token  string
	user   string
}

func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "botctl",
		Short:         "BotCloud operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.server, "server", envOr("BOTCLOUD_SERVER", defaultServer), "BotCloud server URL")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("BOTCLOUD_TOKEN"), "API token")
	root.PersistentFlags().StringVar(&opts.user, "user", os.Getenv("BOTCLOUD_USER"), "caller identity sent as X-Botcloud-User")

	root.AddCommand(newDeployCmd(opts))
	root.AddCommand(newDeployZipCmd(opts))
	root.AddCommand(newStopCmd(opts))
	root.AddCommand(newRestartCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newLogsCmd(opts))
	root.AddCommand(newDeleteCmd(opts))

	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
