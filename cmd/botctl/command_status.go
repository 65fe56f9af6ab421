package main

import (
	"net/http"

	"github.com/spf13/cobra"
)

func newStatusCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <bot_id>",
		Short: "Show the state of a bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			var st botStatus
			if err := c.do(cmd.Context(), http.MethodGet, "/api/bots/"+args[0]+"/status", nil, "", &st); err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), st)
			return nil
		},
	}
	return cmd
}
