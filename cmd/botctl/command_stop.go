package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

func newStopCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <bot_id>",
		Short: "Stop a running bot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			err = c.postJSON(ctx, "/api/stop", map[string]string{"botId": args[0]}, nil)
			var apiErr *apiError
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
				fmt.Fprintln(cmd.OutOrStdout(), apiErr.Message)
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bot %s stopped.\n", args[0])
			return nil
		},
	}
	return cmd
}

func newRestartCmd(opts *globalOptions) *cobra.Command {
	var update, wait bool
	cmd := &cobra.Command{
		Use:   "restart <bot_id>",
		Short: "Restart a bot from its deployed files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			body := map[string]interface{}{"botId": args[0], "update": update}
			if err := c.postJSON(cmd.Context(), "/api/restart"+waitQuery(wait), body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bot %s restarting.\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&update, "update", false, "pull the recorded repository before restarting")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the bot is online")
	return cmd
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <bot_id>",
		Short: "Stop a bot and remove its files and logs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			if err := c.do(cmd.Context(), http.MethodDelete, "/api/bots/"+args[0], nil, "", nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Bot %s deleted.\n", args[0])
			return nil
		},
	}
	return cmd
}
