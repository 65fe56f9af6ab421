package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"
)

type wsFrame struct {
	Type  string          `json:"type"`
	BotID string          `json:"botId"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
}

func newLogsCmd(opts *globalOptions) *cobra.Command {
	var (
		follow bool
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "logs <bot_id>",
		Short: "Print a bot's log, optionally following new lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			if follow {
				return followLogs(cmd, c, args[0])
			}

			path := "/api/bots/" + args[0] + "/logs"
			if limit > 0 {
				path += "?limit=" + strconv.Itoa(limit)
			}
			var resp struct {
				Logs []logLine `json:"logs"`
			}
			if err := c.do(cmd.Context(), http.MethodGet, path, nil, "", &resp); err != nil {
				return err
			}
			for _, l := range resp.Logs {
				printLine(cmd.OutOrStdout(), l)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "replay recent lines and stream new ones")
	cmd.Flags().IntVar(&limit, "limit", 0, "number of recent lines (server default when 0)")
	return cmd
}

// followLogs streams until the server closes the connection or the command
// context is cancelled.
func followLogs(cmd *cobra.Command, c *client, botID string) error {
	ctx := cmd.Context()
	conn, err := c.dialLogs(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "botId": botID}); err != nil {
		return err
	}
	return readFrames(cmd.OutOrStdout(), func(v interface{}) error { return conn.ReadJSON(v) })
}

func readFrames(out io.Writer, read func(interface{}) error) error {
	for {
		var f wsFrame
		if err := read(&f); err != nil {
			return nil
		}
		if f.Type != "error" && len(f.Data) == 0 {
			continue
		}
		switch f.Type {
		case "init":
			var lines []logLine
			if err := json.Unmarshal(f.Data, &lines); err != nil {
				return err
			}
			for _, l := range lines {
				printLine(out, l)
			}
		case "log":
			var l logLine
			if err := json.Unmarshal(f.Data, &l); err != nil {
				return err
			}
			printLine(out, l)
		case "error":
			return fmt.Errorf("server: %s", f.Error)
		}
	}
}
