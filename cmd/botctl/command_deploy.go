package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func waitQuery(wait bool) string {
	if wait {
		return "?wait=true"
	}
	return ""
}

func newDeployCmd(opts *globalOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "deploy <bot_id> <repo_url>",
		Short: "Deploy a bot from a git repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			body := map[string]string{"botId": args[0], "repoUrl": args[1]}
			if err := c.postJSON(cmd.Context(), "/api/deploy"+waitQuery(wait), body, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deployment of %s started.\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the bot is online")
	return cmd
}

func newDeployZipCmd(opts *globalOptions) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "deploy-zip <bot_id> <package>",
		Short: "Deploy a bot from a zip or 7z package",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newClient(opts)
			if err != nil {
				return err
			}
			return uploadPackage(cmd.Context(), c, args[0], args[1], wait, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the bot is online")
	return cmd
}

func uploadPackage(ctx context.Context, c *client, botID, path string, wait bool, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("botId", botID); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("package", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	if err := c.do(ctx, "POST", "/api/deploy-zip"+waitQuery(wait), &buf, mw.FormDataContentType(), nil); err != nil {
		return err
	}
	fmt.Fprintf(out, "Deployment of %s started.\n", botID)
	return nil
}
