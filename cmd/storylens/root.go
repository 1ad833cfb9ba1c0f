package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tejaswa-Shrivastava/storylens/internal/client"
)

const defaultServer = "http://localhost:8080"

type commandContext struct {
	server   string
	interval time.Duration
}

func (c *commandContext) client() *client.Client {
	return client.New(c.server, nil)
}

func newRootCommand() *cobra.Command {
	ctx := &commandContext{}

	rootCmd := &cobra.Command{
		Use:           "storylens",
		Short:         "Turn photos into short stories",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	server := os.Getenv("STORYLENS_SERVER")
	if server == "" {
		server = defaultServer
	}
	rootCmd.PersistentFlags().StringVar(&ctx.server, "server", server, "StoryLens server URL (env STORYLENS_SERVER)")
	rootCmd.PersistentFlags().DurationVar(&ctx.interval, "interval", 2*time.Second, "Polling interval while a story is generating")

	rootCmd.AddCommand(newUploadCommand(ctx))
	rootCmd.AddCommand(newShowCommand(ctx))
	rootCmd.AddCommand(newListCommand(ctx))
	rootCmd.AddCommand(newWatchCommand(ctx))
	rootCmd.AddCommand(newDownloadCommand(ctx))

	return rootCmd
}
