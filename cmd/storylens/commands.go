package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Tejaswa-Shrivastava/storylens/internal/client"
	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "upload <image>",
		Short: "Upload a photo and start generating its story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			info, err := os.Stat(path)
			if err != nil {
				return err
			}

			story, err := ctx.client().UploadFile(cmd.Context(), path)
			if err != nil {
				return fmt.Errorf("upload %s: %w", filepath.Base(path), err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Uploaded %s (%s) as story #%d\n", filepath.Base(path), humanize.Bytes(uint64(info.Size())), story.ID)
			if !wait {
				fmt.Fprintf(out, "Follow progress with: storylens watch %d\n", story.ID)
				return nil
			}
			return watchStory(cmd, ctx, story.ID)
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait until the story is ready")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a story",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStoryID(args[0])
			if err != nil {
				return err
			}
			story, err := ctx.client().Get(cmd.Context(), id)
			if err != nil {
				return storyError(id, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderStory(story, shouldColorize(out)))
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stories, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stories, err := ctx.client().List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list stories: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(stories) == 0 {
				fmt.Fprintln(out, "No stories yet")
				return nil
			}
			fmt.Fprintln(out, renderStoryTable(stories))
			return nil
		},
	}
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a story until it is ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStoryID(args[0])
			if err != nil {
				return err
			}
			return watchStory(cmd, ctx, id)
		},
	}
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var pdf bool
	var outPath string

	cmd := &cobra.Command{
		Use:   "download <id>",
		Short: "Download a story as text or PDF",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseStoryID(args[0])
			if err != nil {
				return err
			}
			format := "txt"
			if pdf {
				format = "pdf"
			}

			if outPath == "-" {
				_, err := ctx.client().Download(cmd.Context(), id, format, cmd.OutOrStdout())
				return storyError(id, err)
			}

			tmp, err := os.CreateTemp(dirOf(outPath), ".storylens-*")
			if err != nil {
				return err
			}
			defer os.Remove(tmp.Name())

			name, err := ctx.client().Download(cmd.Context(), id, format, tmp)
			if closeErr := tmp.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return storyError(id, err)
			}

			dest := outPath
			if dest == "" {
				dest = name
			} else if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
				dest = filepath.Join(dest, name)
			}
			if err := os.Rename(tmp.Name(), dest); err != nil {
				return err
			}

			written, _ := os.Stat(dest)
			size := int64(0)
			if written != nil {
				size = written.Size()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved story #%d to %s (%s)\n", id, dest, humanize.Bytes(uint64(size)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&pdf, "pdf", false, "Download as PDF instead of plain text")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file or directory (\"-\" for stdout)")
	return cmd
}

// watchStory prints each phase change and the finished story.
func watchStory(cmd *cobra.Command, ctx *commandContext, id int64) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	var last models.Status
	story, err := ctx.client().Watch(cmd.Context(), id, client.WatchOptions{
		Interval: ctx.interval,
		OnUpdate: func(s *models.Story) {
			if s.ProcessingStatus == last {
				return
			}
			last = s.ProcessingStatus
			fmt.Fprintln(out, renderPhaseLine(s, colorize))
		},
	})
	if err != nil {
		return storyError(id, err)
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, renderStory(story, colorize))
	if story.ProcessingStatus == models.StatusError {
		return fmt.Errorf("story #%d failed to generate", id)
	}
	return nil
}

func parseStoryID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid story id %q", arg)
	}
	return id, nil
}

func storyError(id int64, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, client.ErrNotFound) {
		return fmt.Errorf("story #%d not found", id)
	}
	return err
}

func dirOf(path string) string {
	if path == "" {
		return "."
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path
	}
	return filepath.Dir(path)
}
