package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/Tejaswa-Shrivastava/storylens/internal/client"
	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const titleWidth = 40

func renderStoryTable(stories []models.Story) string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"ID", "Status", "Title", "Audio", "Created"})

	for _, story := range stories {
		audio := "-"
		if story.AudioURL != nil {
			audio = "yes"
		}
		tw.AppendRow(table.Row{
			story.ID,
			string(story.ProcessingStatus),
			text.Trim(story.Title, titleWidth),
			audio,
			humanize.Time(story.CreatedAt),
		})
	}

	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func renderPhaseLine(story *models.Story, colorize bool) string {
	phase := client.PhaseFor(story.ProcessingStatus)
	line := fmt.Sprintf("  [%d/3] %s", min(int(phase), 3), phase)
	if colorize {
		return phaseColor(phase) + line + ansiReset
	}
	return line
}

func renderStory(story *models.Story, colorize bool) string {
	var b strings.Builder

	title := story.Title
	if colorize {
		title = phaseColor(client.PhaseFor(story.ProcessingStatus)) + title + ansiReset
	}
	fmt.Fprintf(&b, "#%d %s\n", story.ID, title)
	fmt.Fprintf(&b, "Status:  %s\n", story.ProcessingStatus)
	fmt.Fprintf(&b, "Image:   %s\n", story.ImageURL)
	if story.AudioURL != nil {
		fmt.Fprintf(&b, "Audio:   %s\n", *story.AudioURL)
	}
	fmt.Fprintf(&b, "Created: %s\n", humanize.Time(story.CreatedAt))
	b.WriteString("\n")
	b.WriteString(story.Content)

	return b.String()
}

func phaseColor(phase client.Phase) string {
	switch phase {
	case client.PhaseDone:
		return ansiGreen
	case client.PhaseFailed:
		return ansiRed
	case client.PhaseNarrating:
		return ansiYellow
	default:
		return ansiBlue
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
