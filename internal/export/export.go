// Package export renders stories as downloadable documents.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"github.com/Tejaswa-Shrivastava/storylens/internal/models"
)

// Footer closes every exported story.
const Footer = "Generated by StoryLens AI"

// Text returns the plain-text download body of a story.
func Text(story models.Story) string {
	return fmt.Sprintf("%s\n\n%s\n\n%s", story.Title, story.Content, Footer)
}

// Filename turns a title into a download filename: every character other
// than an ASCII letter or digit becomes an underscore, letters are
// lower-cased and ext is appended.
func Filename(title, ext string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r > 0xFFFF:
			// Characters outside the BMP count as two UTF-16 units.
			b.WriteString("__")
		default:
			b.WriteByte('_')
		}
	}
	return b.String() + "." + strings.TrimPrefix(ext, ".")
}

// WritePDF renders the story as an A4 PDF with the same text as Text.
func WritePDF(w io.Writer, story models.Story) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	title := story.Title
	if strings.TrimSpace(title) == "" {
		title = "Untitled story"
	}
	pdf.SetTitle(title, true)
	pdf.SetAuthor("StoryLens", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.MultiCell(0, 10, tr(title), "", "L", false)
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 12)
	for _, paragraph := range strings.Split(strings.TrimSpace(story.Content), "\n") {
		paragraph = strings.TrimSpace(paragraph)
		if paragraph == "" {
			continue
		}
		pdf.MultiCell(0, 6, tr(paragraph), "", "L", false)
		pdf.Ln(3)
	}

	pdf.Ln(6)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.Cell(0, 6, Footer)

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
