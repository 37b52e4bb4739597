package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"pitchai/api/internal/pitch"
)

//go:embed templates/*.html
var templateFS embed.FS

const dateLayout = "Jan 2, 2006, 03:04 PM"

var pitchTemplate = template.Must(template.New("pitch.html").Funcs(template.FuncMap{
	"toneLabel": pitch.ToneLabel,
	"formatDate": func(t time.Time) string {
		return t.UTC().Format(dateLayout)
	},
}).ParseFS(templateFS, "templates/pitch.html"))

// RenderHTML renders a standalone HTML page for a pitch.
func RenderHTML(p Pitch) (string, error) {
	var buf bytes.Buffer
	if err := pitchTemplate.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render pitch template: %w", err)
	}
	return buf.String(), nil
}

// RenderMarkdown renders a pitch as Markdown.
func RenderMarkdown(p Pitch) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", strings.TrimSpace(p.Idea))
	fmt.Fprintf(&b, "_%s • Generated on %s_\n\n", pitch.ToneLabel(p.Tone), p.CreatedAt.UTC().Format(dateLayout))
	b.WriteString(strings.TrimSpace(p.Body))
	b.WriteString("\n")
	return b.String()
}
