package explain

import (
	"fmt"
	"html"
	"strings"
)

// RenderHTML projects an explanation into an HTML table attachment. Every
// cell is escaped; model output is untrusted input.
func RenderHTML(e *Explanation) string {
	var b strings.Builder
	b.WriteString("<table border=\"1\" cellpadding=\"6\" style=\"border-collapse:collapse\">\n")
	b.WriteString("<tr><th>Location</th><th>Baseline</th><th>Current</th><th>Description</th></tr>\n")
	if len(e.Changes) == 0 {
		fmt.Fprintf(&b, "<tr><td colspan=\"4\">%s</td></tr>\n", html.EscapeString(e.RawText))
	} else {
		for _, ch := range e.Changes {
			fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
				html.EscapeString(ch.Location),
				html.EscapeString(ch.BaselineState),
				html.EscapeString(ch.CurrentState),
				html.EscapeString(ch.Description))
		}
	}
	b.WriteString("</table>")
	return b.String()
}

// RenderMarkdown projects an explanation into a Markdown table. Pipes and
// newlines in cell text would break the table layout, so they are replaced.
func RenderMarkdown(e *Explanation) string {
	var b strings.Builder
	b.WriteString("| Location | Baseline | Current | Description |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	if len(e.Changes) == 0 {
		fmt.Fprintf(&b, "| %s | | | |\n", mdCell(e.RawText))
		return b.String()
	}
	for _, ch := range e.Changes {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
			mdCell(ch.Location), mdCell(ch.BaselineState), mdCell(ch.CurrentState), mdCell(ch.Description))
	}
	return b.String()
}

func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}
