package insight

import (
	"fmt"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// Markdown renders insights as a titled bullet list
func Markdown(title, question string, insights []Insight) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n", title)
	if question != "" {
		fmt.Fprintf(&b, "_%s_\n\n", question)
	}
	if len(insights) == 0 {
		b.WriteString("No notable findings.\n")
		return b.String()
	}
	for _, in := range insights {
		fmt.Fprintf(&b, "- %s\n", in.Text)
	}
	return b.String()
}

// HTML renders the Markdown form for digests
func HTML(title, question string, insights []Insight) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions)
	r := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags | html.SkipHTML})
	return markdown.ToHTML([]byte(Markdown(title, question, insights)), p, r)
}
