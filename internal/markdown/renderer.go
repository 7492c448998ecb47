// Package markdown renders card content to sanitized HTML for board exports.
package markdown

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

type Renderer struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	return &Renderer{
		md:        md,
		sanitizer: bluemonday.UGCPolicy(),
	}
}

// Render converts markdown text to HTML and strips anything the sanitizer
// does not allow. Card content is user-supplied and never trusted.
func (r *Renderer) Render(text string) (string, error) {
	var rendered bytes.Buffer
	if err := r.md.Convert([]byte(text), &rendered); err != nil {
		return "", fmt.Errorf("markdown: render failed: %w", err)
	}
	return r.sanitizer.Sanitize(rendered.String()), nil
}
