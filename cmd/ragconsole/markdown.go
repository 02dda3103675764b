package main

import (
	"strings"
	"sync"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer caches one glamour renderer per wrap width. It is shared by
// pointer between model copies.
type markdownRenderer struct {
	mu        sync.Mutex
	style     string
	renderers map[int]*glamour.TermRenderer
}

func newMarkdownRenderer(style string) *markdownRenderer {
	return &markdownRenderer{
		style:     nullCoalesce(style, "dark"),
		renderers: map[int]*glamour.TermRenderer{},
	}
}

// render falls back to plain wrapping when glamour cannot build a renderer
// or fails on the input.
func (r *markdownRenderer) render(text string, width int) string {
	width = maxInt(20, width)
	if r == nil {
		return wrapText(text, width)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	renderer, ok := r.renderers[width]
	if !ok {
		var err error
		renderer, err = glamour.NewTermRenderer(
			glamour.WithStandardStyle(r.style),
			glamour.WithWordWrap(width),
			glamour.WithPreservedNewLines(),
		)
		if err != nil {
			return wrapText(text, width)
		}
		r.renderers[width] = renderer
	}
	out, err := renderer.Render(text)
	if err != nil {
		return wrapText(text, width)
	}
	return strings.Trim(out, "\n")
}
