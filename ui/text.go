package ui

import (
	"fmt"
	"html/template"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

// Text converts and cleans markup coming back from remote services.
type Text struct {
	policy *bluemonday.Policy
	md     *converter.Converter
}

// NewText builds the sanitizer (bluemonday UGC policy) and the
// markdown converter.
func NewText() *Text {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("dir").Globally()
	p.AllowStyling()
	return &Text{
		policy: p,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Sanitize strips scripts, handlers and unsafe URLs from markup.
func (t *Text) Sanitize(markup string) template.HTML {
	return template.HTML(t.policy.Sanitize(markup))
}

// Markdown renders markup as markdown, the form summaries are requested
// from.
func (t *Text) Markdown(markup string) (string, error) {
	out, err := t.md.ConvertString(markup)
	if err != nil {
		return "", fmt.Errorf("ui: markdown: %w", err)
	}
	return strings.TrimSpace(out), nil
}

var (
	mdLink     = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	mdEmphasis = regexp.MustCompile(`(\*\*|__|\*|_|~~|` + "`" + `)`)
	mdLineMark = regexp.MustCompile(`(?m)^\s{0,3}(#{1,6}\s+|>\s?|[-*+]\s+|\d+\.\s+)`)
	mdRule     = regexp.MustCompile(`(?m)^\s*([-*_]\s*){3,}$`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

// Speakable renders markup as plain text for speech: markdown without
// its syntax.
func (t *Text) Speakable(markup string) (string, error) {
	md, err := t.Markdown(markup)
	if err != nil {
		return "", err
	}
	s := mdLink.ReplaceAllString(md, "$1")
	s = mdRule.ReplaceAllString(s, "")
	s = mdLineMark.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, `\`, "")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s), nil
}
