// Package chunk splits long extracted text into translation-sized pieces,
// cutting on sentence punctuation where possible.
package chunk

import (
	"strings"
	"unicode"
)

// DefaultMaxChars is the chunk size used for attachment translation.
const DefaultMaxChars = 2000

// Options tunes Split.
type Options struct {
	// MaxChars is the maximum chunk length in runes. Default: 2000.
	MaxChars int
	// MinCutRatio is the earliest position, as a fraction of MaxChars, at
	// which a sentence boundary is accepted. A window with no boundary past
	// it is hard-cut at MaxChars. Default: 0.3.
	MinCutRatio float64
}

func (o *Options) defaults() {
	if o.MaxChars <= 0 {
		o.MaxChars = DefaultMaxChars
	}
	if o.MinCutRatio <= 0 || o.MinCutRatio >= 1 {
		o.MinCutRatio = 0.3
	}
}

// Chunk is one piece of the input. Start and End are rune offsets into the
// original text.
type Chunk struct {
	Index int
	Text  string
	Start int
	End   int
}

// Split cuts text into chunks of at most MaxChars runes. Chunks are
// trimmed of surrounding whitespace; empty chunks are dropped. Order is
// preserved.
func Split(text string, opts Options) []Chunk {
	opts.defaults()
	runes := []rune(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []Chunk
	minCut := int(float64(opts.MaxChars) * opts.MinCutRatio)
	pos := 0
	for pos < len(runes) {
		end := len(runes)
		if end-pos > opts.MaxChars {
			cut := lastBoundary(runes[pos:], opts.MaxChars)
			if cut > minCut {
				end = pos + cut
			} else {
				end = pos + opts.MaxChars
			}
		}
		piece := strings.TrimSpace(string(runes[pos:end]))
		if piece != "" {
			out = append(out, Chunk{Index: len(out), Text: piece, Start: pos, End: end})
		}
		pos = end
	}
	return out
}

// Texts returns the chunk texts in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

// lastBoundary returns the index just past the last sentence terminator
// within the first limit runes of text (including any closing quote or
// bracket), or 0. Runes past limit are only read to decide whether a
// terminator at the edge of the window ends a sentence.
func lastBoundary(text []rune, limit int) int {
	for i := limit - 1; i >= 0; i-- {
		if !isTerminator(text[i]) {
			continue
		}
		j := i + 1
		for j < limit && isCloser(text[j]) {
			j++
		}
		k := j
		for k < len(text) && isCloser(text[k]) {
			k++
		}
		// "3.14" or "e.g.x" is not a boundary; the terminator must be
		// followed by whitespace or end the text.
		if isCJKTerminator(text[i]) || k == len(text) || unicode.IsSpace(text[k]) {
			return j
		}
	}
	return 0
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '\n', '…':
		return true
	}
	return isCJKTerminator(r)
}

func isCJKTerminator(r rune) bool {
	switch r {
	case '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '»', '”', '’':
		return true
	}
	return false
}
