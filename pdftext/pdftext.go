// Package pdftext extracts plain text from PDF attachments with pdfcpu.
// Pages are extracted in order and joined by a blank line.
package pdftext

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// MinChars is the minimum extracted length below which a PDF is treated
// as having no text layer.
const MinChars = 20

// ErrNoText is returned when a PDF yields fewer than MinChars characters.
var ErrNoText = errors.New("no extractable text (likely a scanned or image-only PDF)")

// Document is the result of an extraction.
type Document struct {
	Text      string
	PageCount int
	// Pages holds the per-page text; empty pages are kept as "".
	Pages []string
}

// Extract parses data and returns its text.
func Extract(data []byte) (*Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("pdftext: empty input")
	}
	conf := model.NewDefaultConfiguration()
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdftext: read: %w", err)
	}

	doc := &Document{PageCount: ctx.PageCount}
	var nonEmpty []string
	for pageNr := 1; pageNr <= ctx.PageCount; pageNr++ {
		text := pageText(ctx, pageNr)
		doc.Pages = append(doc.Pages, text)
		if text != "" {
			nonEmpty = append(nonEmpty, text)
		}
	}
	doc.Text = strings.Join(nonEmpty, "\n\n")

	if utf8.RuneCountInString(strings.TrimSpace(doc.Text)) < MinChars {
		return doc, ErrNoText
	}
	return doc, nil
}

// ExtractText is Extract returning only the joined text.
func ExtractText(data []byte) (string, error) {
	doc, err := Extract(data)
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

func pageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil || r == nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return textFromStream(data)
}

// literalRe matches PDF string literals: (text here)
var literalRe = regexp.MustCompile(`\(((?:\\.|[^\\)])*)\)`)

// textFromStream walks content stream operators and collects shown text.
// Tj, TJ, ' and " show strings; Td, TD and T* break words and lines.
func textFromStream(data []byte) string {
	var sb strings.Builder
	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range literalRe.FindAllSubmatch(line, -1) {
				sb.WriteString(decodeLiteral(m[1]))
			}
		case (bytes.HasSuffix(line, []byte("'")) || bytes.HasSuffix(line, []byte(`"`))) && bytes.Contains(line, []byte("(")):
			for _, m := range literalRe.FindAllSubmatch(line, -1) {
				sb.WriteByte('\n')
				sb.WriteString(decodeLiteral(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")), bytes.Equal(line, []byte("ET")):
			sb.WriteByte('\n')
		}
	}
	return clean(sb.String())
}

// decodeLiteral resolves backslash escapes, including octal.
func decodeLiteral(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c != '\\' || i+1 >= len(raw) {
			sb.WriteByte(c)
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case 'b', 'f':
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] < '0' || raw[i] > '7' {
				sb.WriteByte(raw[i])
				continue
			}
			val := 0
			for n := 0; n < 3 && i < len(raw) && raw[i] >= '0' && raw[i] <= '7'; n++ {
				val = val*8 + int(raw[i]-'0')
				i++
			}
			i--
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}

// clean collapses runs of spaces, keeps single line breaks and drops
// non-printable runes.
func clean(text string) string {
	var lines []string
	for _, line := range strings.Split(text, "\n") {
		var sb strings.Builder
		prevSpace := false
		for _, r := range line {
			switch {
			case unicode.IsSpace(r):
				if !prevSpace && sb.Len() > 0 {
					sb.WriteByte(' ')
					prevSpace = true
				}
			case unicode.IsPrint(r):
				sb.WriteRune(r)
				prevSpace = false
			}
		}
		if s := strings.TrimSpace(sb.String()); s != "" {
			lines = append(lines, s)
		}
	}
	return strings.Join(lines, "\n")
}
