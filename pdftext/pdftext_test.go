package pdftext

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// buildTextPDF writes a minimal uncompressed PDF with one page per entry.
func buildTextPDF(pages ...string) []byte {
	var objs []string
	kids := make([]string, len(pages))
	// 1 catalog, 2 pages, 3 font, then (page, content) pairs.
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 4+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>",
	)
	for i, text := range pages {
		esc := strings.NewReplacer(`\`, `\\`, "(", `\(`, ")", `\)`).Replace(text)
		stream := "BT\n/F1 12 Tf\n72 720 Td\n(" + esc + ") Tj\nET"
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>", 5+2*i),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream),
		)
	}

	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return []byte(b.String())
}

func TestExtract_PagesJoinedByBlankLine(t *testing.T) {
	data := buildTextPDF("Rechnung Nummer 2024-117 vom Mai.", "Zahlbar innerhalb von 30 Tagen.")
	doc, err := Extract(data)
	if errors.Is(err, ErrNoText) {
		t.Skipf("pdfcpu returned no content for the synthetic PDF: %+v", doc)
	}
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if doc.PageCount != 2 {
		t.Fatalf("page count: got %d, want 2", doc.PageCount)
	}
	want := "Rechnung Nummer 2024-117 vom Mai.\n\nZahlbar innerhalb von 30 Tagen."
	if doc.Text != want {
		t.Fatalf("text: got %q, want %q", doc.Text, want)
	}
}

func TestExtract_ShortTextIsNoText(t *testing.T) {
	_, err := Extract(buildTextPDF("Hi"))
	if !errors.Is(err, ErrNoText) {
		t.Fatalf("expected ErrNoText, got %v", err)
	}
}

func TestExtract_Garbage(t *testing.T) {
	if _, err := Extract([]byte("not a pdf at all")); err == nil {
		t.Fatal("expected error for non-PDF input")
	}
	if _, err := Extract(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestTextFromStream(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n72 720 Td\n(Hello) Tj\n10 0 Td\n[(Wor) -20 (ld)] TJ\nT*\n(next \\(line\\)) '\nET")
	got := textFromStream(stream)
	want := "Hello World\nnext (line)"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDecodeLiteral(t *testing.T) {
	tests := []struct{ in, want string }{
		{`plain`, "plain"},
		{`a\nb`, "a\nb"},
		{`\(x\)`, "(x)"},
		{`\101\102C`, "ABC"},
		{`sp\040ace`, "sp ace"},
		{`back\\slash`, `back\slash`},
	}
	for _, tt := range tests {
		if got := decodeLiteral([]byte(tt.in)); got != tt.want {
			t.Errorf("decodeLiteral(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
