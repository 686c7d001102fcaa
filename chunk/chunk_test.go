package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit_ShortText(t *testing.T) {
	text := "Hello world this is a short text."
	chunks := Split(text, Options{})
	if len(chunks) != 1 {
		t.Fatalf("split short: got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Text != text {
		t.Errorf("text: got %q, want %q", chunks[0].Text, text)
	}
}

func TestSplit_Empty(t *testing.T) {
	if chunks := Split("", Options{}); chunks != nil {
		t.Errorf("split empty: got %v, want nil", chunks)
	}
	if chunks := Split("  \n\t ", Options{}); chunks != nil {
		t.Errorf("split blank: got %v, want nil", chunks)
	}
}

func TestSplit_SentenceBoundary(t *testing.T) {
	sentence := "This is one sentence of moderate length. "
	text := strings.Repeat(sentence, 100)

	chunks := Split(text, Options{MaxChars: 2000})
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want >= 2", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c.Text); n > 2000 {
			t.Errorf("chunk[%d]: %d runes > 2000", i, n)
		}
		if !strings.HasSuffix(c.Text, ".") {
			t.Errorf("chunk[%d] should end on a sentence: %q", i, c.Text[len(c.Text)-20:])
		}
		if c.Index != i {
			t.Errorf("chunk[%d]: index=%d", i, c.Index)
		}
	}
}

func TestSplit_HardCutWithoutPunctuation(t *testing.T) {
	text := strings.Repeat("x", 4500)
	chunks := Split(text, Options{MaxChars: 2000})
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if len(chunks[0].Text) != 2000 || len(chunks[1].Text) != 2000 || len(chunks[2].Text) != 500 {
		t.Errorf("lengths: %d %d %d", len(chunks[0].Text), len(chunks[1].Text), len(chunks[2].Text))
	}
}

func TestSplit_EarlyPunctuationIgnored(t *testing.T) {
	// The only boundary sits at 10% of the window: hard cut instead.
	text := strings.Repeat("a", 99) + ". " + strings.Repeat("b", 1500)
	chunks := Split(text, Options{MaxChars: 1000})
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if utf8.RuneCountInString(chunks[0].Text) != 1000 {
		t.Errorf("first chunk should be hard-cut at 1000, got %d", utf8.RuneCountInString(chunks[0].Text))
	}
}

func TestSplit_DecimalIsNotBoundary(t *testing.T) {
	text := strings.Repeat("w ", 200) + "pi is 3.14159 " + strings.Repeat("z ", 200)
	chunks := Split(text, Options{MaxChars: 420})
	for _, c := range chunks {
		if strings.HasSuffix(c.Text, "3.") {
			t.Fatalf("cut inside a number: %q", c.Text[len(c.Text)-10:])
		}
	}
}

func TestSplit_DecimalAtWindowEdge(t *testing.T) {
	// The window ends right after "3." while the number continues.
	head := strings.Repeat("a", 1000) + ". "
	text := head + strings.Repeat("b", 1994-len(head)) + " pi 3.14159 and more text after it."
	chunks := Split(text, Options{})
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].End != len(head)-1 {
		t.Errorf("first cut at %d, want %d", chunks[0].End, len(head)-1)
	}
	if !strings.Contains(chunks[1].Text, "3.14159") {
		t.Errorf("number split across chunks: %q", chunks[1].Text)
	}
}

func TestSplit_PreservesContent(t *testing.T) {
	text := "Première phrase. Deuxième phrase! Troisième phrase? " + strings.Repeat("Encore une phrase. ", 50)
	chunks := Split(text, Options{MaxChars: 120})
	joined := strings.Join(Texts(chunks), " ")
	if strings.Join(strings.Fields(joined), " ") != strings.Join(strings.Fields(text), " ") {
		t.Fatal("chunks do not reassemble to the original text")
	}
	for i := 1; i < len(chunks); i++ {
		if chunks[i].Start != chunks[i-1].End {
			t.Fatalf("chunk %d starts at %d, previous ended at %d", i, chunks[i].Start, chunks[i-1].End)
		}
	}
}
