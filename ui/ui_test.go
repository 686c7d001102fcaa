package ui

import (
	"regexp"
	"strings"
	"testing"
)

func TestElementID(t *testing.T) {
	id := ElementID(KindBlock, "message:abc")
	if !regexp.MustCompile(`^mailglot-block-[0-9a-f]{12}$`).MatchString(id) {
		t.Fatalf("id = %q", id)
	}
	if id != ElementID(KindBlock, "message:abc") {
		t.Error("id not deterministic")
	}
	if id == ElementID(KindBlock, "message:abd") || id == ElementID(KindSummary, "message:abc") {
		t.Error("ids collide")
	}
}

func TestFragmentsCarryUIAttr(t *testing.T) {
	key := `message:<x"y>`
	frags := map[string]string{
		"indicator":  Indicator(key),
		"trigger":    Trigger(key),
		"badge":      Badge(key, "fr"),
		"block":      Block{Key: key, Label: "FR → EN", ToggleText: "Show Original", Content: "<p>hi</p>"}.Render(),
		"error":      Error(KindError, key, "boom <b>"),
		"summary":    Summary(key, "- a\n- b"),
		"compose":    Compose(key, "de"),
		"attachment": Attachment(key),
		"modal":      Modal(key, "a.pdf", "orig", "trad"),
		"toast":      Toast("t1", "Copied"),
	}
	for name, f := range frags {
		if !strings.Contains(f, `data-mailglot-ui=`) {
			t.Errorf("%s: missing ui attribute: %s", name, f)
		}
		if strings.Contains(f, `<x"y>`) {
			t.Errorf("%s: key not escaped: %s", name, f)
		}
	}
	if !strings.Contains(frags["block"], "<p>hi</p>") {
		t.Error("block content escaped")
	}
	if strings.Contains(frags["error"], "<b>") {
		t.Error("error message not escaped")
	}
	if !strings.Contains(frags["badge"], "Already in French") {
		t.Errorf("badge: %s", frags["badge"])
	}
	if !strings.Contains(frags["compose"], `<option value="de" selected>`) {
		t.Errorf("compose picker has no selected option: %s", frags["compose"])
	}
	if strings.Count(frags["compose"], "<option") != 35 {
		t.Errorf("compose picker options = %d", strings.Count(frags["compose"], "<option"))
	}
}

func TestSanitize(t *testing.T) {
	txt := NewText()
	out := string(txt.Sanitize(`<p onclick="x()">Hola <b>mundo</b><script>alert(1)</script><a href="javascript:alert(1)">l</a></p>`))
	if strings.Contains(out, "script") || strings.Contains(out, "onclick") || strings.Contains(out, "javascript:") {
		t.Errorf("unsafe markup kept: %s", out)
	}
	if !strings.Contains(out, "<b>mundo</b>") {
		t.Errorf("formatting lost: %s", out)
	}
}

func TestSpeakable(t *testing.T) {
	txt := NewText()
	got, err := txt.Speakable(`<h2>Title</h2><p>Hello <strong>big</strong> <a href="https://x.test">world</a>.</p><ul><li>one</li><li>two</li></ul>`)
	if err != nil {
		t.Fatal(err)
	}
	for _, bad := range []string{"#", "**", "](", "- one"} {
		if strings.Contains(got, bad) {
			t.Errorf("speakable text contains %q: %q", bad, got)
		}
	}
	for _, want := range []string{"Title", "Hello big world.", "one", "two"} {
		if !strings.Contains(got, want) {
			t.Errorf("speakable text missing %q: %q", want, got)
		}
	}
}

func TestMarkdown(t *testing.T) {
	md, err := NewText().Markdown(`<p>Hello <em>there</em></p>`)
	if err != nil {
		t.Fatal(err)
	}
	if md != "Hello *there*" {
		t.Errorf("markdown = %q", md)
	}
}
