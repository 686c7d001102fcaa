package browser

import (
	"net/url"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestResourceTypes(t *testing.T) {
	set, unknown := resourceTypes([]string{"Images", " fonts", "xhr", "stylesheets"})
	for _, typ := range []proto.NetworkResourceType{proto.NetworkResourceTypeImage, proto.NetworkResourceTypeFont, proto.NetworkResourceTypeStylesheet} {
		if !set[typ] {
			t.Errorf("%s not blocked", typ)
		}
	}
	if set[proto.NetworkResourceTypeDocument] || set[proto.NetworkResourceTypeXHR] {
		t.Error("document or xhr blocked")
	}
	if len(unknown) != 1 || unknown[0] != "xhr" {
		t.Errorf("unknown = %v", unknown)
	}
}

func TestXSocket(t *testing.T) {
	if got, err := xSocket(":99"); err != nil || got != "/tmp/.X11-unix/X99" {
		t.Errorf("xSocket(:99) = %q, %v", got, err)
	}
	for _, bad := range []string{"99", ":", ":../x"} {
		if _, err := xSocket(bad); err == nil {
			t.Errorf("xSocket(%q) accepted", bad)
		}
	}
}

func TestSameOrigin(t *testing.T) {
	want, _ := url.Parse("https://mail.google.com/mail/u/0/")
	cases := map[string]bool{
		"https://mail.google.com/mail/u/0/#inbox":  true,
		"https://MAIL.google.com/mail/u/1/#sent":   true,
		"http://mail.google.com/mail/u/0/":         false,
		"https://accounts.google.com/ServiceLogin": false,
		"about:blank": false,
		"https://mail.google.com.evil.example/mail/u/": false,
	}
	for raw, exp := range cases {
		if got := sameOrigin(want, raw); got != exp {
			t.Errorf("sameOrigin(%q) = %v, want %v", raw, got, exp)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.MemoryLimit != 1<<30 || c.RecycleInterval != 12*time.Hour || c.XvfbDisplay != ":99" || c.Logger == nil {
		t.Errorf("defaults = %+v", c)
	}
}
