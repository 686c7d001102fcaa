package lang

import "testing"

func TestSupported_Count(t *testing.T) {
	if len(Supported) != 35 {
		t.Fatalf("Supported: got %d languages, want 35", len(Supported))
	}
	seen := make(map[string]bool)
	for _, l := range Supported {
		if seen[l.Code] {
			t.Errorf("duplicate code %q", l.Code)
		}
		seen[l.Code] = true
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"fr", "fr", true},
		{"FR", "fr", true},
		{"fr-FR", "fr", true},
		{"zh-cn", "zh-CN", true},
		{"iw", "he", true},
		{"und", "", false},
		{"", "", false},
		{"not a tag", "", false},
	}
	for _, tt := range tests {
		got, ok := Normalize(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Normalize(%q) = %q,%v want %q,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSame(t *testing.T) {
	if !Same("en", "en") {
		t.Error("Same(en, en) = false")
	}
	if !Same("en-GB", "en") {
		t.Error("Same(en-GB, en) = false")
	}
	if Same("fr", "en") {
		t.Error("Same(fr, en) = true")
	}
	if Same(Unknown, "en") {
		t.Error("Same(und, en) = true")
	}
}

func TestPairLabel(t *testing.T) {
	if got := PairLabel("fr", "en"); got != "FR → EN" {
		t.Errorf("PairLabel: got %q", got)
	}
	if got := PairLabel(Unknown, "de"); got != "AUTO → DE" {
		t.Errorf("PairLabel unknown: got %q", got)
	}
}
