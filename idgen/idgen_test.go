package idgen

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestShort(t *testing.T) {
	seen := map[string]bool{}
	for _, n := range []int{1, 6, 40} {
		gen := Short(n)
		for range 50 {
			id := gen()
			if len(id) != n || strings.Trim(id, base36) != "" {
				t.Fatalf("Short(%d) = %q", n, id)
			}
			if n == 40 && seen[id] {
				t.Fatalf("duplicate id %q", id)
			}
			seen[id] = true
		}
	}
}

func TestSortable(t *testing.T) {
	a, b := Sortable(), Sortable()
	u, err := uuid.Parse(a)
	if err != nil || u.Version() != 7 {
		t.Fatalf("Sortable() = %q (%v)", a, err)
	}
	if a >= b {
		t.Fatalf("ids not increasing: %s then %s", a, b)
	}
}

func TestPrefixed(t *testing.T) {
	if id := Prefixed("run_", Short(8))(); !strings.HasPrefix(id, "run_") || len(id) != 12 {
		t.Fatalf("Prefixed = %q", id)
	}
}
