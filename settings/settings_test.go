package settings

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/mailglot/dbopen"

	_ "modernc.org/sqlite"
)

func newStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewStore(db, opts...)
}

func TestLoad_Defaults(t *testing.T) {
	s := newStore(t)
	got, err := s.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != Defaults() {
		t.Fatalf("got %+v, want defaults", got)
	}
}

func TestSaveLoad(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	want := Settings{
		TranslateKey:      "g-key",
		SummarizeKey:      "sk-123456",
		TargetLang:        "fr",
		AutoTranslate:     false,
		SummarizeProvider: ProviderAnthropic,
		SummarizeModel:    "claude-3-5-haiku-latest",
	}
	if err := s.Save(ctx, want); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestSave_Validates(t *testing.T) {
	s := newStore(t)
	bad := Defaults()
	bad.TargetLang = "klingon"
	if err := s.Save(context.Background(), bad); err == nil {
		t.Fatal("expected error for unsupported target language")
	}
	bad = Defaults()
	bad.SummarizeProvider = "cohere"
	if err := s.Save(context.Background(), bad); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestSealer_AtRest(t *testing.T) {
	s := newStore(t, WithSealer(NewSealer("correct horse")))
	ctx := context.Background()
	if err := s.Set(ctx, KeyTranslateKey, "AIza-secret"); err != nil {
		t.Fatal(err)
	}

	var raw string
	s.db.QueryRow(`SELECT value FROM settings WHERE name = ?`, KeyTranslateKey).Scan(&raw)
	if !strings.HasPrefix(raw, sealedPrefix) || strings.Contains(raw, "AIza") {
		t.Fatalf("credential stored in clear: %q", raw)
	}

	v, ok, err := s.Get(ctx, KeyTranslateKey)
	if err != nil || !ok || v != "AIza-secret" {
		t.Fatalf("Get: %q %v %v", v, ok, err)
	}

	other := NewStore(s.db, WithSealer(NewSealer("wrong")))
	if _, err := other.Load(ctx); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed with wrong secret, got %v", err)
	}
	if _, err := NewStore(s.db).Load(ctx); !errors.Is(err, ErrSealed) {
		t.Fatalf("expected ErrSealed without secret, got %v", err)
	}
}

func TestMasked(t *testing.T) {
	s := Settings{TranslateKey: "abcdefgh", SummarizeKey: "xy"}.Masked()
	if s.TranslateKey != "****efgh" {
		t.Errorf("TranslateKey: got %q", s.TranslateKey)
	}
	if s.SummarizeKey != "****" {
		t.Errorf("SummarizeKey: got %q", s.SummarizeKey)
	}
	if (Settings{}).Masked().TranslateKey != "" {
		t.Error("empty key should stay empty")
	}
}

func TestCache_ReloadNotifies(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	c := NewCache(s, WithOverrides(Overrides{SummarizeKey: "env-key"}))

	if got := c.Get(); got.SummarizeKey != "env-key" {
		t.Fatalf("override not applied before load: %+v", got)
	}

	var notified atomic.Int32
	var lastTarget atomic.Value
	unsub := c.Subscribe(func(old, cur Settings) {
		notified.Add(1)
		lastTarget.Store(cur.TargetLang)
	})
	defer unsub()

	if err := s.Set(ctx, KeyTargetLang, "de"); err != nil {
		t.Fatal(err)
	}
	if err := c.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if notified.Load() != 1 || lastTarget.Load() != "de" {
		t.Fatalf("notified=%d target=%v", notified.Load(), lastTarget.Load())
	}
	// Unchanged reload does not notify.
	if err := c.Reload(ctx); err != nil {
		t.Fatal(err)
	}
	if notified.Load() != 1 {
		t.Fatalf("unchanged reload notified: %d", notified.Load())
	}
	if c.Get().SummarizeKey != "env-key" {
		t.Fatal("override lost after reload")
	}
}

func TestCache_Update(t *testing.T) {
	s := newStore(t)
	c := NewCache(s, WithOverrides(Overrides{TranslateKey: "env"}))
	got, err := c.Update(context.Background(), func(st *Settings) {
		st.AutoTranslate = false
		st.TargetLang = "ja"
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.AutoTranslate || got.TargetLang != "ja" || got.TranslateKey != "env" {
		t.Fatalf("got %+v", got)
	}
	stored, _, _ := s.Get(context.Background(), KeyTranslateKey)
	if stored != "" {
		t.Fatalf("override written back to store: %q", stored)
	}
}

func TestCache_RunFollowsWrites(t *testing.T) {
	s := newStore(t)
	c := NewCache(s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, s.db, 20*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	if err := s.Set(context.Background(), KeyAutoTranslate, "false"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !c.Get().AutoTranslate {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("cache did not follow the persisted change")
}
