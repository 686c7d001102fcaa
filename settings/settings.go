// Package settings persists mailglot's user settings (credentials, target
// language, auto-translate) in SQLite and serves them from a process-wide
// cache that follows persisted changes without a restart.
package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/mailglot/dbopen"
	"github.com/hazyhaar/mailglot/lang"
)

// Schema holds the key/value settings table. updated_at is unix nanos so
// watch.MaxColumnDetector sees every write.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
    name       TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// Setting names.
const (
	KeyTranslateKey      = "translate_key"
	KeySummarizeKey      = "summarize_key"
	KeyTargetLang        = "target_lang"
	KeyAutoTranslate     = "auto_translate"
	KeySummarizeProvider = "summarize_provider"
	KeySummarizeModel    = "summarize_model"
)

// Summarize providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Settings is a snapshot of the user settings.
type Settings struct {
	TranslateKey      string `json:"translate_key"`
	SummarizeKey      string `json:"summarize_key"`
	TargetLang        string `json:"target_lang"`
	AutoTranslate     bool   `json:"auto_translate"`
	SummarizeProvider string `json:"summarize_provider"`
	SummarizeModel    string `json:"summarize_model"`
}

// Defaults returns the settings used before anything is stored.
func Defaults() Settings {
	return Settings{
		TargetLang:        lang.Default,
		AutoTranslate:     true,
		SummarizeProvider: ProviderOpenAI,
		SummarizeModel:    "gpt-4o-mini",
	}
}

// Masked returns a copy with credentials reduced to their last 4
// characters.
func (s Settings) Masked() Settings {
	s.TranslateKey = mask(s.TranslateKey)
	s.SummarizeKey = mask(s.SummarizeKey)
	return s
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// Validate checks the non-credential fields.
func (s Settings) Validate() error {
	if !lang.Valid(s.TargetLang) {
		return fmt.Errorf("settings: unsupported target language %q", s.TargetLang)
	}
	switch s.SummarizeProvider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("settings: unknown summarize provider %q", s.SummarizeProvider)
	}
	return nil
}

// Store reads and writes the settings table.
type Store struct {
	db     *sql.DB
	sealer *Sealer
	now    func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithSealer encrypts credential values at rest.
func WithSealer(s *Sealer) StoreOption { return func(st *Store) { st.sealer = s } }

// NewStore wraps db. The schema must be applied.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{db: db, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get returns a raw named value; ok is false when unset.
func (s *Store) Get(ctx context.Context, name string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("settings: get %s: %w", name, err)
	}
	if isSecret(name) {
		value, err = s.sealer.Open(value)
		if err != nil {
			return "", false, fmt.Errorf("settings: get %s: %w", name, err)
		}
	}
	return value, true, nil
}

// Set writes one named value.
func (s *Store) Set(ctx context.Context, name, value string) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		return s.set(ctx, tx, name, value)
	})
}

func (s *Store) set(ctx context.Context, tx *sql.Tx, name, value string) error {
	if isSecret(name) && value != "" {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("settings: seal %s: %w", name, err)
		}
		value = sealed
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO settings (name, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, value, s.now().UnixNano())
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", name, err)
	}
	return nil
}

// Load reads every setting over Defaults.
func (s *Store) Load(ctx context.Context) (Settings, error) {
	out := Defaults()
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM settings`)
	if err != nil {
		return out, fmt.Errorf("settings: load: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return out, fmt.Errorf("settings: scan: %w", err)
		}
		if isSecret(name) {
			if value, err = s.sealer.Open(value); err != nil {
				return out, fmt.Errorf("settings: open %s: %w", name, err)
			}
		}
		switch name {
		case KeyTranslateKey:
			out.TranslateKey = value
		case KeySummarizeKey:
			out.SummarizeKey = value
		case KeyTargetLang:
			if code, ok := lang.Normalize(value); ok {
				out.TargetLang = code
			}
		case KeyAutoTranslate:
			if b, err := strconv.ParseBool(value); err == nil {
				out.AutoTranslate = b
			}
		case KeySummarizeProvider:
			if value != "" {
				out.SummarizeProvider = strings.ToLower(value)
			}
		case KeySummarizeModel:
			if value != "" {
				out.SummarizeModel = value
			}
		}
	}
	return out, rows.Err()
}

// Save writes every field of st in one transaction.
func (s *Store) Save(ctx context.Context, st Settings) error {
	if err := st.Validate(); err != nil {
		return err
	}
	values := map[string]string{
		KeyTranslateKey:      st.TranslateKey,
		KeySummarizeKey:      st.SummarizeKey,
		KeyTargetLang:        st.TargetLang,
		KeyAutoTranslate:     strconv.FormatBool(st.AutoTranslate),
		KeySummarizeProvider: st.SummarizeProvider,
		KeySummarizeModel:    st.SummarizeModel,
	}
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		for name, v := range values {
			if err := s.set(ctx, tx, name, v); err != nil {
				return err
			}
		}
		return nil
	})
}

func isSecret(name string) bool {
	return name == KeyTranslateKey || name == KeySummarizeKey
}
