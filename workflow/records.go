package workflow

import (
	"sync"
	"time"
)

// TranslationRecord is the translation of one message body. Only Toggle
// changes it after creation.
type TranslationRecord struct {
	Original          string `json:"-"`
	Translated        string `json:"-"`
	SourceLang        string `json:"source_lang"`
	TargetLang        string `json:"target_lang"`
	ShowingTranslated bool   `json:"showing_translated"`
}

// SummaryRecord is the last summary generated for a node.
type SummaryRecord struct {
	Text      string    `json:"text"`
	Lang      string    `json:"lang"`
	CreatedAt time.Time `json:"created_at"`
}

// AttachmentRecord holds a translated attachment shown in the modal.
type AttachmentRecord struct {
	Filename   string
	Original   string
	Translated string
	Chunks     int
	Tab        string // "original" or "translated"
}

// Records are the per-node stores. Entries are dropped when the node
// leaves the classification registry.
type Records struct {
	mu           sync.RWMutex
	translations map[string]TranslationRecord
	summaries    map[string]SummaryRecord
	attachments  map[string]AttachmentRecord
}

// NewRecords returns empty stores.
func NewRecords() *Records {
	return &Records{
		translations: make(map[string]TranslationRecord),
		summaries:    make(map[string]SummaryRecord),
		attachments:  make(map[string]AttachmentRecord),
	}
}

func (r *Records) PutTranslation(key string, rec TranslationRecord) {
	r.mu.Lock()
	r.translations[key] = rec
	r.mu.Unlock()
}

func (r *Records) Translation(key string) (TranslationRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.translations[key]
	return rec, ok
}

// Toggle flips ShowingTranslated and returns the updated record.
func (r *Records) Toggle(key string) (TranslationRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.translations[key]
	if !ok {
		return rec, false
	}
	rec.ShowingTranslated = !rec.ShowingTranslated
	r.translations[key] = rec
	return rec, true
}

func (r *Records) PutSummary(key string, rec SummaryRecord) {
	r.mu.Lock()
	r.summaries[key] = rec
	r.mu.Unlock()
}

func (r *Records) Summary(key string) (SummaryRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.summaries[key]
	return rec, ok
}

func (r *Records) PutAttachment(key string, rec AttachmentRecord) {
	r.mu.Lock()
	r.attachments[key] = rec
	r.mu.Unlock()
}

func (r *Records) Attachment(key string) (AttachmentRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.attachments[key]
	return rec, ok
}

// SetTab records the visible modal tab.
func (r *Records) SetTab(key, tab string) (AttachmentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.attachments[key]
	if !ok {
		return rec, false
	}
	rec.Tab = tab
	r.attachments[key] = rec
	return rec, true
}

// Drop removes every record of key.
func (r *Records) Drop(key string) {
	r.mu.Lock()
	delete(r.translations, key)
	delete(r.summaries, key)
	delete(r.attachments, key)
	r.mu.Unlock()
}

// Counts returns the number of stored records by kind.
func (r *Records) Counts() (translations, summaries, attachments int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.translations), len(r.summaries), len(r.attachments)
}
