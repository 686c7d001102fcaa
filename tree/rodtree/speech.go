package rodtree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hazyhaar/mailglot/domwatch"
)

// Speech is a speech.Engine using the page's speechSynthesis. Completion
// arrives asynchronously as a speech event on the page binding.
type Speech struct {
	t *Tree
}

// NewSpeech returns the page speech engine of t.
func NewSpeech(t *Tree) *Speech { return &Speech{t: t} }

// Speak starts an utterance tagged id.
func (s *Speech) Speak(ctx context.Context, id, text, lang string) error {
	_, err := s.t.eval(ctx, `(id, text, lang, binding) => {
		if (!window.speechSynthesis) throw new Error('speech synthesis unavailable');
		const report = (event, error) => {
			try { window[binding](JSON.stringify({ type: 'speech', id, event, error: error || '' })); } catch (e) {}
		};
		const u = new SpeechSynthesisUtterance(text);
		u.lang = lang;
		u.onend = () => report('end');
		u.onerror = (e) => report('error', e.error || 'error');
		speechSynthesis.speak(u);
	}`, id, text, lang, domwatch.BindingName)
	if err != nil {
		return fmt.Errorf("rodtree: speak: %w", err)
	}
	return nil
}

// Cancel stops all speech and returns once the page acknowledged it.
func (s *Speech) Cancel(ctx context.Context) error {
	if _, err := s.t.eval(ctx, `() => { if (window.speechSynthesis) speechSynthesis.cancel(); }`); err != nil {
		return fmt.Errorf("rodtree: cancel speech: %w", err)
	}
	return nil
}

// SpeechEvent is the completion report of one utterance.
type SpeechEvent struct {
	ID    string `json:"id"`
	Event string `json:"event"` // end | error
	Error string `json:"error"`
}

// Err is nil for a normal end.
func (e SpeechEvent) Err() error {
	if e.Event == "end" {
		return nil
	}
	if e.Error == "" {
		return errors.New("rodtree: speech failed")
	}
	return fmt.Errorf("rodtree: speech: %s", e.Error)
}

// DecodeSpeechEvent parses a speech event payload.
func DecodeSpeechEvent(payload []byte) (SpeechEvent, error) {
	var ev SpeechEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return SpeechEvent{}, fmt.Errorf("rodtree: decode speech event: %w", err)
	}
	if ev.ID == "" {
		return SpeechEvent{}, fmt.Errorf("rodtree: decode speech event: missing id")
	}
	return ev, nil
}
