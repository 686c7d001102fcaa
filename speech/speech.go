// Package speech owns the read-aloud slot: at most one utterance plays
// process-wide, and starting another first cancels the current one and
// reports its end before the new one begins.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/mailglot/idgen"
)

// Engine produces audio. Speak starts an utterance and returns once it is
// queued; the end of the utterance is reported to Player.Done with the
// same id. Cancel stops whatever is playing and returns once it has
// stopped.
type Engine interface {
	Speak(ctx context.Context, id, text, lang string) error
	Cancel(ctx context.Context) error
}

// EndReason tells a control why its utterance ended.
type EndReason int

const (
	Finished    EndReason = iota // played to the end
	Stopped                      // second click on the same control
	Interrupted                  // another control started speaking
	Failed                       // engine reported an error
)

func (r EndReason) String() string {
	switch r {
	case Finished:
		return "finished"
	case Stopped:
		return "stopped"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("EndReason(%d)", int(r))
}

// ErrEmpty is returned when there is nothing to read.
var ErrEmpty = errors.New("speech: nothing to read")

// OnEnd is called exactly once per started utterance.
type OnEnd func(reason EndReason, err error)

// Callbacks observe one utterance. They run with the player locked, so
// Started always precedes Ended, and they must not call back into the
// Player.
type Callbacks struct {
	Started func()
	Ended   OnEnd
}

type slot struct {
	id      string
	key     string
	started time.Time
	onEnd   OnEnd
}

// Player is the single read-aloud slot.
type Player struct {
	engine Engine
	logger *slog.Logger
	newID  idgen.Generator

	mu  sync.Mutex
	cur *slot
}

// NewPlayer creates a player driving engine. A nil logger uses
// slog.Default().
func NewPlayer(engine Engine, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	return &Player{engine: engine, logger: logger, newID: idgen.Prefixed("utt_", idgen.Short(12))}
}

// Toggle is the read-aloud control for key. If key is speaking it stops
// and returns started=false. Otherwise any other utterance is cancelled
// and ended as Interrupted, then text is spoken in lang.
func (p *Player) Toggle(ctx context.Context, key, text, lang string, cb Callbacks) (started bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cur != nil && p.cur.key == key {
		return false, p.stopLocked(ctx, Stopped)
	}
	if text == "" {
		return false, ErrEmpty
	}
	if p.cur != nil {
		if err := p.stopLocked(ctx, Interrupted); err != nil {
			return false, err
		}
	}

	s := &slot{id: p.newID(), key: key, started: time.Now(), onEnd: cb.Ended}
	if err := p.engine.Speak(ctx, s.id, text, lang); err != nil {
		return false, fmt.Errorf("speech: speak: %w", err)
	}
	p.cur = s
	if cb.Started != nil {
		cb.Started()
	}
	p.logger.Debug("speech: started", "key", key, "utterance", s.id, "lang", lang, "chars", len(text))
	return true, nil
}

// Stop cancels the current utterance, if any.
func (p *Player) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil
	}
	return p.stopLocked(ctx, Stopped)
}

func (p *Player) stopLocked(ctx context.Context, reason EndReason) error {
	if err := p.engine.Cancel(ctx); err != nil {
		return fmt.Errorf("speech: cancel: %w", err)
	}
	p.endLocked(reason, nil)
	return nil
}

func (p *Player) endLocked(reason EndReason, err error) {
	s := p.cur
	p.cur = nil
	p.logger.Debug("speech: ended", "key", s.key, "utterance", s.id,
		"reason", reason.String(), "duration", time.Since(s.started))
	if s.onEnd != nil {
		s.onEnd(reason, err)
	}
}

// Done reports the end of utterance id. Reports for utterances that were
// already cancelled are ignored.
func (p *Player) Done(id string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil || p.cur.id != id {
		return
	}
	if err != nil {
		p.endLocked(Failed, err)
		return
	}
	p.endLocked(Finished, nil)
}

// Active returns the key currently speaking.
func (p *Player) Active() (key string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return "", false
	}
	return p.cur.key, true
}
