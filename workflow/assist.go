package workflow

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/hazyhaar/mailglot/remote"
	"github.com/hazyhaar/mailglot/speech"
	"github.com/hazyhaar/mailglot/tree"
	"github.com/hazyhaar/mailglot/ui"
)

const (
	labelSummarize = "Summarize"
	labelReadAloud = "Read aloud"
	labelStop      = "Stop"
)

// sourceMarkup is the markup a node's assistants work on: the
// translation when there is one, else the original.
func (e *Engine) sourceMarkup(ctx context.Context, n *node) (string, bool, error) {
	if rec, ok := e.records.Translation(n.key); ok {
		return rec.Translated, true, nil
	}
	if n.payload.HTML != "" {
		return n.payload.HTML, false, nil
	}
	m, err := n.handle.HTML(ctx)
	return m, false, err
}

// summarize asks for a summary in the target language and replaces the
// summary panel.
func (e *Engine) summarize(ctx context.Context, key string) error {
	n, ok := e.node(key)
	if !ok {
		return nil
	}
	trigger := ui.SummarizeID(key)
	target := e.settings.Get().TargetLang
	e.setState(key, opSummarize, StateSummarizing, nil)
	e.setControl(ctx, trigger, "Summarizing…", "busy")

	fail := func(err error) error {
		e.setState(key, opSummarize, StateFailed, err)
		e.flashTrigger(ctx, trigger, "Summary failed", "error", labelSummarize, err)
		return err
	}

	markup, _, err := e.sourceMarkup(ctx, n)
	if err != nil {
		return fail(err)
	}
	text, err := e.text.Markdown(markup)
	if err != nil || strings.TrimSpace(text) == "" {
		if text, err = n.handle.Text(ctx); err != nil {
			return fail(err)
		}
	}
	if strings.TrimSpace(text) == "" {
		return fail(&ContentError{Reason: "Nothing to summarize"})
	}
	text = truncateRunes(text, e.cfg.SummaryMaxChars)

	summary, err := e.svc.Summarize(ctx, text, target)
	if err != nil {
		return fail(classifyErr(remote.ServiceSummarize, err))
	}

	e.records.PutSummary(key, SummaryRecord{Text: summary, Lang: target, CreatedAt: time.Now()})
	if err := e.replaceAfter(ctx, e.panelAnchor(ctx, n), ui.ElementID(ui.KindSummary, key), ui.Summary(key, summary)); err != nil {
		return fail(err)
	}
	e.setControl(ctx, trigger, labelSummarize, "")
	e.setState(key, opSummarize, StateDone, nil)
	return nil
}

// panelAnchor is the element a summary panel goes after: the translation
// block, the badge, or the body itself.
func (e *Engine) panelAnchor(ctx context.Context, n *node) tree.Node {
	for _, id := range []string{ui.ElementID(ui.KindBlock, n.key), ui.ElementID(ui.KindBadge, n.key)} {
		if el, ok := e.byID(ctx, id); ok {
			return el
		}
	}
	return n.handle
}

// ReadAloud is the read-aloud control of key: it starts reading the
// visible text, or stops if key is the one speaking. Starting a node
// stops and resets any other.
func (e *Engine) ReadAloud(ctx context.Context, key string) error {
	if e.player == nil {
		return errors.New("workflow: read aloud unavailable")
	}
	n, ok := e.node(key)
	if !ok {
		return nil
	}
	btn := ui.SpeakID(key)

	language := e.settings.Get().TargetLang
	var markup string
	if rec, ok := e.records.Translation(key); ok {
		markup = rec.Original
		if rec.ShowingTranslated {
			markup = rec.Translated
		}
		language = rec.TargetLang
	} else {
		m, _, err := e.sourceMarkup(ctx, n)
		if err != nil {
			return err
		}
		markup = m
	}
	text, err := e.text.Speakable(markup)
	if err != nil || text == "" {
		if text, err = n.handle.Text(ctx); err != nil {
			return err
		}
	}

	started, err := e.player.Toggle(ctx, key, text, language, speech.Callbacks{
		Started: func() {
			e.setControl(ctx, btn, labelStop, "speaking")
		},
		Ended: func(reason speech.EndReason, err error) {
			// Completion events arrive after the action context is gone.
			e.setControl(e.baseCtx, btn, labelReadAloud, "")
			e.logger.Debug("workflow: read aloud ended", "key", key, "reason", reason.String(), "error", err)
		},
	})
	if err != nil {
		e.flashTrigger(ctx, btn, "Read aloud failed", "error", labelReadAloud, err)
		return err
	}
	e.logger.Debug("workflow: read aloud", "key", key, "started", started, "lang", language)
	return nil
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
