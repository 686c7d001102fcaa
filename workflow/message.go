package workflow

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/mailglot/lang"
	"github.com/hazyhaar/mailglot/remote"
	"github.com/hazyhaar/mailglot/ui"
)

// ErrNoRecord is returned by Toggle for a node that was never translated.
var ErrNoRecord = errors.New("workflow: no translation for node")

const (
	labelShowOriginal    = "Show Original"
	labelShowTranslation = "Show Translation"
)

// showTrigger puts a manual Translate button after a message body.
func (e *Engine) showTrigger(ctx context.Context, key string) error {
	n, ok := e.node(key)
	if !ok {
		return nil
	}
	e.setState(key, opTrigger, StateWaiting, nil)
	if err := e.replaceAfter(ctx, n.handle, ui.ElementID(ui.KindTrigger, key), ui.Trigger(key)); err != nil {
		return err
	}
	e.setPending(key, true)
	return nil
}

// translateMessage is the message body workflow: preflight, detect,
// decide, translate, inject.
func (e *Engine) translateMessage(ctx context.Context, key string) error {
	n, ok := e.node(key)
	if !ok {
		return nil
	}
	body := n.handle
	target := e.settings.Get().TargetLang

	e.setState(key, opTranslate, StatePreflight, nil)
	text, err := body.Text(ctx)
	if err != nil {
		e.setState(key, opTranslate, StateSkipped, nil)
		return nil
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < e.cfg.MinTextChars {
		e.setState(key, opTranslate, StateSkipped, nil)
		return nil
	}
	markup, err := body.HTML(ctx)
	if err != nil {
		e.setState(key, opTranslate, StateSkipped, nil)
		return nil
	}

	e.setState(key, opTranslate, StateDetecting, nil)
	indicator := ui.ElementID(ui.KindIndicator, key)
	if err := e.replaceAfter(ctx, body, indicator, ui.Indicator(key)); err != nil {
		e.logger.Debug("workflow: indicator", "key", key, "error", err)
	}
	source, err := e.svc.Detect(ctx, text)
	if err != nil {
		e.logger.Debug("workflow: detection failed, translating without hint", "key", key, "error", err)
		source = lang.Unknown
	}
	if code, ok := lang.Normalize(source); ok {
		source = code
	} else if source == "" {
		source = lang.Unknown
	}

	e.setState(key, opTranslate, StateDecision, nil)
	if lang.Same(source, target) {
		e.remove(ctx, indicator)
		if err := e.replaceAfter(ctx, body, ui.ElementID(ui.KindBadge, key), ui.Badge(key, target)); err != nil {
			return err
		}
		e.setState(key, opTranslate, StateDone, nil)
		return nil
	}

	e.setState(key, opTranslate, StateTranslating, nil)
	hint := source
	if hint == lang.Unknown {
		hint = ""
	}
	translated, err := e.svc.TranslateMarkup(ctx, markup, hint, target)
	if err != nil {
		err = classifyErr(remote.ServiceTranslate, err)
		e.remove(ctx, indicator)
		e.setState(key, opTranslate, StateFailed, err)
		e.showError(ctx, body, key, err, e.cfg.MessageErrorTTL)
		return err
	}

	e.setState(key, opTranslate, StateInjecting, nil)
	rec := TranslationRecord{
		Original:          markup,
		Translated:        translated,
		SourceLang:        source,
		TargetLang:        target,
		ShowingTranslated: true,
	}
	e.records.PutTranslation(key, rec)
	e.remove(ctx, indicator)
	e.remove(ctx, ui.ErrorID(ui.KindError, key))

	block := ui.Block{
		Key:        key,
		Label:      lang.PairLabel(source, target),
		ToggleText: labelShowOriginal,
		Content:    e.text.Sanitize(translated),
	}
	if err := body.SetHidden(ctx, true); err != nil {
		e.setState(key, opTranslate, StateFailed, err)
		return err
	}
	if err := e.replaceAfter(ctx, body, ui.ElementID(ui.KindBlock, key), block.Render()); err != nil {
		_ = body.SetHidden(ctx, false)
		e.setState(key, opTranslate, StateFailed, err)
		return err
	}
	e.setState(key, opTranslate, StateDone, nil)
	return nil
}

// Toggle swaps a translated message between its translation and its
// original. It never calls a service and never changes the stored
// texts.
func (e *Engine) Toggle(ctx context.Context, key string) error {
	rec, ok := e.records.Toggle(key)
	if !ok {
		return ErrNoRecord
	}
	n, _ := e.node(key)
	content, hasContent := e.byID(ctx, ui.ContentID(key))

	if rec.ShowingTranslated {
		if n != nil {
			_ = n.handle.SetHidden(ctx, true)
		}
		if hasContent {
			_ = content.SetHTML(ctx, string(e.text.Sanitize(rec.Translated)))
			_ = content.SetHidden(ctx, false)
		}
		e.setControl(ctx, ui.LabelID(key), lang.PairLabel(rec.SourceLang, rec.TargetLang), "")
		e.setControl(ctx, ui.ToggleID(key), labelShowOriginal, "")
	} else {
		// Show the host's own rendering when it is still there, else
		// the stored original inside the block.
		shown := false
		if n != nil {
			shown = n.handle.SetHidden(ctx, false) == nil
		}
		if hasContent {
			if shown {
				_ = content.SetHidden(ctx, true)
			} else {
				_ = content.SetHTML(ctx, string(e.text.Sanitize(rec.Original)))
			}
		}
		label := "Original"
		if rec.SourceLang != lang.Unknown {
			label += " (" + lang.Name(rec.SourceLang) + ")"
		}
		e.setControl(ctx, ui.LabelID(key), label, "")
		e.setControl(ctx, ui.ToggleID(key), labelShowTranslation, "")
	}
	e.logger.Debug("workflow: toggled", "key", key, "showing_translated", rec.ShowingTranslated)
	return nil
}
