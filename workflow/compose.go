package workflow

import (
	"context"
	"strings"

	"github.com/hazyhaar/mailglot/lang"
	"github.com/hazyhaar/mailglot/remote"
	"github.com/hazyhaar/mailglot/ui"
)

const labelTranslate = "Translate"

// attachCompose puts the language picker and Translate button after a
// compose editor.
func (e *Engine) attachCompose(ctx context.Context, key string) error {
	n, ok := e.node(key)
	if !ok {
		return nil
	}
	target := e.settings.Get().TargetLang
	if err := e.replaceAfter(ctx, n.handle, ui.ElementID(ui.KindCompose, key), ui.Compose(key, target)); err != nil {
		return err
	}
	e.setState(key, opComposeAttach, StateWaiting, nil)
	return nil
}

// translateCompose replaces the draft with its translation into target.
// The draft is not kept.
func (e *Engine) translateCompose(ctx context.Context, key, target string) error {
	n, ok := e.node(key)
	if !ok {
		return nil
	}
	if code, ok := lang.Normalize(target); ok {
		target = code
	} else {
		target = e.settings.Get().TargetLang
	}
	btn := ui.ComposeButtonID(key)

	fail := func(err error) error {
		e.setState(key, opComposeTranslate, StateFailed, err)
		e.flashTrigger(ctx, btn, "Translation failed", "error", labelTranslate, err)
		return err
	}

	e.setState(key, opComposeTranslate, StatePreflight, nil)
	text, err := n.handle.Text(ctx)
	if err != nil {
		return fail(err)
	}
	if strings.TrimSpace(text) == "" {
		return fail(&ContentError{Reason: "Nothing to translate"})
	}

	e.setState(key, opComposeTranslate, StateTranslating, nil)
	e.setControl(ctx, btn, "Translating…", "busy")
	out, err := e.svc.Translate(ctx, text, "", target)
	if err != nil {
		return fail(classifyErr(remote.ServiceTranslate, err))
	}

	e.setState(key, opComposeTranslate, StateInjecting, nil)
	if err := n.handle.SetText(ctx, out); err != nil {
		return fail(err)
	}
	e.setControl(ctx, btn, labelTranslate, "")
	e.setState(key, opComposeTranslate, StateDone, nil)
	return nil
}
