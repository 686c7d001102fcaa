package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/mailglot/chunk"
	"github.com/hazyhaar/mailglot/classify"
	"github.com/hazyhaar/mailglot/pdftext"
	"github.com/hazyhaar/mailglot/remote"
	"github.com/hazyhaar/mailglot/ui"
)

// Modal tabs.
const (
	TabOriginal   = "original"
	TabTranslated = "translated"
)

// attachAttachment puts the Translate PDF control after a PDF card and,
// with auto-translate on, starts the translation.
func (e *Engine) attachAttachment(ctx context.Context, key string) error {
	n, ok := e.node(key)
	if !ok {
		return nil
	}
	if err := e.replaceAfter(ctx, n.handle, ui.ElementID(ui.KindAttachment, key), ui.Attachment(key)); err != nil {
		return err
	}
	e.setState(key, opAttachmentAttach, StateWaiting, nil)
	if e.settings.Get().AutoTranslate {
		e.spawn(key, opAttachment, e.translateAttachment)
	}
	return nil
}

// translateAttachment fetches the PDF, extracts its text, translates it
// chunk by chunk and opens the modal.
func (e *Engine) translateAttachment(ctx context.Context, key string) error {
	n, ok := e.node(key)
	if !ok {
		return nil
	}
	target := e.settings.Get().TargetLang
	progressID := ui.ProgressID(key)
	progress := func(s string) {
		if el, ok := e.byID(ctx, progressID); ok {
			_ = el.SetText(ctx, s)
		}
	}
	fail := func(err error) error {
		progress("")
		e.setState(key, opAttachment, StateFailed, err)
		e.setControl(ctx, ui.AttachmentButtonID(key), "Translate PDF", "")
		anchor := n.handle
		if el, ok := e.byID(ctx, ui.ElementID(ui.KindAttachment, key)); ok {
			anchor = el
		}
		e.showError(ctx, anchor, key, err, e.cfg.AttachmentErrorTTL)
		return err
	}
	e.setControl(ctx, ui.AttachmentButtonID(key), "Translate PDF", "busy")

	e.setState(key, opAttachment, StateFetching, nil)
	progress("Fetching…")
	locator := n.payload.Locator
	if locator == "" {
		loc, err := classify.AttachmentLocator(ctx, n.handle)
		if err != nil {
			return fail(err)
		}
		locator = loc
	}
	if locator == "" {
		return fail(&ContentError{Reason: "No download link found for this attachment"})
	}
	if e.fetcher == nil {
		return fail(&ServiceError{Service: "fetch", Message: "attachment download unavailable"})
	}
	data, err := e.fetcher.Fetch(ctx, locator, e.cfg.MaxAttachmentBytes)
	if err != nil {
		return fail(&ServiceError{Service: "fetch", Message: "Download failed: " + err.Error()})
	}

	e.setState(key, opAttachment, StateExtracting, nil)
	progress("Extracting…")
	extract := e.extract
	if extract == nil {
		extract = pdftext.ExtractText
	}
	text, err := extract(data)
	if errors.Is(err, pdftext.ErrNoText) {
		return fail(&ContentError{Reason: "This PDF has no extractable text (likely scanned or image-only)"})
	}
	if err != nil {
		return fail(&ContentError{Reason: "Could not read this PDF: " + err.Error()})
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < pdftext.MinChars {
		return fail(&ContentError{Reason: "This PDF has no extractable text (likely scanned or image-only)"})
	}

	e.setState(key, opAttachment, StateTranslating, nil)
	chunks := chunk.Split(text, chunk.Options{MaxChars: e.cfg.ChunkChars})
	parts := make([]string, 0, len(chunks))
	for i, c := range chunks {
		progress(fmt.Sprintf("Translating %d/%d…", i+1, len(chunks)))
		out, err := e.svc.Translate(ctx, c.Text, "", target)
		if err != nil {
			return fail(classifyErr(remote.ServiceTranslate, err))
		}
		parts = append(parts, out)
	}
	translated := strings.Join(parts, "\n")

	e.setState(key, opAttachment, StateInjecting, nil)
	rec := AttachmentRecord{
		Filename:   n.payload.Filename,
		Original:   text,
		Translated: translated,
		Chunks:     len(chunks),
		Tab:        TabTranslated,
	}
	e.records.PutAttachment(key, rec)
	modalID := ui.ElementID(ui.KindModal, key)
	e.remove(ctx, modalID)
	if err := e.tree.AppendToBody(ctx, ui.Modal(key, rec.Filename, rec.Original, rec.Translated)); err != nil {
		return fail(err)
	}
	progress("")
	e.setControl(ctx, ui.AttachmentButtonID(key), "Translate PDF", "")
	e.setState(key, opAttachment, StateDone, nil)
	return nil
}

// switchTab shows one pane of the attachment modal.
func (e *Engine) switchTab(ctx context.Context, key, tab string) {
	if tab != TabOriginal && tab != TabTranslated {
		return
	}
	if _, ok := e.records.SetTab(key, tab); !ok {
		return
	}
	for _, t := range []string{TabOriginal, TabTranslated} {
		if el, ok := e.byID(ctx, ui.TabID(key, t)); ok {
			_ = el.SetHidden(ctx, t != tab)
		}
	}
}

// copyAttachment copies the visible pane to the clipboard: the desktop
// clipboard first, the page's as fallback.
func (e *Engine) copyAttachment(ctx context.Context, key string) error {
	rec, ok := e.records.Attachment(key)
	if !ok {
		return nil
	}
	text := rec.Translated
	if rec.Tab == TabOriginal {
		text = rec.Original
	}
	var err error
	if e.hostClip != nil {
		err = e.hostClip(text)
	} else {
		err = errors.New("no host clipboard")
	}
	if err != nil && e.pageClip != nil {
		e.logger.Debug("workflow: host clipboard failed, using page", "error", err)
		err = e.pageClip.WriteClipboard(ctx, text)
	}
	msg := "Copied to clipboard"
	if err != nil {
		msg = "Copy failed: " + err.Error()
	}
	e.toast(ctx, msg)
	return err
}

func (e *Engine) toast(ctx context.Context, msg string) {
	id := e.newToast()
	if err := e.tree.AppendToBody(ctx, ui.Toast(id, msg)); err != nil {
		return
	}
	ttl := e.cfg.ToastTTL
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	e.after(ttl, func(ctx context.Context) { e.remove(ctx, id) })
}
