// Package observer attaches to a page: it exposes the CDP binding the
// injected script reports through, injects the MutationObserver and
// click delegation (observer.js) and forwards every binding call.
package observer

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

//go:embed observer.js
var observerJS string

// BindingName is the page function the injected script calls.
const BindingName = "__mailglot_binding"

// Message is one binding call from the page.
type Message struct {
	Type    string
	Payload []byte // the whole JSON object
}

// Decode parses a binding payload. Every payload is a JSON object with
// a "type" field.
func Decode(payload string) (Message, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal([]byte(payload), &head); err != nil {
		return Message{}, fmt.Errorf("observer: decode: %w", err)
	}
	if head.Type == "" {
		return Message{}, fmt.Errorf("observer: decode: missing type")
	}
	return Message{Type: head.Type, Payload: []byte(payload)}, nil
}

// Config for creating an Observer.
type Config struct {
	Page *rod.Page
	// Handle receives every decoded message on the event goroutine; it
	// must not block.
	Handle func(Message)
	Logger *slog.Logger
}

// Observer owns the binding subscription of one page.
type Observer struct {
	page     *rod.Page
	handle   func(Message)
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
	scriptID proto.PageScriptIdentifier
}

// New creates an Observer for the page.
func New(cfg Config) *Observer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Observer{page: cfg.Page, handle: cfg.Handle, logger: cfg.Logger}
}

// Start subscribes to binding calls and injects the script into the
// current document and every future one.
func (o *Observer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.done = make(chan struct{})

	if err := (proto.RuntimeEnable{}).Call(o.page); err != nil {
		o.logger.Debug("observer: runtime enable", "error", err)
	}
	if err := (proto.RuntimeAddBinding{Name: BindingName}).Call(o.page); err != nil {
		o.logger.Warn("observer: addBinding failed (may already exist)", "error", err)
	}

	wait := o.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != BindingName {
			return
		}
		msg, err := Decode(e.Payload)
		if err != nil {
			o.logger.Debug("observer: bad binding payload", "error", err)
			return
		}
		o.handle(msg)
	})
	go func() {
		defer close(o.done)
		wait()
	}()

	res, err := proto.PageAddScriptToEvaluateOnNewDocument{Source: "(" + observerJS + ")()"}.Call(o.page)
	if err != nil {
		o.Stop()
		return fmt.Errorf("observer: register script: %w", err)
	}
	o.scriptID = res.Identifier

	if _, err := o.page.Context(ctx).Eval(observerJS); err != nil {
		o.Stop()
		return fmt.Errorf("observer: inject observer.js: %w", err)
	}
	o.logger.Debug("observer: attached")
	return nil
}

// Stop ends the subscription and unregisters the script. The binding
// itself stays; a later Start reuses it.
func (o *Observer) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
	if o.scriptID != "" {
		_ = proto.PageRemoveScriptToEvaluateOnNewDocument{Identifier: o.scriptID}.Call(o.page)
		o.scriptID = ""
	}
	o.cancel = nil
}
