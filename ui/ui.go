// Package ui renders the markup mailglot injects into the host page.
// Every fragment carries the data-mailglot-ui attribute so the observer
// ignores it, and every control carries data-mailglot-action and
// data-mailglot-for so clicks come back as Action events.
package ui

import (
	"crypto/sha256"
	"encoding/hex"
)

// Kind names an injected element family. It appears in element ids.
type Kind string

const (
	KindIndicator  Kind = "indicator"
	KindBlock      Kind = "block"
	KindBadge      Kind = "badge"
	KindError      Kind = "error"
	KindSummary    Kind = "summary"
	KindTrigger    Kind = "trigger"
	KindCompose    Kind = "compose"
	KindAttachment Kind = "attachment"
	KindModal      Kind = "modal"
	KindToast      Kind = "toast"
)

// Action names carried by data-mailglot-action.
const (
	ActionTranslate        = "translate"
	ActionToggle           = "toggle"
	ActionSummarize        = "summarize"
	ActionSpeak            = "speak"
	ActionComposeTranslate = "compose-translate"
	ActionAttachment       = "attachment-translate"
	ActionTab              = "tab"
	ActionCopy             = "copy"
	ActionDismiss          = "dismiss"
)

// Attributes shared with the injected observer script.
const (
	AttrUI     = "data-mailglot-ui"
	AttrAction = "data-mailglot-action"
	AttrFor    = "data-mailglot-for"
	AttrTarget = "data-mailglot-target"
	AttrValue  = "data-mailglot-value"
	AttrState  = "data-mailglot-state"
)

// Action is a user interaction reported by the page.
type Action struct {
	Name   string `json:"action"`
	Key    string `json:"key"`
	Target string `json:"target,omitempty"`
	Value  string `json:"value,omitempty"`
}

// ElementID derives the DOM id of a key's element of the given kind:
// mailglot-<kind>-<12 hex digits of sha256(key)>.
func ElementID(kind Kind, key string) string {
	sum := sha256.Sum256([]byte(key))
	return "mailglot-" + string(kind) + "-" + hex.EncodeToString(sum[:6])
}

// Sub-element ids of a translation block or control.
func LabelID(key string) string     { return ElementID(KindBlock, key) + "-label" }
func ToggleID(key string) string    { return ElementID(KindBlock, key) + "-toggle" }
func ContentID(key string) string   { return ElementID(KindBlock, key) + "-content" }
func SummarizeID(key string) string { return ElementID(KindBlock, key) + "-summarize" }
func SpeakID(key string) string     { return ElementID(KindBlock, key) + "-speak" }
func ProgressID(key string) string  { return ElementID(KindAttachment, key) + "-progress" }

// AttachmentButtonID is the trigger of an attachment control.
func AttachmentButtonID(key string) string { return ElementID(KindAttachment, key) + "-button" }

// ComposeButtonID is the trigger of a compose control.
func ComposeButtonID(key string) string { return ElementID(KindCompose, key) + "-button" }

// TabID is a modal tab pane: "original" or "translated".
func TabID(key, tab string) string { return ElementID(KindModal, key) + "-" + tab }
