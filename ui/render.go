package ui

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"

	"github.com/hazyhaar/mailglot/lang"
)

//go:embed style.css
var styleSheet string

// StyleID is the id of the injected stylesheet.
const StyleID = "mailglot-style"

var tmpl = template.Must(template.New("ui").Parse(`
{{define "style"}}<style id="` + StyleID + `" data-mailglot-ui="style">{{.}}</style>{{end}}

{{define "indicator"}}<div id="{{.ID}}" data-mailglot-ui="indicator" class="mailglot-indicator">Translating…</div>{{end}}

{{define "trigger"}}<div id="{{.ID}}" data-mailglot-ui="trigger" class="mailglot-bar"><button type="button" data-mailglot-action="translate" data-mailglot-for="{{.Key}}">Translate</button></div>{{end}}

{{define "badge"}}<div id="{{.ID}}" data-mailglot-ui="badge" class="mailglot-bar">
<span class="mailglot-badge">Already in {{.LangName}}</span>
<button type="button" id="{{.SummarizeID}}" data-mailglot-action="summarize" data-mailglot-for="{{.Key}}">Summarize</button>
<button type="button" id="{{.SpeakID}}" data-mailglot-action="speak" data-mailglot-for="{{.Key}}">Read aloud</button>
</div>{{end}}

{{define "block"}}<div id="{{.ID}}" data-mailglot-ui="translation" class="mailglot-block">
<div class="mailglot-bar">
<span id="{{.LabelID}}" class="mailglot-pair">{{.Label}}</span>
<button type="button" id="{{.ToggleID}}" data-mailglot-action="toggle" data-mailglot-for="{{.Key}}">{{.ToggleText}}</button>
<button type="button" id="{{.SummarizeID}}" data-mailglot-action="summarize" data-mailglot-for="{{.Key}}">Summarize</button>
<button type="button" id="{{.SpeakID}}" data-mailglot-action="speak" data-mailglot-for="{{.Key}}">Read aloud</button>
</div>
<div id="{{.ContentID}}" class="mailglot-content">{{.Content}}</div>
</div>{{end}}

{{define "error"}}<div id="{{.ID}}" data-mailglot-ui="error" class="mailglot-error" role="alert"><span>{{.Message}}</span> <button type="button" data-mailglot-action="dismiss" data-mailglot-target="{{.ID}}" aria-label="Dismiss">×</button></div>{{end}}

{{define "summary"}}<div id="{{.ID}}" data-mailglot-ui="summary" class="mailglot-summary">
<div class="mailglot-bar"><strong>Summary</strong> <button type="button" data-mailglot-action="dismiss" data-mailglot-target="{{.ID}}" aria-label="Dismiss">×</button></div>
<div class="mailglot-summary-text">{{.Text}}</div>
</div>{{end}}

{{define "compose"}}<div id="{{.ID}}" data-mailglot-ui="compose" class="mailglot-bar">
<select data-mailglot-for="{{.Key}}" aria-label="Target language">{{range .Languages}}<option value="{{.Code}}"{{if eq .Code $.Selected}} selected{{end}}>{{.Name}}</option>{{end}}</select>
<button type="button" id="{{.ButtonID}}" data-mailglot-action="compose-translate" data-mailglot-for="{{.Key}}">Translate</button>
</div>{{end}}

{{define "attachment"}}<span id="{{.ID}}" data-mailglot-ui="attachment" class="mailglot-bar">
<button type="button" id="{{.ButtonID}}" data-mailglot-action="attachment-translate" data-mailglot-for="{{.Key}}">Translate PDF</button>
<span id="{{.ProgressID}}" class="mailglot-progress"></span>
</span>{{end}}

{{define "modal"}}<div id="{{.ID}}" data-mailglot-ui="modal" class="mailglot-modal" role="dialog" aria-label="{{.Filename}}">
<div class="mailglot-bar">
<strong>{{.Filename}}</strong>
<button type="button" data-mailglot-action="tab" data-mailglot-for="{{.Key}}" data-mailglot-value="original">Original</button>
<button type="button" data-mailglot-action="tab" data-mailglot-for="{{.Key}}" data-mailglot-value="translated">Translated</button>
<button type="button" data-mailglot-action="copy" data-mailglot-for="{{.Key}}">Copy</button>
<button type="button" data-mailglot-action="dismiss" data-mailglot-target="{{.ID}}">Close</button>
</div>
<pre id="{{.OriginalID}}" class="mailglot-pane" hidden>{{.Original}}</pre>
<pre id="{{.TranslatedID}}" class="mailglot-pane">{{.Translated}}</pre>
</div>{{end}}

{{define "toast"}}<div id="{{.ID}}" data-mailglot-ui="toast" class="mailglot-toast" role="status">{{.Message}}</div>{{end}}
`))

func render(name string, data any) string {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		// Templates are static and the data types fixed by this package.
		panic(fmt.Sprintf("ui: render %s: %v", name, err))
	}
	return buf.String()
}

// Style is the stylesheet element, injected once per page.
func Style() string { return render("style", template.CSS(styleSheet)) }

// Indicator is the transient "Translating…" marker.
func Indicator(key string) string {
	return render("indicator", struct{ ID string }{ElementID(KindIndicator, key)})
}

// Trigger is the manual Translate button shown when auto-translate is off.
func Trigger(key string) string {
	return render("trigger", struct{ ID, Key string }{ElementID(KindTrigger, key), key})
}

// Badge tells the user the message is already in the target language.
func Badge(key, target string) string {
	return render("badge", struct{ ID, Key, LangName, SummarizeID, SpeakID string }{
		ElementID(KindBadge, key), key, lang.Name(target), SummarizeID(key), SpeakID(key),
	})
}

// Block is the translation block inserted after the original message.
// content must already be sanitized.
type Block struct {
	Key        string
	Label      string
	ToggleText string
	Content    template.HTML
}

// Render returns the markup of b.
func (b Block) Render() string {
	return render("block", struct {
		Block
		ID, LabelID, ToggleID, SummarizeID, SpeakID, ContentID string
	}{b, ElementID(KindBlock, b.Key), LabelID(b.Key), ToggleID(b.Key), SummarizeID(b.Key), SpeakID(b.Key), ContentID(b.Key)})
}

// Error is a dismissible inline error. Its id is derived from key and
// kind so a newer error replaces an older one.
func Error(kind Kind, key, message string) string {
	return render("error", struct{ ID, Message string }{ElementID(kind, key), message})
}

// ErrorID is the id of the error fragment Error renders for (kind, key).
func ErrorID(kind Kind, key string) string { return ElementID(kind, key) }

// Summary is the dismissible summary panel.
func Summary(key, text string) string {
	return render("summary", struct{ ID, Text string }{ElementID(KindSummary, key), text})
}

// Compose is the persistent control attached after a compose editor.
func Compose(key, selected string) string {
	return render("compose", struct {
		ID, Key, ButtonID, Selected string
		Languages                   []lang.Language
	}{ElementID(KindCompose, key), key, ComposeButtonID(key), selected, lang.Supported})
}

// Attachment is the control attached after a PDF attachment card.
func Attachment(key string) string {
	return render("attachment", struct{ ID, Key, ButtonID, ProgressID string }{
		ElementID(KindAttachment, key), key, AttachmentButtonID(key), ProgressID(key),
	})
}

// Modal shows an attachment's original and translated text.
func Modal(key, filename, original, translated string) string {
	return render("modal", struct {
		ID, Key, Filename, Original, Translated, OriginalID, TranslatedID string
	}{ElementID(KindModal, key), key, filename, original, translated, TabID(key, "original"), TabID(key, "translated")})
}

// Toast is a short page-level notice.
func Toast(id, message string) string {
	return render("toast", struct{ ID, Message string }{id, message})
}
