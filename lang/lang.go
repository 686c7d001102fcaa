// Package lang holds the target languages mailglot can translate and
// summarise into, and the tag normalisation used to compare a detected
// source language with the configured target.
package lang

import (
	"strings"

	"golang.org/x/text/language"
)

// Unknown is the sentinel returned by detection when no language could
// be determined. Downstream steps treat it as "no source hint".
const Unknown = "und"

// Language is a supported target language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// Supported lists the selectable target languages, in picker order.
var Supported = []Language{
	{"en", "English"},
	{"es", "Spanish"},
	{"fr", "French"},
	{"de", "German"},
	{"it", "Italian"},
	{"pt", "Portuguese"},
	{"nl", "Dutch"},
	{"ru", "Russian"},
	{"zh-CN", "Chinese (Simplified)"},
	{"zh-TW", "Chinese (Traditional)"},
	{"ja", "Japanese"},
	{"ko", "Korean"},
	{"ar", "Arabic"},
	{"hi", "Hindi"},
	{"bn", "Bengali"},
	{"tr", "Turkish"},
	{"pl", "Polish"},
	{"uk", "Ukrainian"},
	{"vi", "Vietnamese"},
	{"th", "Thai"},
	{"id", "Indonesian"},
	{"ms", "Malay"},
	{"sv", "Swedish"},
	{"da", "Danish"},
	{"no", "Norwegian"},
	{"fi", "Finnish"},
	{"cs", "Czech"},
	{"el", "Greek"},
	{"he", "Hebrew"},
	{"hu", "Hungarian"},
	{"ro", "Romanian"},
	{"fa", "Persian"},
	{"ur", "Urdu"},
	{"ta", "Tamil"},
	{"sw", "Swahili"},
}

// Default is the target language used until the user picks one.
const Default = "en"

var (
	tags    []language.Tag
	matcher language.Matcher
	byCode  = make(map[string]Language, len(Supported))
)

func init() {
	for _, l := range Supported {
		tags = append(tags, language.MustParse(l.Code))
		byCode[strings.ToLower(l.Code)] = l
	}
	matcher = language.NewMatcher(tags)
}

// Lookup returns the supported language for an exact code
// (case-insensitive).
func Lookup(code string) (Language, bool) {
	l, ok := byCode[strings.ToLower(strings.TrimSpace(code))]
	return l, ok
}

// Valid reports whether code is one of the supported target codes.
func Valid(code string) bool {
	_, ok := Lookup(code)
	return ok
}

// Normalize maps an arbitrary BCP 47 tag ("fr-FR", "iw", "zh-Hans") to
// the closest supported code. It returns false for empty, unknown or
// unsupported tags.
func Normalize(tag string) (string, bool) {
	tag = strings.TrimSpace(tag)
	if tag == "" || tag == Unknown {
		return "", false
	}
	if l, ok := Lookup(tag); ok {
		return l.Code, true
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", false
	}
	_, idx, conf := matcher.Match(t)
	if conf < language.High {
		return "", false
	}
	return Supported[idx].Code, true
}

// Same reports whether a detected tag denotes the configured target
// language. Unknown never matches.
func Same(detected, target string) bool {
	d, ok := Normalize(detected)
	if !ok {
		return false
	}
	t, ok := Normalize(target)
	if !ok {
		return false
	}
	return d == t
}

// Name returns the display name for code, or the upper-cased code when
// it is not a supported target (detected source languages can be).
func Name(code string) string {
	if l, ok := Lookup(code); ok {
		return l.Name
	}
	if n, ok := Normalize(code); ok {
		return byCode[strings.ToLower(n)].Name
	}
	return strings.ToUpper(code)
}

// PairLabel renders "FR → EN" for the injected translation header. An
// unknown source renders as "AUTO".
func PairLabel(source, target string) string {
	src := strings.ToUpper(source)
	if source == "" || source == Unknown {
		src = "AUTO"
	}
	return src + " → " + strings.ToUpper(target)
}
