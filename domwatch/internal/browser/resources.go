package browser

import (
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// blockable are the resource classes a webmail tab loads without needing
// them for reading mail. Documents, scripts and XHR are never blocked:
// the webmail client is built from them.
var blockable = map[string]proto.NetworkResourceType{
	"images":      proto.NetworkResourceTypeImage,
	"fonts":       proto.NetworkResourceTypeFont,
	"media":       proto.NetworkResourceTypeMedia,
	"stylesheets": proto.NetworkResourceTypeStylesheet,
}

// resourceTypes resolves configured class names. Unknown names are
// returned so the caller can log them.
func resourceTypes(names []string) (map[proto.NetworkResourceType]bool, []string) {
	set := make(map[proto.NetworkResourceType]bool, len(names))
	var unknown []string
	for _, n := range names {
		if typ, ok := blockable[strings.ToLower(strings.TrimSpace(n))]; ok {
			set[typ] = true
		} else {
			unknown = append(unknown, n)
		}
	}
	return set, unknown
}

// blockResources fails requests of the given types on page. It returns
// nil when there is nothing to block; otherwise the router must be
// stopped when the tab closes.
func blockResources(page *rod.Page, types map[proto.NetworkResourceType]bool) *rod.HijackRouter {
	if len(types) == 0 {
		return nil
	}
	router := page.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if types[h.Request.Type()] {
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	return router
}
