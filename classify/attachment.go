package classify

import (
	"context"
	"path"
	"strings"

	"github.com/hazyhaar/mailglot/tree"
)

// DownloadURL is the decoded form of an attachment card's download_url
// attribute, "mime:name:url".
type DownloadURL struct {
	MIME string
	Name string
	URL  string
}

// ParseDownloadURL decodes a download_url value. The URL part keeps its
// own colons.
func ParseDownloadURL(v string) (DownloadURL, bool) {
	parts := strings.SplitN(v, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return DownloadURL{}, false
	}
	return DownloadURL{MIME: parts[0], Name: parts[1], URL: parts[2]}, true
}

// IsPDF reports whether a filename has the .pdf extension.
func IsPDF(name string) bool {
	return strings.EqualFold(path.Ext(strings.TrimSpace(name)), ".pdf")
}

// AttachmentFilename finds the display name of an attachment card:
// download_url name, data-mailglot-attachment, title, then text.
func AttachmentFilename(ctx context.Context, n tree.Node) (string, error) {
	if v, ok, err := n.Attr(ctx, "download_url"); err != nil {
		return "", err
	} else if ok {
		if d, ok := ParseDownloadURL(v); ok {
			return d.Name, nil
		}
	}
	for _, attr := range []string{"data-mailglot-attachment", "title"} {
		v, ok, err := n.Attr(ctx, attr)
		if err != nil {
			return "", err
		}
		if ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), nil
		}
	}
	text, err := n.Text(ctx)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// AttachmentLocator resolves where the card's bytes can be fetched:
// download_url, a descendant a[href], then data-url. An empty result
// means the card exposes no locator.
func AttachmentLocator(ctx context.Context, n tree.Node) (string, error) {
	if v, ok, err := n.Attr(ctx, "download_url"); err != nil {
		return "", err
	} else if ok {
		if d, ok := ParseDownloadURL(v); ok {
			return d.URL, nil
		}
	}
	links, err := n.QueryAll(ctx, "a[href]")
	if err != nil {
		return "", err
	}
	for _, a := range links {
		href, ok, err := a.Attr(ctx, "href")
		if err != nil {
			return "", err
		}
		if ok && href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return href, nil
		}
	}
	v, ok, err := n.Attr(ctx, "data-url")
	if err != nil || !ok {
		return "", err
	}
	return v, nil
}
