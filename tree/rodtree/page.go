package rodtree

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/hazyhaar/mailglot/horosafe"
)

// Fetch downloads rawURL from inside the page so the webmail session
// cookies apply. Implements tree.Fetcher.
func (t *Tree) Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, error) {
	if _, err := horosafe.CheckScheme(rawURL); err != nil {
		return nil, fmt.Errorf("rodtree: fetch: %w", err)
	}
	res, err := t.eval(ctx, `async (url, max) => {
		const r = await fetch(url, { credentials: 'include' });
		if (!r.ok) throw new Error('status ' + r.status);
		const buf = new Uint8Array(await r.arrayBuffer());
		if (max > 0 && buf.length > max) throw new Error('attachment larger than ' + max + ' bytes');
		let bin = '';
		for (let i = 0; i < buf.length; i += 0x8000) {
			bin += String.fromCharCode.apply(null, buf.subarray(i, i + 0x8000));
		}
		return btoa(bin);
	}`, rawURL, maxBytes)
	if err != nil {
		return nil, fmt.Errorf("rodtree: fetch: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(res.Value.Str())
	if err != nil {
		return nil, fmt.Errorf("rodtree: fetch: decode: %w", err)
	}
	return data, nil
}

// WriteClipboard copies text through the page. Implements
// tree.ClipboardWriter.
func (t *Tree) WriteClipboard(ctx context.Context, text string) error {
	_, err := t.eval(ctx, `async (text) => {
		try {
			await navigator.clipboard.writeText(text);
			return;
		} catch (e) {}
		const ta = document.createElement('textarea');
		ta.setAttribute('data-mailglot-ui', 'clipboard');
		ta.style.position = 'fixed';
		ta.style.opacity = '0';
		ta.value = text;
		document.body.appendChild(ta);
		ta.select();
		const ok = document.execCommand('copy');
		ta.remove();
		if (!ok) throw new Error('copy refused');
	}`, text)
	if err != nil {
		return fmt.Errorf("rodtree: clipboard: %w", err)
	}
	return nil
}
