// internal/browser/frames.go
package browser

import (
	"context"
	"fmt"
	"strings"
)

// Frame navigation. Portal UIs nest their working documents inside iframes
// (sometimes iframes inside iframes); every operation that needs a nested
// document states its frame path explicitly as a chain of iframe selectors
// resolved from the top document. This keeps the active-document context an
// argument instead of hidden session state: an operation can never leave a
// later step querying the wrong document.

type frameEnvelope struct {
	Ok     bool           `json:"ok"`
	Reason string         `json:"reason"`
	Value  jsoniterRawMsg `json:"value"`
}

type jsoniterRawMsg []byte

func (m *jsoniterRawMsg) UnmarshalJSON(data []byte) error {
	*m = append((*m)[:0], data...)
	return nil
}

func (m jsoniterRawMsg) MarshalJSON() ([]byte, error) {
	if len(m) == 0 {
		return []byte("null"), nil
	}
	return m, nil
}

// EvalInFrame resolves the frame path (same-origin iframes only, which is all
// these portals use) and applies body - a JS arrow function `(doc) => ...` -
// to the resolved document. The JSON result is decoded into out.
func (s *Session) EvalInFrame(ctx context.Context, frames []string, body string, out any) error {
	selectors := make([]string, len(frames))
	for i, f := range frames {
		selectors[i] = jsString(f)
	}

	expr := fmt.Sprintf(`(function() {
		let doc = document;
		const path = [%s];
		for (const sel of path) {
			const frame = doc.querySelector(sel);
			if (!frame) {
				return { ok: false, reason: "frame not found: " + sel };
			}
			doc = frame.contentDocument || (frame.contentWindow && frame.contentWindow.document);
			if (!doc) {
				return { ok: false, reason: "frame not accessible: " + sel };
			}
		}
		try {
			return { ok: true, value: (%s)(doc) };
		} catch (e) {
			return { ok: false, reason: "eval failed: " + e.message };
		}
	})()`, strings.Join(selectors, ", "), body)

	var env frameEnvelope
	if err := s.Eval(ctx, expr, &env); err != nil {
		return err
	}
	if !env.Ok {
		return fmt.Errorf("frame eval: %s", env.Reason)
	}
	if out == nil || len(env.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal([]byte(env.Value), out); err != nil {
		return fmt.Errorf("failed to decode frame eval result: %w", err)
	}
	return nil
}

// deepSweepJS walks the document, descending into open shadow roots and
// same-origin iframes, and clicks every element matching the selector.
// Browser-native surfaces (credential bubbles rendered into isolated
// component boundaries) are not reachable by plain querySelector; this
// bounded recursive traversal is the only way to touch them from script.
const deepSweepJS = `(function(selector, maxDepth, click) {
	let hits = 0;
	function walk(root, depth) {
		if (depth > maxDepth || !root) return;
		let matches = [];
		try { matches = root.querySelectorAll(selector); } catch (e) { return; }
		for (const el of matches) {
			hits++;
			if (click) {
				try { el.click(); } catch (e) { /* removed mid-sweep */ }
			}
		}
		let all = [];
		try { all = root.querySelectorAll('*'); } catch (e) { return; }
		for (const el of all) {
			if (el.shadowRoot) walk(el.shadowRoot, depth + 1);
			if (el.tagName === 'IFRAME') {
				try {
					const doc = el.contentDocument;
					if (doc) walk(doc, depth + 1);
				} catch (e) { /* cross-origin */ }
			}
		}
	}
	walk(document, 0);
	return hits;
})(%s, %d, %t)`

const maxTraversalDepth = 8

// DeepCount counts elements matching the selector anywhere in the page,
// including open shadow roots and same-origin iframes.
func (s *Session) DeepCount(ctx context.Context, selector string) (int, error) {
	var hits int
	expr := fmt.Sprintf(deepSweepJS, jsString(selector), maxTraversalDepth, false)
	if err := s.Eval(ctx, expr, &hits); err != nil {
		return 0, err
	}
	return hits, nil
}

// DeepClickAll clicks every element matching the selector anywhere in the
// page, descending into shadow roots and same-origin iframes. Returns the
// number of elements hit.
func (s *Session) DeepClickAll(ctx context.Context, selector string) (int, error) {
	var hits int
	expr := fmt.Sprintf(deepSweepJS, jsString(selector), maxTraversalDepth, true)
	if err := s.Eval(ctx, expr, &hits); err != nil {
		return 0, err
	}
	return hits, nil
}
