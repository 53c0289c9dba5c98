// internal/browser/interact.go
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// clickResult is what the in-page click strategies report back.
type clickResult struct {
	Ok     bool    `json:"ok"`
	Reason string  `json:"reason"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

const elementCenterJS = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return {ok: false, reason: "not found"};
	el.scrollIntoView({block: "center", inline: "center"});
	const r = el.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) return {ok: false, reason: "zero size"};
	return {ok: true, x: r.left + r.width / 2, y: r.top + r.height / 2};
})(%s)`

const jsClickJS = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return {ok: false, reason: "not found"};
	el.scrollIntoView({block: "center", inline: "center"});
	try {
		el.click();
		return {ok: true};
	} catch (e) {
		return {ok: false, reason: String(e)};
	}
})(%s)`

const syntheticClickJS = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return {ok: false, reason: "not found"};
	const r = el.getBoundingClientRect();
	const opts = {
		bubbles: true, cancelable: true, view: window,
		clientX: r.left + r.width / 2, clientY: r.top + r.height / 2
	};
	for (const type of ["mousedown", "mouseup", "click"]) {
		el.dispatchEvent(new MouseEvent(type, opts));
	}
	return {ok: true};
})(%s)`

// defaultClickAttempts bounds the escalation retries when the caller has no
// reason to override it.
const defaultClickAttempts = 4

// ClickWhenClickable clicks the element behind selector with the default
// attempt bound. Callers with an already-resolved marked element pass its
// attribute selector here, which is the cached-reference path: the click
// reuses the mark instead of re-running the lookup that produced it.
func (s *Session) ClickWhenClickable(ctx context.Context, selector string, timeout time.Duration) (bool, error) {
	return s.ClickWithAttempts(ctx, selector, timeout, defaultClickAttempts)
}

// ClickWithAttempts tries to click the element behind selector. Each attempt
// escalates through four strategies until one lands: the native chromedp
// click, a direct element.click() call, a trusted CDP mouse event at the
// element center, and finally a synthetic MouseEvent sequence. Failed
// attempts are retried with a short backoff up to maxAttempts or until
// timeout, whichever comes first. It reports whether a strategy succeeded and
// never returns an error for a merely unclickable element; only a dead
// context surfaces as an error.
func (s *Session) ClickWithAttempts(ctx context.Context, selector string, timeout time.Duration, maxAttempts int) (bool, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	clickCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	delay := backoffDelay(timeout)
	for attempt := 1; ; attempt++ {
		if ok := s.tryClickStrategies(clickCtx, selector); ok {
			return true, nil
		}
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if attempt >= maxAttempts {
			s.logger.Debug("element never became clickable",
				zap.String("selector", selector),
				zap.Int("attempts", attempt))
			return false, nil
		}

		select {
		case <-clickCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			s.logger.Debug("element never became clickable",
				zap.String("selector", selector),
				zap.Int("attempts", attempt))
			return false, nil
		case <-time.After(delay):
		}
	}
}

// tryClickStrategies runs the full escalation ladder once. Every strategy
// gets its shot within the attempt; sub-strategy misses are logged at debug
// and the next one fires immediately.
func (s *Session) tryClickStrategies(ctx context.Context, selector string) bool {
	// Strategy 1: native click with scroll-into-view.
	err := s.RunActions(ctx,
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
	if err == nil {
		return true
	}
	s.logger.Debug("native click missed", zap.String("selector", selector), zap.Error(err))
	if ctx.Err() != nil {
		return false
	}

	// Strategy 2: direct element.click() inside the page.
	var res clickResult
	if err := s.Eval(ctx, fmt.Sprintf(jsClickJS, jsString(selector)), &res); err == nil && res.Ok {
		return true
	}
	s.logger.Debug("scripted click missed", zap.String("selector", selector), zap.String("reason", res.Reason))
	if ctx.Err() != nil {
		return false
	}

	// Strategy 3: trusted mouse event at the element center. Some map
	// widgets ignore untrusted events entirely.
	if err := s.Eval(ctx, fmt.Sprintf(elementCenterJS, jsString(selector)), &res); err == nil && res.Ok {
		err = s.RunActions(ctx,
			chromedp.MouseEvent(input.MousePressed, res.X, res.Y, chromedp.Button("left"), chromedp.ClickCount(1)),
			chromedp.MouseEvent(input.MouseReleased, res.X, res.Y, chromedp.Button("left"), chromedp.ClickCount(1)),
		)
		if err == nil {
			return true
		}
	}
	s.logger.Debug("pointer-event click missed", zap.String("selector", selector))
	if ctx.Err() != nil {
		return false
	}

	// Strategy 4: synthetic MouseEvent sequence, last resort for elements
	// whose handlers hang off mousedown rather than click.
	if err := s.Eval(ctx, fmt.Sprintf(syntheticClickJS, jsString(selector)), &res); err == nil && res.Ok {
		return true
	}
	s.logger.Debug("synthetic click missed", zap.String("selector", selector), zap.String("reason", res.Reason))
	return false
}

// backoffDelay scales the inter-attempt pause with the overall deadline so
// short timeouts still get a few attempts, capped so long timeouts do not
// crawl.
func backoffDelay(timeout time.Duration) time.Duration {
	d := timeout / 25
	if d > 300*time.Millisecond {
		d = 300 * time.Millisecond
	}
	if d < 20*time.Millisecond {
		d = 20 * time.Millisecond
	}
	return d
}

const clearFieldJS = `(function(sel) {
	const el = document.querySelector(sel);
	if (!el) return {ok: false, reason: "not found"};
	el.focus();
	el.value = "";
	el.dispatchEvent(new Event("input", {bubbles: true}));
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return {ok: true};
})(%s)`

// TypeInto clears the field behind selector and types text into it with real
// key events. The explicit clear fires input and change so framework-bound
// fields drop any stale model value before the new keys arrive.
func (s *Session) TypeInto(ctx context.Context, selector, text string) error {
	if err := s.RunActions(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("scrolling to %q: %w", selector, err)
	}

	var res clickResult
	if err := s.Eval(ctx, fmt.Sprintf(clearFieldJS, jsString(selector)), &res); err != nil {
		return fmt.Errorf("clearing %q: %w", selector, err)
	}
	if !res.Ok {
		return fmt.Errorf("clearing %q: %s", selector, res.Reason)
	}

	if err := s.RunActions(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("typing into %q: %w", selector, err)
	}
	return nil
}
