// internal/overlay/handler.go

// Package overlay detects and dismisses the unsolicited modals the tracking
// portals throw up mid-flow: forced change-password nags, survey and promo
// popups, and the browser's own saved-credential bubble. Dismissal is always
// best effort; the main flow may succeed around an overlay that refused to
// close, so nothing here returns a fatal error for a stubborn popup.
package overlay

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dfmorales/rastreo-cli/internal/config"
)

// Page is the slice of the browser session the handler drives. The scripted
// sweep runs in the top document; DeepClickAll descends shadow roots, which
// is where the credential bubble hides from ordinary selectors.
type Page interface {
	Eval(ctx context.Context, expr string, out any) error
	DeepClickAll(ctx context.Context, selector string) (int, error)
}

// signature pairs a phrase that identifies a nuisance overlay in its visible
// text with the close control to press when the scripted sweep misses it.
type signature struct {
	phrase        string
	closeSelector string
}

var knownSignatures = []signature{
	{phrase: "cambiar contraseña", closeSelector: ".modal-password button.close, .modal-password .btn-cancelar"},
	{phrase: "cambie su contraseña", closeSelector: ".modal-password button.close, .modal-password .btn-cancelar"},
	{phrase: "encuesta", closeSelector: ".survey-modal .close, .modal-encuesta button.cerrar"},
	{phrase: "califica nuestro servicio", closeSelector: ".survey-modal .close, .modal-encuesta button.cerrar"},
	{phrase: "guardar contraseña", closeSelector: "[aria-label=\"Cerrar\"], [aria-label=\"Close\"]"},
	{phrase: "oferta especial", closeSelector: ".promo-modal .close, .modal-promo button.cerrar"},
}

// sweepJS dismisses every known overlay kind in one in-page pass. It clicks
// close controls where they exist and removes orphaned backdrops that would
// otherwise swallow clicks, reporting how many overlays it acted on.
const sweepJS = `(function() {
	let dismissed = 0;
	const closers = [
		".modal.show button.close", ".modal.in button.close",
		".modal-password .btn-cancelar", ".modal-encuesta button.cerrar",
		".modal-promo button.cerrar", ".swal2-close", ".swal2-cancel",
		"[data-dismiss=\"modal\"]", "[aria-label=\"Cerrar\"]"
	];
	for (const sel of closers) {
		for (const el of document.querySelectorAll(sel)) {
			const r = el.getBoundingClientRect();
			if (r.width > 0 && r.height > 0) {
				try { el.click(); dismissed++; } catch (e) {}
			}
		}
	}
	for (const backdrop of document.querySelectorAll(".modal-backdrop, .swal2-container")) {
		if (!document.querySelector(".modal.show, .modal.in, .swal2-shown")) {
			backdrop.remove();
			dismissed++;
		}
	}
	return dismissed;
})()`

// overlayTextJS captures the markup of anything that still looks like an
// open modal, for classification against the known signatures.
const overlayTextJS = `(function() {
	const out = [];
	for (const el of document.querySelectorAll(".modal.show, .modal.in, .swal2-container, [role=\"dialog\"], [role=\"alertdialog\"]")) {
		const r = el.getBoundingClientRect();
		if (r.width > 0 && r.height > 0) out.push(el.outerHTML);
	}
	return out;
})()`

type Handler struct {
	page   Page
	logger *zap.Logger
	cfg    config.OverlayConfig
}

func NewHandler(page Page, cfg config.OverlayConfig, logger *zap.Logger) *Handler {
	return &Handler{
		page:   page,
		logger: logger.Named("overlay"),
		cfg:    cfg,
	}
}

// Sweep runs one full detect-and-dismiss cycle: the scripted in-page sweep
// first, then signature-matched close buttons for whatever survived, then a
// re-probe to verify closure. Returns how many overlays were acted on. A
// popup that will not close is logged and left for the caller to work around.
func (h *Handler) Sweep(ctx context.Context) int {
	dismissed := 0
	if err := h.page.Eval(ctx, sweepJS, &dismissed); err != nil {
		h.logger.Debug("scripted sweep failed", zap.Error(err))
	}

	remaining := h.openOverlays(ctx)
	if len(remaining) == 0 {
		if dismissed > 0 {
			h.logger.Debug("overlays dismissed by sweep", zap.Int("count", dismissed))
		}
		return dismissed
	}

	// Fallback: classify what is still open and press its close control.
	// DeepClickAll also descends shadow roots, which covers the browser's
	// credential bubble living outside the regular DOM.
	for _, fragment := range remaining {
		text := strings.ToLower(flattenHTML(fragment))
		for _, sig := range knownSignatures {
			if !strings.Contains(text, sig.phrase) {
				continue
			}
			n, err := h.page.DeepClickAll(ctx, sig.closeSelector)
			if err != nil {
				h.logger.Debug("overlay close click failed",
					zap.String("signature", sig.phrase), zap.Error(err))
				continue
			}
			dismissed += n
			break
		}
	}

	if stillOpen := h.openOverlays(ctx); len(stillOpen) > 0 {
		h.logger.Warn("overlays still open after dismissal attempts",
			zap.Int("count", len(stillOpen)))
	}
	return dismissed
}

// openOverlays returns the markup of every overlay-looking element currently
// visible in the page.
func (h *Handler) openOverlays(ctx context.Context) []string {
	var fragments []string
	if err := h.page.Eval(ctx, overlayTextJS, &fragments); err != nil {
		h.logger.Debug("overlay probe failed", zap.Error(err))
		return nil
	}
	return fragments
}

// flattenHTML reduces an HTML fragment to its visible text so signature
// phrases match regardless of how the portal nests its modal markup.
func flattenHTML(fragment string) string {
	doc, err := html.Parse(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if trimmed := strings.TrimSpace(n.Data); trimmed != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(trimmed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}
