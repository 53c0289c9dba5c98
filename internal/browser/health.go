// internal/browser/health.go
package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/dfmorales/rastreo-cli/api/schemas"
)

// httpErrorSignatures are body-text markers that mean the remote application
// server, not the scraping logic, is broken. Any match raises the
// distinguished server-down failure, which callers propagate immediately and
// never retry as a generic UI-not-found case.
var httpErrorSignatures = []string{
	"404 not found",
	"403 forbidden",
	"500 internal server error",
	"502 bad gateway",
	"503 service unavailable",
	"504 gateway timeout",
	"proxy error",
	"runtime error",
	"server error in",
	"servicio no disponible",
	"error del servidor",
	"this site can't be reached",
	"err_connection",
	"err_name_not_resolved",
}

type pageProbe struct {
	ReadyState string `json:"readyState"`
	BodyText   string `json:"bodyText"`
}

const pageProbeJS = `(function() {
	const body = document.body;
	return {
		readyState: document.readyState,
		bodyText: body ? (body.innerText || "").slice(0, 4000) : ""
	};
})()`

// CheckPageHealth inspects the current URL and page content for HTTP-error
// signatures and for a document that never finished loading. step labels the
// flow position being verified and travels with the failure.
func (s *Session) CheckPageHealth(ctx context.Context, step string) error {
	op := "browser.health"

	url, err := s.Location(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return schemas.NewServerDown(op, fmt.Sprintf("%s: browser connection error: %v", step, err))
	}
	if strings.HasPrefix(url, "chrome-error://") {
		return schemas.NewServerDown(op, fmt.Sprintf("%s: navigation error page at %s", step, url))
	}

	var probe pageProbe
	if err := s.Eval(ctx, pageProbeJS, &probe); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return schemas.NewServerDown(op, fmt.Sprintf("%s: page probe failed: %v", step, err))
	}

	if sig := matchErrorSignature(probe.BodyText); sig != "" {
		return schemas.NewServerDown(op, fmt.Sprintf("%s: error signature %q at %s", step, sig, url))
	}
	if probe.ReadyState != "complete" {
		return schemas.NewServerDown(op, fmt.Sprintf("%s: document not fully loaded (readyState=%s) at %s", step, probe.ReadyState, url))
	}
	return nil
}

// matchErrorSignature returns the first server-error marker found in the
// page text, or "" when the page looks healthy.
func matchErrorSignature(bodyText string) string {
	lowered := strings.ToLower(bodyText)
	// Chrome renders the typographic apostrophe on its error pages.
	lowered = strings.ReplaceAll(lowered, "’", "'")
	for _, sig := range httpErrorSignatures {
		if strings.Contains(lowered, sig) {
			return sig
		}
	}
	return ""
}
