// internal/scraper/scraper.go

// Package scraper holds the per-portal session state machines. Each portal
// gets its own browser process and its own implementation of the same three
// capabilities: log in, locate the plate, extract the detail popup. The
// implementations share the wait engine, the interaction primitives, and the
// overlay handler as composed collaborators; only selectors and transitions
// differ.
package scraper

import (
	"context"
	"fmt"
	neturl "net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/api/schemas"
	"github.com/dfmorales/rastreo-cli/internal/browser"
	"github.com/dfmorales/rastreo-cli/internal/config"
	"github.com/dfmorales/rastreo-cli/internal/overlay"
	"github.com/dfmorales/rastreo-cli/internal/waitkit"
)

// Scraper drives one portal session for one vehicle. Login is one-shot per
// instance; GetVehicleLocation requires a prior successful Login. Close is
// safe to call any number of times and never fails.
type Scraper interface {
	Login(ctx context.Context, username, password, plate string) (bool, error)
	GetVehicleLocation(ctx context.Context, plate string) (*schemas.LocationRecord, error)
	Close()
}

// New builds the state machine for the given portal, launching a dedicated
// browser process. A browser that will not start is fatal; there is no
// degraded mode.
func New(ctx context.Context, provider schemas.ProviderID, cfg *config.Config, logger *zap.Logger) (Scraper, error) {
	pcfg, err := cfg.Provider(provider)
	if err != nil {
		return nil, schemas.NewScrapeError(schemas.FailureFatal, "scraper.new", err)
	}

	session, err := browser.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, schemas.NewScrapeError(schemas.FailureFatal, "scraper.new", err)
	}

	base := newBase(provider, session, pcfg, cfg, logger)
	switch provider {
	case schemas.ProviderMovilsat:
		return &movilsatScraper{base: base}, nil
	case schemas.ProviderGeotrack:
		return &geotrackScraper{base: base}, nil
	case schemas.ProviderRastreosat:
		return &rastreosatScraper{base: base}, nil
	default:
		session.Close()
		return nil, schemas.NewScrapeError(schemas.FailureFatal, "scraper.new",
			fmt.Errorf("unknown provider %q", provider))
	}
}

// maxStepAttempts bounds local retries of transient UI steps. Server-down
// failures bypass this entirely.
const maxStepAttempts = 3

const stepRetryPause = 500 * time.Millisecond

// base carries the collaborators every portal machine composes.
type base struct {
	provider schemas.ProviderID
	session  *browser.Session
	wait     *waitkit.Engine
	overlays *overlay.Handler
	monitor  *overlay.Monitor
	logger   *zap.Logger
	pcfg     config.ProviderConfig

	authenticated bool
	loginUsed     bool
	plate         string
}

func newBase(provider schemas.ProviderID, session *browser.Session, pcfg config.ProviderConfig, cfg *config.Config, logger *zap.Logger) base {
	log := logger.Named(string(provider)).With(zap.String("session_id", session.ID()))
	handler := overlay.NewHandler(session, cfg.Overlay, log)
	return base{
		provider: provider,
		session:  session,
		wait:     waitkit.NewEngine(cfg.Wait, log),
		overlays: handler,
		monitor:  overlay.NewMonitor(handler, cfg.Overlay.MonitorInterval, log),
		logger:   log,
		pcfg:     pcfg,
	}
}

// Close joins the background overlay monitor before the browser goes away so
// no polling goroutine outlives its session, then shuts the browser down.
// The session's own close is already idempotent.
func (b *base) Close() {
	b.monitor.Stop()
	b.session.Close()
}

// callContext applies the per-call deadline when one is configured. The
// underlying steps each carry their own adaptive budgets; this is the outer
// bound on their sum.
func (b *base) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.pcfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.pcfg.CallTimeout)
}

// validateCredentials implements the login prelude shared by every portal:
// empty credentials are a logged false, never an error, and nothing is
// navigated. It also enforces the one-shot login contract.
func (b *base) validateCredentials(username, password, plate string) (string, string, bool, error) {
	if b.loginUsed {
		return "", "", false, schemas.NewScrapeError(schemas.FailureFatal, string(b.provider)+".login",
			fmt.Errorf("login called twice on one instance"))
	}
	b.loginUsed = true

	username = strings.TrimSpace(username)
	password = strings.TrimSpace(password)
	if username == "" || password == "" {
		b.logger.Warn("login skipped: empty credentials",
			zap.String("plate", schemas.NormalizePlate(plate)))
		return "", "", false, nil
	}
	b.plate = schemas.NormalizePlate(plate)
	return username, password, true, nil
}

// requireAuth guards GetVehicleLocation against use before a successful
// login.
func (b *base) requireAuth(op string) error {
	if !b.authenticated {
		return schemas.NewScrapeError(schemas.FailureFatal, op,
			fmt.Errorf("vehicle lookup before successful login"))
	}
	return nil
}

// retryStep runs one UI step with bounded local retries. Transient misses
// are retried after a short pause; a server-down failure or a dead context
// aborts immediately and propagates unmodified. Retried steps must re-verify
// page state themselves since a failed attempt may have half-mutated the UI.
func (b *base) retryStep(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= maxStepAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if schemas.IsServerDown(err) || ctx.Err() != nil {
			return err
		}
		if kind := schemas.KindOf(err); kind == schemas.FailureConfigInvalid || kind == schemas.FailureFatal || kind == schemas.FailureExtraction {
			return err
		}
		lastErr = err
		b.logger.Debug("step failed, retrying",
			zap.String("step", name),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < maxStepAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(stepRetryPause):
			}
		}
	}
	return schemas.NewScrapeError(schemas.FailureTransient, name,
		fmt.Errorf("step failed after %d attempts: %w", maxStepAttempts, lastErr))
}

// elementProbe builds a wait probe over an in-frame interactability check:
// present, displayed, enabled, and with real layout size.
func (b *base) elementProbe(frames []string, selector string) waitkit.Probe {
	body := fmt.Sprintf(`(doc) => {
		const el = doc.querySelector(%s);
		if (!el) return "missing";
		const style = el.ownerDocument.defaultView.getComputedStyle(el);
		if (style.display === "none" || style.visibility === "hidden") return "hidden";
		if (el.disabled) return "disabled";
		const r = el.getBoundingClientRect();
		if (r.width === 0 || r.height === 0) return "zero-size";
		return "ok";
	}`, jsLiteral(selector))
	return func(ctx context.Context) (bool, string, error) {
		var state string
		if err := b.session.EvalInFrame(ctx, frames, body, &state); err != nil {
			return false, "", err
		}
		return state == "ok", state, nil
	}
}

// presenceProbe is elementProbe without the interactability requirements.
func (b *base) presenceProbe(frames []string, selector string) waitkit.Probe {
	body := fmt.Sprintf(`(doc) => doc.querySelector(%s) !== null`, jsLiteral(selector))
	return func(ctx context.Context) (bool, string, error) {
		var present bool
		if err := b.session.EvalInFrame(ctx, frames, body, &present); err != nil {
			return false, "", err
		}
		if present {
			return true, "present", nil
		}
		return false, "absent", nil
	}
}

// waitPageSettled waits for document-ready plus the portal's loading
// indicators to clear. Best effort; a page that never reports settled is
// still probed by the step that follows.
func (b *base) waitPageSettled(ctx context.Context, label string) {
	settled := b.wait.WaitForCondition(ctx, label+".settled", func(ctx context.Context) (bool, string, error) {
		var state struct {
			Ready    string `json:"ready"`
			Spinners int    `json:"spinners"`
		}
		err := b.session.Eval(ctx, `(function() {
			let n = 0;
			for (const el of document.querySelectorAll(".loading, .spinner, .cargando, [class*=\"loader\"]")) {
				const r = el.getBoundingClientRect();
				if (r.width > 0 && r.height > 0) n++;
			}
			return {ready: document.readyState, spinners: n};
		})()`, &state)
		if err != nil {
			return false, "", err
		}
		return state.Ready == "complete" && state.Spinners == 0,
			fmt.Sprintf("ready=%s spinners=%d", state.Ready, state.Spinners), nil
	})
	if !settled {
		b.logger.Debug("page never reported settled", zap.String("step", label))
	}
}

// waitPendingRequests drains in-flight XHR/fetch activity and animations
// when the page exposes jQuery or the animation API; pages that expose
// neither count as immediately drained.
func (b *base) waitPendingRequests(ctx context.Context) {
	b.wait.WaitForCondition(ctx, "pending-requests", func(ctx context.Context) (bool, string, error) {
		var pending int
		err := b.session.Eval(ctx, `(function() {
			let n = 0;
			if (window.jQuery && typeof window.jQuery.active === "number") n += window.jQuery.active;
			if (document.getAnimations) {
				n += document.getAnimations().filter(a => a.playState === "running").length;
			}
			return n;
		})()`, &pending)
		if err != nil {
			return false, "", err
		}
		return pending == 0, fmt.Sprintf("%d pending", pending), nil
	})
}

// verifyLoginSignals checks the post-login disjunction: an interactable
// post-login element, a URL away from the captured login page, or an explicit
// success marker. No single selector is trusted alone. The element signal
// requires interactability, not bare presence: single-page portals keep the
// post-login container hidden in the DOM while the form is still showing.
// The URL signal compares against the login page URL captured before submit,
// since a rejected login leaves the browser exactly where it was.
func (b *base) verifyLoginSignals(ctx context.Context, postLoginSelector, loginURL, successMarker string) bool {
	key := string(b.provider) + ".login.verify"
	elementReady := b.elementProbe(nil, postLoginSelector)
	return b.wait.WaitForCondition(ctx, key, func(ctx context.Context) (bool, string, error) {
		ready, state, err := elementReady(ctx)
		if err != nil {
			return false, "", err
		}
		if ready {
			return true, "post-login element", nil
		}

		current, err := b.session.Location(ctx)
		if err != nil {
			return false, "", err
		}
		if loginURL != "" && leftLoginPage(loginURL, current) {
			return true, "url left login page", nil
		}

		if successMarker != "" {
			var marked bool
			if err := b.session.Eval(ctx,
				fmt.Sprintf(`document.body ? document.body.innerText.includes(%s) : false`, jsLiteral(successMarker)), &marked); err != nil {
				return false, "", err
			}
			if marked {
				return true, "success marker", nil
			}
		}
		return false, "no signal yet (element " + state + ")", nil
	})
}

// leftLoginPage reports whether current points somewhere other than the login
// page captured before submit. Host, path, and SPA fragment changes count;
// query-string-only changes do not, because portals report rejected
// credentials by reloading the form with an error parameter.
func leftLoginPage(loginURL, current string) bool {
	lu, errLogin := neturl.Parse(loginURL)
	cu, errCurrent := neturl.Parse(current)
	if errLogin != nil || errCurrent != nil {
		return !strings.EqualFold(loginURL, current)
	}
	if !strings.EqualFold(lu.Host, cu.Host) {
		return true
	}
	if strings.TrimSuffix(lu.Path, "/") != strings.TrimSuffix(cu.Path, "/") {
		return true
	}
	return lu.Fragment != cu.Fragment
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// jsLiteral embeds a Go string as a quoted JS string literal.
func jsLiteral(s string) string {
	encoded, err := json.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return encoded
}
