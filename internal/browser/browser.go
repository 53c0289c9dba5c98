// internal/browser/browser.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session owns one automated Chrome instance configured for unattended
// operation: no visible UI chrome, credential-manager and notification
// surfaces disabled, fixed viewport, and no implicit waiting - the caller
// owns all waiting through the wait engine.
type Session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	allocCancel context.CancelFunc
	logger      *zap.Logger
	cfg         config.BrowserConfig

	closeOnce sync.Once
}

// NewSession launches the browser process. Construction failure is fatal for
// the scraper being built: there is no partial or retryable state, the error
// aborts scraper creation.
func NewSession(parent context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()
	log := logger.Named("browser").With(zap.String("session_id", sessionID))

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		// Suppress every native surface that could steal focus from the
		// portal UI: saved-credential bubbles, notification prompts,
		// translate bars, first-run dialogs.
		chromedp.Flag("disable-save-password-bubble", true),
		chromedp.Flag("password-store", "basic"),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-features", "TranslateUI,AutofillServerCommunication,PasswordLeakDetection"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	for _, arg := range cfg.Args {
		opts = append(opts, chromedp.Flag(arg, true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	s := &Session{
		id:          sessionID,
		ctx:         ctx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      log,
		cfg:         cfg,
	}

	// Force the process to actually launch now so a broken Chrome install
	// fails construction instead of the first navigation.
	startupTimeout := cfg.StartupTimeout
	if startupTimeout <= 0 {
		startupTimeout = 45 * time.Second
	}
	startCtx, startCancel := context.WithTimeout(ctx, startupTimeout)
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("browser initialization failed: %w", err)
	}

	log.Debug("Browser session started.")
	return s, nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string {
	return s.id
}

// Context returns the session's lifecycle context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Close terminates the browser process. It is safe to call multiple times and
// never returns an error: disposal happens on cleanup paths where no caller
// can act on a failure, so problems are logged instead.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session.")
		// Cancel gives chromedp a chance to send Browser.close before the
		// allocator kills the process group.
		if err := chromedp.Cancel(s.ctx); err != nil {
			s.logger.Warn("Graceful browser shutdown failed.", zap.Error(err))
		}
		s.cancel()
		s.allocCancel()
	})
}

// RunActions executes chromedp actions under both the session lifetime and
// the caller's context.
func (s *Session) RunActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL. It only waits for the basic document skeleton; the
// caller's wait engine owns readiness beyond that.
func (s *Session) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(ctx, timeout)
	defer navCancel()

	s.logger.Debug("Navigating.", zap.String("url", url))
	if err := s.RunActions(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s timed out after %v: %w", url, timeout, err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Eval runs a JavaScript expression in the top document and decodes the
// JSON result into out (which may be nil when no result is wanted).
func (s *Session) Eval(ctx context.Context, expr string, out any) error {
	var raw []byte
	action := chromedp.Evaluate(expr, &raw)
	if out == nil {
		action = chromedp.Evaluate(expr, nil)
	}
	if err := s.RunActions(ctx, action); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "undefined" {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode eval result: %w", err)
	}
	return nil
}

// Location returns the current top-level URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.RunActions(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// VisibleText returns the rendered text of the first element matching the
// selector, resolved through the given frame path.
func (s *Session) VisibleText(ctx context.Context, frames []string, selector string) (string, error) {
	var text string
	body := fmt.Sprintf(`(doc) => {
		const el = doc.querySelector(%s);
		return el ? (el.innerText || el.textContent || "") : "";
	}`, jsString(selector))
	if err := s.EvalInFrame(ctx, frames, body, &text); err != nil {
		return "", err
	}
	return text, nil
}

// OuterHTML returns the serialized HTML of the first element matching the
// selector, resolved through the given frame path.
func (s *Session) OuterHTML(ctx context.Context, frames []string, selector string) (string, error) {
	var html string
	body := fmt.Sprintf(`(doc) => {
		const el = doc.querySelector(%s);
		return el ? el.outerHTML : "";
	}`, jsString(selector))
	if err := s.EvalInFrame(ctx, frames, body, &html); err != nil {
		return "", err
	}
	return html, nil
}

// jsString safely embeds a Go string as a JS string literal.
func jsString(s string) string {
	encoded, err := json.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return encoded
}

// CombineContext creates a context canceled when either input is canceled.
// Every browser operation must respect both the session lifetime and the
// specific call's deadline.
func CombineContext(parentCtx, secondaryCtx context.Context) (context.Context, context.CancelFunc) {
	combinedCtx, cancel := context.WithCancel(parentCtx)

	go func() {
		select {
		case <-secondaryCtx.Done():
			cancel()
		case <-combinedCtx.Done():
		}
	}()

	return combinedCtx, cancel
}
