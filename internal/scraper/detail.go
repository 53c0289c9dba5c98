// internal/scraper/detail.go
package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/api/schemas"
	"github.com/dfmorales/rastreo-cli/internal/extract"
)

// detailSpec names the elements involved in one portal's popup extraction
// and the corrective action to run when the popup misses its wait budget.
type detailSpec struct {
	frames        []string
	popupSelector string
	// iconSelector points at the vehicle marker/icon that carries the
	// heading signal, when the portal has one.
	iconSelector string
	// rescue runs once when the popup fails to appear, then the wait is
	// retried. Nil when the portal has no recoverable case.
	rescue func(ctx context.Context) error
}

// extractDetail waits for the detail popup, applying the portal's rescue
// procedure once if it fails to show, then hands the popup text and heading
// hints to the extractor.
func (b *base) extractDetail(ctx context.Context, spec detailSpec, plate string) (*schemas.LocationRecord, error) {
	op := string(b.provider) + ".detail"

	appeared, reason, err := b.wait.WaitForElement(ctx, op+".popup", b.elementProbe(spec.frames, spec.popupSelector))
	if err != nil {
		return nil, err
	}
	if !appeared && spec.rescue != nil {
		b.logger.Info("detail popup missing, attempting rescue", zap.String("reason", reason))
		if rescueErr := spec.rescue(ctx); rescueErr != nil {
			if schemas.IsServerDown(rescueErr) {
				return nil, rescueErr
			}
			b.logger.Debug("rescue procedure failed", zap.Error(rescueErr))
		}
		appeared, reason, err = b.wait.WaitForElement(ctx, op+".popup", b.elementProbe(spec.frames, spec.popupSelector))
		if err != nil {
			return nil, err
		}
	}
	if !appeared {
		return nil, schemas.NewScrapeError(schemas.FailureTransient, op,
			fmt.Errorf("detail popup never appeared: %s", reason))
	}

	rawText, err := b.session.VisibleText(ctx, spec.frames, spec.popupSelector)
	if err != nil {
		return nil, fmt.Errorf("reading popup text: %w", err)
	}
	if strings.TrimSpace(rawText) == "" {
		return nil, schemas.NewScrapeError(schemas.FailureTransient, op,
			fmt.Errorf("detail popup rendered empty"))
	}

	hints := b.headingHints(ctx, spec)
	return extract.ParseLocation(extract.Input{
		Plate:    extract.Plate{Value: plate, Provider: b.provider},
		RawText:  rawText,
		Heading:  hints,
		Captured: time.Now().UTC(),
	})
}

// headingHints reads the marker's rotation transform and image reference.
// Both reads are best effort; a missing icon just downgrades the heading
// source priority.
func (b *base) headingHints(ctx context.Context, spec detailSpec) extract.HeadingHints {
	hints := extract.HeadingHints{}
	if spec.iconSelector == "" {
		return hints
	}

	body := fmt.Sprintf(`(doc) => {
		const el = doc.querySelector(%s);
		if (!el) return {transform: "", src: ""};
		const style = el.ownerDocument.defaultView.getComputedStyle(el);
		const inline = el.style ? el.style.transform : "";
		return {
			transform: inline || style.transform || "",
			src: el.getAttribute("src") || el.getAttribute("data-icon") || ""
		};
	}`, jsLiteral(spec.iconSelector))

	var icon struct {
		Transform string `json:"transform"`
		Src       string `json:"src"`
	}
	if err := b.session.EvalInFrame(ctx, spec.frames, body, &icon); err != nil {
		b.logger.Debug("heading probe failed", zap.Error(err))
		return hints
	}
	if deg, ok := extract.RotationFromStyle(icon.Transform); ok {
		hints.HasRotation = true
		hints.RotationDeg = deg
	}
	hints.IconRef = icon.Src
	return hints
}
