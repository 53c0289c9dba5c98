// internal/scraper/lookup.go
package scraper

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/api/schemas"
)

// targetAttr marks the element the lookup resolved so later steps can click
// it without re-running the search.
const targetAttr = "data-rastreo-target"

// lookupPlan parameterizes the escalating plate search for one portal UI.
// Empty fields skip their technique; the order is fixed from cheapest to
// most expensive.
type lookupPlan struct {
	// frames is the iframe chain the vehicle UI lives behind.
	frames []string
	// directSelector resolves a plate straight to one element when the
	// portal encodes plates in attributes.
	directSelector func(plate string) string
	// rowSelector matches the per-vehicle elements whose text carries the
	// plate. The match target is the smallest such element, never an
	// ancestor container.
	rowSelector string
	// filterInput is the portal's search box, typed into before re-probing.
	filterInput string
	// scrollContainer is the virtualized list viewport, scrolled in bounded
	// steps with a re-check after each.
	scrollContainer string
	scrollSteps     int
}

// markPlateJS finds the deepest element under rowSelector whose own visible
// text equals the wanted plate, case-insensitively and exactly. Substring
// hits are rejected: one plate being contained in another must not match.
// The winner is tagged with the target attribute.
const markPlateJS = `(doc, sel, plate, attr) => {
	const wanted = plate.trim().toUpperCase();
	const own = (el) => {
		let t = "";
		for (const child of el.childNodes) {
			if (child.nodeType === Node.TEXT_NODE) t += child.textContent;
		}
		t = t.trim();
		return t !== "" ? t : (el.textContent || "").trim();
	};
	let found = null;
	for (const el of doc.querySelectorAll(sel)) {
		if (own(el).toUpperCase() !== wanted) continue;
		if (!found || found.contains(el)) found = el;
	}
	for (const el of doc.querySelectorAll("[" + attr + "]")) el.removeAttribute(attr);
	if (!found) return false;
	found.setAttribute(attr, "1");
	found.scrollIntoView({block: "center"});
	return true;
}`

// collectPlatesJS gathers the visible text of every row element, for the
// configuration-invalid report when the plate is nowhere in the fleet.
const collectPlatesJS = `(doc, sel) => {
	const out = [];
	for (const el of doc.querySelectorAll(sel)) {
		const t = (el.textContent || "").trim();
		if (t) out.push(t);
	}
	return out;
}`

var platePattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,9}$`)

// locatePlate escalates through the plan's techniques until one marks the
// target element, returning the selector that now resolves it. Exhausting
// every technique enumerates the visible fleet and reports it as a
// configuration-invalid failure.
func (b *base) locatePlate(ctx context.Context, plan lookupPlan, plate string) (string, error) {
	op := string(b.provider) + ".lookup"
	plate = schemas.NormalizePlate(plate)
	targetSelector := fmt.Sprintf("[%s]", targetAttr)

	// Technique 1: direct selector.
	if plan.directSelector != nil {
		sel := plan.directSelector(plate)
		if found, _, err := b.wait.WaitForElement(ctx, op+".direct", b.presenceProbe(plan.frames, sel)); err != nil {
			return "", err
		} else if found {
			if err := b.markBySelector(ctx, plan.frames, sel); err == nil {
				return targetSelector, nil
			}
		}
	}

	// Technique 2: text match over the currently rendered rows.
	if marked, err := b.markPlateRow(ctx, plan, plate); err != nil {
		return "", err
	} else if marked {
		return targetSelector, nil
	}

	// Technique 3: filter box, then re-probe.
	if plan.filterInput != "" {
		if err := b.fillFilter(ctx, plan, plate); err != nil {
			b.logger.Debug("filter box unusable", zap.Error(err))
		} else {
			b.waitPendingRequests(ctx)
			found := b.wait.WaitForCondition(ctx, op+".filtered", func(ctx context.Context) (bool, string, error) {
				marked, err := b.markPlateRowOnce(ctx, plan, plate)
				if err != nil {
					return false, "", err
				}
				return marked, "filtering", nil
			})
			if found {
				return targetSelector, nil
			}
		}
	}

	// Technique 4: scroll the virtualized list in bounded steps, re-checking
	// after each step renders a new window of rows.
	if plan.scrollContainer != "" {
		for step := 0; step < plan.scrollSteps; step++ {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if err := b.scrollListStep(ctx, plan); err != nil {
				b.logger.Debug("list scroll failed", zap.Int("step", step), zap.Error(err))
				break
			}
			marked, err := b.markPlateRowOnce(ctx, plan, plate)
			if err != nil {
				return "", err
			}
			if marked {
				return targetSelector, nil
			}
		}
	}

	// Technique 5: exhaustive sweep of all visible text nodes.
	if marked, err := b.sweepTextNodes(ctx, plan, plate); err != nil {
		return "", err
	} else if marked {
		return targetSelector, nil
	}

	known, err := b.enumeratePlates(ctx, plan)
	if err != nil {
		b.logger.Warn("fleet enumeration failed", zap.Error(err))
	}
	cfgErr := schemas.NewConfigInvalid(op, plate, known)
	return "", cfgErr
}

// fillFilter types the plate into the portal's search box. Top-document
// filters get real key events; in-frame filters get a scripted fill with
// input and change dispatched so framework bindings pick the value up.
func (b *base) fillFilter(ctx context.Context, plan lookupPlan, plate string) error {
	if len(plan.frames) == 0 {
		// Probe for the box before TypeInto: its node queries wait for the
		// element and would otherwise burn the whole call budget on a
		// portal that has no filter.
		var present bool
		if err := b.session.Eval(ctx, fmt.Sprintf(
			`document.querySelector(%s) !== null`, jsLiteral(plan.filterInput)), &present); err != nil {
			return err
		}
		if !present {
			return fmt.Errorf("filter box %q not present", plan.filterInput)
		}
		return b.session.TypeInto(ctx, plan.filterInput, plate)
	}
	body := fmt.Sprintf(`(doc) => {
		const el = doc.querySelector(%s);
		if (!el) return false;
		el.focus();
		el.value = %s;
		el.dispatchEvent(new Event("input", {bubbles: true}));
		el.dispatchEvent(new Event("change", {bubbles: true}));
		return true;
	}`, jsLiteral(plan.filterInput), jsLiteral(plate))
	var ok bool
	if err := b.session.EvalInFrame(ctx, plan.frames, body, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("filter box %q not found", plan.filterInput)
	}
	return nil
}

func (b *base) markBySelector(ctx context.Context, frames []string, sel string) error {
	body := fmt.Sprintf(`(doc) => {
		const el = doc.querySelector(%s);
		if (!el) return false;
		el.setAttribute(%s, "1");
		el.scrollIntoView({block: "center"});
		return true;
	}`, jsLiteral(sel), jsLiteral(targetAttr))
	var ok bool
	if err := b.session.EvalInFrame(ctx, frames, body, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element vanished between probe and mark")
	}
	return nil
}

// markPlateRow waits under the lookup budget for a rendered row to match.
func (b *base) markPlateRow(ctx context.Context, plan lookupPlan, plate string) (bool, error) {
	found, _, err := b.wait.WaitForElement(ctx, string(b.provider)+".lookup.rows", func(ctx context.Context) (bool, string, error) {
		marked, err := b.markPlateRowOnce(ctx, plan, plate)
		if err != nil {
			return false, "", err
		}
		return marked, "scanning rows", nil
	})
	return found, err
}

// markPlateRowOnce runs one marking pass without waiting.
func (b *base) markPlateRowOnce(ctx context.Context, plan lookupPlan, plate string) (bool, error) {
	body := fmt.Sprintf(`(doc) => (%s)(doc, %s, %s, %s)`,
		markPlateJS, jsLiteral(plan.rowSelector), jsLiteral(plate), jsLiteral(targetAttr))
	var marked bool
	if err := b.session.EvalInFrame(ctx, plan.frames, body, &marked); err != nil {
		return false, err
	}
	return marked, nil
}

func (b *base) scrollListStep(ctx context.Context, plan lookupPlan) error {
	body := fmt.Sprintf(`(doc) => {
		const el = doc.querySelector(%s);
		if (!el) return false;
		el.scrollTop = el.scrollTop + el.clientHeight;
		return true;
	}`, jsLiteral(plan.scrollContainer))
	var ok bool
	if err := b.session.EvalInFrame(ctx, plan.frames, body, &ok); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("scroll container %q not found", plan.scrollContainer)
	}
	// Give the virtualized list one render pass.
	return b.wait.WaitForDelay(ctx, 150*time.Millisecond)
}

// sweepTextNodes is the last-resort search: every text node in the frame,
// exact case-insensitive equality only.
func (b *base) sweepTextNodes(ctx context.Context, plan lookupPlan, plate string) (bool, error) {
	body := fmt.Sprintf(`(doc) => {
		const wanted = %s.toUpperCase();
		const walker = doc.createTreeWalker(doc.body || doc.documentElement, NodeFilter.SHOW_TEXT);
		for (const el of doc.querySelectorAll("[%s]")) el.removeAttribute("%s");
		let node;
		while ((node = walker.nextNode())) {
			if (node.textContent.trim().toUpperCase() === wanted) {
				const host = node.parentElement;
				if (host) {
					host.setAttribute("%s", "1");
					host.scrollIntoView({block: "center"});
					return true;
				}
			}
		}
		return false;
	}`, jsLiteral(plate), targetAttr, targetAttr, targetAttr)
	var marked bool
	if err := b.session.EvalInFrame(ctx, plan.frames, body, &marked); err != nil {
		return false, err
	}
	return marked, nil
}

// enumeratePlates reports every plate-looking value currently visible in the
// vehicle list, normalized and deduplicated.
func (b *base) enumeratePlates(ctx context.Context, plan lookupPlan) ([]string, error) {
	body := fmt.Sprintf(`(doc) => (%s)(doc, %s)`, collectPlatesJS, jsLiteral(plan.rowSelector))
	var texts []string
	if err := b.session.EvalInFrame(ctx, plan.frames, body, &texts); err != nil {
		return nil, err
	}
	return normalizePlateList(texts), nil
}

// normalizePlateList trims, uppercases, filters non-plate noise, and
// deduplicates while keeping a stable order.
func normalizePlateList(texts []string) []string {
	seen := make(map[string]struct{}, len(texts))
	var plates []string
	for _, t := range texts {
		p := schemas.NormalizePlate(t)
		if !platePattern.MatchString(p) {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		plates = append(plates, p)
	}
	sort.Strings(plates)
	return plates
}
