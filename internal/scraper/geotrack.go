// internal/scraper/geotrack.go
package scraper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/api/schemas"
)

// geotrackScraper drives the Geotrack portal. The vehicle list lives inside
// a content iframe, and past the main menu the portal forks into a classic
// table UI or a beta UI with different selectors. The fork is discovered
// once per call and remembered for the rest of it, since every later
// selector depends on which branch rendered.
type geotrackScraper struct {
	base

	// betaUI is valid only between menu navigation and the end of the
	// current call.
	betaUI bool
}

const (
	geotrackUserInput  = "input[name=\"usuario\"]"
	geotrackPassInput  = "input[name=\"contrasena\"]"
	geotrackSubmit     = "button[type=\"submit\"]"
	geotrackMenuHome   = "#menuPrincipal"
	geotrackMenuFleet  = "#menuPrincipal a[href*=\"flota\"]"
	geotrackFrame      = "#contenido iframe"
	geotrackBetaMarker = ".fleet-app[data-version=\"beta\"]"

	// classic branch
	geotrackClassicRows   = "table.tblVehiculos td.placa"
	geotrackClassicFilter = "#txtFiltroPlaca"
	geotrackClassicPopup  = "#divDetalleVehiculo"

	// beta branch
	geotrackBetaRows   = ".fleet-row .fleet-plate"
	geotrackBetaFilter = ".fleet-search input"
	geotrackBetaPopup  = ".vehicle-detail-panel"
	geotrackBetaIcon   = ".vehicle-detail-panel .vehicle-icon img"
)

func (s *geotrackScraper) Login(ctx context.Context, username, password, plate string) (bool, error) {
	username, password, ok, err := s.validateCredentials(username, password, plate)
	if err != nil || !ok {
		return false, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.session.Navigate(ctx, s.pcfg.BaseURL, s.wait.Budget("geotrack.login.nav")); err != nil {
		return false, err
	}
	if err := s.session.CheckPageHealth(ctx, "geotrack login page"); err != nil {
		return false, err
	}
	s.overlays.Sweep(ctx)

	for _, sel := range []string{geotrackUserInput, geotrackPassInput, geotrackSubmit} {
		found, reason, err := s.wait.WaitForElement(ctx, "geotrack.login."+sel, s.elementProbe(nil, sel))
		if err != nil {
			return false, err
		}
		if !found {
			s.logger.Warn("login control missing", zap.String("selector", sel), zap.String("reason", reason))
			return false, nil
		}
	}

	loginURL, err := s.session.Location(ctx)
	if err != nil {
		return false, err
	}

	if err := s.session.TypeInto(ctx, geotrackUserInput, username); err != nil {
		return false, fmt.Errorf("filling username: %w", err)
	}
	if err := s.session.TypeInto(ctx, geotrackPassInput, password); err != nil {
		return false, fmt.Errorf("filling password: %w", err)
	}
	if clicked, err := s.session.ClickWhenClickable(ctx, geotrackSubmit, s.wait.Budget("geotrack.login.submit")); err != nil {
		return false, err
	} else if !clicked {
		s.logger.Warn("login submit never became clickable")
		return false, nil
	}

	s.waitPageSettled(ctx, "geotrack.postlogin")
	if err := s.session.CheckPageHealth(ctx, "geotrack post-login"); err != nil {
		return false, err
	}

	if !s.verifyLoginSignals(ctx, geotrackMenuHome, loginURL, "") {
		s.logger.Info("no post-login signal detected")
		return false, nil
	}

	s.authenticated = true
	s.monitor.Start(s.session.Context())
	return true, nil
}

func (s *geotrackScraper) GetVehicleLocation(ctx context.Context, plate string) (*schemas.LocationRecord, error) {
	op := "geotrack.locate"
	if err := s.requireAuth(op); err != nil {
		return nil, err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	var record *schemas.LocationRecord
	err := s.retryStep(ctx, op, func(ctx context.Context) error {
		if err := s.session.CheckPageHealth(ctx, "geotrack fleet section"); err != nil {
			return err
		}
		s.overlays.Sweep(ctx)

		if err := s.openFleetSection(ctx); err != nil {
			return err
		}
		plan, spec := s.uiPlan()

		target, err := s.locatePlate(ctx, plan, plate)
		if err != nil {
			return err
		}
		if err := s.clickRow(ctx, plan.frames, target); err != nil {
			return err
		}

		rec, err := s.extractDetail(ctx, spec, plate)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// openFleetSection expands the fleet menu entry, waits for the content
// iframe, and resolves the classic-or-beta fork for the rest of this call.
func (s *geotrackScraper) openFleetSection(ctx context.Context) error {
	if clicked, err := s.session.ClickWhenClickable(ctx, geotrackMenuFleet, s.wait.Budget("geotrack.menu.fleet")); err != nil {
		return err
	} else if !clicked {
		return fmt.Errorf("fleet menu entry not clickable")
	}
	s.waitPendingRequests(ctx)

	found, reason, err := s.wait.WaitForElement(ctx, "geotrack.frame", s.presenceProbe(nil, geotrackFrame))
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("content iframe missing: %s", reason)
	}

	var beta bool
	body := fmt.Sprintf(`(doc) => doc.querySelector(%s) !== null`, jsLiteral(geotrackBetaMarker))
	if err := s.session.EvalInFrame(ctx, []string{geotrackFrame}, body, &beta); err != nil {
		return err
	}
	if beta != s.betaUI {
		s.logger.Info("fleet UI branch resolved", zap.Bool("beta", beta))
	}
	s.betaUI = beta
	return nil
}

// uiPlan returns the lookup plan and detail spec for whichever UI branch is
// active.
func (s *geotrackScraper) uiPlan() (lookupPlan, detailSpec) {
	frames := []string{geotrackFrame}
	if s.betaUI {
		return lookupPlan{
				frames:      frames,
				rowSelector: geotrackBetaRows,
				filterInput: geotrackBetaFilter,
			}, detailSpec{
				frames:        frames,
				popupSelector: geotrackBetaPopup,
				iconSelector:  geotrackBetaIcon,
			}
	}
	return lookupPlan{
			frames:      frames,
			rowSelector: geotrackClassicRows,
			filterInput: geotrackClassicFilter,
		}, detailSpec{
			frames:        frames,
			popupSelector: geotrackClassicPopup,
		}
}

// clickRow clicks the marked row inside the content iframe. TypeInto and
// ClickWhenClickable act on the top document, so in-frame rows get the
// in-page click directly.
func (s *geotrackScraper) clickRow(ctx context.Context, frames []string, target string) error {
	body := fmt.Sprintf(`(doc) => {
		const el = doc.querySelector(%s);
		if (!el) return false;
		el.scrollIntoView({block: "center"});
		el.click();
		return true;
	}`, jsLiteral(target))
	var clicked bool
	if err := s.session.EvalInFrame(ctx, frames, body, &clicked); err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("marked row vanished before click")
	}
	return nil
}
