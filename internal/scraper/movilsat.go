// internal/scraper/movilsat.go
package scraper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/api/schemas"
)

// movilsatScraper drives the Movilsat portal: a single-page map UI where
// every vehicle is a marker and the detail lives in a map info window. The
// fleet side panel can cover markers near the viewport edge, so the popup
// rescue collapses it and zooms the map out one level.
type movilsatScraper struct {
	base
}

const (
	movilsatUserInput   = "#txtUsuario"
	movilsatPassInput   = "#txtClave"
	movilsatSubmit      = "#btnIngresar"
	movilsatMap         = "#mapContainer"
	movilsatMarkers     = ".vehicle-marker .marker-label"
	movilsatMarkerIcon  = "[data-rastreo-target] img, [data-rastreo-target]"
	movilsatInfoWindow  = ".gm-style-iw, .info-window"
	movilsatFleetPanel  = "#panelFlota"
	movilsatPanelToggle = "#panelFlota .btn-collapse"
	movilsatZoomOut     = ".gm-control-active[title=\"Alejar\"], #mapContainer button[aria-label=\"Alejar\"]"
	movilsatFilterBox   = "#txtBuscarPlaca"
)

func (s *movilsatScraper) Login(ctx context.Context, username, password, plate string) (bool, error) {
	username, password, ok, err := s.validateCredentials(username, password, plate)
	if err != nil || !ok {
		return false, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.session.Navigate(ctx, s.pcfg.BaseURL, s.wait.Budget("movilsat.login.nav")); err != nil {
		return false, err
	}
	if err := s.session.CheckPageHealth(ctx, "movilsat login page"); err != nil {
		return false, err
	}
	s.overlays.Sweep(ctx)

	for _, sel := range []string{movilsatUserInput, movilsatPassInput, movilsatSubmit} {
		found, reason, err := s.wait.WaitForElement(ctx, "movilsat.login."+sel, s.elementProbe(nil, sel))
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

	if err := s.session.TypeInto(ctx, movilsatUserInput, username); err != nil {
		return false, fmt.Errorf("filling username: %w", err)
	}
	if err := s.session.TypeInto(ctx, movilsatPassInput, password); err != nil {
		return false, fmt.Errorf("filling password: %w", err)
	}
	if clicked, err := s.session.ClickWhenClickable(ctx, movilsatSubmit, s.wait.Budget("movilsat.login.submit")); err != nil {
		return false, err
	} else if !clicked {
		s.logger.Warn("login submit never became clickable")
		return false, nil
	}

	s.waitPageSettled(ctx, "movilsat.postlogin")
	if err := s.session.CheckPageHealth(ctx, "movilsat post-login"); err != nil {
		return false, err
	}

	if !s.verifyLoginSignals(ctx, movilsatMap, loginURL, "Bienvenido") {
		s.logger.Info("no post-login signal detected")
		return false, nil
	}

	s.authenticated = true
	s.monitor.Start(s.session.Context())
	return true, nil
}

func (s *movilsatScraper) GetVehicleLocation(ctx context.Context, plate string) (*schemas.LocationRecord, error) {
	op := "movilsat.locate"
	if err := s.requireAuth(op); err != nil {
		return nil, err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	plan := lookupPlan{
		directSelector: func(p string) string {
			return fmt.Sprintf(`.vehicle-marker[title=%s]`, jsLiteral(p))
		},
		rowSelector: movilsatMarkers,
		filterInput: movilsatFilterBox,
	}

	var record *schemas.LocationRecord
	err := s.retryStep(ctx, op, func(ctx context.Context) error {
		if err := s.session.CheckPageHealth(ctx, "movilsat map"); err != nil {
			return err
		}
		s.overlays.Sweep(ctx)
		s.waitPendingRequests(ctx)

		target, err := s.locatePlate(ctx, plan, plate)
		if err != nil {
			return err
		}
		if clicked, err := s.session.ClickWhenClickable(ctx, target, s.wait.Budget(op+".marker")); err != nil {
			return err
		} else if !clicked {
			return fmt.Errorf("marker for %s not clickable", schemas.NormalizePlate(plate))
		}

		rec, err := s.extractDetail(ctx, detailSpec{
			popupSelector: movilsatInfoWindow,
			iconSelector:  movilsatMarkerIcon,
			rescue:        s.rescueInfoWindow,
		}, plate)
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

// rescueInfoWindow collapses the fleet panel that can overlap markers near
// the viewport edge and zooms out one level so an off-screen marker renders,
// then re-clicks the marked target.
func (s *movilsatScraper) rescueInfoWindow(ctx context.Context) error {
	var panelOpen bool
	if err := s.session.Eval(ctx, fmt.Sprintf(
		`document.querySelector(%s) !== null`, jsLiteral(movilsatFleetPanel)), &panelOpen); err == nil && panelOpen {
		if _, err := s.session.ClickWhenClickable(ctx, movilsatPanelToggle, s.wait.Budget("movilsat.rescue.panel")); err != nil {
			return err
		}
	}
	if _, err := s.session.ClickWhenClickable(ctx, movilsatZoomOut, s.wait.Budget("movilsat.rescue.zoom")); err != nil {
		return err
	}
	s.waitPendingRequests(ctx)

	clicked, err := s.session.ClickWhenClickable(ctx, fmt.Sprintf("[%s]", targetAttr), s.wait.Budget("movilsat.rescue.reclick"))
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("marker still not clickable after rescue")
	}
	return nil
}
