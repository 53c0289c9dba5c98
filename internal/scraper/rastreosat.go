// internal/scraper/rastreosat.go
package scraper

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/api/schemas"
)

// rastreosatScraper drives the Rastreosat portal: a virtualized vehicle list
// that renders only the scrolled-into-view rows, with the detail shown in a
// modal after selecting a row. When the detail modal misses its budget the
// rescue triggers one refresh of the list's data source, because rows that
// were never rendered cannot be selected until the list reloads.
type rastreosatScraper struct {
	base

	refreshUsed bool
}

const (
	rastreosatUserInput = "#login-usuario"
	rastreosatPassInput = "#login-password"
	rastreosatSubmit    = "#login-entrar"
	rastreosatListRoot  = "#listaVehiculos"
	rastreosatListRows  = "#listaVehiculos .fila-vehiculo .placa"
	rastreosatViewport  = "#listaVehiculos .viewport"
	rastreosatFilter    = "#listaVehiculos input.buscar"
	rastreosatRefresh   = "#listaVehiculos .btn-actualizar"
	rastreosatModal     = ".modal-detalle-vehiculo"
	rastreosatModalIcon = ".modal-detalle-vehiculo img.icono-rumbo"
)

// virtualScrollSteps bounds how far down the list the lookup will page. Past
// this the exhaustive text sweep and fleet enumeration take over.
const virtualScrollSteps = 12

func (s *rastreosatScraper) Login(ctx context.Context, username, password, plate string) (bool, error) {
	username, password, ok, err := s.validateCredentials(username, password, plate)
	if err != nil || !ok {
		return false, err
	}

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	if err := s.session.Navigate(ctx, s.pcfg.BaseURL, s.wait.Budget("rastreosat.login.nav")); err != nil {
		return false, err
	}
	if err := s.session.CheckPageHealth(ctx, "rastreosat login page"); err != nil {
		return false, err
	}
	s.overlays.Sweep(ctx)

	for _, sel := range []string{rastreosatUserInput, rastreosatPassInput, rastreosatSubmit} {
		found, reason, err := s.wait.WaitForElement(ctx, "rastreosat.login."+sel, s.elementProbe(nil, sel))
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

	if err := s.session.TypeInto(ctx, rastreosatUserInput, username); err != nil {
		return false, fmt.Errorf("filling username: %w", err)
	}
	if err := s.session.TypeInto(ctx, rastreosatPassInput, password); err != nil {
		return false, fmt.Errorf("filling password: %w", err)
	}
	if clicked, err := s.session.ClickWhenClickable(ctx, rastreosatSubmit, s.wait.Budget("rastreosat.login.submit")); err != nil {
		return false, err
	} else if !clicked {
		s.logger.Warn("login submit never became clickable")
		return false, nil
	}

	s.waitPageSettled(ctx, "rastreosat.postlogin")
	if err := s.session.CheckPageHealth(ctx, "rastreosat post-login"); err != nil {
		return false, err
	}

	if !s.verifyLoginSignals(ctx, rastreosatListRoot, loginURL, "Sesión iniciada") {
		s.logger.Info("no post-login signal detected")
		return false, nil
	}

	s.authenticated = true
	s.monitor.Start(s.session.Context())
	return true, nil
}

func (s *rastreosatScraper) GetVehicleLocation(ctx context.Context, plate string) (*schemas.LocationRecord, error) {
	op := "rastreosat.locate"
	if err := s.requireAuth(op); err != nil {
		return nil, err
	}
	ctx, cancel := s.callContext(ctx)
	defer cancel()

	s.refreshUsed = false

	plan := lookupPlan{
		rowSelector:     rastreosatListRows,
		filterInput:     rastreosatFilter,
		scrollContainer: rastreosatViewport,
		scrollSteps:     virtualScrollSteps,
	}

	var record *schemas.LocationRecord
	err := s.retryStep(ctx, op, func(ctx context.Context) error {
		if err := s.session.CheckPageHealth(ctx, "rastreosat vehicle list"); err != nil {
			return err
		}
		s.overlays.Sweep(ctx)
		s.waitPendingRequests(ctx)

		target, err := s.locatePlate(ctx, plan, plate)
		if err != nil {
			return err
		}
		if clicked, err := s.session.ClickWhenClickable(ctx, target, s.wait.Budget(op+".row")); err != nil {
			return err
		} else if !clicked {
			return fmt.Errorf("row for %s not clickable", schemas.NormalizePlate(plate))
		}

		rec, err := s.extractDetail(ctx, detailSpec{
			popupSelector: rastreosatModal,
			iconSelector:  rastreosatModalIcon,
			rescue:        s.rescueDetailModal,
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

// rescueDetailModal refreshes the list's data source once per call and
// re-selects the marked row. A second refresh within one call would just
// loop on a portal that is not going to produce the modal.
func (s *rastreosatScraper) rescueDetailModal(ctx context.Context) error {
	if s.refreshUsed {
		return fmt.Errorf("refresh already attempted this call")
	}
	s.refreshUsed = true

	if clicked, err := s.session.ClickWhenClickable(ctx, rastreosatRefresh, s.wait.Budget("rastreosat.rescue.refresh")); err != nil {
		return err
	} else if !clicked {
		return fmt.Errorf("refresh control not clickable")
	}
	s.waitPendingRequests(ctx)
	if err := s.session.CheckPageHealth(ctx, "rastreosat list refresh"); err != nil {
		return err
	}

	clicked, err := s.session.ClickWhenClickable(ctx, fmt.Sprintf("[%s]", targetAttr), s.wait.Budget("rastreosat.rescue.reclick"))
	if err != nil {
		return err
	}
	if !clicked {
		return fmt.Errorf("row still not clickable after refresh")
	}
	return nil
}
