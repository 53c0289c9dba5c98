// cmd/locate.go
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/api/schemas"
	"github.com/dfmorales/rastreo-cli/internal/observability"
	"github.com/dfmorales/rastreo-cli/internal/scraper"
)

var locateFlags struct {
	provider string
	plate    string
	username string
	password string
	persist  bool
}

var locateCmd = &cobra.Command{
	Use:   "locate",
	Short: "Look up one vehicle's current location on its tracking portal",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider := schemas.ProviderID(locateFlags.provider)
		if !schemas.IsKnownProvider(provider) {
			return fmt.Errorf("unknown provider %q (known: %v)", locateFlags.provider, schemas.KnownProviders)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := observability.GetLogger()
		s, err := scraper.New(ctx, provider, appConfig, logger)
		if err != nil {
			return err
		}
		defer s.Close()

		ok, err := s.Login(ctx, locateFlags.username, locateFlags.password, locateFlags.plate)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("portal rejected the credentials for %s", schemas.NormalizePlate(locateFlags.plate))
		}

		rec, err := s.GetVehicleLocation(ctx, locateFlags.plate)
		if err != nil {
			var scrapeErr *schemas.ScrapeError
			if errors.As(err, &scrapeErr) && scrapeErr.Kind == schemas.FailureConfigInvalid {
				logger.Error("plate not visible in this account",
					zap.String("plate", schemas.NormalizePlate(locateFlags.plate)),
					zap.Strings("visible_plates", scrapeErr.KnownPlates))
			}
			return err
		}

		if locateFlags.persist {
			st, cleanup, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := st.SaveLocation(ctx, rec); err != nil {
				return err
			}
		}

		return printJSON(cmd.OutOrStdout(), rec)
	},
}

func init() {
	locateCmd.Flags().StringVar(&locateFlags.provider, "provider", "", "portal to drive (movilsat, geotrack, rastreosat)")
	locateCmd.Flags().StringVar(&locateFlags.plate, "plate", "", "vehicle plate to look up")
	locateCmd.Flags().StringVar(&locateFlags.username, "user", "", "portal username")
	locateCmd.Flags().StringVar(&locateFlags.password, "pass", "", "portal password")
	locateCmd.Flags().BoolVar(&locateFlags.persist, "persist", false, "store the record in the configured database")
	_ = locateCmd.MarkFlagRequired("provider")
	_ = locateCmd.MarkFlagRequired("plate")

	rootCmd.AddCommand(locateCmd)
}
