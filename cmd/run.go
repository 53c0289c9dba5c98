// cmd/run.go
package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/api/schemas"
	"github.com/dfmorales/rastreo-cli/internal/observability"
	"github.com/dfmorales/rastreo-cli/internal/orchestrator"
)

var runFlags struct {
	rosterFile string
	persist    bool
}

// rosterOutcome is the per-vehicle line item printed after a run.
type rosterOutcome struct {
	Plate    string                  `json:"plate"`
	Provider schemas.ProviderID      `json:"provider"`
	Record   *schemas.LocationRecord `json:"record,omitempty"`
	Error    string                  `json:"error,omitempty"`
	Kind     schemas.FailureKind     `json:"failure_kind,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run location lookups for every vehicle in a roster file",
	RunE: func(cmd *cobra.Command, args []string) error {
		vehicles, err := loadRoster(runFlags.rosterFile)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		logger := observability.GetLogger()
		opts := []orchestrator.Option{}
		if runFlags.persist {
			st, cleanup, err := openStore(ctx, logger)
			if err != nil {
				return err
			}
			defer cleanup()
			opts = append(opts, orchestrator.WithPersister(st.SaveLocation))
		}

		results := orchestrator.New(appConfig, logger, opts...).Run(ctx, vehicles)

		outcomes := make([]rosterOutcome, len(results))
		failed := 0
		for i, res := range results {
			outcomes[i] = rosterOutcome{
				Plate:    schemas.NormalizePlate(res.Vehicle.Plate),
				Provider: res.Vehicle.Provider,
				Record:   res.Record,
			}
			if res.Err != nil {
				failed++
				outcomes[i].Error = res.Err.Error()
				outcomes[i].Kind = schemas.KindOf(res.Err)
			}
		}

		if err := printJSON(cmd.OutOrStdout(), outcomes); err != nil {
			return err
		}
		if failed > 0 {
			logger.Warn("run finished with failures",
				zap.Int("failed", failed),
				zap.Int("total", len(results)))
			return fmt.Errorf("%d of %d lookups failed", failed, len(results))
		}
		return nil
	},
}

// loadRoster reads a JSON array of vehicles with their provider and
// credentials.
func loadRoster(path string) ([]schemas.Vehicle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster: %w", err)
	}

	var vehicles []schemas.Vehicle
	if err := json.Unmarshal(data, &vehicles); err != nil {
		return nil, fmt.Errorf("failed to parse roster %s: %w", path, err)
	}
	if len(vehicles) == 0 {
		return nil, fmt.Errorf("roster %s contains no vehicles", path)
	}
	for i, v := range vehicles {
		if !schemas.IsKnownProvider(v.Provider) {
			return nil, fmt.Errorf("roster entry %d: unknown provider %q", i, v.Provider)
		}
		if schemas.NormalizePlate(v.Plate) == "" {
			return nil, fmt.Errorf("roster entry %d: empty plate", i)
		}
	}
	return vehicles, nil
}

func init() {
	runCmd.Flags().StringVar(&runFlags.rosterFile, "roster", "", "path to the JSON roster file")
	runCmd.Flags().BoolVar(&runFlags.persist, "persist", false, "store each record in the configured database")
	_ = runCmd.MarkFlagRequired("roster")

	rootCmd.AddCommand(runCmd)
}
