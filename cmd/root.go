// cmd/root.go
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dfmorales/rastreo-cli/internal/config"
	"github.com/dfmorales/rastreo-cli/internal/observability"
)

var (
	cfgFile   string
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "rastreo",
	Short:   "Rastreo extracts vehicle locations from GPS tracking portals.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initializeConfig(); err != nil {
			return err
		}

		cfg, err := config.NewConfigFromViper(viper.GetViper())
		if err != nil {
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "rastreo"})
			return fmt.Errorf("failed to load config: %w", err)
		}

		observability.InitializeLogger(cfg.Logger)
		appConfig = cfg

		observability.GetLogger().Debug("configuration loaded",
			zap.String("version", Version),
			zap.Bool("headless", cfg.Browser.Headless))
		return nil
	},
}

// Execute runs the root command. Called once from main.
func Execute() {
	defer observability.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default searches . and ~/.rastreo)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// initializeConfig wires the config file search paths and the RASTREO_*
// environment overrides.
func initializeConfig() error {
	v := viper.GetViper()
	config.SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		for _, path := range config.ConfigSearchPaths() {
			v.AddConfigPath(path)
		}
		v.SetConfigName("rastreo")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("RASTREO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
