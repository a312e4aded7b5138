package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fixedrate-billing/internal/billing/application"
	"fixedrate-billing/internal/config"
	"fixedrate-billing/internal/observability/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	cfgFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "fixedrate",
		Short: "Fixed-rate electricity billing",
		Long: `fixedrate computes an electricity bill from a table of kWh readings at a
single rate per kWh plus a fixed fee. It runs as a one-shot CLI or as a web
service with an upload form and background test and coverage checks.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default is $FIXEDRATE_CONFIG or ./config.yaml)")

	cmd.AddCommand(newBillCmd(opts))
	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newCheckCmd(opts))
	return cmd
}

func (o *rootOptions) configPath() string {
	if o.cfgFile != "" {
		return o.cfgFile
	}
	return config.DefaultPath()
}

// setup loads the configuration and builds the logger.
func (o *rootOptions) setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath())
	if err != nil {
		return cfg, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return cfg, nil, fmt.Errorf("creating logger: %w", err)
	}
	return cfg, logger, nil
}

func statementSettings(cfg config.BillingConfig) application.Settings {
	return application.Settings{
		UsageColumn:    cfg.UsageColumn,
		RoundingDigits: cfg.RoundingDigits,
		PreviewRows:    cfg.PreviewRows,
		Currency:       cfg.Currency,
	}
}
