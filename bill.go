package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"fixedrate-billing/internal/billing/application"
	"fixedrate-billing/internal/billing/infrastructure/mqtt"
	"fixedrate-billing/internal/billing/infrastructure/postgres"
	"fixedrate-billing/internal/billing/infrastructure/xlsx"
	"fixedrate-billing/internal/billing/interfaces"
	"fixedrate-billing/internal/config"
)

type billOptions struct {
	file      string
	rate      float64
	fixedFee  float64
	digits    int
	export    string
	publish   bool
	pgStation string
	month     string
}

func newBillCmd(root *rootOptions) *cobra.Command {
	opts := &billOptions{}
	cmd := &cobra.Command{
		Use:   "bill",
		Short: "Compute a bill from a usage file or the readings database",
		Long: `Loads kWh readings from a CSV or XLSX file (or from PostgreSQL with
--pg-station and --month), sums them and prints the bill. Flags override the
configured rate, fixed fee and rounding.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBill(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.file, "file", "", "usage file (default is billing.sample_file)")
	cmd.Flags().Float64Var(&opts.rate, "rate", 0, "rate per kWh (default from config)")
	cmd.Flags().Float64Var(&opts.fixedFee, "fixed-fee", 0, "fixed fee (default from config)")
	cmd.Flags().IntVar(&opts.digits, "digits", 0, "rounding digits, negative disables rounding (default from config)")
	cmd.Flags().StringVar(&opts.export, "export", "", "write the statement to a .pdf or .xlsx file")
	cmd.Flags().BoolVar(&opts.publish, "publish", false, "publish the statement over MQTT")
	cmd.Flags().StringVar(&opts.pgStation, "pg-station", "", "read usage for this subject from PostgreSQL")
	cmd.Flags().StringVar(&opts.month, "month", "", "billing month YYYY-MM for --pg-station")
	return cmd
}

func runBill(cmd *cobra.Command, root *rootOptions, opts *billOptions) error {
	cfg, logger, err := root.setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	flags := cmd.Flags()
	if flags.Changed("rate") {
		cfg.Billing.Rate = opts.rate
	}
	if flags.Changed("fixed-fee") {
		cfg.Billing.FixedFee = opts.fixedFee
	}
	if flags.Changed("digits") {
		cfg.Billing.RoundingDigits = opts.digits
	}

	var svcOpts []application.Option
	if opts.publish {
		if !cfg.MQTT.Enabled {
			return fmt.Errorf("MQTT is not enabled in config")
		}
		pub, err := mqtt.New(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("creating publisher: %w", err)
		}
		defer pub.Close()
		svcOpts = append(svcOpts, application.WithPublisher(pub))
	}

	svc, err := application.NewStatementService(statementSettings(cfg.Billing), logger, svcOpts...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	source, cleanup, err := billSource(cfg, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	stmt, err := svc.Calculate(ctx, source, cfg.Billing.Rate, cfg.Billing.FixedFee)
	if err != nil {
		return err
	}
	printStatement(cmd.OutOrStdout(), stmt)

	if opts.export != "" {
		if err := exportStatement(stmt, opts.export); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Statement written to %s\n", opts.export)
		logger.Info("statement exported", zap.String("path", opts.export))
	}
	return nil
}

func billSource(cfg config.Config, opts *billOptions) (application.UsageSource, func(), error) {
	noop := func() {}
	if opts.pgStation != "" {
		if cfg.Postgres.DSN == "" {
			return nil, noop, fmt.Errorf("postgres DSN is not configured (set PG_DSN)")
		}
		from, to, err := postgres.MonthRange(opts.month)
		if err != nil {
			return nil, noop, err
		}
		db, err := sql.Open("pgx", cfg.Postgres.DSN)
		if err != nil {
			return nil, noop, fmt.Errorf("opening database: %w", err)
		}
		reader := postgres.NewUsageReader(db, postgres.WithTable(cfg.Postgres.ReadingsTable))
		return reader.Source(opts.pgStation, from, to), func() { db.Close() }, nil
	}

	path := opts.file
	if path == "" {
		path = cfg.Billing.SampleFile
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		f, err := os.Open(path)
		if err != nil {
			return nil, noop, fmt.Errorf("opening usage file: %w", err)
		}
		src, err := xlsx.NewUsageSource(f, "")
		if err != nil {
			f.Close()
			return nil, noop, err
		}
		return src, func() { f.Close() }, nil
	}
	return application.CSVFileSource(path), noop, nil
}

func printStatement(w io.Writer, stmt *application.Statement) {
	fmt.Fprintf(w, "Readings:     %d\n", stmt.RowCount)
	if len(stmt.Dropped) > 0 {
		fmt.Fprintf(w, "Dropped rows: %d\n", len(stmt.Dropped))
	}
	fmt.Fprintf(w, "Total usage:  %s kWh\n", stmt.UsageText())
	fmt.Fprintf(w, "Rate:         %g %s/kWh\n", stmt.Rate, stmt.Currency)
	fmt.Fprintf(w, "Fixed fee:    %.2f %s\n", stmt.FixedFee, stmt.Currency)
	fmt.Fprintf(w, "Total due:    %s %s\n", stmt.AmountText(), stmt.Currency)
}

func exportStatement(stmt *application.Statement, path string) error {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	data, err := interfaces.ExportStatement(stmt, format)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing statement: %w", err)
	}
	return nil
}
