package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/H2Oxford/h2ox-api/internal/config"
	"github.com/H2Oxford/h2ox-api/internal/warehouse"
)

var (
	ingestKind      string
	ingestReservoir string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [csv files...]",
	Short: "Load reservoir CSV snapshots into the embedded DuckDB warehouse",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestKind, "kind", "", "snapshot kind (levels, precipitation, forecasts, reservoirs)")
	ingestCmd.Flags().StringVar(&ingestReservoir, "reservoir", "", "reservoir identifier the rows belong to")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if cfg.Warehouse.Driver != "duckdb" {
		return fmt.Errorf("ingest requires the duckdb warehouse driver, configured driver is %q", cfg.Warehouse.Driver)
	}

	switch ingestKind {
	case warehouse.KindLevels, warehouse.KindPrecip, warehouse.KindForecasts:
		if ingestReservoir == "" {
			return fmt.Errorf("--reservoir is required for kind %q", ingestKind)
		}
	case warehouse.KindReservoirs:
	default:
		return fmt.Errorf("--kind must be one of levels, precipitation, forecasts, reservoirs")
	}

	wh, err := warehouse.OpenDuckDB(cfg.DSN())
	if err != nil {
		return err
	}
	defer wh.Close() //nolint:errcheck

	ctx := cmd.Context()
	if err := wh.EnsureSchema(ctx); err != nil {
		return err
	}

	var total int64
	for _, path := range args {
		n, err := wh.LoadCSV(ctx, ingestKind, ingestReservoir, path)
		if err != nil {
			return err
		}
		slog.Info("snapshot loaded", "kind", ingestKind, "path", path, "rows", n)
		total += n
	}

	slog.Info("ingest complete", "files", len(args), "rows", total)
	return nil
}
