package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/H2Oxford/h2ox-api/internal/cache"
	"github.com/H2Oxford/h2ox-api/internal/config"
	"github.com/H2Oxford/h2ox-api/internal/service"
)

var (
	bustOperation string
	bustReservoir string
	bustAll       bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache maintenance",
}

var bustCmd = &cobra.Command{
	Use:   "bust",
	Short: "Delete cached query results by their {operation}.{reservoir} key",
	RunE:  runBust,
}

func init() {
	bustCmd.Flags().StringVar(&bustOperation, "operation", "", "operation prefix (forecast, historic, precipitation, levels)")
	bustCmd.Flags().StringVar(&bustReservoir, "reservoir", "", "reservoir identifier (empty for the catalog)")
	bustCmd.Flags().BoolVar(&bustAll, "all", false, "bust every key for every cataloged reservoir")
	cacheCmd.AddCommand(bustCmd)
	rootCmd.AddCommand(cacheCmd)
}

var perReservoirOps = []string{service.OpForecast, service.OpHistoric, service.OpPrecip}

func runBust(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	store, err := cache.NewRedis(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	if !bustAll {
		if bustOperation == "" {
			return fmt.Errorf("--operation is required unless --all is set")
		}
		key := cache.Key(bustOperation, bustReservoir)
		if err := store.Delete(ctx, key); err != nil {
			return err
		}
		slog.Info("cache key deleted", "key", key)
		return nil
	}

	// The catalog names every reservoir, so bust it first and use it to
	// enumerate the per-reservoir keys.
	wh, err := openWarehouse(cfg)
	if err != nil {
		return err
	}
	defer wh.Close() //nolint:errcheck

	rows, err := wh.Catalog(ctx)
	if err != nil {
		return err
	}

	keys := []string{cache.Key(service.OpReservoirs, "")}
	for _, row := range rows {
		for _, op := range perReservoirOps {
			keys = append(keys, cache.Key(op, row.Name))
		}
	}

	for _, key := range keys {
		if err := store.Delete(ctx, key); err != nil {
			return err
		}
	}
	slog.Info("cache keys deleted", "count", len(keys))
	return nil
}
