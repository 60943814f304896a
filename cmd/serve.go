package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/H2Oxford/h2ox-api/internal/api"
	"github.com/H2Oxford/h2ox-api/internal/cache"
	"github.com/H2Oxford/h2ox-api/internal/config"
	"github.com/H2Oxford/h2ox-api/internal/service"
	"github.com/H2Oxford/h2ox-api/internal/warehouse"
)

var (
	listenAddr      string
	warehouseDriver string
	cacheBypass     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the h2ox-api server (default command)",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config)")
	serveCmd.Flags().StringVar(&warehouseDriver, "warehouse-driver", "", "warehouse driver (overrides config)")
	serveCmd.Flags().BoolVar(&cacheBypass, "cache-bypass", false, "skip cache reads and writes (forced refresh)")
	rootCmd.AddCommand(serveCmd)

	// Make serve the default command.
	rootCmd.RunE = runServe
}

func runServe(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	// Apply flag overrides.
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if warehouseDriver != "" {
		cfg.Warehouse.Driver = warehouseDriver
	}
	if cacheBypass {
		cfg.Cache.Bypass = true
	}

	slog.Info("starting h2ox-api",
		"listen_addr", cfg.ListenAddr,
		"warehouse_driver", cfg.Warehouse.Driver,
		"cache_addr", cfg.Cache.Addr,
		"cache_ttl", cfg.Cache.TTL,
		"cache_bypass", cfg.Cache.Bypass,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wh, err := openWarehouse(cfg)
	if err != nil {
		return err
	}
	defer wh.Close() //nolint:errcheck

	store, err := cache.NewRedis(ctx, cfg.Cache.Addr, cfg.Cache.Password, cfg.Cache.DB)
	if err != nil {
		return err
	}
	defer store.Close() //nolint:errcheck

	slog.Info("warehouse and cache ready", "driver", cfg.Warehouse.Driver)

	svc := service.New(wh, store, cfg.Cache.TTL, cfg.Cache.Bypass)

	srv := api.NewServer(svc, slog.Default(), api.Options{
		Username:    cfg.Auth.Username,
		Password:    cfg.Auth.Password,
		AllowOrigin: cfg.CORS.AllowOrigin,
	})
	srv.SetVersion(Version)
	srv.SetComponentInfo(cfg.Warehouse.Driver, wh, store)

	slog.Info("h2ox-api ready", "addr", cfg.ListenAddr)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(gctx, cfg.ListenAddr) })

	waitErr := g.Wait()
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		slog.Error("h2ox-api exited with error", "error", waitErr)
	}

	// Always run graceful cleanup, even on error.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	_ = srv.Shutdown(shutdownCtx)
	_ = store.Close()
	_ = wh.Close()

	slog.Info("h2ox-api shutdown complete")
	if waitErr != nil && !errors.Is(waitErr, context.Canceled) {
		return waitErr
	}
	return nil
}

func openWarehouse(cfg *config.Config) (*warehouse.SQLClient, error) {
	switch cfg.Warehouse.Driver {
	case "duckdb":
		return warehouse.OpenDuckDB(cfg.DSN())
	case "postgres":
		slog.Info("connecting to warehouse", "dsn", redactDSN(cfg.DSN()))
		return warehouse.OpenPostgres(cfg.DSN())
	default:
		return nil, errors.New("unknown warehouse driver: " + cfg.Warehouse.Driver)
	}
}

func setupLogging() {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}

	if logFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// redactDSN masks the password in a PostgreSQL DSN for safe display.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return dsn
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}
