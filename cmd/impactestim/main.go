// Command impactestim is the estimator's CLI entrypoint: a one-shot
// `estimate` command for scripted/batch use and a `serve` command that
// exposes the same pipeline over HTTP, following the teacher's
// cobra-rootCmd-plus-subcommands layout.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfoodfacts/off-product-environmental-impact/internal/config"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/estimate"
	httpapi "github.com/openfoodfacts/off-product-environmental-impact/internal/interfaces/http"
	applog "github.com/openfoodfacts/off-product-environmental-impact/internal/log"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/preflight"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/reftables"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/store/postgres"
	"github.com/openfoodfacts/off-product-environmental-impact/internal/telemetry"
)

const (
	appName = "impactestim"
	version = "v0.1.0"
)

var defaultImpactNames = []string{
	"carbon_footprint", "ef_single_score", "water_scarcity", "land_use",
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Estimate environmental impacts of packaged food products from their ingredient list.",
		Version: version,
	}

	estimateCmd := &cobra.Command{
		Use:   "estimate",
		Short: "Run one Monte-Carlo impact estimate for a product read from a JSON file",
		RunE:  runEstimate,
	}
	estimateCmd.Flags().String("product", "", "path to a product JSON file (see internal/interfaces/http.EstimateRequest)")
	estimateCmd.Flags().String("params", "", "optional YAML params override file (spec.md §6)")
	estimateCmd.Flags().String("dsn", "", "Postgres DSN for the reference tables")
	estimateCmd.Flags().Bool("quiet", false, "suppress progress output")
	estimateCmd.MarkFlagRequired("product")
	estimateCmd.MarkFlagRequired("dsn")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API (POST /estimate, GET /health, GET /metrics)",
		RunE:  runServe,
	}
	serveCmd.Flags().String("host", "127.0.0.1", "listen host")
	serveCmd.Flags().Int("port", 8080, "listen port")
	serveCmd.Flags().String("dsn", "", "Postgres DSN for the reference tables")
	serveCmd.Flags().String("params", "", "optional YAML params override file (spec.md §6)")
	serveCmd.MarkFlagRequired("dsn")

	rootCmd.AddCommand(estimateCmd)
	rootCmd.AddCommand(serveCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func loadParams(path string) (config.Params, error) {
	if path == "" {
		return config.Defaults(), nil
	}
	return config.LoadParamsFile(path)
}

func loadTables(ctx context.Context, dsn string) (*reftables.Tables, error) {
	repo, err := postgres.NewReftablesRepo(dsn, 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to reference database: %w", err)
	}
	defer repo.Close()
	return repo.Load(ctx)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	productPath, _ := cmd.Flags().GetString("product")
	paramsPath, _ := cmd.Flags().GetString("params")
	dsn, _ := cmd.Flags().GetString("dsn")
	quiet, _ := cmd.Flags().GetBool("quiet")

	params, err := loadParams(paramsPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	tables, err := loadTables(ctx, dsn)
	cancel()
	if err != nil {
		return err
	}

	raw, err := os.ReadFile(productPath)
	if err != nil {
		return fmt.Errorf("failed to read product file: %w", err)
	}
	var req httpapi.EstimateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("failed to parse product file: %w", err)
	}
	product := req.ToProduct()

	out, err := preflight.Run(product, tables, params)
	if err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}
	for _, w := range out.Warnings {
		log.Warn().Str("code", w.Code).Msg(w.Message)
	}

	progress := applog.NewRunProgress(product.ID, params.MaxRunNb, quiet)
	estimator := estimate.New(tables, defaultImpactNames)

	runCtx, runCancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer runCancel()

	result, err := estimator.Estimate(runCtx, out, params, params.Seed)
	if err != nil {
		progress.Fail(err.Error())
		return fmt.Errorf("estimate failed: %w", err)
	}
	progress.Finish(true)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(httpapi.FromResult(result))
}

func runServe(cmd *cobra.Command, args []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	dsn, _ := cmd.Flags().GetString("dsn")
	paramsPath, _ := cmd.Flags().GetString("params")

	params, err := loadParams(paramsPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	tables, err := loadTables(ctx, dsn)
	cancel()
	if err != nil {
		return err
	}
	loadedAt := time.Now()

	registry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	metrics.SetReftablesLoadAge(0)

	handlers := httpapi.NewHandlers(tables, defaultImpactNames, params, metrics)
	health := httpapi.NewHealthHandler(tables, loadedAt, version)

	cfg := httpapi.DefaultServerConfig()
	cfg.Host = host
	cfg.Port = port

	server, err := httpapi.NewServer(cfg, handlers, health)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigCh:
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	}
}
