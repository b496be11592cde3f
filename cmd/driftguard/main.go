package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/driftguard/internal/alerts"
	"github.com/sawpanic/driftguard/internal/config"
	"github.com/sawpanic/driftguard/internal/exchange"
	"github.com/sawpanic/driftguard/internal/httpapi"
	"github.com/sawpanic/driftguard/internal/ledger"
	"github.com/sawpanic/driftguard/internal/recon"
	"github.com/sawpanic/driftguard/internal/statuscache"
	"github.com/sawpanic/driftguard/internal/telemetry"
)

const (
	appName = "driftguard"
	version = "v1.2.0"
)

var configPath string

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Position reconciler for the trading platform",
		Long:    "driftguard continuously compares internally tracked positions against exchange-reported positions, auto-corrects low-risk drift, and escalates high-risk drift for manual intervention.",
		Version: version,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Start the reconciliation loop and monitoring endpoints",
		RunE:  runLoop,
	}

	onceCmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single reconciliation pass and print the result",
		RunE:  runOnce,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Fetch stats from a running instance",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("addr", "http://localhost:8087", "base URL of the running instance")

	rootCmd.AddCommand(runCmd, onceCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

func setLogLevel(level string) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// buildReconciler wires the full stack from configuration. The returned
// metrics handler backs the /metrics endpoint.
func buildReconciler(cfg config.Config) (*recon.Reconciler, *telemetry.Metrics, error) {
	detector := recon.NewDetector(
		cfg.Reconciliation.QuantityTolerancePct,
		cfg.Reconciliation.PriceTolerancePct,
	)

	store, err := ledger.Open(cfg.Ledger.DSN, time.Duration(cfg.Ledger.QueryTimeoutSeconds)*time.Second)
	if err != nil {
		return nil, nil, err
	}

	policy := recon.NewPolicy(store, recon.PolicyConfig{
		MaxRetries:            cfg.Reconciliation.CorrectionMaxRetries,
		Backoff:               cfg.Reconciliation.CorrectionBackoff(),
		EscalateAfterFailures: cfg.Reconciliation.EscalateAfterFailures,
	})

	exchangeClient := exchange.NewClient(exchange.Config{
		BaseURL:        cfg.Exchange.BaseURL,
		APIKey:         cfg.Exchange.APIKey,
		APISecret:      cfg.Exchange.APISecret,
		RequestTimeout: time.Duration(cfg.Exchange.RequestTimeoutSeconds) * time.Second,
		RateLimitRPS:   cfg.Exchange.RateLimitRPS,
		MaxRetries:     cfg.Exchange.MaxRetries,
	})

	var dispatcher recon.AlertDispatcher = alerts.LogDispatcher{}
	if cfg.Alerts.WebhookURL != "" {
		dispatcher = alerts.NewWebhookDispatcher(
			cfg.Alerts.WebhookURL,
			time.Duration(cfg.Alerts.RequestTimeoutSeconds)*time.Second,
		)
	}

	var sink recon.StatusSink
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sink = statuscache.New(client, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
	}

	metrics := telemetry.NewMetrics()

	reconciler := recon.NewReconciler(recon.LoopConfig{
		Interval:     cfg.Reconciliation.Interval(),
		FetchTimeout: cfg.Reconciliation.FetchTimeout(),
	}, detector, policy, exchangeClient, store, dispatcher, sink, metrics)

	return reconciler, metrics, nil
}

func runLoop(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setLogLevel(cfg.Log.Level)

	reconciler, metrics, err := buildReconciler(cfg)
	if err != nil {
		return err
	}

	server := httpapi.NewServer(reconciler, metrics.Handler())
	go func() {
		if err := server.ListenAndServe(cfg.HTTP.ListenAddr); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("monitoring server failed")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reconciler.Start(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	reconciler.Stop()
	return nil
}

func runOnce(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setLogLevel(cfg.Log.Level)

	reconciler, _, err := buildReconciler(cfg)
	if err != nil {
		return err
	}

	result := reconciler.RunOnce(context.Background())
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(addr + "/stats")
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read stats response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("stats endpoint returned HTTP %d: %s", resp.StatusCode, body)
	}
	fmt.Println(string(body))
	return nil
}
