// Command control runs the control plane: the HTTP API the web client and
// the worker both speak to, backed by the durable bbolt store and event bus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nexusd/nexusd/pkg/bus"
	"github.com/nexusd/nexusd/pkg/config"
	"github.com/nexusd/nexusd/pkg/control"
	"github.com/nexusd/nexusd/pkg/gateway"
	"github.com/nexusd/nexusd/pkg/log"
	"github.com/nexusd/nexusd/pkg/metrics"
	"github.com/nexusd/nexusd/pkg/security"
	"github.com/nexusd/nexusd/pkg/storage"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "control",
	Short:   "nexusd control plane: tenant lifecycle, config, and event API",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("control version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("env-file", "", "Optional .env file to load before reading configuration")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := config.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		cfg, err := config.LoadControl()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Control) error {
	logger := log.WithComponent("control")

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	broker := bus.NewBroker(store)
	defer broker.Shutdown()

	sessions, err := security.NewSessionIssuer(cfg.SessionSigningKey, cfg.AccessTokenTTL, cfg.RefreshTokenTTL, cfg.BcryptCost)
	if err != nil {
		return fmt.Errorf("build session issuer: %w", err)
	}
	secrets, err := security.NewSecretsManagerFromPassword(string(cfg.SecretsKey))
	if err != nil {
		return fmt.Errorf("build secrets manager: %w", err)
	}
	signer, err := security.NewActionSigner(cfg.ActionSigningKey, cfg.ActionPreviousKey, 60*time.Second)
	if err != nil {
		return fmt.Errorf("build action signer: %w", err)
	}

	c := control.New(control.Config{
		Store:     store,
		Bus:       broker,
		Sessions:  sessions,
		Secrets:   secrets,
		Signer:    signer,
		Worker:    control.StaticWorker(cfg.WorkerBaseURL),
		BridgeKey: cfg.BridgeKey,
	})

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	gw := gateway.New(store, broker, sessions)
	router := c.Router()
	gw.Routes(router)

	metrics.RegisterComponent("store", true, "bbolt store open")
	metrics.RegisterComponent("bus", true, "event broker running")
	metrics.SetCriticalComponents([]string{"store"})
	metrics.SetVersion(Version)

	mux := http.NewServeMux()
	mux.Handle("/", router)
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("control listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
