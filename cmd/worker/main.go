// Command worker runs the worker plane: it receives signed actions from
// control, drives containerd to materialize tenant containers, forwards
// bridge-produced events back to control, and reconciles drift.
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

	"github.com/nexusd/nexusd/pkg/client"
	"github.com/nexusd/nexusd/pkg/config"
	"github.com/nexusd/nexusd/pkg/log"
	"github.com/nexusd/nexusd/pkg/metrics"
	"github.com/nexusd/nexusd/pkg/reconciler"
	"github.com/nexusd/nexusd/pkg/runtime"
	"github.com/nexusd/nexusd/pkg/security"
	"github.com/nexusd/nexusd/pkg/volume"
	"github.com/nexusd/nexusd/pkg/worker"
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
	Use:     "worker",
	Short:   "nexusd worker: drives tenant containers and forwards bridge events",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("worker version %s (%s)\n", Version, Commit))
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("env-file", "", "Optional .env file to load before reading configuration")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker HTTP server and reconciliation loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		envFile, _ := cmd.Flags().GetString("env-file")
		if err := config.Load(envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
		cfg, err := config.LoadWorker()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Worker) error {
	logger := log.WithComponent("worker")

	rt, err := runtime.New(cfg.ContainerdSocket, cfg.ContainerdLogsDir)
	if err != nil {
		return fmt.Errorf("connect to containerd: %w", err)
	}
	defer rt.Close()

	volumes, err := volume.NewManager(cfg.TenantRootPath)
	if err != nil {
		return fmt.Errorf("build volume manager: %w", err)
	}

	state, err := worker.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open local state: %w", err)
	}
	defer state.Close()

	verifier, err := security.NewActionSigner(cfg.ActionVerifyKey, cfg.ActionPreviousKey, 60*time.Second)
	if err != nil {
		return fmt.Errorf("build action verifier: %w", err)
	}

	forward := client.NewBridgeForwarder(cfg.ControlBaseURL, cfg.BridgeKey)

	wk := worker.New(state, rt, volumes, forward, verifier)

	rec := reconciler.New(wk, forward, cfg.ReconcileInterval)
	rec.Start()
	defer rec.Stop()

	metrics.RegisterComponent("containerd", true, "connected")
	metrics.RegisterComponent("state", true, "local store open")
	metrics.SetCriticalComponents([]string{"containerd", "state"})
	metrics.SetVersion(Version)

	mux := http.NewServeMux()
	mux.Handle("/", wk.Routes())
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.ActionDeadline,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("worker listening")
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
