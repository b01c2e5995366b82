package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/zeta/pkg/api"
	"github.com/cuemby/zeta/pkg/engine"
	"github.com/cuemby/zeta/pkg/environment"
	"github.com/cuemby/zeta/pkg/heartbeat"
	"github.com/cuemby/zeta/pkg/imagebuilder"
	"github.com/cuemby/zeta/pkg/log"
	"github.com/cuemby/zeta/pkg/metrics"
	"github.com/cuemby/zeta/pkg/pns"
	"github.com/cuemby/zeta/pkg/reaper"
	"github.com/cuemby/zeta/pkg/storage"
	"github.com/cuemby/zeta/pkg/zeta"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
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
	Use:     "zeta-server",
	Short:   "Zeta control plane: the orchestrator for single-host serverless functions",
	Version: Version,
	RunE:    runServer,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("zeta-server version %s (%s)\n", Version, Commit))

	rootCmd.Flags().String("api-addr", "127.0.0.1:8080", "address the control-plane HTTP API listens on")
	rootCmd.Flags().String("db-path", "./zeta.db", "path to the metadata database file")
	rootCmd.Flags().String("engine-socket", defaultEngineSocket(), "path to the container engine's UNIX socket")
	rootCmd.Flags().String("heartbeat-socket", "./tmp/docker_proxy.sock", "path to the heartbeat UNIX socket, bind-mounted into every runner container")
	rootCmd.Flags().String("network", "zeta-net", "name of the shared bridge network every runner container joins")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.Flags().Bool("log-json", true, "emit logs as JSON")
}

// defaultEngineSocket honors ZETA_ENGINE_SOCKET before falling back to the
// engine's conventional socket path.
func defaultEngineSocket() string {
	if p := os.Getenv("ZETA_ENGINE_SOCKET"); p != "" {
		return p
	}
	return "/var/run/docker.sock"
}

func runServer(cmd *cobra.Command, args []string) error {
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	dbPath, _ := cmd.Flags().GetString("db-path")
	engineSocket, _ := cmd.Flags().GetString("engine-socket")
	heartbeatSocket, _ := cmd.Flags().GetString("heartbeat-socket")
	networkName, _ := cmd.Flags().GetString("network")
	logLevel, _ := cmd.Flags().GetString("log-level")
	logJSON, _ := cmd.Flags().GetBool("log-json")

	// The engine bind-mounts this path into every runner container, and
	// mount sources must be absolute.
	heartbeatSocket, err := filepath.Abs(heartbeatSocket)
	if err != nil {
		return fmt.Errorf("resolve heartbeat socket path: %w", err)
	}

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON, Output: os.Stdout})
	logger := log.WithComponent("zeta-server")
	metrics.SetVersion(Version)

	ctx, cancelBoot := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBoot()

	eng, err := engine.NewDockerEngine(ctx, engineSocket)
	if err != nil {
		metrics.RegisterComponent("engine", false, err.Error())
		return fmt.Errorf("connect to container engine: %w", err)
	}
	defer eng.Close()
	metrics.RegisterComponent("engine", true, "")

	store, err := storage.Open(dbPath)
	if err != nil {
		metrics.RegisterComponent("store", false, err.Error())
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close()
	metrics.RegisterComponent("store", true, "")

	env := environment.New(eng, networkName)
	if err := env.Ensure(ctx); err != nil {
		metrics.RegisterComponent("network", false, err.Error())
		return fmt.Errorf("ensure shared network: %w", err)
	}
	metrics.RegisterComponent("network", true, "")

	builder := imagebuilder.New(eng)
	p := pns.New()
	svc := zeta.New(store, eng, p, builder, env, heartbeatSocket)

	hbListener := heartbeat.NewListener(heartbeatSocket, store)
	if err := hbListener.Start(); err != nil {
		return fmt.Errorf("start heartbeat listener: %w", err)
	}
	logger.Info().Str("socket", heartbeatSocket).Msg("heartbeat listener started")

	r := reaper.New(store, eng, p)
	r.Start()
	logger.Info().Msg("reaper started")

	apiServer := api.NewServer(svc)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", apiAddr).Msg("control-plane API listening")
		if err := apiServer.Start(apiAddr); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("API server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("error shutting down API server")
	}
	r.Stop()
	if err := hbListener.Close(); err != nil {
		logger.Warn().Err(err).Msg("error closing heartbeat listener")
	}
	env.Teardown(shutdownCtx)

	logger.Info().Msg("shutdown complete")
	return nil
}
