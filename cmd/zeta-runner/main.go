package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/zeta/pkg/log"
	"github.com/cuemby/zeta/pkg/runner"
	"github.com/cuemby/zeta/pkg/types"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "zeta-runner",
	Short: "In-container agent serving a Zeta function's /is-running and /run endpoints",
	RunE:  runAgent,
}

func init() {
	rootCmd.Flags().Int("port", types.DefaultContainerPort, "port to listen on inside the container")
	rootCmd.Flags().String("harness", "/zeta/harness.py", "path to the generated python harness script")
	rootCmd.Flags().String("socket", "/zeta/tmp/docker_proxy.sock", "path to the bind-mounted heartbeat socket")
	rootCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")
}

func runAgent(cmd *cobra.Command, args []string) error {
	port, _ := cmd.Flags().GetInt("port")
	harnessPath, _ := cmd.Flags().GetString("harness")
	socketPath, _ := cmd.Flags().GetString("socket")
	logLevel, _ := cmd.Flags().GetString("log-level")

	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: true, Output: os.Stdout})
	logger := log.WithComponent("zeta-runner")

	agent := runner.New(harnessPath, socketPath)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      agent.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Int("port", port).Msg("zeta-runner listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		return fmt.Errorf("runner server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("error shutting down HTTP server")
	}
	agent.Shutdown(ctx)
	return nil
}
