// Command sortctl runs the conveyor-belt sort controller: it loads
// persisted config, binds GPIO, starts the core sensor/ingest/executor
// loop, and serves the HTTP + WebSocket control plane until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sortctl/config"
	"sortctl/core"
	"sortctl/detector"
	"sortctl/gpio"
	"sortctl/httpapi"
)

var (
	listenAddr  string
	configDir   string
	cameraIndex int
	authEnabled bool
	username    string
	password    string
)

var rootCmd = &cobra.Command{
	Use:   "sortctl",
	Short: "Gated-FIFO conveyor sort controller",
	Long: `sortctl matches a recognized-code stream against a gate-sensor
token stream to route items on a sorting conveyor, exposing their state
and history over HTTP and WebSocket.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", envOr("APP_LISTEN_ADDR", ":3000"), "HTTP listen address")
	rootCmd.Flags().StringVar(&configDir, "config-dir", envOr("APP_CONFIG_DIR", "."), "directory holding config.json and sort_log.json")
	rootCmd.Flags().IntVar(&cameraIndex, "camera-index", envIntOr("APP_CAMERA_INDEX", 0), "camera device index (carried through, not used by the core)")
	rootCmd.Flags().BoolVar(&authEnabled, "auth", envBoolOr("APP_AUTH_ENABLED", false), "require HTTP Basic Auth on every control-plane route")
	rootCmd.Flags().StringVar(&username, "username", envOr("APP_USERNAME", "admin"), "Basic Auth username")
	rootCmd.Flags().StringVar(&password, "password", envOr("APP_PASSWORD", "123"), "Basic Auth password")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	log := core.NewLogger(os.Stderr)

	cfgStore := config.NewStore(configDir)
	gp, err := gpio.Open()
	if err != nil {
		return fmt.Errorf("open gpio: %w", err)
	}

	orch, err := core.NewOrchestrator(cfgStore, gp, log, authEnabled)
	if err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Camera capture and QR/code recognition are external collaborators
	// specified only at their interface (detector.Camera/detector.Detector);
	// this entrypoint supplies the channel the ingester reads from but no
	// producer, leaving the real binding to whatever recognizer a
	// deployment plugs in ahead of this process.
	results := make(chan detector.Result)

	go orch.Run(ctx, results)
	defer orch.Shutdown()

	srv := httpapi.NewServer(orch, httpapi.Config{
		AuthEnabled: authEnabled,
		Username:    username,
		Password:    password,
	})
	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: srv.Routes(),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", listenAddr).Log("listening")
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Log("shutting down")
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolOr(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
