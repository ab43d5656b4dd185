// geyserwatch subscribes to a Yellowstone Geyser gRPC feed and logs every
// account update, transaction, slot update and pong it receives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fortiblox/geyserwatch/internal/cfg"
	"github.com/fortiblox/geyserwatch/internal/telemetry"
	"github.com/fortiblox/geyserwatch/pkg/geyser"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

var showVersion = flag.Bool("version", false, "Print version and exit")

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("geyserwatch %s (%s)\n", Version, GitCommit)
		return
	}

	os.Exit(run())
}

func run() int {
	if err := loadConfiguration(*cfg.ConfigPathFlag); err != nil {
		log.Error().Err(err).Msg("Startup failed")
		return 1
	}
	log.Info().Str("version", Version).Str("commit", GitCommit).Msg("Starting geyserwatch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.InitializeTelemetry(cfg.Config.Metrics.Address != "")
	telemetry.InitMetrics()
	if srv := startMetricsServer(cfg.Config.Metrics.Address); srv != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	geyserConfig, err := cfg.GeyserConfig()
	if err != nil {
		log.Error().Err(err).Msg("Invalid geyser configuration")
		return 1
	}
	filters, err := cfg.Filters()
	if err != nil {
		log.Error().Err(err).Msg("Invalid subscription")
		return 1
	}

	session := geyser.NewSession(geyserConfig, filters, geyser.NewLogHandler(log.Logger))
	if err := session.Run(ctx); err != nil {
		var sessErr *geyser.SessionError
		if errors.As(err, &sessErr) {
			log.Error().Err(sessErr.Err).Str("phase", string(sessErr.Phase)).Msg("Session failed")
		} else {
			log.Error().Err(err).Msg("Session failed")
		}
		return 1
	}

	log.Info().Msg("Shutdown complete")
	return 0
}

// logOutput is where every log line goes.
var logOutput io.Writer = os.Stdout

// loadConfiguration sets up logging from the built-in defaults so the
// loader's own messages use the console writer, loads and validates the
// file, then sets up logging again from what was loaded.
func loadConfiguration(path string) error {
	setupLogging()
	if err := cfg.Load(path); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	setupLogging()
	return nil
}

func setupLogging() {
	var writer io.Writer = zerolog.NewConsoleWriter(func(w *zerolog.ConsoleWriter) {
		w.Out = logOutput
	})
	if cfg.Config.Logging.Format == "json" {
		writer = logOutput
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}
}

// startMetricsServer serves /metrics on addr. It returns nil when metrics
// are disabled.
func startMetricsServer(addr string) *http.Server {
	handler := telemetry.GetMetricsHandler()
	if addr == "" || handler == nil {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("address", addr).Msg("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Msg("Metrics server stopped")
		}
	}()
	return srv
}
