package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"spbridge/pkg/logger"
	"spbridge/pkg/metrics"
	"spbridge/pkg/utils/coerce"
	"spbridge/pkg/wasm"
)

// HandleServe loads every plugin under SPBRIDGE_PLUGIN_DIR, runs their entry
// exports once and serves /metrics until interrupted.
func HandleServe(args []string) {
	logger.Setup(os.Getenv("APP_ENV"))

	dir := os.Getenv("SPBRIDGE_PLUGIN_DIR")
	if len(args) > 0 {
		dir = args[0]
	}
	if dir == "" {
		dir = "./plugins"
	}
	addr := os.Getenv("SPBRIDGE_METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pm, err := wasm.NewPluginManager(context.Background(), dir)
	if err != nil {
		slog.Error("❌ Failed to start plugin manager", "error", err)
		os.Exit(1)
	}
	defer pm.Close()

	if err := pm.LoadAll(); err != nil {
		slog.Error("❌ Failed to load plugins", "error", err)
		os.Exit(1)
	}
	for _, p := range pm.ListPlugins() {
		if p.Manifest.Entry == "" {
			continue
		}
		if _, err := pm.Run(ctx, p.Manifest.Name); err != nil {
			slog.Error("❌ Plugin entry failed", "plugin", p.Manifest.Name, "error", err)
		}
	}

	srv := &http.Server{
		Addr:    addr,
		Handler: metrics.Router(routerConfig()),
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fmt.Println("\n" + strings.Repeat("=", 60))
		fmt.Println("❌ FAILED TO START METRICS SERVER")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Printf("Error: %v\n", err)
		fmt.Println("Change SPBRIDGE_METRICS_ADDR in the .env file to use a different address.")
		fmt.Println(strings.Repeat("=", 60) + "\n")
		os.Exit(1)
	}

	go func() {
		slog.Info("🚀 Metrics Ready", "addr", addr, "plugins", len(pm.ListPlugins()))
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("❌ Listen failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("⚠️  Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("❌ Server Forced Shutdown", "error", err)
	} else {
		slog.Info("✅ Server Gracefully Stopped")
	}
}

// routerConfig reads the metrics endpoint settings from the environment.
func routerConfig() metrics.RouterConfig {
	cfg := metrics.RouterConfig{}
	if v := os.Getenv("SPBRIDGE_RATE_LIMIT_REQUESTS"); v != "" {
		n, err := coerce.ToInt32(v)
		if err != nil || n <= 0 {
			slog.Warn("⚠️  Ignoring invalid SPBRIDGE_RATE_LIMIT_REQUESTS", "value", v)
		} else {
			cfg.RateLimitRequests = int(n)
		}
	}
	if v := os.Getenv("SPBRIDGE_RATE_LIMIT_WINDOW"); v != "" {
		secs, _ := coerce.ToInt32(v)
		cfg.RateLimitWindow = time.Duration(secs) * time.Second
	}
	if v := os.Getenv("SPBRIDGE_CORS_ORIGINS"); v != "" {
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, origin)
			}
		}
	}
	if cfg.RateLimitRequests == 0 {
		slog.Info("⚠️  Rate Limiting Disabled (SPBRIDGE_RATE_LIMIT_REQUESTS not set)")
	}
	return cfg
}
