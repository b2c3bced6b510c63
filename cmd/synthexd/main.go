// synthexd is the continuous deployment shape: a long-lived engine loop
// that owns the market, plus the WebSocket broadcast endpoint.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"synthex/internal/app"
	"synthex/internal/engine"
	"synthex/internal/risk"
	"synthex/internal/server"

	_ "net/http/pprof" // For pprof profiling
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	if cfg.Server.PprofAddr != "" {
		go func() {
			// Localhost only for security
			slog.Info("pprof server started", slog.String("addr", cfg.Server.PprofAddr))
			if err := http.ListenAndServe(cfg.Server.PprofAddr, nil); err != nil {
				slog.Error("pprof server failed", slog.Any("error", err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gate := risk.NewGate(bootstrap.Store)
	eng := engine.New(engine.Config{
		TickInterval:      time.Duration(cfg.Engine.TickIntervalMS) * time.Millisecond,
		BaseSpread:        cfg.Engine.BaseSpread.InexactFloat64(),
		SpreadVolFactor:   cfg.Engine.SpreadVolFactor.InexactFloat64(),
		ReferenceDepth:    cfg.Engine.ReferenceDepth,
		LiquidityRecovery: cfg.Engine.LiquidityRecovery.InexactFloat64(),
		SlippageFactor:    cfg.Engine.SlippageFactor.InexactFloat64(),
		MaxReplaySeconds:  cfg.Engine.MaxReplaySeconds,
	}, bootstrap.Store, gate, slog.Default())

	// Single-writer hotpath: the engine loop is the only goroutine that
	// ever mutates market state in this shape.
	go func() {
		if err := eng.Run(ctx); err != nil {
			slog.Error("engine failed", slog.Any("error", err))
			stop()
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws", server.NewWSServer(eng, slog.Default()))

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	go func() {
		slog.Info("websocket server listening", slog.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
