// verifyd is the local device-verification daemon: it backs the UI with
// payload generation, scan decoding, SAS derivation and exchange
// tracking over a localhost HTTP API.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/pgprooms/pgprooms/internal/api"
	"github.com/pgprooms/pgprooms/internal/config"
	"github.com/pgprooms/pgprooms/internal/session"
)

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config file")
	flag.Parse()

	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	var logger *zap.Logger
	if cfg.LogDevelopment {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	store := session.NewStore()
	handlers := api.NewHandlers(cfg, store, logger)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewRouter(handlers),
	}

	go func() {
		logger.Info("verification daemon listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
}
