// Command heinzel-gateway runs the HTTP gateway: it loads configuration,
// wires the configured provider translator and its supporting
// observability/session components, and serves the full route surface
// until interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuber-it/heinzel-gateway/pkg/config"
	"github.com/cuber-it/heinzel-gateway/pkg/gateway"
)

func main() {
	ctx := context.Background()

	rt, err := config.Bootstrap(ctx)
	if err != nil {
		os.Stderr.WriteString("heinzel-gateway: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer rt.Shutdown()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: gateway.New(rt).Router(),
	}

	go func() {
		rt.Log.Info().Str("addr", srv.Addr).Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rt.Log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rt.Log.Info().Msg("shutting down")
	_ = srv.Shutdown(shutdownCtx)
}
