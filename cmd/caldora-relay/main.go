// Command caldora-relay serves the JSON CalDAV relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cyp0633/caldora-sync/config"
	"github.com/cyp0633/caldora-sync/relay"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "caldora.yaml", "path to the YAML config file")
	listen := flag.String("listen", "", "listen address, overrides relay.listen")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *listen); err != nil {
		fmt.Fprintln(os.Stderr, "caldora-relay:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, listen string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if len(cfg.Relay.Tokens) == 0 {
		return errors.New("relay.tokens is empty; refusing to serve without authentication")
	}
	if listen == "" {
		listen = cfg.Relay.Listen
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))

	handler := relay.NewHandler(relay.HandlerConfig{
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
		Logger:     logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/", relay.Middleware(relay.StaticTokens(cfg.Relay.Tokens))(handler))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("relay listening", "addr", listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
