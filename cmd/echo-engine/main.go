// ABOUTME: Minimal agent runtime for E2E testing: serves the remote engine protocol over HTTP.
// ABOUTME: Usage: echo-engine [-addr localhost:9000] [-root customer_service] [-delay 200ms]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/2389/coven-concierge/internal/agent"
)

func main() {
	addr := flag.String("addr", "localhost:9000", "HTTP listen address")
	root := flag.String("root", agent.DefaultRootAgent, "Root agent name")
	delay := flag.Duration("delay", 0, "Pause between events")
	flag.Parse()

	if err := run(*addr, *root, *delay); err != nil {
		log.Fatal(err)
	}
}

func run(addr, root string, delay time.Duration) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	engine := agent.NewEchoEngine(root, logger, agent.WithDelay(delay))

	srv := &http.Server{
		Addr:              addr,
		Handler:           agent.Handler(engine, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "echo engine listening on %s (root: %s)\n", addr, root)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
