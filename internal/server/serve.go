package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Serve listens on the server's address and serves until ctx is cancelled or
// the process receives SIGINT or SIGTERM. It then drains in-flight requests
// for at most shutdownTimeout before running hooks, which are given a further
// shutdownTimeout of their own.
func Serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s failed: %w", srv.Addr, err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return ServeListener(ctx, srv, ln, shutdownTimeout, hooks)
}

// ServeListener is Serve on an existing listener, without signal handling.
func ServeListener(ctx context.Context, srv *http.Server, ln net.Listener, shutdownTimeout time.Duration, hooks *ShutdownHooks) error {
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Msg("server: listening")
		serverErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped unexpectedly: %w", err)

	case <-ctx.Done():
		log.Info().Msg("server: shutdown requested, draining connections")
	}

	// the parent context is already done, so the drain gets a fresh deadline
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server: graceful shutdown incomplete, closing connections")
		shutdownErr = errors.Join(fmt.Errorf("graceful shutdown failed: %w", err), srv.Close())
	}

	if hooks != nil {
		// hooks get their own deadline so a slow drain does not starve them
		hookCtx, cancelHooks := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancelHooks()

		if err := hooks.Run(hookCtx); err != nil {
			log.Warn().Err(err).Msg("server: one or more shutdown hooks failed")
		}
	}

	log.Info().Msg("server: stopped")

	return shutdownErr
}
