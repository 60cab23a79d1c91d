// Package server runs the orderbot HTTP listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const defaultShutdownTimeout = 10 * time.Second

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Listen string
	// Register adds routes to the router.
	Register func(router *gin.Engine)
	// Drain runs after the listener stops, e.g. to finish queued events.
	Drain           func(ctx context.Context) error
	ShutdownTimeout time.Duration
	Out             io.Writer
	// Ready receives the bound address once the listener is open.
	Ready chan<- string
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Register == nil {
		return fmt.Errorf("server: routes are required")
	}
	if opts.Listen == "" {
		opts.Listen = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	router := gin.New()
	router.Use(gin.Recovery())
	opts.Register(router)

	ln, err := net.Listen("tcp", opts.Listen)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	srv := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if opts.Drain != nil {
			err = errors.Join(err, opts.Drain(sctx))
		}
		shutdownErr <- err
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "orderbot listening on %s\n", ln.Addr())
	}
	if opts.Ready != nil {
		opts.Ready <- ln.Addr().String()
	}

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	if err := <-shutdownErr; err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
