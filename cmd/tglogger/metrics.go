package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsReadHeaderTimeout = 5 * time.Second

func newMetricsRouter(gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	return r
}

type metricsServer struct {
	server   *http.Server
	listener net.Listener
	done     chan error
}

// startMetricsServer binds addr before returning so bind failures surface
// at startup instead of inside the serve goroutine.
func startMetricsServer(addr string, handler http.Handler, logger *slog.Logger) (*metricsServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: metricsReadHeaderTimeout,
	}
	metrics := &metricsServer{
		server:   server,
		listener: listener,
		done:     make(chan error, 1),
	}

	go func() {
		err := server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
		metrics.done <- err
	}()
	logger.Info("metrics server listening", "addr", listener.Addr().String())

	return metrics, nil
}

// Addr returns the bound listener address.
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections and waits for the serve loop to exit.
func (s *metricsServer) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}

	select {
	case err := <-s.done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("wait metrics server: %w", ctx.Err())
	}
}
