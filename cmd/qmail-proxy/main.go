// Command qmail-proxy serves the same-origin oracle proxy, its metrics and,
// when a database is configured, the revoked key retention sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantsphere/qmail/internal/config"
	"github.com/quantsphere/qmail/internal/devoracle"
	"github.com/quantsphere/qmail/internal/logging"
	"github.com/quantsphere/qmail/internal/proxy"
	"github.com/quantsphere/qmail/internal/retention"
	"github.com/quantsphere/qmail/store/psql"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	flags := flag.NewFlagSet("qmail-proxy", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("config", "", "path to qmail.yaml")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(stderr, logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := newServer(cfg, logger, reg)
	if err != nil {
		return err
	}
	defer srv.Close()

	if cfg.Database.DSN != "" && cfg.Retention.RevokedKeys > 0 {
		backend, err := psql.Open(cfg.Database.DSN, cfg.Database.Migrate, psql.WithLogger(logger))
		if err != nil {
			return err
		}
		defer backend.Close()

		sweeper := retention.New(backend, retention.Config{
			Retention: cfg.Retention.RevokedKeys,
			Interval:  cfg.Retention.Interval,
			Metrics:   retention.NewMetrics(reg),
			Logger:    logger,
		})
		go func() {
			if err := sweeper.Run(ctx); err != nil {
				logger.Error("retention sweeper stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              cfg.Proxy.Listen,
		Handler:           srv.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", "addr", cfg.Proxy.Listen, "prefix", cfg.Proxy.PathPrefix, "upstream", srv.upstream)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type server struct {
	handler  http.Handler
	upstream string
	closers  []func() error
}

// newServer wires the proxy, metrics and health routes. With the dev
// oracle enabled and no upstream configured, the oracle runs on a private
// loopback listener.
func newServer(cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (*server, error) {
	s := &server{upstream: cfg.Proxy.UpstreamURL}

	if s.upstream == "" {
		if !cfg.Proxy.DevOracle {
			return nil, errors.New("no upstream: set proxy.upstreamURL or enable proxy.devOracle")
		}
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("dev oracle listener: %w", err)
		}
		oracleSrv := &http.Server{Handler: devoracle.New(logger), ReadHeaderTimeout: 10 * time.Second}
		go oracleSrv.Serve(ln)
		s.closers = append(s.closers, oracleSrv.Close)
		s.upstream = "http://" + ln.Addr().String()
		logger.Warn("using development oracle; do not use in production")
	}

	p, err := proxy.New(proxy.Config{
		Upstream:     s.upstream,
		Prefix:       cfg.Proxy.PathPrefix,
		HTTPClient:   &http.Client{Timeout: cfg.Proxy.UpstreamTimeout},
		MaxBodyBytes: cfg.Proxy.MaxBodyBytes,
		RateLimit:    cfg.Proxy.RateLimit,
		Burst:        cfg.Proxy.Burst,
		Metrics:      proxy.NewMetrics(reg),
		Logger:       logger,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	r := mux.NewRouter()
	p.Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	s.handler = r
	return s, nil
}

func (s *server) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
