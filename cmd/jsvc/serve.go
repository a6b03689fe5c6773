package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/julianpistorius/jsvcgen/config"
	"github.com/julianpistorius/jsvcgen/middleware"
	"github.com/julianpistorius/jsvcgen/registry"
	"github.com/julianpistorius/jsvcgen/server"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds `jsvc serve` arguments.
type ServeOptions struct {
	ConfigPath string
	Listen     string
	HTTPListen string
	Register   bool
}

func parseServeFlags(args []string) (*ServeOptions, error) {
	fs := flag.NewFlagSet("jsvc serve", flag.ContinueOnError)
	opts := &ServeOptions{}
	fs.StringVar(&opts.ConfigPath, "c", "", "Config file path")
	fs.StringVar(&opts.Listen, "listen", "", "Framed TCP listen address")
	fs.StringVar(&opts.HTTPListen, "http", "", "HTTP listen address")
	fs.BoolVar(&opts.Register, "register", false, "Advertise in etcd")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return opts, nil
}

func runServeCmd(ctx context.Context, args []string) error {
	opts, err := parseServeFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Server.Listen = opts.Listen
	}
	if opts.HTTPListen != "" {
		cfg.Server.HTTPListen = opts.HTTPListen
	}
	if opts.Register {
		cfg.Server.Register = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var reg registry.Registry
	if cfg.Server.Register {
		etcdReg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
		if err != nil {
			return err
		}
		defer etcdReg.Close()
		reg = etcdReg
	}

	ln, err := net.Listen("tcp", cfg.Server.Listen)
	if err != nil {
		return err
	}
	return serve(ctx, cfg, logger, ln, reg)
}

// newEchoServer builds a server that answers every method with its params.
func newEchoServer(cfg *config.Config, logger *zap.Logger) *server.Server {
	svr := server.NewServer(
		server.WithServiceName(cfg.Registry.Service),
		server.WithAPIVersion(cfg.Server.APIVersion),
		server.WithWeight(cfg.Server.Weight),
		server.WithLogger(logger))

	svr.Use(middleware.LoggingMiddleware(logger))
	if cfg.Server.RateLimit > 0 {
		svr.Use(middleware.RateLimitMiddleware(cfg.Server.RateLimit, cfg.Server.Burst))
	}
	if cfg.Server.Timeout.Duration > 0 {
		svr.Use(middleware.TimeOutMiddleware(cfg.Server.Timeout.Duration))
	}
	svr.HandleDefault(server.EchoHandler)
	return svr
}

// serve runs the framed listener, and HTTP when configured, until ctx is done
// or either server fails.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, ln net.Listener, reg registry.Registry) error {
	svr := newEchoServer(cfg, logger)
	errCh := make(chan error, 2)

	go func() {
		errCh <- svr.Serve(ln, cfg.Server.Advertise, reg)
	}()

	var httpSrv *http.Server
	if cfg.Server.HTTPListen != "" {
		httpSrv = &http.Server{Addr: cfg.Server.HTTPListen, Handler: svr}
		go func() {
			logger.Info("serving http", zap.String("addr", httpSrv.Addr))
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err = <-errCh:
	}

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		httpSrv.Shutdown(shutdownCtx)
		cancel()
	}
	if shutdownErr := svr.Shutdown(shutdownTimeout); err == nil {
		err = shutdownErr
	}
	return err
}
