package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/julianpistorius/jsvcgen/client"
	"github.com/julianpistorius/jsvcgen/codec"
	"github.com/julianpistorius/jsvcgen/config"
	"github.com/julianpistorius/jsvcgen/loadbalance"
	"github.com/julianpistorius/jsvcgen/registry"
	"github.com/julianpistorius/jsvcgen/transport"
)

// CallOptions holds `jsvc call` arguments. Empty flag values keep the config file's setting.
type CallOptions struct {
	ConfigPath string
	Transport  string
	URL        string
	Addr       string
	APIVersion string
	Codec      string
	Method     string
	Params     json.RawMessage
}

func parseCallFlags(args []string) (*CallOptions, error) {
	fs := flag.NewFlagSet("jsvc call", flag.ContinueOnError)
	opts := &CallOptions{}
	fs.StringVar(&opts.ConfigPath, "c", "", "Config file path")
	fs.StringVar(&opts.Transport, "transport", "", "Transport: http, tcp, etcd")
	fs.StringVar(&opts.URL, "url", "", "JSON-RPC endpoint URL")
	fs.StringVar(&opts.Addr, "addr", "", "Framed TCP address")
	fs.StringVar(&opts.APIVersion, "api-version", "", "API version the server speaks")
	fs.StringVar(&opts.Codec, "codec", "", "JSON engine: json, sonic")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	switch fs.NArg() {
	case 1:
		opts.Params = json.RawMessage("{}")
	case 2:
		if !json.Valid([]byte(fs.Arg(1))) {
			return nil, fmt.Errorf("params is not valid JSON: %s", fs.Arg(1))
		}
		opts.Params = json.RawMessage(fs.Arg(1))
	default:
		return nil, fmt.Errorf("usage: jsvc call [options] METHOD [PARAMS_JSON]")
	}
	opts.Method = fs.Arg(0)
	return opts, nil
}

// apply lets flags override the config file.
func (o *CallOptions) apply(cfg *config.Config) error {
	if o.Transport != "" {
		cfg.Transport.Kind = o.Transport
	}
	if o.URL != "" {
		cfg.Transport.URL = o.URL
	}
	if o.Addr != "" {
		cfg.Transport.Addr = o.Addr
	}
	if o.APIVersion != "" {
		cfg.Transport.APIVersion = o.APIVersion
	}
	if o.Codec != "" {
		cfg.Transport.Codec = o.Codec
	}
	return cfg.Validate()
}

func runCallCmd(ctx context.Context, args []string, stdout io.Writer) error {
	opts, err := parseCallFlags(args)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	if err := opts.apply(cfg); err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	return runCall(ctx, cfg, logger, opts.Method, opts.Params, stdout)
}

func runCall(ctx context.Context, cfg *config.Config, logger *zap.Logger, method string, params json.RawMessage, stdout io.Writer) error {
	d, closeFn, err := newDispatcher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFn()

	if cfg.Transport.Timeout.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Transport.Timeout.Duration)
		defer cancel()
	}

	svc := client.New(d,
		client.WithLogger(logger),
		client.WithCodec(codec.GetCodec(codec.ParseCodecType(cfg.Transport.Codec))))

	var result json.RawMessage
	if err := svc.Call(ctx, method, params, &result); err != nil {
		return err
	}

	var out bytes.Buffer
	if err := json.Indent(&out, result, "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err = out.WriteTo(stdout)
	return err
}

// newDispatcher builds the transport cfg.Transport.Kind names. The returned
// func releases its connections.
func newDispatcher(cfg *config.Config, logger *zap.Logger) (transport.Dispatcher, func(), error) {
	t := cfg.Transport
	switch t.Kind {
	case "http":
		d := transport.NewHTTPDispatcher(t.URL, t.APIVersion, transport.WithHTTPLogger(logger))
		return d, func() {}, nil
	case "tcp":
		d := transport.NewFramedDispatcher(t.Addr, t.APIVersion,
			transport.WithFramedCodec(codec.ParseCodecType(t.Codec)),
			transport.WithDialTimeout(5*time.Second),
			transport.WithFramedLogger(logger))
		return d, func() { d.Close() }, nil
	case "etcd":
		reg, err := registry.NewEtcdRegistry(cfg.Registry.Endpoints, logger)
		if err != nil {
			return nil, nil, err
		}
		d := transport.NewDiscoveryDispatcher(reg, loadbalance.New(cfg.Registry.Balancer),
			cfg.Registry.Service, codec.ParseCodecType(t.Codec), logger)
		return d, func() {
			d.Close()
			reg.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport: %s", t.Kind)
	}
}
