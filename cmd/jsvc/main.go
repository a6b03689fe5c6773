package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/julianpistorius/jsvcgen/client"
	"github.com/julianpistorius/jsvcgen/config"
	"github.com/julianpistorius/jsvcgen/logging"
)

// set with -ldflags
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}

	ctx, cancel := setupSignalHandler()
	defer cancel()

	var err error
	switch os.Args[1] {
	case "call":
		err = runCallCmd(ctx, os.Args[2:], os.Stdout)
	case "serve":
		err = runServeCmd(ctx, os.Args[2:])
	case "version", "-v", "--version":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(2)
	}

	if err != nil {
		var serverErr *client.ServerError
		if errors.As(err, &serverErr) {
			fmt.Fprintf(os.Stderr, "%s (%s): %s\n", serverErr.Name, serverErr.Code, serverErr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		cancel()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`jsvc - JSON-RPC service client and test server

Usage:
  jsvc <command> [options]

Commands:
  call      Call a method and print its result
  serve     Run an echo server over framed TCP and HTTP
  version   Print version information
  help      Print this help message

Call Options:
  -c string             Config file path (jsvc.toml)
  -transport string     http, tcp or etcd
  -url string           JSON-RPC endpoint for the http transport
  -addr string          host:port for the tcp transport
  -api-version string   API version the server speaks
  -codec string         json or sonic

Serve Options:
  -c string             Config file path (jsvc.toml)
  -listen string        framed TCP listen address
  -http string          HTTP listen address, empty disables HTTP
  -register             advertise the server in etcd

Examples:
  jsvc call -url https://10.0.0.5/json-rpc/9.0 -api-version 9.0 GetClusterInfo
  jsvc call -transport tcp -addr 127.0.0.1:4000 ListVolumes '{"startVolumeID":1,"limit":10}'
  jsvc serve -listen :4000 -http :8080`)
}

func printVersion() {
	fmt.Printf("jsvc version %s\n", version)
}

// setupSignalHandler cancels the returned context on SIGINT/SIGTERM.
func setupSignalHandler() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// loadConfig returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return logger.Named("jsvc"), nil
}
