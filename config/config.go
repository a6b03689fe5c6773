// Package config loads jsvc.toml, the settings file shared by `jsvc call` and
// `jsvc serve`.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// TransportConfig selects how calls reach a server.
type TransportConfig struct {
	Kind       string   `toml:"kind"` // http, tcp or etcd
	URL        string   `toml:"url"`
	Addr       string   `toml:"addr"`
	APIVersion string   `toml:"apiVersion"`
	Codec      string   `toml:"codec"` // json or sonic
	Timeout    Duration `toml:"timeout"`
}

// RegistryConfig describes the etcd service registry.
type RegistryConfig struct {
	Endpoints []string `toml:"endpoints"`
	Service   string   `toml:"service"`
	Balancer  string   `toml:"balancer"`
}

// ServerConfig configures `jsvc serve`.
type ServerConfig struct {
	Listen     string   `toml:"listen"`
	HTTPListen string   `toml:"httpListen"`
	Advertise  string   `toml:"advertise"`
	APIVersion string   `toml:"apiVersion"`
	Weight     int      `toml:"weight"`
	RateLimit  float64  `toml:"rateLimit"` // requests per second, 0 disables
	Burst      int      `toml:"burst"`
	Timeout    Duration `toml:"timeout"`
	Register   bool     `toml:"register"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

type Config struct {
	Transport TransportConfig `toml:"transport"`
	Registry  RegistryConfig  `toml:"registry"`
	Server    ServerConfig    `toml:"server"`
	Logging   LoggingConfig   `toml:"logging"`
}

// Duration is a time.Duration written as a string ("5s") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the settings used when no file is given.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:    "http",
			URL:     "http://127.0.0.1:8080/json-rpc",
			Addr:    "127.0.0.1:4000",
			Codec:   "json",
			Timeout: Duration{30 * time.Second},
		},
		Registry: RegistryConfig{
			Endpoints: []string{"127.0.0.1:2379"},
			Service:   "jsvc",
			Balancer:  "round_robin",
		},
		Server: ServerConfig{
			Listen:     ":4000",
			HTTPListen: ":8080",
			Weight:     1,
			Burst:      1,
			Timeout:    Duration{10 * time.Second},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a TOML file over the defaults. Keys missing from the file keep
// their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the settings and fills in values derived from others.
func (cfg *Config) Validate() error {
	switch cfg.Transport.Kind {
	case "http":
		if cfg.Transport.URL == "" {
			return fmt.Errorf("transport.url required for http transport")
		}
	case "tcp":
		if cfg.Transport.Addr == "" {
			return fmt.Errorf("transport.addr required for tcp transport")
		}
	case "etcd":
		if len(cfg.Registry.Endpoints) == 0 {
			return fmt.Errorf("registry.endpoints required for etcd transport")
		}
		if cfg.Registry.Service == "" {
			return fmt.Errorf("registry.service required for etcd transport")
		}
	default:
		return fmt.Errorf("unknown transport.kind %q", cfg.Transport.Kind)
	}

	switch cfg.Transport.Codec {
	case "", "json", "sonic":
	default:
		return fmt.Errorf("unknown transport.codec %q", cfg.Transport.Codec)
	}

	if cfg.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative")
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.Burst < 1 {
		cfg.Server.Burst = 1
	}
	if cfg.Server.Weight <= 0 {
		cfg.Server.Weight = 1
	}
	if cfg.Server.Register && len(cfg.Registry.Endpoints) == 0 {
		return fmt.Errorf("registry.endpoints required when server.register is set")
	}
	return nil
}
