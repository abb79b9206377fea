package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/blockberries/clique"
	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/transport"
	"github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration file.
type Config struct {
	// Listen is the multiaddr validators connect to.
	Listen string `yaml:"listen"`
	// SecretKey is the hex encoded 32 byte ed25519 seed of this validator.
	SecretKey string `yaml:"secret_key"`
	// HTTP is the address serving /metrics, /health and /status.
	HTTP string `yaml:"http"`

	Peers []PeerConfig `yaml:"peers"`

	Retry          RetryConfig   `yaml:"retry"`
	StatusInterval time.Duration `yaml:"status_interval"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`

	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
}

// PeerConfig is one validator of the committee.
type PeerConfig struct {
	PublicKey string   `yaml:"public_key"`
	Addresses []string `yaml:"addresses"`
}

type RetryConfig struct {
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Peer is a parsed PeerConfig.
type Peer struct {
	PublicKey crypto.PublicKey
	Address   transport.Address
}

// LoadConfig reads and parses the configuration file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration and fills in defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.SetDefaults()
	return &cfg, nil
}

// SetDefaults sets default values.
func (c *Config) SetDefaults() {
	if c.Listen == "" {
		c.Listen = "/ip4/0.0.0.0/tcp/30343"
	}
	if c.HTTP == "" {
		c.HTTP = ":9090"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
}

// Options converts the tunables into service options.
func (c *Config) Options() []clique.Option {
	return []clique.Option{
		clique.WithRetryBaseDelay(c.Retry.BaseDelay),
		clique.WithRetryMaxDelay(c.Retry.MaxDelay),
		clique.WithStatusInterval(c.StatusInterval),
		clique.WithDialTimeout(c.DialTimeout),
	}
}

// Key parses the validator's secret key.
func (c *Config) Key() (*crypto.SecretKey, error) {
	if c.SecretKey == "" {
		return nil, errors.New("secret_key is required")
	}
	sk, err := crypto.SecretKeyFromHex(c.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("secret_key: %w", err)
	}
	return sk, nil
}

// ListenAddr parses the listen multiaddr.
func (c *Config) ListenAddr() (multiaddr.Multiaddr, error) {
	ma, err := multiaddr.NewMultiaddr(c.Listen)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return ma, nil
}

// ParsePeers parses every configured peer. All invalid entries are
// reported together.
func (c *Config) ParsePeers() ([]Peer, error) {
	var (
		peers []Peer
		errs  error
	)
	for i, p := range c.Peers {
		pk, err := crypto.ParsePublicKeyHex(p.PublicKey)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("peers[%d].public_key: %w", i, err))
			continue
		}
		addr, err := transport.ParseAddress(p.Addresses...)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("peers[%d].addresses: %w", i, err))
			continue
		}
		peers = append(peers, Peer{PublicKey: pk, Address: addr})
	}
	if errs != nil {
		return nil, errs
	}
	return peers, nil
}

// NewLogger builds the zap logger described by the log section.
func (c *LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	var zc zap.Config
	switch c.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, fmt.Errorf("log.format: unknown format %q", c.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
