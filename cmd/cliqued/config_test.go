package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/blockberries/clique/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const seedHex = "0101010101010101010101010101010101010101010101010101010101010101"

func peerKeyHex(t *testing.T) string {
	t.Helper()
	sk, err := crypto.GenerateSecretKey()
	require.NoError(t, err)
	return sk.PublicKey().String()
}

func TestParseConfig(t *testing.T) {
	pk := peerKeyHex(t)
	data := `
listen: /ip4/127.0.0.1/tcp/4000
secret_key: ` + seedHex + `
peers:
  - public_key: ` + pk + `
    addresses:
      - /ip4/10.0.0.1/tcp/4000
      - /dns4/validator.example/tcp/4000
retry:
  base_delay: 2s
  max_delay: 1m
status_interval: 30s
log:
  level: debug
  format: console
tracing:
  enabled: true
`
	cfg, err := ParseConfig([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, "/ip4/127.0.0.1/tcp/4000", cfg.Listen)
	assert.Equal(t, ":9090", cfg.HTTP)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, time.Minute, cfg.Retry.MaxDelay)
	assert.Equal(t, 30*time.Second, cfg.StatusInterval)
	assert.Zero(t, cfg.DialTimeout)
	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, 1.0, cfg.Tracing.SampleRatio)
	assert.Len(t, cfg.Options(), 4)

	key, err := cfg.Key()
	require.NoError(t, err)
	expected, err := crypto.SecretKeyFromHex(seedHex)
	require.NoError(t, err)
	assert.Equal(t, expected.PublicKey(), key.PublicKey())

	peers, err := cfg.ParsePeers()
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, pk, peers[0].PublicKey.String())
	assert.Len(t, peers[0].Address, 2)

	ma, err := cfg.ListenAddr()
	require.NoError(t, err)
	assert.Equal(t, cfg.Listen, ma.String())

	logger, err := cfg.Log.NewLogger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("secret_key: " + seedHex))
	require.NoError(t, err)

	assert.Equal(t, "/ip4/0.0.0.0/tcp/30343", cfg.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Tracing.Enabled)

	peers, err := cfg.ParsePeers()
	require.NoError(t, err)
	assert.Empty(t, peers)

	logger, err := cfg.Log.NewLogger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestParseConfigErrors(t *testing.T) {
	_, err := ParseConfig([]byte("listen: [unclosed"))
	assert.Error(t, err)

	cfg, err := ParseConfig([]byte("listen: not-a-multiaddr"))
	require.NoError(t, err)
	_, err = cfg.Key()
	assert.ErrorContains(t, err, "secret_key is required")
	_, err = cfg.ListenAddr()
	assert.Error(t, err)

	cfg.SecretKey = "abcd"
	_, err = cfg.Key()
	assert.ErrorIs(t, err, crypto.ErrInvalidSecretKey)

	cfg.Log.Format = "xml"
	_, err = cfg.Log.NewLogger()
	assert.ErrorContains(t, err, "log.format")

	cfg.Log = LogConfig{Level: "loud", Format: "json"}
	_, err = cfg.Log.NewLogger()
	assert.ErrorContains(t, err, "log.level")
}

func TestParsePeersReportsEveryError(t *testing.T) {
	cfg := &Config{Peers: []PeerConfig{
		{PublicKey: "zz", Addresses: []string{"/ip4/10.0.0.1/tcp/1"}},
		{PublicKey: peerKeyHex(t)},
		{PublicKey: peerKeyHex(t), Addresses: []string{"/ip4/10.0.0.1/tcp/1"}},
	}}
	_, err := cfg.ParsePeers()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "peers[0].public_key"))
	assert.True(t, strings.Contains(err.Error(), "peers[1].addresses"))
	assert.False(t, strings.Contains(err.Error(), "peers[2]"))
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cliqued.yaml")
	require.NoError(t, os.WriteFile(path, []byte("secret_key: "+seedHex+"\nhttp: 127.0.0.1:0\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", cfg.HTTP)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
