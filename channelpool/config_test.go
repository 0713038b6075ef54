package channelpool

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pool.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigAppliesLimitsAndMethodTable(t *testing.T) {
	path := writeConfigFile(t, `{
		"channelPool": { "maxSize": 10, "maxConcurrentStreamsLowWatermark": 1 },
		"method": [
			{ "name": ["/svc/Open"], "affinity": { "affinityKey": "session", "command": "BIND" } },
			{ "name": ["/svc/Call", "/svc/CallStream"], "affinity": { "affinityKey": "transaction.session", "command": "BOUND" } },
			{ "name": ["/svc/Close"], "affinity": { "affinityKey": "session", "command": "UNBIND" } }
		]
	}`)

	cfg := LoadConfig(path, slog.New(slog.DiscardHandler))
	assert.Equal(t, 10, cfg.Limits.MaxSize)
	assert.Equal(t, 1, cfg.Limits.LowWatermark)
	assert.Len(t, cfg.MethodAffinity, 4)

	entry, ok := cfg.MethodAffinity.Lookup("/svc/CallStream")
	require.True(t, ok)
	assert.Equal(t, "transaction.session", entry.KeyPath)
	assert.Equal(t, CommandBound, entry.Command)
}

func TestLoadConfigIgnoresUnsetAffinityEntries(t *testing.T) {
	path := writeConfigFile(t, `{
		"channelPool": { "maxSize": 5, "maxConcurrentStreamsLowWatermark": 20 },
		"method": [
			{ "name": ["/svc/Plain"], "affinity": { "affinityKey": "", "command": "" } }
		]
	}`)

	cfg := LoadConfig(path, slog.New(slog.DiscardHandler))
	assert.Empty(t, cfg.MethodAffinity)
}

func TestLoadConfigFallsBackOnMissingFile(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "missing.json"), slog.New(slog.DiscardHandler))
	assert.Equal(t, DefaultMaxSize, cfg.Limits.MaxSize)
	assert.Equal(t, DefaultLowWatermark, cfg.Limits.LowWatermark)
	assert.Empty(t, cfg.MethodAffinity)
}

func TestLoadConfigFallsBackOnMalformedFile(t *testing.T) {
	path := writeConfigFile(t, `{ not valid json`)
	cfg := LoadConfig(path, slog.New(slog.DiscardHandler))
	assert.Equal(t, DefaultMaxSize, cfg.Limits.MaxSize)
}

func TestApplySwapsTableWithoutTouchingExistingChannels(t *testing.T) {
	p, _ := newTestPool(t)
	before := p.NumberOfChannels()

	p.Apply(Config{
		Limits:         Limits{MaxSize: 3, LowWatermark: 0},
		MethodAffinity: MethodAffinityTable{"/svc/M": {KeyPath: "k", Command: CommandBind}},
	})

	assert.Equal(t, before, p.NumberOfChannels())
	assert.Equal(t, 3, p.MaxSize())
	assert.Equal(t, DefaultLowWatermark, p.StreamsLowWatermark())
	_, ok := p.MethodAffinityFor("/svc/M")
	assert.True(t, ok)
}

func TestAffinityConfigMarshalJSONShape(t *testing.T) {
	cfg := AffinityConfig{KeyPath: "session", Command: CommandUnbind}
	b, err := json.Marshal(cfg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"affinityKey":"session","command":"UNBIND"}`, string(b))
}
