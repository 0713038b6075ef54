package channelpool

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config is the decoded form of the channel pool's configuration document:
//
//	channelPool: { maxSize: int, maxConcurrentStreamsLowWatermark: int }
//	method: [ { name: [string], affinity: { affinityKey: string, command: BIND|UNBIND|BOUND } } ]
type Config struct {
	Limits         Limits
	MethodAffinity MethodAffinityTable
}

type rawMethodEntry struct {
	Name     []string `mapstructure:"name"`
	Affinity struct {
		AffinityKey string `mapstructure:"affinityKey"`
		Command     string `mapstructure:"command"`
	} `mapstructure:"affinity"`
}

type rawConfig struct {
	ChannelPool struct {
		MaxSize                          int `mapstructure:"maxSize"`
		MaxConcurrentStreamsLowWatermark int `mapstructure:"maxConcurrentStreamsLowWatermark"`
	} `mapstructure:"channelPool"`
	Method []rawMethodEntry `mapstructure:"method"`
}

// LoadConfig decodes the document at path (JSON by convention, but viper's
// decoder is format-agnostic — it dispatches on the file extension) into a
// Config. A missing or malformed file is not an error here: the caller
// falls back to defaults and an empty method-affinity table, and the
// failure is logged once at Warn.
func LoadConfig(path string, logger *slog.Logger) Config {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		logger.Warn("CONFIG_NOT_FOUND", slog.String("reason", "no path supplied"))
		return defaultConfig()
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		logger.Warn("CONFIG_LOAD_FAILED", slog.String("path", path), slog.Any("err", err))
		return defaultConfig()
	}

	cfg, err := decode(v)
	if err != nil {
		logger.Warn("CONFIG_MALFORMED", slog.String("path", path), slog.Any("err", err))
		return defaultConfig()
	}
	return cfg
}

func defaultConfig() Config {
	return Config{
		Limits:         Limits{MaxSize: DefaultMaxSize, LowWatermark: DefaultLowWatermark},
		MethodAffinity: MethodAffinityTable{},
	}
}

func decode(v *viper.Viper) (Config, error) {
	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode channel pool config: %w", err)
	}

	cfg := defaultConfig()
	if raw.ChannelPool.MaxSize > 0 {
		cfg.Limits.MaxSize = raw.ChannelPool.MaxSize
	}
	if raw.ChannelPool.MaxConcurrentStreamsLowWatermark > 0 {
		cfg.Limits.LowWatermark = raw.ChannelPool.MaxConcurrentStreamsLowWatermark
	}

	table := MethodAffinityTable{}
	for _, entry := range raw.Method {
		cmd := ParseCommand(strings.ToUpper(entry.Affinity.Command))
		if cmd == CommandNone {
			// A method entry whose affinity command is default/unset is
			// ignored rather than treated as a config error.
			continue
		}
		affinity := AffinityConfig{KeyPath: entry.Affinity.AffinityKey, Command: cmd}
		for _, name := range entry.Name {
			table[name] = affinity
		}
	}
	cfg.MethodAffinity = table

	return cfg, nil
}

// Watch starts a live-reload of the config file at path, invoking onReload
// with each successfully re-decoded Config. This is an ambient convenience
// beyond a one-shot decode: it only ever affects keys chosen by future Pick
// calls (new pool limits, new method-affinity lookups), never keys already
// bound in an AffinityRegistry, so it does not rebalance already-bound
// keys. The returned stop function does nothing: once started, the watch
// is never stopped.
func Watch(path string, logger *slog.Logger, onReload func(Config)) (stop func(), err error) {
	if logger == nil {
		logger = slog.Default()
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("watch channel pool config: %w", err)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			logger.Warn("CONFIG_RELOAD_FAILED", slog.String("path", path), slog.Any("err", err))
			return
		}
		logger.Info("CONFIG_RELOADED", slog.String("path", path))
		onReload(cfg)
	})
	v.WatchConfig()

	return func() {}, nil
}

// Apply installs a reloaded Config onto a running ChannelPool: it swaps the
// method-affinity table atomically and adjusts limits for future growth
// decisions. It never touches existing channels or bindings.
func (p *ChannelPool) Apply(cfg Config) {
	table := cfg.MethodAffinity
	if table == nil {
		table = MethodAffinityTable{}
	}
	p.affinityTable.Store(&table)

	p.mu.Lock()
	if cfg.Limits.MaxSize > 0 {
		p.limits.MaxSize = cfg.Limits.MaxSize
	}
	if cfg.Limits.LowWatermark > 0 {
		p.limits.LowWatermark = cfg.Limits.LowWatermark
	}
	p.mu.Unlock()
}
