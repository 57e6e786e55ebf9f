// control/config.go
// Author: momentics <momentics@gmail.com>
//
// File-backed process configuration and a thread-safe store for the live
// snapshot.

package control

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/core/concurrency"
	"github.com/momentics/hioload-net/internal/logging"
	"github.com/momentics/hioload-net/pool"
)

// ChannelConfig mirrors the tunables of channel.Config.
type ChannelConfig struct {
	HighWaterMark      int           `toml:"high_water_mark"`
	LowWaterMark       int           `toml:"low_water_mark"`
	MaxMessagesPerRead int           `toml:"max_messages_per_read"`
	AutoRead           bool          `toml:"auto_read"`
	ConnectTimeout     time.Duration `toml:"connect_timeout"`
}

// Config is the process configuration.
type Config struct {
	// Loops is the size of each loop group; 0 means GOMAXPROCS.
	Loops    int    `toml:"loops"`
	PinLoops bool   `toml:"pin_loops"`
	Listen   string `toml:"listen"`
	LogLevel string `toml:"log_level"`

	Channel   ChannelConfig `toml:"channel"`
	Allocator pool.Config   `toml:"allocator"`

	// Pooled is set when the file carries an [allocator] table.
	Pooled bool `toml:"-"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	cc := channel.DefaultConfig()
	return Config{
		Listen:   "127.0.0.1:7007",
		LogLevel: "info",
		Channel: ChannelConfig{
			HighWaterMark:      cc.WriteBufferHighWaterMark,
			LowWaterMark:       cc.WriteBufferLowWaterMark,
			MaxMessagesPerRead: cc.MaxMessagesPerRead,
			AutoRead:           cc.AutoRead,
			ConnectTimeout:     cc.ConnectTimeout,
		},
		Allocator: pool.DefaultConfig(),
	}
}

// LoadFile decodes path over the defaults. Keys absent from the file keep
// their default; unknown keys are rejected.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, api.ErrInvalidArgument.WithContext("config", path).Wrap(err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return Config{}, api.ErrInvalidArgument.WithContext("config", path).
			WithContext("unknown", strings.Join(keys, ","))
	}
	cfg.Pooled = md.IsDefined("allocator")
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if c.Loops < 0 {
		return api.ErrInvalidArgument.WithContext("loops", c.Loops)
	}
	if _, ok := logging.ParseLevel(c.LogLevel); !ok {
		return api.ErrInvalidArgument.WithContext("log_level", c.LogLevel)
	}
	cc := channel.DefaultConfig()
	for _, o := range c.ChannelOptions() {
		o(&cc)
	}
	if err := cc.Validate(); err != nil {
		return err
	}
	if c.Pooled {
		return c.Allocator.Validate()
	}
	return nil
}

// ChannelOptions converts the [channel] table.
func (c Config) ChannelOptions() []channel.Option {
	return []channel.Option{
		channel.WithWaterMarks(c.Channel.LowWaterMark, c.Channel.HighWaterMark),
		channel.WithMaxMessagesPerRead(c.Channel.MaxMessagesPerRead),
		channel.WithAutoRead(c.Channel.AutoRead),
		channel.WithConnectTimeout(c.Channel.ConnectTimeout),
	}
}

// GroupOptions converts the loop settings.
func (c Config) GroupOptions(name string) []concurrency.GroupOption {
	return []concurrency.GroupOption{
		concurrency.WithGroupName(name),
		concurrency.WithLoops(c.Loops),
		concurrency.WithPinnedLoops(c.PinLoops),
	}
}

// NewAllocator builds a dedicated pooled allocator from the [allocator]
// table, or returns the process-wide one when the file has none.
func (c Config) NewAllocator() (buffer.Allocator, error) {
	if !c.Pooled {
		return pool.Default(), nil
	}
	return pool.NewPooledAllocator(pool.WithConfig(c.Allocator))
}

// ConfigStore holds the live configuration and notifies listeners of
// replacements.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(Config)
}

// NewConfigStore starts from cfg.
func NewConfigStore(cfg Config) *ConfigStore {
	return &ConfigStore{config: cfg}
}

// Snapshot returns the current configuration.
func (cs *ConfigStore) Snapshot() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// OnReload registers a listener called after every successful Set.
func (cs *ConfigStore) OnReload(fn func(Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// Set validates and installs cfg, applies its log level and notifies the
// listeners in registration order.
func (cs *ConfigStore) Set(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.config = cfg
	listeners := append([]func(Config){}, cs.listeners...)
	cs.mu.Unlock()

	if lvl, ok := logging.ParseLevel(cfg.LogLevel); ok {
		logging.SetLevel(lvl)
	}
	for _, fn := range listeners {
		fn(cfg)
	}
	return nil
}
