// File: channel/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package channel

import (
	"time"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/pool"
)

const (
	DefaultHighWaterMark      = 64 * 1024
	DefaultLowWaterMark       = 32 * 1024
	DefaultMaxMessagesPerRead = 16
	DefaultConnectTimeout     = 30 * time.Second

	// unknownMessageSize is charged for messages the estimator cannot size.
	unknownMessageSize = 8
)

// SizeEstimator returns the pending-byte cost of an outbound message.
type SizeEstimator func(msg any) int

// DefaultSizeEstimator charges buffers and byte slices their readable
// length and everything else a small constant.
func DefaultSizeEstimator(msg any) int {
	switch m := msg.(type) {
	case *buffer.ByteBuf:
		if m.RefCnt() == 0 {
			return 0
		}
		return m.ReadableBytes()
	case []byte:
		return len(m)
	case interface{ Len() int }:
		return m.Len()
	default:
		return unknownMessageSize
	}
}

// Config holds per-channel tuning.
type Config struct {
	// Allocator creates inbound buffers. A *pool.PooledAllocator is
	// narrowed to the cache of the channel's loop on registration.
	Allocator buffer.Allocator

	WriteBufferHighWaterMark int
	WriteBufferLowWaterMark  int

	// MaxMessagesPerRead bounds reads per readiness event so one busy
	// channel does not starve the others on its loop.
	MaxMessagesPerRead int

	AutoRead       bool
	ConnectTimeout time.Duration

	RecvBufAllocator RecvBufAllocator
	SizeEstimator    SizeEstimator
}

// DefaultConfig returns the defaults used when no options are given.
func DefaultConfig() Config {
	return Config{
		Allocator:                pool.Default(),
		WriteBufferHighWaterMark: DefaultHighWaterMark,
		WriteBufferLowWaterMark:  DefaultLowWaterMark,
		MaxMessagesPerRead:       DefaultMaxMessagesPerRead,
		AutoRead:                 true,
		ConnectTimeout:           DefaultConnectTimeout,
		RecvBufAllocator:         DefaultRecvBufAllocator(),
		SizeEstimator:            DefaultSizeEstimator,
	}
}

// Validate checks the watermark ordering and read bounds.
func (c *Config) Validate() error {
	if c.WriteBufferLowWaterMark <= 0 || c.WriteBufferLowWaterMark > c.WriteBufferHighWaterMark {
		return api.ErrInvalidArgument.
			WithContext("low", c.WriteBufferLowWaterMark).
			WithContext("high", c.WriteBufferHighWaterMark)
	}
	if c.MaxMessagesPerRead < 1 {
		return api.ErrInvalidArgument.WithContext("maxMessagesPerRead", c.MaxMessagesPerRead)
	}
	if c.Allocator == nil {
		return api.ErrInvalidArgument.WithContext("allocator", nil)
	}
	if c.ConnectTimeout < 0 {
		return api.ErrInvalidArgument.WithContext("connectTimeout", c.ConnectTimeout)
	}
	return c.RecvBufAllocator.validate()
}

// Option customizes a channel Config.
type Option func(*Config)

// WithAllocator sets the inbound buffer allocator.
func WithAllocator(a buffer.Allocator) Option {
	return func(c *Config) { c.Allocator = a }
}

// WithWaterMarks sets the writability thresholds in bytes.
func WithWaterMarks(low, high int) Option {
	return func(c *Config) {
		c.WriteBufferLowWaterMark = low
		c.WriteBufferHighWaterMark = high
	}
}

// WithMaxMessagesPerRead bounds reads per readiness event.
func WithMaxMessagesPerRead(n int) Option {
	return func(c *Config) { c.MaxMessagesPerRead = n }
}

// WithAutoRead toggles reading without explicit Read calls.
func WithAutoRead(on bool) Option {
	return func(c *Config) { c.AutoRead = on }
}

// WithConnectTimeout bounds connect attempts. Zero disables the timer.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Config) { c.ConnectTimeout = d }
}

// WithRecvBufAllocator replaces the receive size predictor.
func WithRecvBufAllocator(r RecvBufAllocator) Option {
	return func(c *Config) { c.RecvBufAllocator = r }
}

// WithSizeEstimator replaces the outbound message sizing.
func WithSizeEstimator(e SizeEstimator) Option {
	return func(c *Config) { c.SizeEstimator = e }
}

// WithConfig replaces the whole config.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}

func buildConfig(opts []Option) (Config, error) {
	cfg := DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.SizeEstimator == nil {
		cfg.SizeEstimator = DefaultSizeEstimator
	}
	return cfg, cfg.Validate()
}
