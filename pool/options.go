// File: pool/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"math/bits"
	"runtime"

	"github.com/momentics/hioload-net/api"
)

// Config holds allocator geometry and cache limits.
type Config struct {
	PageSize          int  `toml:"page_size"`
	MaxOrder          int  `toml:"max_order"`
	Arenas            int  `toml:"arenas"`
	MaxChunksPerArena int  `toml:"max_chunks_per_arena"`
	MaxHugeBytes      int  `toml:"max_huge_bytes"`
	UseMmap           bool `toml:"use_mmap"`
	HugePages         bool `toml:"huge_pages"`

	TinyCacheSize           int `toml:"tiny_cache_size"`
	SmallCacheSize          int `toml:"small_cache_size"`
	NormalCacheSize         int `toml:"normal_cache_size"`
	MaxCachedBufferCapacity int `toml:"max_cached_buffer_capacity"`
	CacheTrimInterval       int `toml:"cache_trim_interval"`
	ReturnQueueSize         int `toml:"return_queue_size"`
}

// DefaultConfig: 8 KiB pages, 16 MiB chunks, one arena per two CPUs.
func DefaultConfig() Config {
	return Config{
		PageSize:                8192,
		MaxOrder:                11,
		Arenas:                  max(1, runtime.GOMAXPROCS(0)/2),
		TinyCacheSize:           512,
		SmallCacheSize:          256,
		NormalCacheSize:         64,
		MaxCachedBufferCapacity: 32 << 10,
		CacheTrimInterval:       8192,
		ReturnQueueSize:         1024,
	}
}

// Validate checks the geometry.
func (c Config) Validate() error {
	if c.PageSize < 4096 || bits.OnesCount(uint(c.PageSize)) != 1 {
		return api.ErrInvalidArgument.WithContext("pageSize", c.PageSize)
	}
	if c.MaxOrder < 0 || c.MaxOrder > 14 {
		return api.ErrInvalidArgument.WithContext("maxOrder", c.MaxOrder)
	}
	if c.Arenas < 1 {
		return api.ErrInvalidArgument.WithContext("arenas", c.Arenas)
	}
	if c.MaxChunksPerArena < 0 {
		return api.ErrInvalidArgument.WithContext("maxChunksPerArena", c.MaxChunksPerArena)
	}
	if c.MaxHugeBytes < 0 {
		return api.ErrInvalidArgument.WithContext("maxHugeBytes", c.MaxHugeBytes)
	}
	return nil
}

// Option customizes allocator construction.
type Option func(*Config)

// WithPageSize sets the page size; must be a power of two >= 4096.
func WithPageSize(n int) Option {
	return func(c *Config) { c.PageSize = n }
}

// WithMaxOrder sets the chunk tree depth; chunkSize = pageSize << maxOrder.
func WithMaxOrder(n int) Option {
	return func(c *Config) { c.MaxOrder = n }
}

// WithArenas sets the number of arenas.
func WithArenas(n int) Option {
	return func(c *Config) { c.Arenas = n }
}

// WithMaxChunksPerArena caps arena growth. Zero means unlimited.
func WithMaxChunksPerArena(n int) Option {
	return func(c *Config) { c.MaxChunksPerArena = n }
}

// WithMaxHugeBytes caps the bytes held by live huge buffers. Zero derives
// the cap from the arena capacity when MaxChunksPerArena bounds it, and
// leaves huge buffers unlimited otherwise.
func WithMaxHugeBytes(n int) Option {
	return func(c *Config) { c.MaxHugeBytes = n }
}

// WithMmap backs chunks with anonymous mappings, optionally hugepages.
func WithMmap(hugePages bool) Option {
	return func(c *Config) {
		c.UseMmap = true
		c.HugePages = hugePages
	}
}

// WithCacheSizes sets per-size entry limits of executor caches.
// Zero disables caching for that class.
func WithCacheSizes(tiny, small, normal int) Option {
	return func(c *Config) {
		c.TinyCacheSize = tiny
		c.SmallCacheSize = small
		c.NormalCacheSize = normal
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(cfg Config) Option {
	return func(c *Config) { *c = cfg }
}
