// Package pool
// Author: momentics <momentics@gmail.com>
//
// Pooled memory for hioload-net buffers.
// Memory is carved from fixed-size chunks owned by arenas. Each chunk is a
// buddy tree of pages; requests smaller than a page are served from
// subpages split into equal elements. Requests larger than a chunk bypass
// the pool. Per-executor caches keep recently freed regions for reuse by
// the owning event loop without touching the arena lock.
// See sizeclass.go, chunk.go, subpage.go, arena.go and cache.go.
package pool
