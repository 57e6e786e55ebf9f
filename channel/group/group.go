// File: channel/group/group.go
// Package group
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sharded, thread-safe set of live channels. Channels leave the group when
// they close. A group broadcasts writes and closes to its members.

package group

import (
	"hash/fnv"
	"sync"

	"github.com/momentics/hioload-net/channel"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/core/concurrency"
)

// Matcher selects members for a broadcast.
type Matcher func(*channel.Channel) bool

// All matches every member.
func All(*channel.Channel) bool { return true }

// Except matches every member but ch.
func Except(ch *channel.Channel) Matcher {
	return func(c *channel.Channel) bool { return c != ch }
}

// Group holds channels keyed by ID.
type Group struct {
	name   string
	shards []*shard
	mask   uint32
}

type shard struct {
	mu    sync.RWMutex
	chans map[channel.ID]*channel.Channel
}

// New creates a group with shardCount shards, rounded up to a power of two.
func New(name string, shardCount int) *Group {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*shard, m)
	for i := range shards {
		shards[i] = &shard{chans: make(map[channel.ID]*channel.Channel)}
	}
	return &Group{name: name, shards: shards, mask: m - 1}
}

func (g *Group) Name() string { return g.name }

func (g *Group) shard(id channel.ID) *shard {
	h := fnv.New32a()
	h.Write(id[:])
	return g.shards[h.Sum32()&g.mask]
}

// Add inserts ch. It reports false when ch is already a member.
func (g *Group) Add(ch *channel.Channel) bool {
	sh := g.shard(ch.ID())
	sh.mu.Lock()
	if _, ok := sh.chans[ch.ID()]; ok {
		sh.mu.Unlock()
		return false
	}
	sh.chans[ch.ID()] = ch
	sh.mu.Unlock()
	ch.CloseFuture().AddListener(func(*channel.Promise) { g.Remove(ch) })
	return true
}

// Remove deletes ch and reports whether it was a member.
func (g *Group) Remove(ch *channel.Channel) bool {
	sh := g.shard(ch.ID())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.chans[ch.ID()]; ok && cur == ch {
		delete(sh.chans, ch.ID())
		return true
	}
	return false
}

// Find returns the member with id, or nil.
func (g *Group) Find(id channel.ID) *channel.Channel {
	sh := g.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sh.chans[id]
}

// Len counts members.
func (g *Group) Len() int {
	n := 0
	for _, sh := range g.shards {
		sh.mu.RLock()
		n += len(sh.chans)
		sh.mu.RUnlock()
	}
	return n
}

// Range calls fn for members until it returns false. Members added or
// removed meanwhile may or may not be visited.
func (g *Group) Range(fn func(*channel.Channel) bool) {
	for _, ch := range g.snapshot(All) {
		if !fn(ch) {
			return
		}
	}
}

func (g *Group) snapshot(match Matcher) []*channel.Channel {
	var out []*channel.Channel
	for _, sh := range g.shards {
		sh.mu.RLock()
		for _, ch := range sh.chans {
			if match(ch) {
				out = append(out, ch)
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// WriteAndFlush sends msg to every matched member. Buffers are duplicated
// per member so each gets its own indices; the caller's reference is
// released. The result completes once every write did and fails with all
// write errors.
func (g *Group) WriteAndFlush(msg any, match Matcher) *channel.Promise {
	if match == nil {
		match = All
	}
	c := concurrency.NewPromiseCombiner()
	for _, ch := range g.snapshot(match) {
		m, err := share(msg)
		if err != nil {
			_ = c.Add(concurrency.NewFailed[struct{}](concurrency.Immediate, err))
			continue
		}
		_ = c.Add(ch.WriteAndFlush(m))
	}
	buffer.SafeRelease(msg)
	return finish(c)
}

// Close closes every matched member.
func (g *Group) Close(match Matcher) *channel.Promise {
	if match == nil {
		match = All
	}
	c := concurrency.NewPromiseCombiner()
	for _, ch := range g.snapshot(match) {
		_ = c.Add(ch.Close())
	}
	return finish(c)
}

func finish(c *concurrency.PromiseCombiner) *channel.Promise {
	p := concurrency.NewPromise[struct{}](concurrency.Immediate)
	_ = c.Finish(p)
	return p
}

func share(msg any) (any, error) {
	if b, ok := msg.(*buffer.ByteBuf); ok {
		return b.RetainedDuplicate()
	}
	return msg, nil
}

func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
