// File: core/concurrency/combiner.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"

	"go.uber.org/multierr"

	"github.com/momentics/hioload-net/api"
)

// PromiseCombiner completes one aggregate promise once every added promise
// completed. The aggregate fails with all collected causes if any member
// failed.
type PromiseCombiner struct {
	mu        sync.Mutex
	expected  int
	done      int
	cause     error
	aggregate *Promise[struct{}]
	finished  bool
}

// NewPromiseCombiner creates an empty combiner.
func NewPromiseCombiner() *PromiseCombiner {
	return &PromiseCombiner{}
}

// Add registers p. Adding after Finish is an error.
func (c *PromiseCombiner) Add(p *Promise[struct{}]) error {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return api.ErrIllegalState.WithContext("combiner", "finished")
	}
	c.expected++
	c.mu.Unlock()
	p.AddListener(c.onComplete)
	return nil
}

func (c *PromiseCombiner) onComplete(p *Promise[struct{}]) {
	c.mu.Lock()
	c.done++
	if err := p.Cause(); err != nil {
		c.cause = multierr.Append(c.cause, err)
	}
	c.mu.Unlock()
	c.tryComplete()
}

// Finish sets the aggregate promise. It completes immediately when all
// members are already done.
func (c *PromiseCombiner) Finish(aggregate *Promise[struct{}]) error {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return api.ErrIllegalState.WithContext("combiner", "finished")
	}
	c.finished = true
	c.aggregate = aggregate
	c.mu.Unlock()
	c.tryComplete()
	return nil
}

func (c *PromiseCombiner) tryComplete() {
	c.mu.Lock()
	if !c.finished || c.done != c.expected || c.aggregate == nil {
		c.mu.Unlock()
		return
	}
	agg, cause := c.aggregate, c.cause
	c.aggregate = nil
	c.mu.Unlock()
	agg.Complete(struct{}{}, cause)
}
