// File: core/concurrency/immediate.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"time"

	"github.com/momentics/hioload-net/api"
)

// Immediate runs tasks inline on the calling goroutine. Promises created
// before a channel is registered use it; its scheduled tasks run on timer
// goroutines.
var Immediate api.EventExecutor = immediateExecutor{}

type immediateExecutor struct{}

func (immediateExecutor) Execute(task func()) error {
	task()
	return nil
}

func (immediateExecutor) InEventLoop() bool { return true }

func (immediateExecutor) Schedule(delay time.Duration, task func()) (api.Cancelable, error) {
	p := NewPromise[struct{}](Immediate)
	t := time.AfterFunc(delay, func() {
		if p.IsDone() {
			return
		}
		task()
		p.TrySuccess(struct{}{})
	})
	p.AddListener(func(p *Promise[struct{}]) {
		if p.IsCancelled() {
			t.Stop()
		}
	})
	return p, nil
}
