// Package utils contains small helpers shared by the scanner's packages.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// StoppableWorkers is a group of background goroutines that share one context and are stopped
// together.
type StoppableWorkers struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	active  sync.WaitGroup
}

// NewStoppableWorkers runs the functions in separate goroutines. They can be stopped later.
func NewStoppableWorkers(funcs ...func(context.Context)) *StoppableWorkers {
	ctx, cancel := context.WithCancel(context.Background())
	sw := &StoppableWorkers{ctx: ctx, cancel: cancel}
	sw.AddWorkers(funcs...)
	return sw
}

// AddWorkers starts a goroutine for each function. After Stop it starts nothing and returns
// false.
func (sw *StoppableWorkers) AddWorkers(funcs ...func(context.Context)) bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.stopped {
		return false
	}
	sw.active.Add(len(funcs))
	for _, f := range funcs {
		goutils.PanicCapturingGo(func() {
			defer sw.active.Done()
			f(sw.ctx)
		})
	}
	return true
}

// Stop cancels the shared context and waits for every worker to return. Workers may call
// AddWorkers while Stop waits; those calls start nothing.
func (sw *StoppableWorkers) Stop() {
	sw.mu.Lock()
	sw.stopped = true
	sw.cancel()
	sw.mu.Unlock()
	sw.active.Wait()
}

// Context returns the context the workers run with.
func (sw *StoppableWorkers) Context() context.Context {
	return sw.ctx
}
