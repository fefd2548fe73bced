package mining

import (
	"context"
	"sync/atomic"
)

// Signal tells a running search whether it may continue.
//
// Implementations must be safe for concurrent use and must not block:
// Running is polled from the hashing loop.
type Signal interface {
	Running() bool
}

// Flag is a shared stop/allow switch. The zero value is running.
//
// The flag is level-triggered and not scoped to a call: RequestStop affects
// every search polling this flag, including searches started afterwards,
// until AllowRunning is called. Readers observe a change within a bounded
// number of iterations, not instantly.
type Flag struct {
	stopped atomic.Bool
}

// NewFlag returns a flag in the running state.
func NewFlag() *Flag {
	return &Flag{}
}

// Running reports whether searches may continue. A single atomic load.
func (f *Flag) Running() bool {
	return !f.stopped.Load()
}

// RequestStop asks every search watching f to stop.
func (f *Flag) RequestStop() {
	f.stopped.Store(true)
}

// AllowRunning lets searches watching f run again.
func (f *Flag) AllowRunning() {
	f.stopped.Store(false)
}

var defaultFlag Flag

// DefaultFlag returns the process-wide flag used by the package-level Mine
// and Search functions.
func DefaultFlag() *Flag {
	return &defaultFlag
}

// RequestStop stops every search using the process-wide flag.
func RequestStop() {
	defaultFlag.RequestStop()
}

// AllowRunning re-enables searches using the process-wide flag.
func AllowRunning() {
	defaultFlag.AllowRunning()
}

type contextSignal struct {
	ctx context.Context
}

// ContextSignal reports stopped once ctx is done.
//
// Each poll is a non-blocking select on ctx.Done(), which costs more than a
// Flag load; pair it with WithCheckInterval in hot loops.
func ContextSignal(ctx context.Context) Signal {
	return contextSignal{ctx: ctx}
}

func (c contextSignal) Running() bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
		return true
	}
}

type allSignal []Signal

// All is running only while every non-nil signal in signals is running.
func All(signals ...Signal) Signal {
	out := make(allSignal, 0, len(signals))
	for _, s := range signals {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (a allSignal) Running() bool {
	for _, s := range a {
		if !s.Running() {
			return false
		}
	}
	return true
}
