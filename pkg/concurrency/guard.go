package concurrency

import (
	"errors"
	"sync"
)

// ErrBusy is returned when a guarded task is already running.
var ErrBusy = errors.New("another transfer is already in progress")

// ConcurrencyGuard admits one task at a time and rejects the rest
// immediately instead of queueing them.
type ConcurrencyGuard struct {
	mu     sync.Mutex
	isBusy bool
}

func NewConcurrencyGuard() *ConcurrencyGuard {
	return &ConcurrencyGuard{}
}

// Execute runs task if the guard is free, or returns ErrBusy.
func (g *ConcurrencyGuard) Execute(task func() error) error {
	g.mu.Lock()
	if g.isBusy {
		g.mu.Unlock()
		return ErrBusy
	}
	g.isBusy = true
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.isBusy = false
		g.mu.Unlock()
	}()
	return task()
}
