package storage

import (
	"context"
	"fmt"
	"sync"
)

// OpenFunc opens a fresh Store. The pool calls it lazily and again after
// every refresh.
type OpenFunc func() (Store, error)

// Pool is the single shared mutable resource in the sync subsystem: an
// explicit handle to the current Store with borrow, return, health-check,
// and force-refresh-all semantics. The resilient fetchers use Refresh when
// they classify an error as a dropped connection.
//
// A refreshed store is closed once every outstanding borrow has been
// returned, so in-flight reads finish on the handle they borrowed.
type Pool struct {
	mu    sync.Mutex
	open  OpenFunc
	store Store
	// borrowed counts outstanding leases on the current store.
	borrowed int
	// stale stores await close until their last lease returns.
	stale map[Store]int
}

// NewPool creates a pool around an opener.
func NewPool(open OpenFunc) *Pool {
	return &Pool{open: open, stale: make(map[Store]int)}
}

// Borrow returns the current store, opening one if needed. Every successful
// Borrow must be paired with a Return.
func (p *Pool) Borrow() (Store, error) {
	if p == nil || p.open == nil {
		return nil, fmt.Errorf("pool is not configured")
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil {
		store, err := p.open()
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		p.store = store
	}
	p.borrowed++
	return p.store, nil
}

// Return releases a lease obtained from Borrow. Returning the last lease on
// a refreshed-away store closes it.
func (p *Pool) Return(store Store) {
	if p == nil || store == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if store == p.store {
		if p.borrowed > 0 {
			p.borrowed--
		}
		return
	}
	if remaining, ok := p.stale[store]; ok {
		remaining--
		if remaining <= 0 {
			delete(p.stale, store)
			_ = store.Close()
			return
		}
		p.stale[store] = remaining
	}
}

// HealthCheck pings the current store.
func (p *Pool) HealthCheck(ctx context.Context) error {
	store, err := p.Borrow()
	if err != nil {
		return err
	}
	defer p.Return(store)
	return store.Ping(ctx)
}

// Refresh discards the current store so the next Borrow opens a fresh one.
// The discarded store closes immediately when idle, otherwise when its last
// outstanding lease is returned.
func (p *Pool) Refresh() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.store == nil {
		return
	}
	if p.borrowed == 0 {
		_ = p.store.Close()
	} else {
		p.stale[p.store] = p.borrowed
	}
	p.store = nil
	p.borrowed = 0
}

// Close closes the current store and any stale stores still awaiting leases.
func (p *Pool) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	if p.store != nil {
		firstErr = p.store.Close()
		p.store = nil
		p.borrowed = 0
	}
	for store := range p.stale {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.stale, store)
	}
	return firstErr
}
