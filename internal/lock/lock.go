// Package lock provides the mutual exclusion used by pipeline triggers.
//
// Each repository pair has its own TimedMutex so concurrent triggers for
// one pair serialize, and a single TimedMutex guards database writes.
// Acquisition is bounded: a trigger that cannot get the lock in time is
// dropped with ErrTimeout rather than queued forever.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bgm-archive/archiver/internal/metrics"
)

// ErrTimeout is returned when a lock is not acquired in time.
var ErrTimeout = errors.New("lock acquisition timed out")

// TimedMutex is a mutex with bounded, context-aware acquisition.
type TimedMutex struct {
	name    string
	timeout time.Duration
	sem     *semaphore.Weighted
}

// NewTimedMutex creates a mutex. A zero timeout waits for the context only.
func NewTimedMutex(name string, timeout time.Duration) *TimedMutex {
	return &TimedMutex{
		name:    name,
		timeout: timeout,
		sem:     semaphore.NewWeighted(1),
	}
}

// Name returns the lock name used in logs and metrics.
func (m *TimedMutex) Name() string {
	return m.name
}

// Lock acquires the mutex and returns the release function.
func (m *TimedMutex) Lock(ctx context.Context) (func(), error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		metrics.ObserveLockTimeout(m.name)
		return nil, fmt.Errorf("%w: %s", ErrTimeout, m.name)
	}

	var once sync.Once
	return func() { once.Do(func() { m.sem.Release(1) }) }, nil
}

// TryLock acquires the mutex without waiting.
func (m *TimedMutex) TryLock() (func(), bool) {
	if !m.sem.TryAcquire(1) {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(func() { m.sem.Release(1) }) }, true
}

// With runs fn while holding the mutex.
func (m *TimedMutex) With(ctx context.Context, fn func() error) error {
	unlock, err := m.Lock(ctx)
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// Registry hands out one TimedMutex per key, created on first use.
type Registry struct {
	mu      sync.Mutex
	prefix  string
	timeout time.Duration
	locks   map[string]*TimedMutex
}

// NewRegistry creates a Registry whose mutexes share timeout.
func NewRegistry(prefix string, timeout time.Duration) *Registry {
	return &Registry{
		prefix:  prefix,
		timeout: timeout,
		locks:   make(map[string]*TimedMutex),
	}
}

// Get returns the mutex for key.
func (r *Registry) Get(key string) *TimedMutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.locks[key]
	if !ok {
		m = NewTimedMutex(r.prefix+":"+key, r.timeout)
		r.locks[key] = m
	}
	return m
}
