// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package monitor implements a condition-variable-like wakeup primitive
// for code that cannot own every state transition it needs to wait on.
//
// A Monitor never inspects the condition it is guarding — callers
// register as a Waiter, then re-check their own predicate after each
// Wait. Waiting is bounded by an internal poll period so a missed
// Pulse (caused, for instance, by a third party mutating a shared
// sub-queue outside the monitor's view) cannot stall a waiter forever.
package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
)

// ErrDisposed is returned by Enter and by a pending Wait once the
// Monitor has been disposed.
var ErrDisposed = errors.New("monitor: disposed")

const defaultPollPeriod = 2 * time.Second

// Monitor is a FIFO wakeup queue with a waiter-count fast path and a
// bounded poll period.
type Monitor struct {
	mu         sync.Mutex
	tickets    []*ticket
	pollPeriod time.Duration
	waiters    atomix.Int64
	disposed   atomix.Bool
}

type ticket struct {
	ch chan struct{}
}

// New creates a Monitor with the given poll period. A non-positive
// period falls back to a 2s default.
func New(pollPeriod time.Duration) *Monitor {
	if pollPeriod <= 0 {
		pollPeriod = defaultPollPeriod
	}
	return &Monitor{pollPeriod: pollPeriod}
}

// WaiterCount returns the number of goroutines currently registered,
// for the cheap "nobody is waiting, skip the wakeup" fast path.
func (m *Monitor) WaiterCount() int64 {
	return m.waiters.LoadAcquire()
}

// Waiter is a scoped handle returned by Enter. Release must be called
// exactly once, typically via defer.
type Waiter struct {
	m        *Monitor
	t        *ticket
	deadline time.Time
	release  sync.Once
}

// Enter registers the caller as a waiter. overallTimeout is the total
// budget across every subsequent Wait call; a non-positive value means
// no deadline (wait until pulsed, cancelled, or disposed).
func (m *Monitor) Enter(ctx context.Context, overallTimeout time.Duration) (*Waiter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.disposed.LoadAcquire() {
		return nil, ErrDisposed
	}

	t := &ticket{ch: make(chan struct{}, 1)}
	m.mu.Lock()
	m.tickets = append(m.tickets, t)
	m.mu.Unlock()
	m.waiters.Add(1)

	var deadline time.Time
	if overallTimeout > 0 {
		deadline = time.Now().Add(overallTimeout)
	}
	return &Waiter{m: m, t: t, deadline: deadline}, nil
}

// Wait blocks until pulsed, cancelled via ctx, disposed, or the
// internal poll period elapses — whichever happens first. A (false,
// nil) return means the waiter was pulsed or the poll period elapsed
// before the overall deadline; the caller should re-check its
// predicate and call Wait again.
func (w *Waiter) Wait(ctx context.Context) (timedOut bool, err error) {
	timer := time.NewTimer(w.m.pollPeriod)
	defer timer.Stop()

	select {
	case <-w.t.ch:
		if w.m.disposed.LoadAcquire() {
			return false, ErrDisposed
		}
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return w.IsTimedOut(), nil
	}
}

// IsTimedOut reports whether the overall deadline passed to Enter has
// elapsed. A Waiter with no deadline never times out.
func (w *Waiter) IsTimedOut() bool {
	return !w.deadline.IsZero() && !time.Now().Before(w.deadline)
}

// Release removes the waiter from the monitor. Safe to call multiple
// times; only the first call has effect.
func (w *Waiter) Release() {
	w.release.Do(func() {
		w.m.removeTicket(w.t)
		w.m.waiters.Add(-1)
	})
}

func (m *Monitor) removeTicket(t *ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, cur := range m.tickets {
		if cur == t {
			m.tickets = append(m.tickets[:i], m.tickets[i+1:]...)
			return
		}
	}
}

// Pulse wakes the single longest-waiting registered Waiter that has no
// wakeup pending, and moves it to the back of the queue so it stays
// registered for later Pulses and for Dispose. It is a no-op if nobody
// is waiting.
func (m *Monitor) Pulse() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tickets {
		select {
		case t.ch <- struct{}{}:
			m.tickets = append(append(m.tickets[:i:i], m.tickets[i+1:]...), t)
			return
		default:
		}
	}
}

// Dispose wakes every currently registered waiter with ErrDisposed and
// marks the monitor so future Enter calls fail immediately. Idempotent.
func (m *Monitor) Dispose() {
	if !m.disposed.CompareAndSwapAcqRel(false, true) {
		return
	}
	m.mu.Lock()
	pending := m.tickets
	m.tickets = nil
	m.mu.Unlock()

	for _, t := range pending {
		select {
		case t.ch <- struct{}{}:
		default:
		}
	}
}
