// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package gate implements a two-sided mutual-exclusion primitive: at
// most one of two named sides, A and B, may be inside its critical
// section at a time, and either side can ask the coordinator to flip
// to it, preempting whichever side currently holds the gate via
// cancellation of that side's context.Context rather than priority.
package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"code.hybscloud.com/atomix"

	"code.hybscloud.com/lq/internal/monitor"
)

// Side names one of the two gates.
type Side int

const (
	A Side = iota
	B
)

func (s Side) String() string {
	if s == A {
		return "A"
	}
	return "B"
}

// ErrDisposed is returned once the Mutex has been disposed.
var ErrDisposed = errors.New("gate: disposed")

// Mutex coordinates sides A and B. The zero value is not usable; call
// New.
type Mutex struct {
	mon *monitor.Monitor

	mu        sync.Mutex
	requested Side // which side the coordinator currently wants running
	holder    *occupant
	disposed  atomix.Bool
}

type occupant struct {
	side   Side
	cancel context.CancelFunc
}

// New creates a Mutex with side A initially open and nobody inside.
func New(pollPeriod time.Duration) *Mutex {
	return &Mutex{mon: monitor.New(pollPeriod), requested: A}
}

// RequestOpen asks the coordinator to flip to side at the next safe
// point. If the opposite side currently holds the gate, its Guard.Ctx
// is cancelled so it yields promptly.
func (g *Mutex) RequestOpen(side Side) {
	g.mu.Lock()
	g.requested = side
	if g.holder != nil && g.holder.side != side {
		g.holder.cancel()
	}
	g.mu.Unlock()
	g.mon.Pulse()
}

// Enter blocks until side is open and unoccupied, then acquires it.
// The returned Guard's Ctx is a child of ctx that is additionally
// cancelled by a later RequestOpen of the opposite side — callers
// should pass Guard.Ctx to every blocking call made while holding the
// gate so a preemption request propagates immediately.
func (g *Mutex) Enter(ctx context.Context, side Side, timeout time.Duration) (*Guard, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if g.disposed.LoadAcquire() {
			return nil, ErrDisposed
		}

		g.mu.Lock()
		if g.requested == side && g.holder == nil {
			childCtx, cancel := context.WithCancel(ctx)
			g.holder = &occupant{side: side, cancel: cancel}
			g.mu.Unlock()
			return &Guard{Ctx: childCtx, gate: g, side: side}, nil
		}
		g.mu.Unlock()

		w, err := g.mon.Enter(ctx, timeout)
		if err != nil {
			if errors.Is(err, monitor.ErrDisposed) {
				return nil, ErrDisposed
			}
			return nil, err
		}
		_, err = w.Wait(ctx)
		w.Release()
		if err != nil {
			if errors.Is(err, monitor.ErrDisposed) {
				return nil, ErrDisposed
			}
			return nil, err
		}
	}
}

func (g *Mutex) release(guard *Guard) {
	g.mu.Lock()
	if g.holder != nil && g.holder.side == guard.side {
		g.holder.cancel()
		g.holder = nil
	}
	g.mu.Unlock()
	g.mon.Pulse()
}

// Dispose marks the Mutex unusable and wakes anyone blocked in Enter.
// Idempotent.
func (g *Mutex) Dispose() {
	if !g.disposed.CompareAndSwapAcqRel(false, true) {
		return
	}
	g.mon.Dispose()
}

// Guard is returned by Enter. Ctx is derived from the context passed
// to Enter and is cancelled the moment the opposite side requests the
// gate — this is the "linked token" a background occupant should pass
// to every blocking call it makes while holding the gate.
type Guard struct {
	Ctx  context.Context
	gate *Mutex
	side Side
}

// Release gives up the gate. Safe to call at most once per Guard.
func (g *Guard) Release() {
	g.gate.release(g)
}
