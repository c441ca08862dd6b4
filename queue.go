// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lq

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"code.hybscloud.com/lq/internal/gate"
	"code.hybscloud.com/lq/internal/monitor"
)

// asDisposed maps the internal monitor's disposal sentinel onto
// ErrDisposed so a waiter woken by Dispose reports through the same
// error every other entry point uses, the way gate.Enter already
// translates it for its own callers.
func asDisposed(err error) error {
	if errors.Is(err, monitor.ErrDisposed) {
		return ErrDisposed
	}
	return err
}

// LevelingQueue composes two SubQueue[T] tiers behind one blocking
// queue interface. The zero value is not usable; call New.
type LevelingQueue[T any] struct {
	high, low SubQueue[T]
	mode      AddingMode
	bgEnabled bool

	addMonitor  *monitor.Monitor
	takeMonitor *monitor.Monitor

	gate *gate.Mutex    // non-nil iff bgEnabled
	bg   *transferer[T] // non-nil iff bgEnabled

	logger Logger

	disposed atomix.Bool
}

// New composes high and low into a LevelingQueue. mode selects the
// admission policy; bgEnabled starts a background low→high transferer
// goroutine in either mode, though only PreserveOrder takes coordinate
// with it through the gate. New rejects nil tiers with
// ErrInvalidArgument.
func New[T any](high, low SubQueue[T], mode AddingMode, bgEnabled bool, opts ...Option) (*LevelingQueue[T], error) {
	if high == nil || low == nil {
		return nil, fmt.Errorf("%w: high and low tiers are required", ErrInvalidArgument)
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	q := &LevelingQueue[T]{
		high:        high,
		low:         low,
		mode:        mode,
		bgEnabled:   bgEnabled,
		addMonitor:  monitor.New(cfg.pollPeriod),
		takeMonitor: monitor.New(cfg.pollPeriod),
		logger:      cfg.logger,
	}

	if bgEnabled {
		q.gate = gate.New(cfg.pollPeriod)
		q.bg = newTransferer(q)
		q.bg.start()
	}

	return q, nil
}

// processorCount bounds the PreserveOrder admission spin window; it is
// a locality hint, never a correctness dependency.
func processorCount() int {
	return runtime.GOMAXPROCS(0)
}

// AddForced adds item unconditionally and never fails. Whether it can
// wait on a full tier is up to that tier's AddForced (ringqueue.Ring
// waits for a free slot). Routing:
//
//   - PreferLiveData: zero-timeout add to high; on failure, forced add
//     to low.
//   - PreserveOrder: if low is empty and zero-timeout add to high
//     succeeds, done; otherwise forced add to low.
func (q *LevelingQueue[T]) AddForced(item T) {
	switch q.mode {
	case PreferLiveData:
		if ok, err := q.high.TryAdd(context.Background(), item, NoWait); ok && err == nil {
			q.takeMonitor.Pulse()
			return
		}
		q.low.AddForced(item)
	default: // PreserveOrder
		if q.low.IsEmpty() {
			if ok, err := q.high.TryAdd(context.Background(), item, NoWait); ok && err == nil {
				q.takeMonitor.Pulse()
				return
			}
		}
		q.low.AddForced(item)
	}
	q.takeMonitor.Pulse()
}

// AddForcedToHigh bypasses mode routing entirely and forces item
// straight into the fast tier. It exists for cancellation recovery
// inside the background transferer, but is exported because any
// caller that knows an item belongs at the front of the queue may use
// it directly.
func (q *LevelingQueue[T]) AddForcedToHigh(item T) {
	q.high.AddForced(item)
	q.takeMonitor.Pulse()
}

// TryAdd attempts to add item. timeout is NoWait, Forever, or a
// bounded duration, with the same semantics as SubQueue.TryAdd. It
// returns (false, nil) on timeout, never an error for that case.
func (q *LevelingQueue[T]) TryAdd(ctx context.Context, item T, timeout time.Duration) (bool, error) {
	if q.disposed.LoadAcquire() {
		return false, ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if q.mode == PreferLiveData {
		return q.tryAddPreferLiveData(ctx, item, timeout)
	}
	return q.tryAddPreserveOrder(ctx, item, timeout)
}

func (q *LevelingQueue[T]) tryAddFast(ctx context.Context, item T) (bool, error) {
	if ok, err := q.high.TryAdd(ctx, item, NoWait); ok || err != nil {
		return ok, err
	}
	return q.low.TryAdd(ctx, item, NoWait)
}

func (q *LevelingQueue[T]) tryAddPreferLiveData(ctx context.Context, item T, timeout time.Duration) (bool, error) {
	// Open Question in the design notes: consulting
	// addMonitor.WaiterCount() here to skip the fast attempt when
	// others are already queued is a fairness hint, not a guarantee.
	// Omitted: it doesn't affect any testable property, and a fast
	// attempt that happens to race a waiter is harmless.
	if ok, err := q.tryAddFast(ctx, item); ok || err != nil {
		if ok {
			q.takeMonitor.Pulse()
		}
		return ok, err
	}
	if timeout == 0 {
		return false, nil
	}

	w, err := q.addMonitor.Enter(ctx, timeout)
	if err != nil {
		return false, asDisposed(err)
	}
	defer w.Release()

	for {
		if ok, err := q.tryAddFast(ctx, item); ok || err != nil {
			if ok {
				q.takeMonitor.Pulse()
			}
			return ok, err
		}
		if timedOut, err := w.Wait(ctx); err != nil {
			return false, asDisposed(err)
		} else if timedOut {
			return false, nil
		}
	}
}

func (q *LevelingQueue[T]) tryAddPreserveOrder(ctx context.Context, item T, timeout time.Duration) (bool, error) {
	q.spinForDrain()

	if q.low.IsEmpty() {
		if ok, err := q.high.TryAdd(ctx, item, NoWait); ok || err != nil {
			if ok {
				q.takeMonitor.Pulse()
			}
			return ok, err
		}
	}

	// Never high beyond this point: falling back there would let a
	// later admission overtake an item already queued in low.
	ok, err := q.low.TryAdd(ctx, item, timeout)
	if ok {
		q.takeMonitor.Pulse()
	}
	return ok, err
}

// spinForDrain briefly spins when bgEnabled and low is small, giving
// the transferer a chance to empty it so this admission can legitimately
// land in high. Best-effort locality only; its failure never changes
// correctness.
func (q *LevelingQueue[T]) spinForDrain() {
	if !q.bgEnabled {
		return
	}
	n := q.low.Count()
	if n < 0 || n > int64(processorCount()) {
		return
	}
	sw := spin.Wait{}
	for i := 0; i < processorCount() && !q.low.IsEmpty(); i++ {
		sw.Once()
	}
}

// TryTake attempts to remove and return the head item, with the same
// timeout/cancellation conventions as SubQueue.TryTake.
func (q *LevelingQueue[T]) TryTake(ctx context.Context, timeout time.Duration) (T, bool, error) {
	var zero T
	if q.disposed.LoadAcquire() {
		return zero, false, ErrDisposed
	}

	if q.mode == PreserveOrder && q.bgEnabled {
		return q.tryTakeExclusive(ctx, timeout)
	}
	return q.tryTakeShared(ctx, timeout)
}

func (q *LevelingQueue[T]) tryTakeFast(ctx context.Context) (T, bool, error) {
	if item, ok, err := q.high.TryTake(ctx, NoWait); ok || err != nil {
		return item, ok, err
	}
	return q.low.TryTake(ctx, NoWait)
}

func (q *LevelingQueue[T]) tryTakeShared(ctx context.Context, timeout time.Duration) (T, bool, error) {
	var zero T
	if item, ok, err := q.tryTakeFast(ctx); ok || err != nil {
		if ok {
			q.addMonitor.Pulse()
		}
		return item, ok, err
	}
	if timeout == 0 {
		return zero, false, nil
	}

	w, err := q.takeMonitor.Enter(ctx, timeout)
	if err != nil {
		return zero, false, asDisposed(err)
	}
	defer w.Release()

	for {
		if item, ok, err := q.tryTakeFast(ctx); ok || err != nil {
			if ok {
				q.addMonitor.Pulse()
			}
			return item, ok, err
		}
		if timedOut, err := w.Wait(ctx); err != nil {
			return zero, false, asDisposed(err)
		} else if timedOut {
			return zero, false, nil
		}
	}
}

// tryTakeExclusive implements PreserveOrder+bgEnabled: a fast,
// gate-free attempt against high first, then — only if that misses —
// exclusive access under gate A, which the transferer's gate-level
// cancellation respects by yielding promptly.
func (q *LevelingQueue[T]) tryTakeExclusive(ctx context.Context, timeout time.Duration) (T, bool, error) {
	var zero T
	if item, ok, err := q.high.TryTake(ctx, NoWait); ok || err != nil {
		if ok {
			q.addMonitor.Pulse()
			if !q.low.IsEmpty() {
				q.gate.RequestOpen(gate.B)
			}
		}
		return item, ok, err
	}

	q.gate.RequestOpen(gate.A)
	guard, err := q.gate.Enter(ctx, gate.A, Forever)
	if err != nil {
		if errors.Is(err, gate.ErrDisposed) {
			return zero, false, ErrDisposed
		}
		return zero, false, err
	}
	defer guard.Release()

	if item, ok, err := q.tryTakeFast(guard.Ctx); ok || err != nil {
		if ok {
			q.addMonitor.Pulse()
		}
		return item, ok, err
	}
	if timeout == 0 {
		return zero, false, nil
	}

	w, err := q.takeMonitor.Enter(guard.Ctx, timeout)
	if err != nil {
		return zero, false, asDisposed(err)
	}
	defer w.Release()

	for {
		if item, ok, err := q.tryTakeFast(guard.Ctx); ok || err != nil {
			if ok {
				q.addMonitor.Pulse()
			}
			return item, ok, err
		}
		if timedOut, err := w.Wait(guard.Ctx); err != nil {
			return zero, false, asDisposed(err)
		} else if timedOut {
			return zero, false, nil
		}
	}
}

// Peek is unimplemented. The design this package follows declares peek
// unimplemented rather than guessing at undocumented semantics; this
// keeps that contract.
func (q *LevelingQueue[T]) Peek() (T, bool, error) {
	var zero T
	return zero, false, ErrNotImplemented
}

// Count reports high.Count()+low.Count(), or -1 if either tier reports
// an unknown count.
func (q *LevelingQueue[T]) Count() int64 {
	h, l := q.high.Count(), q.low.Count()
	if h < 0 || l < 0 {
		return -1
	}
	return h + l
}

// Capacity reports high.Capacity()+low.Capacity(), or -1 if either
// tier is unbounded.
func (q *LevelingQueue[T]) Capacity() int64 {
	h, l := q.high.Capacity(), q.low.Capacity()
	if h < 0 || l < 0 {
		return -1
	}
	return h + l
}

// IsEmpty reports whether both tiers are empty.
func (q *LevelingQueue[T]) IsEmpty() bool {
	return q.high.IsEmpty() && q.low.IsEmpty()
}

// High returns the fast tier, for inspection and testing. Callers must
// not mutate its structure directly; doing so bypasses the mode
// invariants this type exists to enforce.
func (q *LevelingQueue[T]) High() SubQueue[T] { return q.high }

// Low returns the slow tier, under the same read-only convention as
// High.
func (q *LevelingQueue[T]) Low() SubQueue[T] { return q.low }

// Dispose stops and joins the background transferer if one exists,
// disposes both monitors and the gate, then disposes both tiers.
// Idempotent.
func (q *LevelingQueue[T]) Dispose() error {
	if !q.disposed.CompareAndSwapAcqRel(false, true) {
		return nil
	}

	if q.bg != nil {
		q.bg.stop()
	}

	q.addMonitor.Dispose()
	q.takeMonitor.Dispose()
	if q.gate != nil {
		q.gate.Dispose()
	}

	errHigh := q.high.Dispose()
	errLow := q.low.Dispose()

	q.logger.Printf("lq: disposed (mode=%s bgEnabled=%t)", q.mode, q.bgEnabled)

	if errHigh != nil {
		return errHigh
	}
	return errLow
}
