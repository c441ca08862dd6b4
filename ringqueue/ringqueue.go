// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ringqueue provides a fixed-capacity, blocking, bounded FIFO
// queue suitable for use as the fast ("high") tier of a
// code.hybscloud.com/lq LevelingQueue, or standalone.
//
// The core slot algorithm is the SCQ (Scalable Circular Queue) scheme
// by Nikolaev (DISC 2019): cycle-tagged slots give non-blocking,
// wait-free-ish enqueue/dequeue under contention, using
// code.hybscloud.com/atomix for the cross-goroutine counters and
// code.hybscloud.com/spin for the bounded CAS-retry backoff. Ring adds
// the blocking/timeout/cancellation surface on top, via
// internal/monitor, that the non-blocking core intentionally leaves
// out.
package ringqueue

import (
	"context"
	"errors"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"

	"code.hybscloud.com/lq/internal/monitor"
)

// ErrDisposed is returned by TryAdd and TryTake once Dispose has been
// called.
var ErrDisposed = errors.New("ringqueue: disposed")

// errFull and errEmpty are the internal would-block signals the
// non-blocking core uses between itself and the blocking wrapper
// methods below. They alias iox.ErrWouldBlock for ecosystem
// consistency with the ring algorithm's origin package, which
// classifies "can't proceed right now" as a control-flow signal rather
// than a failure.
var errFull, errEmpty = iox.ErrWouldBlock, iox.ErrWouldBlock

// Ring is a fixed-capacity bounded blocking queue. It implements
// code.hybscloud.com/lq.SubQueue[T].
type Ring[T any] struct {
	tail      atomix.Uint64 // producer index (FAA)
	head      atomix.Uint64 // consumer index (FAA)
	threshold atomix.Int64  // livelock prevention for Dequeue
	draining  atomix.Bool

	buffer   []slot[T]
	capacity uint64 // n, usable capacity
	size     uint64 // 2n, physical slots
	mask     uint64

	addMonitor  *monitor.Monitor
	takeMonitor *monitor.Monitor
	disposed    atomix.Bool
}

type slot[T any] struct {
	cycle atomix.Uint64
	data  T
}

// New creates a Ring with the given capacity, rounded up to the next
// power of two. Panics if capacity < 2.
func New[T any](capacity int, pollPeriod time.Duration) *Ring[T] {
	if capacity < 2 {
		panic("ringqueue: capacity must be >= 2")
	}
	n := uint64(roundToPow2(capacity))
	size := n * 2

	r := &Ring[T]{
		buffer:      make([]slot[T], size),
		capacity:    n,
		size:        size,
		mask:        size - 1,
		addMonitor:  monitor.New(pollPeriod),
		takeMonitor: monitor.New(pollPeriod),
	}
	r.threshold.StoreRelaxed(3*int64(n) - 1)
	for i := uint64(0); i < size; i++ {
		r.buffer[i].cycle.StoreRelaxed(i / n)
	}
	return r
}

func roundToPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// tryEnqueue is the non-blocking core. It returns errFull
// (iox.ErrWouldBlock) if the ring has no free slot right now.
func (r *Ring[T]) tryEnqueue(item T) error {
	sw := spin.Wait{}
	for {
		tail := r.tail.LoadAcquire()
		head := r.head.LoadAcquire()
		if tail >= head+r.capacity {
			return errFull
		}

		myTail := r.tail.AddAcqRel(1) - 1
		s := &r.buffer[myTail&r.mask]
		expected := myTail / r.capacity
		cycle := s.cycle.LoadAcquire()

		if cycle == expected {
			s.data = item
			s.cycle.StoreRelease(expected + 1)
			r.threshold.StoreRelaxed(3*int64(r.capacity) - 1)
			return nil
		}
		if int64(cycle) < int64(expected) {
			return errFull
		}
		sw.Once()
	}
}

// tryDequeue is the non-blocking core. It returns errEmpty
// (iox.ErrWouldBlock) if the ring currently has nothing to take.
func (r *Ring[T]) tryDequeue() (T, error) {
	var zero T
	if !r.draining.LoadAcquire() && r.threshold.LoadRelaxed() < 0 {
		return zero, errEmpty
	}

	sw := spin.Wait{}
	for {
		myHead := r.head.AddAcqRel(1) - 1
		s := &r.buffer[myHead&r.mask]
		expected := myHead/r.capacity + 1
		cycle := s.cycle.LoadAcquire()

		if cycle == expected {
			elem := s.data
			s.data = zero
			nextCycle := (myHead + r.size) / r.capacity
			s.cycle.StoreRelease(nextCycle)
			return elem, nil
		}
		if int64(cycle) < int64(expected) {
			nextCycle := (myHead + r.size) / r.capacity
			s.cycle.CompareAndSwapAcqRel(cycle, nextCycle)

			tail := r.tail.LoadAcquire()
			if tail <= myHead+1 {
				r.catchUp(tail, myHead+1)
				r.threshold.AddAcqRel(-1)
				return zero, errEmpty
			}
			if r.threshold.AddAcqRel(-1) <= 0 && !r.draining.LoadAcquire() {
				return zero, errEmpty
			}
		}
		sw.Once()
	}
}

func (r *Ring[T]) catchUp(tail, head uint64) {
	for tail < head {
		if r.tail.CompareAndSwapRelaxed(tail, head) {
			return
		}
		tail = r.tail.LoadRelaxed()
		head = r.head.LoadRelaxed()
	}
}

// TryAdd implements code.hybscloud.com/lq.SubQueue.
func (r *Ring[T]) TryAdd(ctx context.Context, item T, timeout time.Duration) (bool, error) {
	if r.disposed.LoadAcquire() {
		return false, ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := r.tryEnqueue(item); err == nil {
		r.takeMonitor.Pulse()
		return true, nil
	} else if !iox.IsWouldBlock(err) {
		return false, err
	}
	if timeout == 0 {
		return false, nil
	}

	w, err := r.addMonitor.Enter(ctx, timeout)
	if err != nil {
		return false, err
	}
	defer w.Release()

	for {
		if err := r.tryEnqueue(item); err == nil {
			r.takeMonitor.Pulse()
			return true, nil
		} else if !iox.IsWouldBlock(err) {
			return false, err
		}
		if timedOut, err := w.Wait(ctx); err != nil {
			return false, err
		} else if timedOut {
			return false, nil
		}
	}
}

// TryTake implements code.hybscloud.com/lq.SubQueue.
func (r *Ring[T]) TryTake(ctx context.Context, timeout time.Duration) (T, bool, error) {
	var zero T
	if r.disposed.LoadAcquire() {
		return zero, false, ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	if item, err := r.tryDequeue(); err == nil {
		r.addMonitor.Pulse()
		return item, true, nil
	} else if !iox.IsWouldBlock(err) {
		return zero, false, err
	}
	if timeout == 0 {
		return zero, false, nil
	}

	w, err := r.takeMonitor.Enter(ctx, timeout)
	if err != nil {
		return zero, false, err
	}
	defer w.Release()

	for {
		if item, err := r.tryDequeue(); err == nil {
			r.addMonitor.Pulse()
			return item, true, nil
		} else if !iox.IsWouldBlock(err) {
			return zero, false, err
		}
		if timedOut, err := w.Wait(ctx); err != nil {
			return zero, false, err
		} else if timedOut {
			return zero, false, nil
		}
	}
}

// AddForced adds item unconditionally. The ring's fixed capacity means
// it cannot truly guarantee immediate success the way an unbounded
// tier could; it busy-retries the non-blocking core until a slot frees
// up, which in LevelingQueue only happens when AddForcedToHigh is
// recovering an item mid-flight during transferer cancellation — a
// rare, self-limiting event, since the same consumer activity that
// frees a slot is what makes the ring worth having as the fast tier.
func (r *Ring[T]) AddForced(item T) {
	sw := spin.Wait{}
	for {
		if err := r.tryEnqueue(item); err == nil {
			r.takeMonitor.Pulse()
			return
		}
		sw.Once()
	}
}

// Count returns the number of items currently stored in the ring.
func (r *Ring[T]) Count() int64 {
	tail := int64(r.tail.LoadAcquire())
	head := int64(r.head.LoadAcquire())
	n := tail - head
	if n < 0 {
		return 0
	}
	return n
}

// Capacity returns the usable capacity of the ring.
func (r *Ring[T]) Capacity() int64 {
	return int64(r.capacity)
}

// IsEmpty reports whether the ring currently holds no items.
func (r *Ring[T]) IsEmpty() bool {
	return r.Count() == 0
}

// Dispose marks the ring disposed and wakes every blocked Try* call.
// Idempotent.
func (r *Ring[T]) Dispose() error {
	if !r.disposed.CompareAndSwapAcqRel(false, true) {
		return nil
	}
	r.draining.StoreRelease(true)
	r.addMonitor.Dispose()
	r.takeMonitor.Dispose()
	return nil
}
