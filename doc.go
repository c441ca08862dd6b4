// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package lq provides LevelingQueue, a two-tier blocking queue.
//
// LevelingQueue layers a small, fast tier ("high") over a large, slow
// tier ("low") behind one interface, with blocking add/take, bounded
// capacity, context.Context cancellation, and optional background
// promotion of items from low to high. The canonical composition is
// an in-memory ring buffer over an on-disk spill queue, so producers
// rarely touch disk and consumers rarely wait.
//
// # Quick Start
//
//	high := ringqueue.New[Event](256, 0)
//	low, err := diskqueue.New[Event]("/var/lib/app/spill", diskqueue.Config{})
//	if err != nil {
//	    return err
//	}
//	q, err := lq.New[Event](high, low, lq.PreserveOrder, true)
//	if err != nil {
//	    return err
//	}
//	defer q.Dispose()
//
// # Admission Modes
//
// PreserveOrder guarantees that a consumer never observes an item out
// of admission order, at the cost of routing an item to low whenever
// high cannot legitimately be the next thing a consumer sees:
//
//	q, _ := lq.New[Event](high, low, lq.PreserveOrder, true)
//
// PreferLiveData favors the fast tier on every add and accepts that
// cross-tier order is undefined; each tier remains FIFO internally:
//
//	q, _ := lq.New[Event](high, low, lq.PreferLiveData, false)
//
// # Basic Usage
//
//	// Add (blocks until space is available, or ctx is cancelled)
//	ok, err := q.TryAdd(ctx, event, lq.Forever)
//	if err != nil {
//	    // ctx cancelled, queue disposed, or a tier failed
//	}
//
//	// Add without blocking
//	ok, err := q.TryAdd(ctx, event, lq.NoWait)
//	if !ok && err == nil {
//	    // both tiers are full right now
//	}
//
//	// Take (blocks until an item is available, or ctx is cancelled)
//	event, ok, err := q.TryTake(ctx, lq.Forever)
//
//	// Take with a deadline
//	event, ok, err := q.TryTake(ctx, 100*time.Millisecond)
//	if !ok && err == nil {
//	    // nothing arrived within the deadline
//	}
//
// # Background Promotion
//
// With bgEnabled, a single goroutine continuously drains low into high
// whenever high has room, so a PreserveOrder consumer usually finds its
// next item already sitting in the fast tier instead of paying the
// slow tier's latency directly. The transferer yields to a foreground
// consumer promptly (bounded by the configured poll period) and never
// loses an item it has already removed from low, even when preempted
// mid-migration:
//
//	q, _ := lq.New[Event](high, low, lq.PreserveOrder, true)
//	// the transferer is already running; nothing further to start
//
// # Forced Admission
//
// AddForced and AddForcedToHigh take no timeout and never fail; they
// exist for producers that must not be refused by a full tier (e.g.
// recovering an item during shutdown). What happens at a full tier is
// up to that tier's own AddForced: diskqueue.Queue exceeds its
// configured capacity, while ringqueue.Ring, whose capacity is fixed,
// waits until a slot frees up:
//
//	q.AddForced(event)         // routed per the queue's mode
//	q.AddForcedToHigh(event)   // bypasses mode routing entirely
//
// # Error Handling
//
// [ErrDisposed] is returned by TryAdd and TryTake once Dispose has run;
// AddForced and AddForcedToHigh report no error at all.
// [ErrInvalidArgument] is returned by New when constructed with a
// missing tier. Cancellation surfaces as whatever ctx.Err() reports
// (context.Canceled or context.DeadlineExceeded) rather than a
// package-specific error — Go's native cancellation signal already
// carries the information a bespoke type would add. Any other error
// returned by a TryAdd/TryTake call is a tier failure, propagated
// unmodified:
//
//	ok, err := q.TryAdd(ctx, event, lq.Forever)
//	switch {
//	case errors.Is(err, lq.ErrDisposed):
//	    // queue is gone
//	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
//	    // ctx was cancelled while waiting
//	case err != nil:
//	    // a tier (ringqueue, diskqueue, or a caller-supplied one) failed
//	case !ok:
//	    // timed out; not an error
//	}
//
// # Sub-queue Tiers
//
// Any type satisfying [SubQueue] can serve as high or low. Two ship
// with this module:
//
//	ringqueue.Ring[T]   — fixed-capacity in-memory tier, SCQ-based
//	diskqueue.Queue[T]  — segmented on-disk spill tier, gob-encoded
//
// A caller-supplied tier (network-backed, a different on-disk format,
// a test double) needs only to honor the timeout and cancellation
// conventions documented on [SubQueue].
//
// # Configuration
//
// New accepts functional options:
//
//	q, _ := lq.New[Event](high, low, lq.PreserveOrder, true,
//	    lq.WithPollPeriod(200*time.Millisecond),
//	    lq.WithLogger(log.Default()),
//	)
//
// WithPollPeriod overrides the internal monitors' poll bound; tests
// use a short period to keep worst-case cancellation latency well
// under real-time sleep budgets. WithLogger installs a sink for the
// operationally interesting events this package surfaces: transferer
// cancellation recovery, gate preemption, and disposal.
//
// # What Is Not Implemented
//
// Peek is deliberately left unimplemented rather than guessing at
// undocumented semantics: [LevelingQueue.Peek] exists but always
// returns [ErrNotImplemented]. There
// is also no unified wait-handle across the two tiers — callers wait
// on TryAdd/TryTake directly.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/atomix] for atomic primitives
// with explicit memory ordering and [code.hybscloud.com/spin] for the
// bounded admission-locality spin in PreserveOrder mode. The bundled
// ringqueue and diskqueue tiers additionally use
// [code.hybscloud.com/iox] for semantic would-block errors, for
// ecosystem consistency with the algorithm they are adapted from.
package lq
