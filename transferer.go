// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lq

import (
	"context"
	"errors"

	"code.hybscloud.com/lq/internal/gate"
)

// transferer is the single long-lived background task that drains
// q.low into q.high through gate B whenever bgEnabled. It is started
// by New and stopped and joined by LevelingQueue.Dispose.
type transferer[T any] struct {
	q      *LevelingQueue[T]
	cancel context.CancelFunc
	done   chan struct{}
}

func newTransferer[T any](q *LevelingQueue[T]) *transferer[T] {
	return &transferer[T]{q: q}
}

func (tr *transferer[T]) start() {
	ctx, cancel := context.WithCancel(context.Background())
	tr.cancel = cancel
	tr.done = make(chan struct{})
	go tr.run(ctx)
}

func (tr *transferer[T]) stop() {
	tr.cancel()
	<-tr.done
}

// run is the outer loop: acquire gate B, drain low into high while
// holding it, and on gate-level preemption release and try again.
// taskCtx carries only task-level cancellation (tripped by stop); the
// gate supplies the other half of the linked token via guard.Ctx. B is
// this task's default side — it re-requests B on every pass so a prior
// consumer-driven RequestOpen(A) never leaves the transferer parked.
func (tr *transferer[T]) run(taskCtx context.Context) {
	defer close(tr.done)

	for {
		if taskCtx.Err() != nil {
			return
		}

		tr.q.gate.RequestOpen(gate.B)
		guard, err := tr.q.gate.Enter(taskCtx, gate.B, Forever)
		if err != nil {
			return
		}

		tr.drain(taskCtx, guard)
		guard.Release()

		if taskCtx.Err() != nil {
			return
		}
	}
}

// drain is the inner loop: move items from low to high one at a time
// until the linked token (guard.Ctx) dies, then return so run can tell
// whether that was task-level (terminate) or gate-level (reacquire).
func (tr *transferer[T]) drain(taskCtx context.Context, guard *gate.Guard) {
	linked := guard.Ctx

	for {
		item, ok, err := tr.q.low.TryTake(linked, Forever)
		if err != nil {
			// linked died before anything was taken: nothing to
			// recover. If it died for a task-level reason, run will
			// see taskCtx.Err() != nil above and terminate; if it died
			// because of gate preemption, run reacquires B.
			if taskCtx.Err() == nil && linked.Err() != nil {
				tr.q.logger.Printf("lq: transferer preempted by a consumer; releasing gate B")
			}
			return
		}
		if !ok {
			// Forever never legitimately times out; treat as a
			// transient miss and let run's outer loop decide whether
			// to retry this gate acquisition.
			return
		}

		// The inner add deliberately uses an empty cancellation token:
		// once item is out of low, cancellation of the outer linked
		// token must not prevent it reaching high, or it is lost.
		added, err := tr.q.high.TryAdd(context.Background(), item, NoWait)
		if err != nil {
			tr.q.AddForcedToHigh(item)
			tr.q.logger.Printf("lq: transferer recovered item after high.TryAdd failure: %v", err)
			return
		}
		if added {
			tr.q.takeMonitor.Pulse()
			continue
		}

		// high was full at zero-timeout; retry with the linked token so
		// gate preemption or task cancellation can still interrupt the
		// wait, with recovery on the way out.
		added, err = tr.q.high.TryAdd(linked, item, Forever)
		if err != nil {
			// Cancelled (or a genuine sub-queue failure) with the item
			// still in hand: this is the one correctness-critical
			// recovery path. high.AddForced never fails, so the item
			// is never dropped.
			tr.q.AddForcedToHigh(item)

			// Either way this drain pass ends here; run distinguishes
			// task-level cancellation (terminate) from gate-level
			// preemption (reacquire B) by checking taskCtx itself, not
			// by inspecting err.
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				tr.q.logger.Printf("lq: transferer recovered item after cancellation: %v", err)
			} else {
				tr.q.logger.Printf("lq: transferer recovered item after high.TryAdd error: %v", err)
			}
			return
		}
		if !added {
			// Forever TryAdd returning (false, nil) would mean a
			// timeout, which Forever cannot produce; treat
			// defensively as a miss requiring recovery.
			tr.q.AddForcedToHigh(item)
			return
		}

		tr.q.takeMonitor.Pulse()
	}
}
