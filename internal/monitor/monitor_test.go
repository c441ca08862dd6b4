// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package monitor_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/lq/internal/monitor"
)

func TestPulseWakesWaiter(t *testing.T) {
	m := monitor.New(20 * time.Millisecond)

	w, err := m.Enter(context.Background(), -1)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer w.Release()

	done := make(chan struct{})
	go func() {
		defer close(done)
		timedOut, err := w.Wait(context.Background())
		if err != nil {
			t.Errorf("Wait: %v", err)
			return
		}
		if timedOut {
			t.Errorf("Wait: unexpected timeout")
		}
	}()

	time.Sleep(5 * time.Millisecond)
	m.Pulse()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Pulse")
	}
}

func TestWaitRespectsPollPeriod(t *testing.T) {
	m := monitor.New(10 * time.Millisecond)

	w, err := m.Enter(context.Background(), -1)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer w.Release()

	start := time.Now()
	timedOut, err := w.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if timedOut {
		t.Fatalf("Wait: unexpected overall timeout")
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("Wait blocked for %v, want bounded by poll period", elapsed)
	}
}

func TestWaiterOverallDeadline(t *testing.T) {
	m := monitor.New(5 * time.Millisecond)

	w, err := m.Enter(context.Background(), 20*time.Millisecond)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer w.Release()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		timedOut, err := w.Wait(context.Background())
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if timedOut {
			return
		}
	}
	t.Fatal("Waiter never reported IsTimedOut")
}

func TestEnterRespectsCancelledContext(t *testing.T) {
	m := monitor.New(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.Enter(ctx, -1); !errors.Is(err, context.Canceled) {
		t.Fatalf("Enter on cancelled ctx: got %v, want context.Canceled", err)
	}
}

func TestWaitRespectsCancellation(t *testing.T) {
	m := monitor.New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	w, err := m.Enter(ctx, -1)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer w.Release()

	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	if _, err := w.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait after cancel: got %v, want context.Canceled", err)
	}
}

func TestWaiterCountFastPath(t *testing.T) {
	m := monitor.New(time.Second)
	if got := m.WaiterCount(); got != 0 {
		t.Fatalf("WaiterCount: got %d, want 0", got)
	}

	w, err := m.Enter(context.Background(), -1)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if got := m.WaiterCount(); got != 1 {
		t.Fatalf("WaiterCount after Enter: got %d, want 1", got)
	}

	w.Release()
	if got := m.WaiterCount(); got != 0 {
		t.Fatalf("WaiterCount after Release: got %d, want 0", got)
	}
}

func TestDisposeWakesPendingWaiters(t *testing.T) {
	m := monitor.New(time.Second)

	w, err := m.Enter(context.Background(), -1)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	defer w.Release()

	done := make(chan error, 1)
	go func() {
		_, err := w.Wait(context.Background())
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	m.Dispose()

	select {
	case err := <-done:
		if !errors.Is(err, monitor.ErrDisposed) {
			t.Fatalf("Wait after Dispose: got %v, want ErrDisposed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Dispose")
	}

	if _, err := m.Enter(context.Background(), -1); !errors.Is(err, monitor.ErrDisposed) {
		t.Fatalf("Enter after Dispose: got %v, want ErrDisposed", err)
	}
}

func TestPulseWithNoWaitersIsNoOp(t *testing.T) {
	m := monitor.New(time.Second)
	m.Pulse() // must not panic or block
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := monitor.New(time.Second)
	w, err := m.Enter(context.Background(), -1)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	w.Release()
	w.Release() // second call must be a no-op, not a double-decrement
	if got := m.WaiterCount(); got != 0 {
		t.Fatalf("WaiterCount after double Release: got %d, want 0", got)
	}
}
