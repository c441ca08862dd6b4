// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"code.hybscloud.com/lq/internal/gate"
)

func TestEnterSideAOpenByDefault(t *testing.T) {
	g := gate.New(10 * time.Millisecond)
	defer g.Dispose()

	guard, err := g.Enter(context.Background(), gate.A, -1)
	if err != nil {
		t.Fatalf("Enter(A): %v", err)
	}
	guard.Release()
}

func TestEnterSideBBlocksUntilRequested(t *testing.T) {
	g := gate.New(10 * time.Millisecond)
	defer g.Dispose()

	acquired := make(chan error, 1)
	go func() {
		guard, err := g.Enter(context.Background(), gate.B, -1)
		if err == nil {
			guard.Release()
		}
		acquired <- err
	}()

	select {
	case <-acquired:
		t.Fatal("Enter(B) returned before B was requested")
	case <-time.After(30 * time.Millisecond):
	}

	g.RequestOpen(gate.B)

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("Enter(B) after RequestOpen: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enter(B) never returned after RequestOpen")
	}
}

func TestRequestOpenPreemptsHolder(t *testing.T) {
	g := gate.New(10 * time.Millisecond)
	defer g.Dispose()

	g.RequestOpen(gate.B)
	guard, err := g.Enter(context.Background(), gate.B, -1)
	if err != nil {
		t.Fatalf("Enter(B): %v", err)
	}

	released := make(chan struct{})
	go func() {
		<-guard.Ctx.Done()
		guard.Release()
		close(released)
	}()

	g.RequestOpen(gate.A)

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("guard.Ctx was never cancelled by RequestOpen(A)")
	}

	other, err := g.Enter(context.Background(), gate.A, -1)
	if err != nil {
		t.Fatalf("Enter(A) after preemption: %v", err)
	}
	other.Release()
}

func TestEnterRespectsOuterCancellation(t *testing.T) {
	g := gate.New(10 * time.Millisecond)
	defer g.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := g.Enter(ctx, gate.A, -1); !errors.Is(err, context.Canceled) {
		t.Fatalf("Enter with cancelled ctx: got %v, want context.Canceled", err)
	}
}

func TestDisposeUnblocksEnter(t *testing.T) {
	g := gate.New(10 * time.Millisecond)

	g.RequestOpen(gate.B)
	done := make(chan error, 1)
	go func() {
		_, err := g.Enter(context.Background(), gate.A, -1)
		done <- err
	}()

	time.Sleep(5 * time.Millisecond)
	g.Dispose()

	select {
	case err := <-done:
		if !errors.Is(err, gate.ErrDisposed) {
			t.Fatalf("Enter after Dispose: got %v, want ErrDisposed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enter never returned after Dispose")
	}
}

func TestSideString(t *testing.T) {
	if got := gate.A.String(); got != "A" {
		t.Fatalf("A.String(): got %q, want %q", got, "A")
	}
	if got := gate.B.String(); got != "B" {
		t.Fatalf("B.String(): got %q, want %q", got, "B")
	}
}
