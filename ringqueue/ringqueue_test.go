// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ringqueue_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/lq/ringqueue"
)

func TestCapacityRoundsToPowerOfTwo(t *testing.T) {
	r := ringqueue.New[int](3, 0)
	if got := r.Capacity(); got != 4 {
		t.Fatalf("Capacity: got %d, want 4", got)
	}
}

func TestNewPanicsOnSmallCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("New(1, ...) did not panic")
		}
	}()
	ringqueue.New[int](1, 0)
}

func TestAddTakeFIFO(t *testing.T) {
	r := ringqueue.New[int](4, 0)
	ctx := context.Background()

	for i := range 4 {
		ok, err := r.TryAdd(ctx, i, 0)
		if err != nil || !ok {
			t.Fatalf("TryAdd(%d): ok=%v err=%v", i, ok, err)
		}
	}

	for i := range 4 {
		v, ok, err := r.TryTake(ctx, 0)
		if err != nil || !ok {
			t.Fatalf("TryTake(%d): ok=%v err=%v", i, ok, err)
		}
		if v != i {
			t.Fatalf("TryTake(%d): got %d, want %d", i, v, i)
		}
	}
}

func TestTryAddFullReturnsFalseNotError(t *testing.T) {
	r := ringqueue.New[int](2, 0)
	ctx := context.Background()

	for i := range 2 {
		if ok, err := r.TryAdd(ctx, i, 0); !ok || err != nil {
			t.Fatalf("TryAdd(%d): ok=%v err=%v", i, ok, err)
		}
	}

	ok, err := r.TryAdd(ctx, 99, 0)
	if err != nil {
		t.Fatalf("TryAdd on full: unexpected error %v", err)
	}
	if ok {
		t.Fatalf("TryAdd on full: got true, want false")
	}
}

func TestTryTakeEmptyReturnsFalseNotError(t *testing.T) {
	r := ringqueue.New[int](2, 0)
	_, ok, err := r.TryTake(context.Background(), 0)
	if err != nil {
		t.Fatalf("TryTake on empty: unexpected error %v", err)
	}
	if ok {
		t.Fatalf("TryTake on empty: got true, want false")
	}
}

func TestTryAddBlocksUntilSpace(t *testing.T) {
	r := ringqueue.New[int](2, 5*time.Millisecond)
	ctx := context.Background()

	for i := range 2 {
		if ok, err := r.TryAdd(ctx, i, 0); !ok || err != nil {
			t.Fatalf("TryAdd(%d): ok=%v err=%v", i, ok, err)
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ok, err := r.TryAdd(ctx, 99, -1)
		if err != nil || !ok {
			t.Errorf("blocked TryAdd: ok=%v err=%v", ok, err)
		}
	}()

	select {
	case <-done:
		t.Fatal("blocked TryAdd returned before space was freed")
	case <-time.After(20 * time.Millisecond):
	}

	if _, _, err := r.TryTake(ctx, 0); err != nil {
		t.Fatalf("TryTake: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked TryAdd never returned after space freed")
	}
}

func TestTryAddRespectsCancellation(t *testing.T) {
	r := ringqueue.New[int](2, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	for i := range 2 {
		r.TryAdd(context.Background(), i, 0)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if _, err := r.TryAdd(ctx, 99, -1); !errors.Is(err, context.Canceled) {
		t.Fatalf("TryAdd after cancel: got %v, want context.Canceled", err)
	}
}

func TestAddForcedWaitsForFreeSlot(t *testing.T) {
	r := ringqueue.New[int](2, 0)
	for i := range 2 {
		r.TryAdd(context.Background(), i, 0)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.AddForced(99)
	}()

	// AddForced on a full fixed-capacity ring must wait for a slot, not
	// fail outright — free one up so the goroutine above can complete.
	time.Sleep(5 * time.Millisecond)
	r.TryTake(context.Background(), 0)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AddForced never returned after a slot freed")
	}
}

func TestDisposeRejectsFurtherOperations(t *testing.T) {
	r := ringqueue.New[int](4, 0)
	if err := r.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := r.Dispose(); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}

	if _, err := r.TryAdd(context.Background(), 1, 0); !errors.Is(err, ringqueue.ErrDisposed) {
		t.Fatalf("TryAdd after Dispose: got %v, want ErrDisposed", err)
	}
}

func TestConcurrentAddTakePreservesCount(t *testing.T) {
	r := ringqueue.New[int](64, time.Millisecond)
	ctx := context.Background()

	const producers, perProducer = 8, 200
	var wg sync.WaitGroup
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				for {
					ok, err := r.TryAdd(ctx, i, -1)
					if err != nil {
						t.Errorf("TryAdd: %v", err)
						return
					}
					if ok {
						break
					}
				}
			}
		}()
	}

	received := make(chan int, producers*perProducer)
	var consumerWG sync.WaitGroup
	for range producers {
		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			for range perProducer {
				for {
					v, ok, err := r.TryTake(ctx, -1)
					if err != nil {
						t.Errorf("TryTake: %v", err)
						return
					}
					if ok {
						received <- v
						break
					}
				}
			}
		}()
	}

	wg.Wait()
	consumerWG.Wait()
	close(received)

	count := 0
	for range received {
		count++
	}
	if count != producers*perProducer {
		t.Fatalf("received %d items, want %d", count, producers*perProducer)
	}
}
