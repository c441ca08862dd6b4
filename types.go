// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lq

import (
	"context"
	"time"
)

// Special timeout values, mirroring the try-once / bounded / infinite
// three-way convention used throughout this package.
const (
	// NoWait makes a Try* call attempt the operation exactly once and
	// return immediately if it cannot proceed.
	NoWait time.Duration = 0
	// Forever makes a Try* call block until it succeeds or its
	// context.Context is cancelled.
	Forever time.Duration = -1
)

// AddingMode selects how TryAdd routes items between the fast (high) and
// slow (low) tier.
type AddingMode int

const (
	// PreserveOrder guarantees that a consumer never observes an item
	// out of admission order, at the cost of routing items to the slow
	// tier whenever the fast tier cannot legitimately be the head of
	// the combined queue.
	PreserveOrder AddingMode = iota
	// PreferLiveData favors the fast tier on every add and accepts that
	// cross-tier order is undefined. Each tier remains FIFO internally.
	PreferLiveData
)

func (m AddingMode) String() string {
	switch m {
	case PreserveOrder:
		return "PreserveOrder"
	case PreferLiveData:
		return "PreferLiveData"
	default:
		return "AddingMode(?)"
	}
}

// SubQueue is the bounded blocking queue contract a tier must satisfy.
// Any implementation suffices — memory, disk, or network-backed — as
// long as it honors the timeout and cancellation conventions of this
// package. The ringqueue and diskqueue packages ship two concrete,
// swappable implementations.
type SubQueue[T any] interface {
	// TryAdd attempts to add item. timeout is NoWait, Forever, or a
	// bounded duration. It returns (false, nil) on timeout, never an
	// error for that case. A non-nil error indicates either a genuine
	// failure of the underlying tier (propagated unmodified by
	// LevelingQueue) or cancellation of ctx (ctx.Err()).
	TryAdd(ctx context.Context, item T, timeout time.Duration) (bool, error)
	// TryTake attempts to remove and return the head item, with the
	// same timeout/cancellation conventions as TryAdd.
	TryTake(ctx context.Context, timeout time.Duration) (T, bool, error)
	// AddForced adds item unconditionally, never blocking on capacity
	// and never failing.
	AddForced(item T)
	// Count returns the number of items currently stored, or -1 if
	// unknown.
	Count() int64
	// Capacity returns the maximum number of items this tier can hold,
	// or -1 if unbounded.
	Capacity() int64
	// IsEmpty reports whether Count would report zero.
	IsEmpty() bool
	// Dispose releases resources owned by this tier. Idempotent.
	Dispose() error
}

// Logger is the minimal structured-event sink LevelingQueue reports
// through. *log.Logger satisfies it. New uses a no-op logger unless
// WithLogger supplies one, so supplying one is always optional.
type Logger interface {
	Printf(format string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// Option configures a LevelingQueue at construction time.
type Option func(*config)

type config struct {
	pollPeriod time.Duration
	logger     Logger
}

func defaultConfig() config {
	return config{
		pollPeriod: 2 * time.Second,
		logger:     noopLogger{},
	}
}

// WithPollPeriod overrides the internal monitor's poll bound. Production
// callers should rarely need this; tests use it to keep worst-case
// cancellation latency well under real time.Sleep budgets.
func WithPollPeriod(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.pollPeriod = d
		}
	}
}

// WithLogger installs a Logger for operationally interesting events:
// transferer cancellation recovery, gate preemption, and disposal.
func WithLogger(l Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
