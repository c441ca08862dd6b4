// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package lq

import "errors"

// ErrDisposed is returned by TryAdd and TryTake of a disposed
// LevelingQueue. AddForced and AddForcedToHigh return no error and do
// not check for disposal.
var ErrDisposed = errors.New("lq: queue is disposed")

// ErrInvalidArgument is returned by New when constructed with a missing
// tier. The Try* methods do not validate their timeout: any negative
// timeout waits with no deadline, the same as Forever.
var ErrInvalidArgument = errors.New("lq: invalid argument")

// ErrNotImplemented is returned by Peek. The source this package's
// design is distilled from declares peek unimplemented; this package
// keeps that contract rather than guessing at undocumented semantics.
var ErrNotImplemented = errors.New("lq: not implemented")

// Cancellation is reported through ctx.Err() (context.Canceled or
// context.DeadlineExceeded), not a package-specific error type — Go's
// native cancellation signal already is the "Cancelled" error kind this
// package's design calls for.
