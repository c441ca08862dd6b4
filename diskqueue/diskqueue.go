// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package diskqueue provides an append-only, segmented, on-disk
// spillover queue suitable for use as the slow ("low") tier of a
// code.hybscloud.com/lq LevelingQueue.
//
// Records are gob-encoded and length-prefixed into a sequence of
// segment files inside a directory; a new segment is started once the
// current one crosses a size threshold, and a fully-drained segment is
// removed from disk. This is the generic-T, blocking-aware descendant
// of the small BackendQueue contract (Put/ReadChan/Close/Delete/Depth/
// Empty) used as the secondary message store in NSQ-derived queues —
// adapted here to the SubQueue[T] contract and to the timeout/
// cancellation conventions of code.hybscloud.com/lq, blocking via
// internal/monitor the way ringqueue.Ring does for its memory tier.
package diskqueue

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"

	"code.hybscloud.com/lq/internal/monitor"
)

// ErrDisposed is returned by TryAdd and TryTake once Dispose has been
// called.
var ErrDisposed = errors.New("diskqueue: disposed")

const defaultSegmentSize = 16 << 20 // 16 MiB

// Queue is a directory-backed, segmented spill queue. It implements
// code.hybscloud.com/lq.SubQueue[T]. The zero value is not usable;
// call New.
type Queue[T any] struct {
	mu          sync.Mutex
	dir         string
	segmentSize int64

	writeSeg  int
	writeFile *os.File
	writer    *bufio.Writer

	readSeg  int
	readFile *os.File
	reader   *bufio.Reader

	count    atomix.Int64
	capacity int64 // -1 means unbounded

	addMonitor  *monitor.Monitor
	takeMonitor *monitor.Monitor
	disposed    atomix.Bool
}

// Config configures a Queue at construction time.
type Config struct {
	// SegmentSize bounds the size of a single segment file before a new
	// one is started. Zero selects a 16 MiB default.
	SegmentSize int64
	// Capacity bounds the number of records the queue will accept via
	// TryAdd. Zero or negative means unbounded.
	Capacity int64
	// PollPeriod overrides the internal monitors' poll bound.
	PollPeriod time.Duration
}

// New creates a disk-backed queue rooted at dir. dir is created if it
// does not exist. T must be safely encodable with encoding/gob. New
// does not restore an earlier Queue's state from dir: Count starts at
// zero, writing and reading start at segment-00000000.dat, and any
// later segments already in dir are ignored.
func New[T any](dir string, cfg Config) (*Queue[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskqueue: %w", err)
	}
	segSize := cfg.SegmentSize
	if segSize <= 0 {
		segSize = defaultSegmentSize
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = -1
	}

	q := &Queue[T]{
		dir:         dir,
		segmentSize: segSize,
		capacity:    capacity,
		addMonitor:  monitor.New(cfg.PollPeriod),
		takeMonitor: monitor.New(cfg.PollPeriod),
	}

	wf, err := os.OpenFile(q.segmentPath(0), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("diskqueue: %w", err)
	}
	q.writeFile = wf
	q.writer = bufio.NewWriter(wf)

	rf, err := os.Open(q.segmentPath(0))
	if err != nil {
		wf.Close()
		return nil, fmt.Errorf("diskqueue: %w", err)
	}
	q.readFile = rf
	q.reader = bufio.NewReader(rf)

	return q, nil
}

func (q *Queue[T]) segmentPath(n int) string {
	return filepath.Join(q.dir, fmt.Sprintf("segment-%08d.dat", n))
}

// tryEnqueue is the non-blocking append. It never reports a full
// condition of its own (disk is treated as unbounded) except when the
// caller-configured capacity has been reached.
func (q *Queue[T]) tryEnqueue(item T) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity >= 0 && q.count.LoadAcquire() >= q.capacity {
		return iox.ErrWouldBlock
	}
	return q.appendLocked(item)
}

// appendLocked does the actual framing and write; callers must hold mu.
func (q *Queue[T]) appendLocked(item T) error {
	buf, err := encode(item)
	if err != nil {
		return fmt.Errorf("diskqueue: encode: %w", err)
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(buf)))
	if _, err := q.writer.Write(length[:]); err != nil {
		return fmt.Errorf("diskqueue: write: %w", err)
	}
	if _, err := q.writer.Write(buf); err != nil {
		return fmt.Errorf("diskqueue: write: %w", err)
	}
	if err := q.writer.Flush(); err != nil {
		return fmt.Errorf("diskqueue: flush: %w", err)
	}

	q.count.Add(1)

	if off, err := q.writeFile.Seek(0, os.SEEK_CUR); err == nil && off >= q.segmentSize {
		_ = q.rotateWriteSegment()
	}
	return nil
}

func (q *Queue[T]) rotateWriteSegment() error {
	if err := q.writeFile.Close(); err != nil {
		return err
	}
	q.writeSeg++
	wf, err := os.OpenFile(q.segmentPath(q.writeSeg), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	q.writeFile = wf
	q.writer = bufio.NewWriter(wf)
	return nil
}

// tryDequeue is the non-blocking read. It returns iox.ErrWouldBlock if
// there is nothing to read in the current write frontier.
func (q *Queue[T]) tryDequeue() (T, error) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		var length [4]byte
		if _, err := readFull(q.reader, length[:]); err != nil {
			if q.readSeg < q.writeSeg {
				if err := q.advanceReadSegment(); err != nil {
					return zero, fmt.Errorf("diskqueue: %w", err)
				}
				continue
			}
			return zero, iox.ErrWouldBlock
		}

		n := binary.BigEndian.Uint32(length[:])
		buf := make([]byte, n)
		if _, err := readFull(q.reader, buf); err != nil {
			return zero, fmt.Errorf("diskqueue: truncated record: %w", err)
		}

		item, err := decode[T](buf)
		if err != nil {
			return zero, fmt.Errorf("diskqueue: decode: %w", err)
		}
		q.count.Add(-1)
		return item, nil
	}
}

func (q *Queue[T]) advanceReadSegment() error {
	old := q.readSeg
	if err := q.readFile.Close(); err != nil {
		return err
	}
	q.readSeg++
	rf, err := os.Open(q.segmentPath(q.readSeg))
	if err != nil {
		return err
	}
	q.readFile = rf
	q.reader = bufio.NewReader(rf)
	return os.Remove(q.segmentPath(old))
}

func readFull(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func encode[T any](item T) ([]byte, error) {
	var buf bytesBuffer
	if err := gob.NewEncoder(&buf).Encode(item); err != nil {
		return nil, err
	}
	return buf.b, nil
}

func decode[T any](data []byte) (T, error) {
	var item T
	buf := bytesBuffer{b: data}
	if err := gob.NewDecoder(&buf).Decode(&item); err != nil {
		return item, err
	}
	return item, nil
}

// bytesBuffer is a minimal io.Writer/io.Reader over a byte slice,
// avoiding a bytes.Buffer import purely for symmetry with the rest of
// this file's hand-rolled framing.
type bytesBuffer struct {
	b   []byte
	off int
}

func (w *bytesBuffer) Write(p []byte) (int, error) {
	w.b = append(w.b, p...)
	return len(p), nil
}

func (r *bytesBuffer) Read(p []byte) (int, error) {
	if r.off >= len(r.b) {
		return 0, errEOF
	}
	n := copy(p, r.b[r.off:])
	r.off += n
	return n, nil
}

var errEOF = errors.New("diskqueue: eof")

// TryAdd implements code.hybscloud.com/lq.SubQueue.
func (q *Queue[T]) TryAdd(ctx context.Context, item T, timeout time.Duration) (bool, error) {
	if q.disposed.LoadAcquire() {
		return false, ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	if err := q.tryEnqueue(item); err == nil {
		q.takeMonitor.Pulse()
		return true, nil
	} else if !iox.IsWouldBlock(err) {
		return false, err
	}
	if timeout == 0 {
		return false, nil
	}

	w, err := q.addMonitor.Enter(ctx, timeout)
	if err != nil {
		return false, err
	}
	defer w.Release()

	for {
		if err := q.tryEnqueue(item); err == nil {
			q.takeMonitor.Pulse()
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
func (q *Queue[T]) TryTake(ctx context.Context, timeout time.Duration) (T, bool, error) {
	var zero T
	if q.disposed.LoadAcquire() {
		return zero, false, ErrDisposed
	}
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	if item, err := q.tryDequeue(); err == nil {
		q.addMonitor.Pulse()
		return item, true, nil
	} else if !iox.IsWouldBlock(err) {
		return zero, false, err
	}
	if timeout == 0 {
		return zero, false, nil
	}

	w, err := q.takeMonitor.Enter(ctx, timeout)
	if err != nil {
		return zero, false, err
	}
	defer w.Release()

	for {
		if item, err := q.tryDequeue(); err == nil {
			q.addMonitor.Pulse()
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

// AddForced adds item unconditionally, ignoring the configured
// capacity. Disk is large enough that this can genuinely never block.
// Unlike the earlier revision of this method, it never mutates
// q.capacity: doing so under a separate lock acquisition left a window
// where a concurrent TryAdd could observe the temporarily lifted bound
// and over-admit.
func (q *Queue[T]) AddForced(item T) {
	q.mu.Lock()
	err := q.appendLocked(item)
	q.mu.Unlock()

	if err != nil {
		// Encoding/IO failures here have nowhere else to go; the
		// record is lost. This mirrors the contract's "never fails"
		// promise being best-effort against hardware/FS failures,
		// same as the underlying BackendQueue.Put it is grounded on.
		_ = err
	}
	q.takeMonitor.Pulse()
}

// Count returns the number of records not yet taken.
func (q *Queue[T]) Count() int64 {
	return q.count.LoadAcquire()
}

// Capacity returns the configured capacity, or -1 if unbounded.
func (q *Queue[T]) Capacity() int64 {
	return q.capacity
}

// IsEmpty reports whether Count is zero.
func (q *Queue[T]) IsEmpty() bool {
	return q.Count() == 0
}

// Dispose closes the open segment files and wakes every blocked Try*
// call. It does not delete on-disk segments. Idempotent.
func (q *Queue[T]) Dispose() error {
	if !q.disposed.CompareAndSwapAcqRel(false, true) {
		return nil
	}
	q.addMonitor.Dispose()
	q.takeMonitor.Dispose()

	q.mu.Lock()
	defer q.mu.Unlock()
	errW := q.writer.Flush()
	errWF := q.writeFile.Close()
	errRF := q.readFile.Close()
	if errW != nil {
		return errW
	}
	if errWF != nil {
		return errWF
	}
	return errRF
}
