package bucket

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DefaultPerCPUBufferSize is the per-thread checkpoint buffer's target
// payload size before it flushes, matching DEFAULT_PER_CPU_BUFFER_SIZE.
const DefaultPerCPUBufferSize = 64 * 1024

// MultiThreadBuckets owns the B append-only files a bucketing phase
// writes into. Each logical bucket is guarded by its own mutex rather
// than a lock-free CAS on the next checkpoint offset: the OS file
// offset already serializes writes that go through a single *os.File,
// so a plain mutex gives the same happens-before guarantee with far
// less code.
type MultiThreadBuckets struct {
	dir     string
	prefix  string
	mu      []sync.Mutex
	files   []*os.File
	writers []*CheckpointWriter
	buffs   []*bufio.Writer
}

// NewMultiThreadBuckets creates (or truncates) numBuckets files named
// "<prefix>.<n>" under dir.
func NewMultiThreadBuckets(dir, prefix string, numBuckets int) (*MultiThreadBuckets, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create bucket dir: %w", err)
	}
	mb := &MultiThreadBuckets{
		dir:     dir,
		prefix:  prefix,
		mu:      make([]sync.Mutex, numBuckets),
		files:   make([]*os.File, numBuckets),
		writers: make([]*CheckpointWriter, numBuckets),
		buffs:   make([]*bufio.Writer, numBuckets),
	}
	for i := 0; i < numBuckets; i++ {
		f, err := os.Create(mb.Path(i))
		if err != nil {
			mb.Close()
			return nil, fmt.Errorf("create bucket %d: %w", i, err)
		}
		mb.files[i] = f
		mb.buffs[i] = bufio.NewWriterSize(f, 256*1024)
		mb.writers[i] = NewCheckpointWriter(mb.buffs[i])
	}
	return mb, nil
}

// Path returns the file path backing bucket id.
func (mb *MultiThreadBuckets) Path(id int) string {
	return filepath.Join(mb.dir, fmt.Sprintf("%s.%04d", mb.prefix, id))
}

// NumBuckets returns how many logical buckets this set owns.
func (mb *MultiThreadBuckets) NumBuckets() int { return len(mb.files) }

// FlushCheckpoint atomically appends one checkpoint's worth of
// already-framed records to bucket id. Insertion order within payload
// is preserved because the whole buffer is appended as one contiguous
// write while holding that bucket's mutex.
func (mb *MultiThreadBuckets) FlushCheckpoint(id int, payload []byte, compress bool) error {
	mb.mu[id].Lock()
	defer mb.mu[id].Unlock()
	return mb.writers[id].WriteCheckpoint(payload, compress)
}

// Close flushes and closes every bucket file.
func (mb *MultiThreadBuckets) Close() error {
	var firstErr error
	for i := range mb.files {
		if mb.buffs[i] != nil {
			if err := mb.buffs[i].Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if mb.files[i] != nil {
			if err := mb.files[i].Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RemoveAll deletes every backing file once a downstream phase has
// finished reading this bucket set.
func (mb *MultiThreadBuckets) RemoveAll() {
	for i := range mb.files {
		os.Remove(mb.Path(i))
	}
}

// Dispatcher batches records for one bucket on one worker goroutine,
// flushing a checkpoint once the buffered payload reaches
// DefaultPerCPUBufferSize. Records pushed through the same Dispatcher
// preserve insertion order, matching the per-thread ordering guarantee;
// buckets are written to by many Dispatchers (one per worker) so order
// is only guaranteed within one dispatcher's own stream.
type Dispatcher struct {
	buckets *MultiThreadBuckets
	buf     [][]byte // per-bucket pending payload
	compress bool
}

func NewDispatcher(buckets *MultiThreadBuckets, compress bool) *Dispatcher {
	return &Dispatcher{
		buckets:  buckets,
		buf:      make([][]byte, buckets.NumBuckets()),
		compress: compress,
	}
}

// Push frames and appends one record's encoding to bucket id's pending
// checkpoint, flushing when the target size is reached.
func (d *Dispatcher) Push(id int, encoded []byte) error {
	d.buf[id] = AppendFramed(d.buf[id], encoded)
	if len(d.buf[id]) >= DefaultPerCPUBufferSize {
		return d.flush(id)
	}
	return nil
}

func (d *Dispatcher) flush(id int) error {
	if len(d.buf[id]) == 0 {
		return nil
	}
	if err := d.buckets.FlushCheckpoint(id, d.buf[id], d.compress); err != nil {
		return err
	}
	d.buf[id] = d.buf[id][:0]
	return nil
}

// Flush pushes every bucket's remaining pending payload; call once at
// the end of a worker's portion of a phase.
func (d *Dispatcher) Flush() error {
	for id := range d.buf {
		if err := d.flush(id); err != nil {
			return err
		}
	}
	return nil
}
