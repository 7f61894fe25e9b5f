// Package journal implements the append-only record streams written by the
// recorder: jit.json, enter3.json and modules.json, one JSON object per line.
package journal

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tebeka/atexit"
)

// Stream selects one of the journal files.
type Stream int

const (
	JIT Stream = iota
	Enter
	Modules

	streamCount
)

var fileNames = [streamCount]string{
	JIT:     "jit.json",
	Enter:   "enter3.json",
	Modules: "modules.json",
}

func (s Stream) FileName() string {
	if s < 0 || s >= streamCount {
		return ""
	}
	return fileNames[s]
}

func (s Stream) String() string {
	switch s {
	case JIT:
		return "jit"
	case Enter:
		return "enter"
	case Modules:
		return "modules"
	default:
		return fmt.Sprintf("stream(%d)", int(s))
	}
}

const (
	stateNew int32 = iota
	stateOpen
	stateClosed
)

// Journal owns the three streams. Appends to different streams never
// contend; appends to the same stream are serialised and every record is
// handed to the operating system before the stream lock is released.
type Journal struct {
	dir     string
	state   atomic.Int32
	log     logrus.FieldLogger
	streams [streamCount]stream
}

type stream struct {
	mu     sync.Mutex
	name   string
	path   string
	w      io.WriteCloser
	failed bool
	closed bool
	buf    []byte
}

type Option func(*Journal)

func WithLogger(l logrus.FieldLogger) Option {
	return func(j *Journal) { j.log = l }
}

// Open returns a journal writing into dir. Files are created on the first
// append to each stream, not here.
func Open(dir string, options ...Option) *Journal {
	j := &Journal{
		dir: dir,
		log: logrus.StandardLogger(),
	}
	for _, o := range options {
		o(j)
	}
	for i := range j.streams {
		j.streams[i].name = fileNames[i]
	}
	j.log = j.log.WithField("component", "journal")
	j.state.Store(stateOpen)
	return j
}

// Setup opens a process-wide journal which is closed when the process
// exits through atexit.Exit.
func Setup(dir string, options ...Option) *Journal {
	j := Open(dir, options...)
	atexit.Register(func() { _ = j.Close() })
	return j
}

func (j *Journal) Dir() string { return j.dir }

// Path returns the destination of stream s.
func (j *Journal) Path(s Stream) string {
	return filepath.Join(j.dir, s.FileName())
}

// Append writes record followed by a newline to stream s. It never fails
// visibly: when the journal is not open, or the destination can not be
// opened or written, the record is dropped.
func (j *Journal) Append(s Stream, record []byte) {
	if j == nil || j.state.Load() != stateOpen || s < 0 || s >= streamCount {
		return
	}
	st := &j.streams[s]
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed || st.failed {
		return
	}
	if st.w == nil && !j.openLocked(st) {
		return
	}
	st.buf = append(append(st.buf[:0], record...), '\n')
	if _, err := st.w.Write(st.buf); err != nil {
		j.log.WithError(err).WithField("path", st.path).Warn("journal write failed")
	}
}

// openLocked resolves the stream path and opens it once. A failed open is
// not retried.
func (j *Journal) openLocked(st *stream) bool {
	st.path = filepath.Join(j.dir, st.name)
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		st.failed = true
		j.log.WithError(err).WithField("dir", j.dir).Warn("journal directory unavailable")
		return false
	}
	f, err := os.OpenFile(st.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		st.failed = true
		j.log.WithError(err).WithField("path", st.path).Warn("journal stream unavailable")
		return false
	}
	st.w = f
	return true
}

// Close flushes nothing (writes are unbuffered) and closes every stream.
// Appends after Close are dropped.
func (j *Journal) Close() error {
	if j == nil || !j.state.CompareAndSwap(stateOpen, stateClosed) {
		return nil
	}
	var first error
	for i := range j.streams {
		st := &j.streams[i]
		st.mu.Lock()
		st.closed = true
		if st.w != nil {
			if err := st.w.Close(); err != nil && first == nil {
				first = fmt.Errorf("close %s: %w", st.path, err)
			}
			st.w = nil
		}
		st.mu.Unlock()
	}
	return first
}
