// Package jitlog reads the jit.json, enter3.json and modules.json streams
// written by the recorder and correlates them into methods.
package jitlog

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/pyroscope-io/jitrec/journal"
)

type Compilation struct {
	FunctionID uint64
}

type Module struct {
	ModuleID     uint64
	ModuleName   string
	AssemblyID   uint64
	AssemblyName string
}

// ShortName is the file name of the module without directory and
// extension. Both separators are accepted whatever the host platform.
func (m Module) ShortName() string {
	name := m.ModuleName
	if i := lastSeparator(name); i >= 0 {
		name = name[i+1:]
	}
	if ext := filepath.Ext(name); ext != "" {
		name = name[:len(name)-len(ext)]
	}
	if name == "" {
		return m.AssemblyName
	}
	return name
}

func lastSeparator(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' || s[i] == '\\' {
			return i
		}
	}
	return -1
}

type TypeArg struct {
	ModuleID    uint64
	TypeDef     uint32
	NestedCount uint32
	Nested      []TypeArg
}

type Entry struct {
	FunctionID            uint64
	ModuleID              uint64
	MethodToken           uint32
	DeclaringTypeModuleID uint64
	DeclaringTypeToken    uint32
	DeclaringTypeArgCount uint32
	DeclaringTypeArgs     []TypeArg
	MethodTypeArgCount    uint32
	MethodTypeArgs        []TypeArg
}

// LineError reports a record that could not be decoded.
type LineError struct {
	File string
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *LineError) Unwrap() error { return e.Err }

// Log is the content of one journal directory. Compiled keeps the order
// of jit.json without duplicates; Entries and Modules keep the last record
// per identifier.
type Log struct {
	Compiled []uint64
	Entries  map[uint64]Entry
	Modules  map[uint64]Module
	// Names holds method names attached by Symbolize.
	Names map[uint64]string
	// Errors lists missing files and malformed lines. They do not stop
	// reading.
	Errors []error

	mu sync.Mutex
}

func (l *Log) addError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Errors = append(l.Errors, err)
}

const maxLineSize = 16 << 20

// ReadDir reads the three streams of dir concurrently. Only context
// cancellation and I/O failures other than a missing file are returned
// as an error.
func ReadDir(ctx context.Context, dir string) (*Log, error) {
	l := &Log{
		Entries: make(map[uint64]Entry),
		Modules: make(map[uint64]Module),
	}
	var compiled []uint64
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		seen := make(map[uint64]struct{})
		return l.readStream(ctx, dir, journal.JIT, func(b []byte) error {
			var c Compilation
			if err := json.Unmarshal(b, &c); err != nil {
				return err
			}
			if _, ok := seen[c.FunctionID]; !ok {
				seen[c.FunctionID] = struct{}{}
				compiled = append(compiled, c.FunctionID)
			}
			return nil
		})
	})
	g.Go(func() error {
		return l.readStream(ctx, dir, journal.Enter, func(b []byte) error {
			var e Entry
			if err := json.Unmarshal(b, &e); err != nil {
				return err
			}
			l.Entries[e.FunctionID] = e
			return nil
		})
	})
	g.Go(func() error {
		return l.readStream(ctx, dir, journal.Modules, func(b []byte) error {
			var m Module
			if err := json.Unmarshal(b, &m); err != nil {
				return err
			}
			l.Modules[m.ModuleID] = m
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	l.Compiled = compiled
	return l, nil
}

// readStream calls fn for every non-empty line of the stream file. Each
// stream writes to its own map, so fn needs no locking.
func (l *Log) readStream(ctx context.Context, dir string, s journal.Stream, fn func([]byte) error) error {
	path := filepath.Join(dir, s.FileName())
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		l.addError(fmt.Errorf("%s file not found: %s", s, path))
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)
	for n := 1; sc.Scan(); n++ {
		if n%4096 == 0 {
			if err = ctx.Err(); err != nil {
				return err
			}
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if err = fn(line); err != nil {
			l.addError(&LineError{File: s.FileName(), Line: n, Err: err})
		}
	}
	if err = sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return ctx.Err()
}
