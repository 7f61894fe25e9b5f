package recorder

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/pyroscope-io/jitrec/journal"
)

var errNotFound = errors.New("not found")

type memJournal struct {
	mu    sync.Mutex
	lines map[journal.Stream][]string
}

func newMemJournal() *memJournal {
	return &memJournal{lines: make(map[journal.Stream][]string)}
}

func (m *memJournal) Append(s journal.Stream, record []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines[s] = append(m.lines[s], string(record))
}

func (m *memJournal) Lines(s journal.Stream) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.lines[s]...)
}

func (m *memJournal) Count(s journal.Stream, substr string) int {
	n := 0
	for _, l := range m.Lines(s) {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}

// flag is an in-process stand-in for the shared enablement flag.
type flag struct {
	v      atomic.Int32
	closed atomic.Bool
}

func (f *flag) Enabled() bool { return f.v.Load() != 0 }

func (f *flag) Close() error {
	f.closed.Store(true)
	return nil
}

// graph is a table-driven EventSource.
type graph struct {
	modules    map[ModuleID]ModuleInfo
	assemblies map[AssemblyID]string
	functions  map[FunctionID]FunctionInfo
	classes    map[ClassID]ClassInfo

	classLookups    atomic.Int64
	assemblyLookups atomic.Int64
	handler         Handler
	released        atomic.Bool
}

func newGraph() *graph {
	return &graph{
		modules:    make(map[ModuleID]ModuleInfo),
		assemblies: make(map[AssemblyID]string),
		functions:  make(map[FunctionID]FunctionInfo),
		classes:    make(map[ClassID]ClassInfo),
	}
}

func (g *graph) ModuleInfo(id ModuleID) (ModuleInfo, error) {
	mi, ok := g.modules[id]
	if !ok {
		return ModuleInfo{}, errNotFound
	}
	return mi, nil
}

func (g *graph) AssemblyName(id AssemblyID) (string, error) {
	g.assemblyLookups.Add(1)
	name, ok := g.assemblies[id]
	if !ok {
		return "", errNotFound
	}
	return name, nil
}

func (g *graph) EnterFrame(FunctionID, EnterInfo) (FrameToken, error) { return 1, nil }

func (g *graph) FunctionInfo(id FunctionID, _ FrameToken) (FunctionInfo, error) {
	fi, ok := g.functions[id]
	if !ok {
		return FunctionInfo{}, errNotFound
	}
	return fi, nil
}

func (g *graph) ClassInfo(id ClassID) (ClassInfo, error) {
	g.classLookups.Add(1)
	ci, ok := g.classes[id]
	if !ok {
		return ClassInfo{}, errNotFound
	}
	return ci, nil
}

func (g *graph) SetEventMask(EventMask) error { return nil }

func (g *graph) Subscribe(h Handler) error {
	g.handler = h
	return nil
}

func (g *graph) Release() { g.released.Store(true) }

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func noGate(string) (Gate, error) { return nil, errNotFound }
