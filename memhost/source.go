// Package memhost is an in-memory runtime that delivers JIT compilation and
// function entry events to a recorder from static metadata tables. It backs
// the replay command and end-to-end tests.
package memhost

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pyroscope-io/jitrec/recorder"
)

var (
	ErrUnknown  = errors.New("unknown identifier")
	ErrInjected = errors.New("injected failure")
	ErrReleased = errors.New("source released")
)

type lookup int

const (
	lookupModule lookup = iota
	lookupAssembly
	lookupFunction
	lookupClass
	lookupFrame

	lookupCount
)

// Source implements recorder.EventSource.
type Source struct {
	mu         sync.RWMutex
	modules    map[recorder.ModuleID]recorder.ModuleInfo
	assemblies map[recorder.AssemblyID]string
	functions  map[recorder.FunctionID]recorder.FunctionInfo
	classes    map[recorder.ClassID]recorder.ClassInfo
	failing    map[lookup]map[uint64]struct{}

	maskErr      error
	subscribeErr error

	mask     recorder.EventMask
	handler  recorder.Handler
	released bool

	calls [lookupCount]atomic.Int64
}

func NewSource() *Source {
	return &Source{
		modules:    make(map[recorder.ModuleID]recorder.ModuleInfo),
		assemblies: make(map[recorder.AssemblyID]string),
		functions:  make(map[recorder.FunctionID]recorder.FunctionInfo),
		classes:    make(map[recorder.ClassID]recorder.ClassInfo),
		failing:    make(map[lookup]map[uint64]struct{}),
	}
}

func (s *Source) AddAssembly(id recorder.AssemblyID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assemblies[id] = name
}

func (s *Source) AddModule(id recorder.ModuleID, info recorder.ModuleInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[id] = info
}

func (s *Source) AddClass(id recorder.ClassID, info recorder.ClassInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes[id] = info
}

func (s *Source) AddFunction(id recorder.FunctionID, info recorder.FunctionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.functions[id] = info
}

func (s *Source) fail(l lookup, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.failing[l]
	if m == nil {
		m = make(map[uint64]struct{})
		s.failing[l] = m
	}
	m[id] = struct{}{}
}

func (s *Source) FailModule(id recorder.ModuleID)     { s.fail(lookupModule, uint64(id)) }
func (s *Source) FailAssembly(id recorder.AssemblyID) { s.fail(lookupAssembly, uint64(id)) }
func (s *Source) FailFunction(id recorder.FunctionID) { s.fail(lookupFunction, uint64(id)) }
func (s *Source) FailClass(id recorder.ClassID)       { s.fail(lookupClass, uint64(id)) }
func (s *Source) FailFrame(id recorder.FunctionID)    { s.fail(lookupFrame, uint64(id)) }

// RejectEventMask makes SetEventMask return err.
func (s *Source) RejectEventMask(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maskErr = err
}

// RejectSubscribe makes Subscribe return err.
func (s *Source) RejectSubscribe(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribeErr = err
}

// begin counts the lookup and reports an injected failure, if any. The
// read lock is held on return when err is nil.
func (s *Source) begin(l lookup, id uint64) error {
	s.calls[l].Add(1)
	s.mu.RLock()
	if _, ok := s.failing[l][id]; ok {
		s.mu.RUnlock()
		return fmt.Errorf("%w: %d", ErrInjected, id)
	}
	return nil
}

func (s *Source) ModuleInfo(id recorder.ModuleID) (recorder.ModuleInfo, error) {
	if err := s.begin(lookupModule, uint64(id)); err != nil {
		return recorder.ModuleInfo{}, err
	}
	defer s.mu.RUnlock()
	mi, ok := s.modules[id]
	if !ok {
		return recorder.ModuleInfo{}, fmt.Errorf("module %d: %w", id, ErrUnknown)
	}
	return mi, nil
}

func (s *Source) AssemblyName(id recorder.AssemblyID) (string, error) {
	if err := s.begin(lookupAssembly, uint64(id)); err != nil {
		return "", err
	}
	defer s.mu.RUnlock()
	name, ok := s.assemblies[id]
	if !ok {
		return "", fmt.Errorf("assembly %d: %w", id, ErrUnknown)
	}
	return name, nil
}

func (s *Source) EnterFrame(id recorder.FunctionID, _ recorder.EnterInfo) (recorder.FrameToken, error) {
	if err := s.begin(lookupFrame, uint64(id)); err != nil {
		return 0, err
	}
	s.mu.RUnlock()
	return recorder.FrameToken(id), nil
}

func (s *Source) FunctionInfo(id recorder.FunctionID, _ recorder.FrameToken) (recorder.FunctionInfo, error) {
	if err := s.begin(lookupFunction, uint64(id)); err != nil {
		return recorder.FunctionInfo{}, err
	}
	defer s.mu.RUnlock()
	fi, ok := s.functions[id]
	if !ok {
		return recorder.FunctionInfo{}, fmt.Errorf("function %d: %w", id, ErrUnknown)
	}
	fi.TypeArgs = append([]recorder.ClassID(nil), fi.TypeArgs...)
	return fi, nil
}

func (s *Source) ClassInfo(id recorder.ClassID) (recorder.ClassInfo, error) {
	if err := s.begin(lookupClass, uint64(id)); err != nil {
		return recorder.ClassInfo{}, err
	}
	defer s.mu.RUnlock()
	ci, ok := s.classes[id]
	if !ok {
		return recorder.ClassInfo{}, fmt.Errorf("class %d: %w", id, ErrUnknown)
	}
	ci.TypeArgs = append([]recorder.ClassID(nil), ci.TypeArgs...)
	return ci, nil
}

func (s *Source) SetEventMask(m recorder.EventMask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maskErr != nil {
		return s.maskErr
	}
	s.mask = m
	return nil
}

func (s *Source) Subscribe(h recorder.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribeErr != nil {
		return s.subscribeErr
	}
	s.handler = h
	return nil
}

func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.handler = nil
}

func (s *Source) Released() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.released
}

func (s *Source) EventMask() recorder.EventMask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mask
}

// AssemblyLookups reports how many times AssemblyName was called.
func (s *Source) AssemblyLookups() int64 { return s.calls[lookupAssembly].Load() }

func (s *Source) ClassLookups() int64 { return s.calls[lookupClass].Load() }

func (s *Source) subscriber(bit recorder.EventMask) (recorder.Handler, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.released:
		return nil, ErrReleased
	case s.handler == nil, s.mask&bit == 0:
		return nil, nil
	}
	return s.handler, nil
}

// CompilationStarted delivers a JIT compilation event. Nothing is
// delivered unless a handler subscribed with the compilation bit set.
func (s *Source) CompilationStarted(id recorder.FunctionID) error {
	h, err := s.subscriber(recorder.MonitorJITCompilation)
	if h != nil {
		h.JITCompilationStarted(id, true)
	}
	return err
}

// Enter delivers a function entry event.
func (s *Source) Enter(id recorder.FunctionID) error {
	h, err := s.subscriber(recorder.MonitorEnterLeave)
	if h != nil {
		h.FunctionEnter(id, recorder.EnterInfo(id))
	}
	return err
}

// Gate is an in-process enablement flag. The zero value is disabled.
type Gate struct {
	v atomic.Int32
}

func NewGate(enabled bool) *Gate {
	g := &Gate{}
	g.Set(enabled)
	return g
}

func (g *Gate) Enabled() bool { return g.v.Load() != 0 }

func (g *Gate) Set(enabled bool) {
	if enabled {
		g.v.Store(1)
	} else {
		g.v.Store(0)
	}
}
