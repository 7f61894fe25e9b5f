// Package eventpipe drives a recorder from the runtime events of an
// EventPipe session. Compilations are reported from MethodJittingStarted
// events and, for methods compiled before the session started, from the
// method rundown. Function entry is not observable this way.
package eventpipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/pyroscope-io/jitrec/nettrace"
	"github.com/pyroscope-io/jitrec/recorder"
)

var (
	ErrUnknown     = errors.New("unknown identifier")
	ErrUnsupported = errors.New("not available from EventPipe events")
)

type eventKey struct {
	provider string
	id       int32
}

var (
	jittingStarted = eventKey{nettrace.ProviderRuntime, nettrace.EventMethodJittingStarted}
	methodLoad     = eventKey{nettrace.ProviderRuntime, nettrace.EventMethodLoadVerbose}
	methodDCEnd    = eventKey{nettrace.ProviderRundown, nettrace.EventMethodDCEndVerbose}
	moduleLoad     = eventKey{nettrace.ProviderRuntime, nettrace.EventModuleLoad}
	moduleDCEnd    = eventKey{nettrace.ProviderRundown, nettrace.EventModuleDCEnd}
	assemblyLoad   = eventKey{nettrace.ProviderRuntime, nettrace.EventAssemblyLoad}
	assemblyDCEnd  = eventKey{nettrace.ProviderRundown, nettrace.EventAssemblyDCEnd}
)

// Source implements recorder.EventSource on top of a NetTrace stream.
type Source struct {
	stream *nettrace.Stream
	log    logrus.FieldLogger
	md     map[int32]*nettrace.Metadata
	sym    *Symbols

	mu       sync.RWMutex
	mask     recorder.EventMask
	handler  recorder.Handler
	released bool

	compilations atomic.Int64
	skipped      atomic.Int64
}

type Option func(*Source)

func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Source) { s.log = l }
}

// NewSource installs the event and metadata handlers of stream. The
// stream must be open.
func NewSource(stream *nettrace.Stream, options ...Option) *Source {
	s := &Source{
		stream: stream,
		log:    logrus.StandardLogger(),
		md:     make(map[int32]*nettrace.Metadata),
		sym:    NewSymbols(),
	}
	for _, o := range options {
		o(s)
	}
	s.log = s.log.WithField("component", "eventpipe")
	stream.EventHandler = s.EventHandler
	stream.MetadataHandler = s.MetadataHandler
	return s
}

// Run processes the stream until it ends or ctx is cancelled. The end of
// the stream is not an error.
func (s *Source) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch err := s.stream.Next(); {
		case err == nil:
		case errors.Is(err, io.EOF):
			s.log.WithFields(logrus.Fields{
				"compilations": s.compilations.Load(),
				"skipped":      s.skipped.Load(),
			}).Debug("stream ended")
			return nil
		default:
			return err
		}
	}
}

func (s *Source) MetadataHandler(md *nettrace.Metadata) error {
	s.md[md.Header.MetadataID] = md
	return nil
}

// EventHandler handles a single event. Events that can not be decoded are
// counted and skipped.
func (s *Source) EventHandler(e *nettrace.Blob) error {
	md, ok := s.md[e.Header.MetadataID]
	if !ok {
		return fmt.Errorf("%w: metadata %d not found", nettrace.ErrInvalidFormat, e.Header.MetadataID)
	}
	var err error
	switch (eventKey{md.Header.ProviderName, md.Header.EventID}) {
	case jittingStarted:
		err = s.jittingStarted(e)
	case methodLoad, methodDCEnd:
		err = s.methodLoad(e)
	case moduleLoad, moduleDCEnd:
		var d nettrace.ModuleLoad
		if d, err = nettrace.ParseModuleLoad(e.Payload); err == nil {
			s.sym.addModule(d)
		}
	case assemblyLoad, assemblyDCEnd:
		var d nettrace.AssemblyLoad
		if d, err = nettrace.ParseAssemblyLoad(e.Payload); err == nil {
			s.sym.addAssembly(d)
		}
	default:
		return nil
	}
	if err != nil {
		s.skipped.Add(1)
		s.log.WithError(err).WithField("event", md.Header.EventName).Debug("malformed event skipped")
	}
	return nil
}

func (s *Source) jittingStarted(e *nettrace.Blob) error {
	d, err := nettrace.ParseMethodJittingStarted(e.Payload)
	if err != nil {
		return err
	}
	s.sym.addMethod(d.MethodID, d.ModuleID, d.MethodToken, d.String())
	s.compiled(recorder.FunctionID(d.MethodID))
	return nil
}

func (s *Source) methodLoad(e *nettrace.Blob) error {
	d, err := nettrace.ParseMethodLoad(e.Payload)
	if err != nil {
		return err
	}
	s.sym.addMethod(d.MethodID, d.ModuleID, d.MethodToken, d.String())
	// Precompiled code never went through the JIT.
	if d.Jitted() {
		s.compiled(recorder.FunctionID(d.MethodID))
	}
	return nil
}

func (s *Source) compiled(id recorder.FunctionID) {
	s.mu.RLock()
	h := s.handler
	if s.released || s.mask&recorder.MonitorJITCompilation == 0 {
		h = nil
	}
	s.mu.RUnlock()
	if h != nil {
		s.compilations.Add(1)
		h.JITCompilationStarted(id, true)
	}
}

// Compilations reports how many compilation events were delivered.
func (s *Source) Compilations() int64 { return s.compilations.Load() }

// Skipped reports how many events could not be decoded.
func (s *Source) Skipped() int64 { return s.skipped.Load() }

// Symbols returns the names collected so far.
func (s *Source) Symbols() *Symbols { return s.sym }

func (s *Source) SetEventMask(m recorder.EventMask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m&recorder.MonitorEnterLeave != 0 {
		s.log.Debug("function entry is not reported by EventPipe sessions")
	}
	s.mask = m
	return nil
}

func (s *Source) Subscribe(h recorder.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
	return nil
}

func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = true
	s.handler = nil
}

func (s *Source) ModuleInfo(id recorder.ModuleID) (recorder.ModuleInfo, error) {
	m, ok := s.sym.module(uint64(id))
	if !ok {
		return recorder.ModuleInfo{}, fmt.Errorf("module %d: %w", id, ErrUnknown)
	}
	return recorder.ModuleInfo{Name: m.ModuleILPath, AssemblyID: recorder.AssemblyID(m.AssemblyID)}, nil
}

func (s *Source) AssemblyName(id recorder.AssemblyID) (string, error) {
	name, ok := s.sym.assembly(uint64(id))
	if !ok {
		return "", fmt.Errorf("assembly %d: %w", id, ErrUnknown)
	}
	return name, nil
}

func (s *Source) EnterFrame(recorder.FunctionID, recorder.EnterInfo) (recorder.FrameToken, error) {
	return 0, ErrUnsupported
}

// FunctionInfo resolves the module and token of a method seen in the
// stream. The declaring class is not known.
func (s *Source) FunctionInfo(id recorder.FunctionID, _ recorder.FrameToken) (recorder.FunctionInfo, error) {
	m, ok := s.sym.method(uint64(id))
	if !ok {
		return recorder.FunctionInfo{}, fmt.Errorf("function %d: %w", id, ErrUnknown)
	}
	return recorder.FunctionInfo{ModuleID: recorder.ModuleID(m.moduleID), Token: recorder.Token(m.token)}, nil
}

func (s *Source) ClassInfo(recorder.ClassID) (recorder.ClassInfo, error) {
	return recorder.ClassInfo{}, ErrUnsupported
}
