package eventpipe

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/pyroscope-io/jitrec/nettrace"
)

type method struct {
	moduleID uint64
	token    uint32
	name     string
}

// Symbols maps method and module identifiers to the names carried by
// method, module and assembly load events.
type Symbols struct {
	mu         sync.RWMutex
	methods    map[uint64]method
	modules    map[uint64]nettrace.ModuleLoad
	assemblies map[uint64]string
}

func NewSymbols() *Symbols {
	return &Symbols{
		methods:    make(map[uint64]method),
		modules:    make(map[uint64]nettrace.ModuleLoad),
		assemblies: make(map[uint64]string),
	}
}

// ReadSymbols collects the names of a complete NetTrace stream, such as
// the file written by the collect command.
func ReadSymbols(ctx context.Context, r io.Reader, log logrus.FieldLogger) (*Symbols, error) {
	stream := nettrace.NewStream(r)
	if _, err := stream.Open(); err != nil {
		return nil, err
	}
	s := NewSource(stream, WithLogger(log))
	if err := s.Run(ctx); err != nil {
		return nil, err
	}
	return s.Symbols(), nil
}

func (s *Symbols) addMethod(id, moduleID uint64, token uint32, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[id] = method{moduleID: moduleID, token: token, name: name}
}

func (s *Symbols) addModule(m nettrace.ModuleLoad) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modules[m.ModuleID] = m
}

// addAssembly keeps the simple name of the assembly.
func (s *Symbols) addAssembly(a nettrace.AssemblyLoad) {
	name := a.FullyQualifiedAssemblyName
	if i := strings.IndexByte(name, ','); i >= 0 {
		name = name[:i]
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assemblies[a.AssemblyID] = name
}

func (s *Symbols) method(id uint64) (method, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.methods[id]
	return m, ok
}

func (s *Symbols) module(id uint64) (nettrace.ModuleLoad, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.modules[id]
	return m, ok
}

func (s *Symbols) assembly(id uint64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.assemblies[id]
	return name, ok
}

// MethodName returns module!Namespace.Name(args). The module is "?" when
// its load event was not seen.
func (s *Symbols) MethodName(id uint64) (string, bool) {
	m, ok := s.method(id)
	if !ok {
		return "", false
	}
	mod, ok := s.ModuleName(m.moduleID)
	if !ok {
		mod = "?"
	}
	return fmt.Sprintf("%s!%s", mod, m.name), true
}

func (s *Symbols) ModuleName(id uint64) (string, bool) {
	m, ok := s.module(id)
	if !ok {
		return "", false
	}
	return m.String(), true
}

// Len returns the number of named methods.
func (s *Symbols) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.methods)
}
