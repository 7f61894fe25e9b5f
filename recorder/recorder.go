// Package recorder captures JIT compilation and function entry events of a
// managed runtime and writes each compiled function, entered function and
// touched module exactly once to a journal.
package recorder

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/elastic/go-freelru"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/pyroscope-io/jitrec/journal"
	"github.com/pyroscope-io/jitrec/shmflag"
)

var (
	ErrInvalidSource      = errors.New("invalid event source")
	ErrAlreadyInitialized = errors.New("recorder already initialized")
)

// DefaultMapName is the name of the shared enablement flag region.
const DefaultMapName = "SIG_JITPROFILER"

// Journal receives serialised records.
type Journal interface {
	Append(s journal.Stream, record []byte)
}

// Gate tells whether recording is currently enabled. It is consulted on
// every event and must not block.
type Gate interface {
	Enabled() bool
}

// GateOpener opens the gate by name. An error means the gate is absent,
// in which case recording is always enabled.
type GateOpener func(name string) (Gate, error)

// OpenSharedFlag maps the named shared memory flag. It is the default
// GateOpener.
func OpenSharedFlag(name string) (Gate, error) {
	f, err := shmflag.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

type Recorder struct {
	journal  Journal
	log      logrus.FieldLogger
	maxDepth int
	mapName  string
	opener   GateOpener

	mu   sync.Mutex
	src  EventSource
	gate Gate
	live atomic.Bool

	compiled *Seen[FunctionID]
	entered  *Seen[FunctionID]
	modules  *Seen[ModuleID]

	assemblies *freelru.SyncedLRU[AssemblyID, string]
}

type Option func(*Recorder)

// WithMaxRecurseDepth sets the generic argument depth ceiling. Values
// below 1 are ignored.
func WithMaxRecurseDepth(d int) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.maxDepth = d
		}
	}
}

func WithMapName(name string) Option {
	return func(r *Recorder) {
		if name != "" {
			r.mapName = name
		}
	}
}

func WithGateOpener(o GateOpener) Option {
	return func(r *Recorder) { r.opener = o }
}

// WithGate installs g directly; the gate opener is not used.
func WithGate(g Gate) Option {
	return func(r *Recorder) {
		r.opener = func(string) (Gate, error) { return g, nil }
	}
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Recorder) { r.log = l }
}

func New(j Journal, options ...Option) *Recorder {
	r := &Recorder{
		journal:    j,
		log:        logrus.StandardLogger(),
		maxDepth:   DefaultMaxRecurseDepth,
		mapName:    DefaultMapName,
		opener:     OpenSharedFlag,
		compiled:   NewSeen[FunctionID](),
		entered:    NewSeen[FunctionID](),
		modules:    NewSeen[ModuleID](),
		assemblies: newAssemblyCache(),
	}
	for _, o := range options {
		o(r)
	}
	r.log = r.log.WithFields(logrus.Fields{
		"component": "recorder",
		"session":   xid.New().String(),
	})
	return r
}

func (r *Recorder) MaxRecurseDepth() int { return r.maxDepth }

// Initialize opens the enablement gate and subscribes r to src. A source
// that rejects the event mask or the subscription is released and the
// error is returned.
func (r *Recorder) Initialize(src EventSource) error {
	if src == nil {
		return ErrInvalidSource
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.src != nil {
		return ErrAlreadyInitialized
	}

	// The gate and the source are in place before the first event can
	// arrive; handlers read them without locking.
	r.openGate()
	r.src = src

	if err := src.SetEventMask(eventMask); err != nil {
		r.abortInitialize(src)
		return fmt.Errorf("set event mask: %w", err)
	}
	r.live.Store(true)
	if err := src.Subscribe(r); err != nil {
		r.live.Store(false)
		r.abortInitialize(src)
		return fmt.Errorf("subscribe: %w", err)
	}
	r.log.WithField("max_recurse_depth", r.maxDepth).Info("recorder initialized")
	return nil
}

func (r *Recorder) abortInitialize(src EventSource) {
	src.Release()
	r.src = nil
	r.closeGate()
	r.log.Error("recorder initialization failed")
}

func (r *Recorder) openGate() {
	if r.opener == nil {
		return
	}
	g, err := r.opener(r.mapName)
	if err != nil {
		r.log.WithError(err).WithField("map", r.mapName).Debug("enablement flag not mapped, recording always enabled")
		return
	}
	r.gate = g
}

func (r *Recorder) closeGate() {
	if c, ok := r.gate.(io.Closer); ok {
		_ = c.Close()
	}
	r.gate = nil
}

// Shutdown releases the event source. Events delivered afterwards are
// ignored.
func (r *Recorder) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.live.Swap(false) {
		return
	}
	r.src.Release()
	r.log.WithFields(logrus.Fields{
		"compiled": r.compiled.Len(),
		"entered":  r.entered.Len(),
		"modules":  r.modules.Len(),
	}).Info("recorder shut down")
}

// Close unmaps the enablement gate. It must only be called once the
// runtime no longer delivers events.
func (r *Recorder) Close() error {
	r.Shutdown()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeGate()
	return nil
}

func (r *Recorder) enabled() bool {
	if !r.live.Load() {
		return false
	}
	return r.gate == nil || r.gate.Enabled()
}

// JITCompilationStarted records id the first time it is compiled.
func (r *Recorder) JITCompilationStarted(id FunctionID, _ bool) {
	if !r.enabled() || !r.compiled.ShouldRecord(id) {
		return
	}
	r.journal.Append(journal.JIT, jitRecord(id))
}

// FunctionEnter records id, its declaring type and generic arguments the
// first time the function is entered.
func (r *Recorder) FunctionEnter(id FunctionID, info EnterInfo) {
	if !r.enabled() || !r.entered.ShouldRecord(id) {
		return
	}

	frame, err := r.src.EnterFrame(id, info)
	if err != nil {
		frame = 0
	}
	fi, err := r.src.FunctionInfo(id, frame)
	if err != nil {
		r.log.WithError(err).WithField("function", uint64(id)).Debug("function lookup failed")
		return
	}

	rec := enterRecord{
		function: id,
		module:   fi.ModuleID,
		token:    fi.Token,
	}
	var declaring []ClassID
	if fi.ClassID != 0 {
		ci, err := r.src.ClassInfo(fi.ClassID)
		if err != nil {
			r.log.WithError(err).WithField("class", uint64(fi.ClassID)).Debug("declaring type lookup failed")
		} else {
			rec.typeModule = ci.ModuleID
			rec.typeToken = ci.TypeDef
			declaring = ci.TypeArgs
		}
	}
	rec.declaringArgs = r.resolveTypeArgs(declaring)
	rec.methodArgs = r.resolveTypeArgs(fi.TypeArgs)

	r.ensureModuleLogged(rec.module)
	r.ensureModuleLogged(rec.typeModule)
	for _, args := range [][]TypeArg{rec.declaringArgs, rec.methodArgs} {
		for _, a := range args {
			walkModules(a, 0, r.maxDepth, r.ensureModuleLogged)
		}
	}

	r.journal.Append(journal.Enter, rec.marshal(r.maxDepth))
}
