package recorder

// Identifiers handed out by the hosting runtime. They are opaque: the
// recorder never interprets them beyond equality.
type (
	FunctionID uint64
	ModuleID   uint64
	ClassID    uint64
	AssemblyID uint64

	// Token is a metadata token (mdMethodDef, mdTypeDef) scoped to a module.
	Token uint32

	// FrameToken identifies a single function-entry frame; it is only
	// valid for the duration of the enter callback that produced it.
	FrameToken uintptr

	// EnterInfo is the opaque argument of the function-enter hook which
	// the runtime exchanges for a FrameToken.
	EnterInfo uintptr
)

// EventMask selects the runtime events delivered to a Handler.
// Values match COR_PRF_MONITOR.
type EventMask uint32

const (
	MonitorJITCompilation EventMask = 0x00000020
	MonitorEnterLeave     EventMask = 0x00000800
	EnableFrameInfo       EventMask = 0x08000000
)

const eventMask = MonitorJITCompilation | MonitorEnterLeave | EnableFrameInfo

type ModuleInfo struct {
	Name       string
	AssemblyID AssemblyID
}

type FunctionInfo struct {
	ClassID  ClassID
	ModuleID ModuleID
	Token    Token
	// TypeArgs holds the method-level generic arguments.
	TypeArgs []ClassID
}

type ClassInfo struct {
	ModuleID ModuleID
	TypeDef  Token
	TypeArgs []ClassID
}

// Metadata is the lookup capability of the hosting runtime. Every call
// may fail; a failure never aborts event recording.
type Metadata interface {
	ModuleInfo(ModuleID) (ModuleInfo, error)
	AssemblyName(AssemblyID) (string, error)
	EnterFrame(FunctionID, EnterInfo) (FrameToken, error)
	FunctionInfo(FunctionID, FrameToken) (FunctionInfo, error)
	ClassInfo(ClassID) (ClassInfo, error)
}

// Handler receives runtime events. Implementations must be safe for
// concurrent use: the runtime calls them from many threads at once.
type Handler interface {
	JITCompilationStarted(id FunctionID, safeToBlock bool)
	FunctionEnter(id FunctionID, info EnterInfo)
}

// EventSource is the runtime side of the profiling session.
type EventSource interface {
	Metadata
	SetEventMask(EventMask) error
	// Subscribe binds h to the compilation callback and the enter hook.
	Subscribe(h Handler) error
	Release()
}
