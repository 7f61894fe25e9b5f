package nettrace

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	ProviderRuntime = "Microsoft-Windows-DotNETRuntime"
	ProviderRundown = "Microsoft-Windows-DotNETRuntimeRundown"
)

// ProviderRuntime events.
const (
	EventMethodLoadVerbose    = 143
	EventMethodJittingStarted = 145
	EventModuleLoad           = 152
	EventAssemblyLoad         = 154
)

// ProviderRundown events, emitted when a session with rundown stops.
const (
	EventMethodDCEndVerbose = 144
	EventModuleDCEnd        = 154
	EventAssemblyDCEnd      = 156
)

// ProviderRuntime keywords.
const (
	KeywordLoader = 0x8
	KeywordJIT    = 0x10
)

const LevelVerbose = 5

// MethodFlagJitted marks methods compiled by the JIT, as opposed to
// precompiled (ReadyToRun) code.
const MethodFlagJitted = 0x8

// MethodLoad describes MethodLoadVerbose and MethodDCEndVerbose payloads.
type MethodLoad struct {
	MethodID           uint64
	ModuleID           uint64
	MethodStartAddress uint64
	MethodSize         uint32
	MethodToken        uint32
	MethodFlags        uint32
	MethodNamespace    string
	MethodName         string
	MethodSignature    string
}

func ParseMethodLoad(b *bytes.Buffer) (MethodLoad, error) {
	p := NewParser(b)
	var d MethodLoad
	p.Read(&d.MethodID)
	p.Read(&d.ModuleID)
	p.Read(&d.MethodStartAddress)
	p.Read(&d.MethodSize)
	p.Read(&d.MethodToken)
	p.Read(&d.MethodFlags)
	d.MethodNamespace = p.UTF16NTS()
	d.MethodName = p.UTF16NTS()
	d.MethodSignature = p.UTF16NTS()
	return d, p.Err()
}

func (d MethodLoad) Jitted() bool { return d.MethodFlags&MethodFlagJitted != 0 }

func (d MethodLoad) String() string {
	return methodString(d.MethodNamespace, d.MethodName, d.MethodSignature)
}

// MethodJittingStarted is emitted right before the JIT compiles a method.
type MethodJittingStarted struct {
	MethodID        uint64
	ModuleID        uint64
	MethodToken     uint32
	MethodILSize    uint32
	MethodNamespace string
	MethodName      string
	MethodSignature string
}

func ParseMethodJittingStarted(b *bytes.Buffer) (MethodJittingStarted, error) {
	p := NewParser(b)
	var d MethodJittingStarted
	p.Read(&d.MethodID)
	p.Read(&d.ModuleID)
	p.Read(&d.MethodToken)
	p.Read(&d.MethodILSize)
	d.MethodNamespace = p.UTF16NTS()
	d.MethodName = p.UTF16NTS()
	d.MethodSignature = p.UTF16NTS()
	return d, p.Err()
}

func (d MethodJittingStarted) String() string {
	return methodString(d.MethodNamespace, d.MethodName, d.MethodSignature)
}

// methodString renders Namespace.Name(args) the way PerfView does; the
// signature carries the return type before the argument list.
func methodString(ns, name, sig string) string {
	p := strings.Index(sig, "(")
	if p < 0 {
		p = len(sig)
	}
	return fmt.Sprintf("%s.%s%s", ns, name, sig[p:])
}

// ModuleLoad describes ModuleLoad and ModuleDCEnd payloads.
type ModuleLoad struct {
	ModuleID         uint64
	AssemblyID       uint64
	ModuleFlags      uint32
	ModuleILPath     string
	ModuleNativePath string
}

func ParseModuleLoad(b *bytes.Buffer) (ModuleLoad, error) {
	p := NewParser(b)
	var d ModuleLoad
	p.Read(&d.ModuleID)
	p.Read(&d.AssemblyID)
	p.Read(&d.ModuleFlags)
	p.Skip(4) // Reserved1
	d.ModuleILPath = p.UTF16NTS()
	d.ModuleNativePath = p.UTF16NTS()
	return d, p.Err()
}

// String returns the file name of the module without extension.
func (d ModuleLoad) String() string {
	path := strings.ReplaceAll(d.ModuleILPath, `\`, "/")
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// AssemblyLoad describes AssemblyLoad and AssemblyDCEnd payloads.
type AssemblyLoad struct {
	AssemblyID                 uint64
	AppDomainID                uint64
	BindingID                  uint64
	AssemblyFlags              uint32
	FullyQualifiedAssemblyName string
}

func ParseAssemblyLoad(b *bytes.Buffer) (AssemblyLoad, error) {
	p := NewParser(b)
	var d AssemblyLoad
	p.Read(&d.AssemblyID)
	p.Read(&d.AppDomainID)
	p.Read(&d.BindingID)
	p.Read(&d.AssemblyFlags)
	d.FullyQualifiedAssemblyName = p.UTF16NTS()
	return d, p.Err()
}
