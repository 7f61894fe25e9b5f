package jitlog

import (
	"fmt"
	"sort"
	"strings"
)

// Type is a type argument or declaring type with its module resolved.
type Type struct {
	Module  Module
	TypeDef uint32
	Args    []Type
}

func (t Type) String() string {
	var b strings.Builder
	t.write(&b)
	return b.String()
}

func (t Type) write(b *strings.Builder) {
	fmt.Fprintf(b, "%s!%08X", t.Module.ShortName(), t.TypeDef)
	writeArgs(b, t.Args)
}

func writeArgs(b *strings.Builder, args []Type) {
	if len(args) == 0 {
		return
	}
	b.WriteByte('<')
	for i, a := range args {
		if i > 0 {
			b.WriteByte(',')
		}
		a.write(b)
	}
	b.WriteByte('>')
}

// Method is a compiled function joined with its entry record and modules.
type Method struct {
	FunctionID    uint64
	Token         uint32
	Module        Module
	DeclaringType *Type
	TypeArgs      []Type
	// Name is set when the log was symbolized.
	Name string
}

// String renders the method as module!type<args>::token<args>, with
// metadata tokens in hex.
func (m Method) String() string {
	var b strings.Builder
	if m.DeclaringType != nil {
		m.DeclaringType.write(&b)
		b.WriteString("::")
	} else {
		b.WriteString(m.Module.ShortName())
		b.WriteByte('!')
	}
	fmt.Fprintf(&b, "%08X", m.Token)
	writeArgs(&b, m.TypeArgs)
	return b.String()
}

// Methods correlates every compiled function with its entry record and
// the modules that record refers to. Functions that can not be fully
// resolved are reported and skipped.
func (l *Log) Methods() ([]Method, []error) {
	var (
		methods []Method
		errs    []error
	)
	for _, id := range l.Compiled {
		e, ok := l.Entries[id]
		if !ok {
			if name, ok := l.Names[id]; ok {
				errs = append(errs, fmt.Errorf("FunctionID 0x%X (%s) from JIT log not found in Enter3 log", id, name))
			} else {
				errs = append(errs, fmt.Errorf("FunctionID 0x%X from JIT log not found in Enter3 log", id))
			}
			continue
		}
		m, err := l.method(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("FunctionID 0x%X: %w", id, err))
			continue
		}
		m.Name = l.Names[id]
		methods = append(methods, m)
	}
	return methods, errs
}

// Uncompiled returns the entered functions missing from jit.json, in
// ascending order.
func (l *Log) Uncompiled() []uint64 {
	compiled := make(map[uint64]struct{}, len(l.Compiled))
	for _, id := range l.Compiled {
		compiled[id] = struct{}{}
	}
	var ids []uint64
	for id := range l.Entries {
		if _, ok := compiled[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (l *Log) method(e Entry) (Method, error) {
	m := Method{FunctionID: e.FunctionID, Token: e.MethodToken}
	mod, ok := l.Modules[e.ModuleID]
	if !ok {
		return m, fmt.Errorf("module 0x%X not found for method token 0x%X", e.ModuleID, e.MethodToken)
	}
	m.Module = mod
	if e.DeclaringTypeModuleID != 0 {
		dm, ok := l.Modules[e.DeclaringTypeModuleID]
		if !ok {
			return m, fmt.Errorf("module 0x%X not found for declaring type token 0x%X", e.DeclaringTypeModuleID, e.DeclaringTypeToken)
		}
		args, err := l.types(e.DeclaringTypeArgs)
		if err != nil {
			return m, err
		}
		m.DeclaringType = &Type{Module: dm, TypeDef: e.DeclaringTypeToken, Args: args}
	}
	args, err := l.types(e.MethodTypeArgs)
	if err != nil {
		return m, err
	}
	m.TypeArgs = args
	return m, nil
}

func (l *Log) types(args []TypeArg) ([]Type, error) {
	if len(args) == 0 {
		return nil, nil
	}
	out := make([]Type, 0, len(args))
	for _, a := range args {
		mod, ok := l.Modules[a.ModuleID]
		if !ok {
			return nil, fmt.Errorf("module 0x%X not found for type argument 0x%X", a.ModuleID, a.TypeDef)
		}
		nested, err := l.types(a.Nested)
		if err != nil {
			return nil, err
		}
		out = append(out, Type{Module: mod, TypeDef: a.TypeDef, Args: nested})
	}
	return out, nil
}
