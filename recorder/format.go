package recorder

import (
	"strconv"
	"unicode/utf8"
)

const hex = "0123456789abcdef"

// EscapeString returns s escaped for use inside a JSON string literal.
func EscapeString(s string) string {
	return string(appendEscaped(nil, s))
}

func appendEscaped(b []byte, s string) []byte {
	start := 0
	for i := 0; i < len(s); {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			if c < utf8.RuneSelf {
				i++
				continue
			}
			r, size := utf8.DecodeRuneInString(s[i:])
			if r == utf8.RuneError && size == 1 {
				b = append(b, s[start:i]...)
				b = append(b, "\ufffd"...)
				i += size
				start = i
				continue
			}
			i += size
			continue
		}
		b = append(b, s[start:i]...)
		switch c {
		case '"':
			b = append(b, '\\', '"')
		case '\\':
			b = append(b, '\\', '\\')
		case '\b':
			b = append(b, '\\', 'b')
		case '\f':
			b = append(b, '\\', 'f')
		case '\n':
			b = append(b, '\\', 'n')
		case '\r':
			b = append(b, '\\', 'r')
		case '\t':
			b = append(b, '\\', 't')
		default:
			b = append(b, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
		}
		i++
		start = i
	}
	return append(b, s[start:]...)
}

func appendField(b []byte, first bool, name string) []byte {
	if !first {
		b = append(b, ',')
	}
	b = append(b, '"')
	b = append(b, name...)
	return append(b, '"', ':')
}

func appendUint(b []byte, first bool, name string, v uint64) []byte {
	return strconv.AppendUint(appendField(b, first, name), v, 10)
}

func appendString(b []byte, first bool, name, v string) []byte {
	b = append(appendField(b, first, name), '"')
	return append(appendEscaped(b, v), '"')
}

// appendTypeArg serialises n. Children of nodes at depth >= maxDepth are
// never written, whatever the node holds.
func appendTypeArg(b []byte, n TypeArg, depth, maxDepth int) []byte {
	nested := n.Nested
	if depth >= maxDepth {
		nested = nil
	}
	b = append(b, '{')
	b = appendUint(b, true, "ModuleID", uint64(n.Module))
	b = appendUint(b, false, "TypeDef", uint64(n.TypeDef))
	b = appendUint(b, false, "NestedCount", uint64(len(nested)))
	if len(nested) > 0 {
		b = append(appendField(b, false, "Nested"), '[')
		for i, c := range nested {
			if i > 0 {
				b = append(b, ',')
			}
			b = appendTypeArg(b, c, depth+1, maxDepth)
		}
		b = append(b, ']')
	}
	return append(b, '}')
}

func appendTypeArgs(b []byte, name string, args []TypeArg, maxDepth int) []byte {
	b = appendUint(b, false, name+"Count", uint64(len(args)))
	if len(args) == 0 {
		return b
	}
	b = append(appendField(b, false, name+"s"), '[')
	for i, a := range args {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendTypeArg(b, a, 0, maxDepth)
	}
	return append(b, ']')
}

func jitRecord(id FunctionID) []byte {
	b := make([]byte, 0, 32)
	b = append(b, '{')
	b = appendUint(b, true, "FunctionID", uint64(id))
	return append(b, '}')
}

func moduleRecord(id ModuleID, name string, asm AssemblyID, asmName string) []byte {
	b := make([]byte, 0, 64+len(name)+len(asmName))
	b = append(b, '{')
	b = appendUint(b, true, "ModuleID", uint64(id))
	b = appendString(b, false, "ModuleName", name)
	b = appendUint(b, false, "AssemblyID", uint64(asm))
	b = appendString(b, false, "AssemblyName", asmName)
	return append(b, '}')
}

// enterRecord is the entry-stream record of one function.
type enterRecord struct {
	function      FunctionID
	module        ModuleID
	token         Token
	typeModule    ModuleID
	typeToken     Token
	declaringArgs []TypeArg
	methodArgs    []TypeArg
}

func (e *enterRecord) marshal(maxDepth int) []byte {
	b := make([]byte, 0, 192)
	b = append(b, '{')
	b = appendUint(b, true, "FunctionID", uint64(e.function))
	b = appendUint(b, false, "ModuleID", uint64(e.module))
	b = appendUint(b, false, "MethodToken", uint64(e.token))
	b = appendUint(b, false, "DeclaringTypeModuleID", uint64(e.typeModule))
	b = appendUint(b, false, "DeclaringTypeToken", uint64(e.typeToken))
	b = appendTypeArgs(b, "DeclaringTypeArg", e.declaringArgs, maxDepth)
	b = appendTypeArgs(b, "MethodTypeArg", e.methodArgs, maxDepth)
	return append(b, '}')
}
