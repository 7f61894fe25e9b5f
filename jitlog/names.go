package jitlog

// Names resolves function identifiers to method names, for instance from
// the method events of an EventPipe trace.
type Names interface {
	MethodName(id uint64) (string, bool)
}

// Symbolize names the compiled and entered functions of l that n knows
// and returns how many were named.
func (l *Log) Symbolize(n Names) int {
	if l.Names == nil {
		l.Names = make(map[uint64]string)
	}
	add := func(id uint64) {
		if name, ok := n.MethodName(id); ok {
			l.Names[id] = name
		}
	}
	for _, id := range l.Compiled {
		add(id)
	}
	for id := range l.Entries {
		add(id)
	}
	return len(l.Names)
}
