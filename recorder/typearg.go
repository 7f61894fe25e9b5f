package recorder

// DefaultMaxRecurseDepth bounds generic argument expansion.
const DefaultMaxRecurseDepth = 20

// TypeArg is one resolved generic type argument together with its own
// generic arguments.
type TypeArg struct {
	Module  ModuleID
	TypeDef Token
	Nested  []TypeArg
}

// resolveTypeArg expands id into a tree. Nodes at depth >= maxDepth are
// leaves. A failed lookup yields a zero node without children.
func (r *Recorder) resolveTypeArg(id ClassID, depth int) TypeArg {
	ci, err := r.src.ClassInfo(id)
	if err != nil {
		r.log.WithError(err).WithField("class", uint64(id)).Debug("class lookup failed")
		return TypeArg{}
	}
	n := TypeArg{Module: ci.ModuleID, TypeDef: ci.TypeDef}
	if depth >= r.maxDepth || len(ci.TypeArgs) == 0 {
		return n
	}
	n.Nested = make([]TypeArg, 0, len(ci.TypeArgs))
	for _, a := range ci.TypeArgs {
		n.Nested = append(n.Nested, r.resolveTypeArg(a, depth+1))
	}
	return n
}

func (r *Recorder) resolveTypeArgs(ids []ClassID) []TypeArg {
	if len(ids) == 0 {
		return nil
	}
	args := make([]TypeArg, 0, len(ids))
	for _, id := range ids {
		args = append(args, r.resolveTypeArg(id, 0))
	}
	return args
}

// walkModules calls fn for the module of every node down to maxDepth.
func walkModules(n TypeArg, depth, maxDepth int, fn func(ModuleID)) {
	fn(n.Module)
	if depth >= maxDepth {
		return
	}
	for _, c := range n.Nested {
		walkModules(c, depth+1, maxDepth, fn)
	}
}

// Depth returns the number of levels below n.
func (n TypeArg) Depth() int {
	d := 0
	for _, c := range n.Nested {
		if cd := c.Depth() + 1; cd > d {
			d = cd
		}
	}
	return d
}
