package memhost

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/pyroscope-io/jitrec/recorder"
)

// Event kinds of a fixture script.
const (
	KindJIT     = "jit"
	KindEnter   = "enter"
	KindEnable  = "enable"
	KindDisable = "disable"
)

type Event struct {
	Kind     string `toml:"kind"`
	Function uint64 `toml:"function"`
	// Repeat delivers the event this many times; zero means once.
	Repeat int `toml:"repeat"`
}

func (e Event) times() int {
	if e.Repeat < 1 {
		return 1
	}
	return e.Repeat
}

type fixtureFile struct {
	Flag *bool `toml:"flag"`

	Assemblies []struct {
		ID   uint64 `toml:"id"`
		Name string `toml:"name"`
		Fail bool   `toml:"fail"`
	} `toml:"assembly"`

	Modules []struct {
		ID       uint64 `toml:"id"`
		Name     string `toml:"name"`
		Assembly uint64 `toml:"assembly"`
		Fail     bool   `toml:"fail"`
	} `toml:"module"`

	Classes []struct {
		ID      uint64   `toml:"id"`
		Module  uint64   `toml:"module"`
		TypeDef uint32   `toml:"typedef"`
		Args    []uint64 `toml:"args"`
		Fail    bool     `toml:"fail"`
	} `toml:"class"`

	Functions []struct {
		ID     uint64   `toml:"id"`
		Class  uint64   `toml:"class"`
		Module uint64   `toml:"module"`
		Token  uint32   `toml:"token"`
		Args   []uint64 `toml:"args"`
		Fail   bool     `toml:"fail"`
	} `toml:"function"`

	Events []Event `toml:"event"`
}

// Fixture is a runtime described in TOML together with the event script
// to replay against it.
type Fixture struct {
	Source *Source
	Gate   *Gate
	Events []Event
}

func LoadFixture(path string) (*Fixture, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fx, err := DecodeFixture(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fx, nil
}

func DecodeFixture(r io.Reader) (*Fixture, error) {
	var ff fixtureFile
	meta, err := toml.NewDecoder(r).Decode(&ff)
	if err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("unknown fixture keys: %s", strings.Join(keys, ", "))
	}

	src := NewSource()
	for _, a := range ff.Assemblies {
		src.AddAssembly(recorder.AssemblyID(a.ID), a.Name)
		if a.Fail {
			src.FailAssembly(recorder.AssemblyID(a.ID))
		}
	}
	for _, m := range ff.Modules {
		src.AddModule(recorder.ModuleID(m.ID), recorder.ModuleInfo{
			Name:       m.Name,
			AssemblyID: recorder.AssemblyID(m.Assembly),
		})
		if m.Fail {
			src.FailModule(recorder.ModuleID(m.ID))
		}
	}
	for _, c := range ff.Classes {
		src.AddClass(recorder.ClassID(c.ID), recorder.ClassInfo{
			ModuleID: recorder.ModuleID(c.Module),
			TypeDef:  recorder.Token(c.TypeDef),
			TypeArgs: classIDs(c.Args),
		})
		if c.Fail {
			src.FailClass(recorder.ClassID(c.ID))
		}
	}
	for _, fn := range ff.Functions {
		src.AddFunction(recorder.FunctionID(fn.ID), recorder.FunctionInfo{
			ClassID:  recorder.ClassID(fn.Class),
			ModuleID: recorder.ModuleID(fn.Module),
			Token:    recorder.Token(fn.Token),
			TypeArgs: classIDs(fn.Args),
		})
		if fn.Fail {
			src.FailFunction(recorder.FunctionID(fn.ID))
		}
	}
	for i, e := range ff.Events {
		switch e.Kind {
		case KindJIT, KindEnter, KindEnable, KindDisable:
		default:
			return nil, fmt.Errorf("event %d: unknown kind %q", i, e.Kind)
		}
	}

	enabled := ff.Flag == nil || *ff.Flag
	return &Fixture{
		Source: src,
		Gate:   NewGate(enabled),
		Events: ff.Events,
	}, nil
}

func classIDs(ids []uint64) []recorder.ClassID {
	if len(ids) == 0 {
		return nil
	}
	out := make([]recorder.ClassID, len(ids))
	for i, id := range ids {
		out[i] = recorder.ClassID(id)
	}
	return out
}
