package recorder

import (
	"github.com/elastic/go-freelru"

	"github.com/pyroscope-io/jitrec/journal"
)

const assemblyCacheSize = 1024

func hashAssemblyID(id AssemblyID) uint32 {
	// fmix64 finaliser from MurmurHash3.
	x := uint64(id)
	x ^= x >> 33
	x *= 0xff51afd7ed558ccd
	x ^= x >> 33
	x *= 0xc4ceb9fe1a85ec53
	x ^= x >> 33
	return uint32(x)
}

func newAssemblyCache() *freelru.SyncedLRU[AssemblyID, string] {
	c, err := freelru.NewSynced[AssemblyID, string](assemblyCacheSize, hashAssemblyID)
	if err != nil {
		// Only a zero capacity or a nil hash function is rejected.
		panic(err)
	}
	return c
}

// ensureModuleLogged writes the module record for id the first time id is
// seen. A failed lookup drops the record; the module is not retried.
func (r *Recorder) ensureModuleLogged(id ModuleID) {
	if id == 0 || !r.modules.ShouldRecord(id) {
		return
	}
	mi, err := r.src.ModuleInfo(id)
	if err != nil {
		r.log.WithError(err).WithField("module", uint64(id)).Debug("module lookup failed")
		return
	}
	asmName, err := r.assemblyName(mi.AssemblyID)
	if err != nil {
		r.log.WithError(err).WithField("assembly", uint64(mi.AssemblyID)).Debug("assembly lookup failed")
		return
	}
	r.journal.Append(journal.Modules, moduleRecord(id, mi.Name, mi.AssemblyID, asmName))
}

func (r *Recorder) assemblyName(id AssemblyID) (string, error) {
	if name, ok := r.assemblies.Get(id); ok {
		return name, nil
	}
	name, err := r.src.AssemblyName(id)
	if err != nil {
		return "", err
	}
	r.assemblies.Add(id, name)
	return name, nil
}
