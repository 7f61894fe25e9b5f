// Package shmflag maps the 4-byte enablement flag shared between an
// instrumented process and its controller. A zero value suppresses
// recording; any other value, or no region at all, enables it.
package shmflag

import (
	"errors"
	"sync/atomic"
)

// Size of the shared region: a single little-endian int32.
const Size = 4

var ErrNotFound = errors.New("shared flag region not found")

// Flag is a read-only view of the region.
type Flag struct {
	name  string
	p     atomic.Pointer[int32]
	unmap func() error
}

// Enabled reports whether recording is enabled. A nil or closed Flag is
// always enabled. It performs a single atomic load.
func (f *Flag) Enabled() bool {
	if f == nil {
		return true
	}
	p := f.p.Load()
	return p == nil || atomic.LoadInt32(p) != 0
}

func (f *Flag) Name() string { return f.name }

// Close unmaps the region. It must not race with Enabled callers that
// already loaded the mapping.
func (f *Flag) Close() error {
	if f == nil || f.p.Swap(nil) == nil {
		return nil
	}
	return f.unmap()
}

// Region is the controller's writable view.
type Region struct {
	name    string
	p       *int32
	release func() error
}

func (r *Region) Name() string { return r.name }

func (r *Region) Set(v int32) { atomic.StoreInt32(r.p, v) }

func (r *Region) Get() int32 { return atomic.LoadInt32(r.p) }

func (r *Region) Enable(on bool) {
	if on {
		r.Set(1)
	} else {
		r.Set(0)
	}
}

func (r *Region) Close() error {
	if r.release == nil {
		return nil
	}
	err := r.release()
	r.release = nil
	return err
}
