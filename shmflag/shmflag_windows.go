//go:build windows
// +build windows

package shmflag

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var procOpenFileMappingW = windows.NewLazySystemDLL("kernel32.dll").NewProc("OpenFileMappingW")

func openFileMapping(access uint32, name string) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}
	r, _, e := procOpenFileMappingW.Call(uintptr(access), 0, uintptr(unsafe.Pointer(p)))
	if r == 0 {
		if errors.Is(e, windows.ERROR_FILE_NOT_FOUND) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return 0, fmt.Errorf("OpenFileMapping %s: %w", name, e)
	}
	return windows.Handle(r), nil
}

func mapView(h windows.Handle, access uint32) (uintptr, error) {
	addr, err := windows.MapViewOfFile(h, access, 0, 0, Size)
	if err != nil {
		_ = windows.CloseHandle(h)
		return 0, err
	}
	return addr, nil
}

func unmapper(h windows.Handle, addr uintptr) func() error {
	return func() error {
		err := windows.UnmapViewOfFile(addr)
		if cerr := windows.CloseHandle(h); err == nil {
			err = cerr
		}
		return err
	}
}

// Open maps the named file mapping read-only. A missing mapping, or one
// that can not be viewed, is reported as ErrNotFound.
func Open(name string) (*Flag, error) {
	h, err := openFileMapping(windows.FILE_MAP_READ, name)
	if err != nil {
		return nil, err
	}
	addr, err := mapView(h, windows.FILE_MAP_READ)
	if err != nil {
		return nil, fmt.Errorf("%w: MapViewOfFile %s: %v", ErrNotFound, name, err)
	}
	f := &Flag{name: name, unmap: unmapper(h, addr)}
	f.p.Store((*int32)(unsafe.Pointer(addr)))
	return f, nil
}

// Create creates the pagefile-backed mapping, or opens an existing one, and
// resets the flag to zero. The mapping disappears once every handle to it
// is closed.
func Create(name string) (*Region, error) {
	p, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, err := windows.CreateFileMapping(windows.InvalidHandle, nil, windows.PAGE_READWRITE, 0, Size, p)
	if err != nil {
		return nil, fmt.Errorf("CreateFileMapping %s: %w", name, err)
	}
	r, err := newRegion(name, h)
	if err != nil {
		return nil, err
	}
	r.Set(0)
	return r, nil
}

// OpenRegion maps an existing mapping for writing.
func OpenRegion(name string) (*Region, error) {
	h, err := openFileMapping(windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, name)
	if err != nil {
		return nil, err
	}
	return newRegion(name, h)
}

func newRegion(name string, h windows.Handle) (*Region, error) {
	addr, err := mapView(h, windows.FILE_MAP_READ|windows.FILE_MAP_WRITE)
	if err != nil {
		return nil, fmt.Errorf("MapViewOfFile %s: %w", name, err)
	}
	return &Region{
		name:    name,
		p:       (*int32)(unsafe.Pointer(addr)),
		release: unmapper(h, addr),
	}, nil
}
