//go:build !windows
// +build !windows

package shmflag

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

var shmDir = defaultDir()

func defaultDir() string {
	if fi, err := os.Stat("/dev/shm"); err == nil && fi.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Path returns the file backing the region called name.
func Path(name string) string {
	return filepath.Join(shmDir, strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_"))
}

// Open maps the region read-only. ErrNotFound is returned when the region
// does not exist or is too small to hold the flag.
func Open(name string) (*Flag, error) {
	b, err := mapRegion(Path(name), unix.O_RDONLY, unix.PROT_READ)
	if err != nil {
		return nil, err
	}
	f := &Flag{
		name:  name,
		unmap: func() error { return unix.Munmap(b) },
	}
	f.p.Store((*int32)(unsafe.Pointer(&b[0])))
	return f, nil
}

// Create creates the region, or reuses an existing one, and resets the flag
// to zero. Closing the returned Region removes it.
func Create(name string) (*Region, error) {
	p := Path(name)
	fd, err := unix.Open(p, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o666)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", p, err)
	}
	err = unix.Ftruncate(fd, Size)
	_ = unix.Close(fd)
	if err != nil {
		return nil, fmt.Errorf("truncate %s: %w", p, err)
	}
	r, err := openRegion(name, p)
	if err != nil {
		return nil, err
	}
	unmap := r.release
	r.release = func() error {
		err := unmap()
		if rmErr := unix.Unlink(p); err == nil && rmErr != nil && !errors.Is(rmErr, unix.ENOENT) {
			err = rmErr
		}
		return err
	}
	r.Set(0)
	return r, nil
}

// OpenRegion maps an existing region for writing.
func OpenRegion(name string) (*Region, error) {
	return openRegion(name, Path(name))
}

func openRegion(name, p string) (*Region, error) {
	b, err := mapRegion(p, unix.O_RDWR, unix.PROT_READ|unix.PROT_WRITE)
	if err != nil {
		return nil, err
	}
	return &Region{
		name:    name,
		p:       (*int32)(unsafe.Pointer(&b[0])),
		release: func() error { return unix.Munmap(b) },
	}, nil
}

func mapRegion(p string, mode, prot int) ([]byte, error) {
	fd, err := unix.Open(p, mode|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err = unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", p, err)
	}
	// Reading past the end of the file would fault.
	if st.Size < Size {
		return nil, fmt.Errorf("%w: %s holds %d bytes", ErrNotFound, p, st.Size)
	}
	b, err := unix.Mmap(fd, 0, Size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %v", ErrNotFound, p, err)
	}
	return b, nil
}
