//go:build !windows
// +build !windows

package jitrec

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultServerAddress(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TMPDIR", dir)
	assert.Empty(t, DefaultServerAddress(4242))

	for _, n := range []string{"100", "300", "200"} {
		name := filepath.Join(dir, fmt.Sprintf("dotnet-diagnostic-4242-%s-socket", n))
		require.NoError(t, os.WriteFile(name, nil, 0o600))
	}
	assert.Equal(t, filepath.Join(dir, "dotnet-diagnostic-4242-300-socket"), DefaultServerAddress(4242))
	assert.Empty(t, DefaultServerAddress(42))
}

func TestAttachOverUnixSocket(t *testing.T) {
	addr := filepath.Join(t.TempDir(), "diag.sock")
	l, err := net.Listen("unix", addr)
	require.NoError(t, err)
	defer l.Close()

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err = readMessage(conn); err != nil {
			return
		}
		_ = writeMessage(conn, commandSetServer, serverResponseOK, []byte{0, 0, 0, 0})
	}()

	requireNoError(t, NewClient(addr).AttachProfiler(AttachProfilerConfig{ProfilerPath: "/p.so"}))
}
