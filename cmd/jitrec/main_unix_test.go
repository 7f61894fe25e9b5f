//go:build !windows
// +build !windows

package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/xid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLaunchPassesProfilerEnvironment(t *testing.T) {
	dir := isolate(t)
	name := "jitrec-cli-" + xid.New().String()

	out, err := run(t, "launch", "--profiler", "/opt/jitrec/libjitprofiler.so", "--name", name, "--",
		"/bin/sh", "-c", `env > "$SIG_JIT_PROFILER_LOG_PATH/env.txt"`)
	require.NoError(t, err)
	assert.Contains(t, out, "0 methods recorded in "+dir)

	b, err := os.ReadFile(filepath.Join(dir, "env.txt"))
	require.NoError(t, err)
	env := strings.Split(string(b), "\n")
	for _, kv := range []string{
		"CORECLR_ENABLE_PROFILING=1",
		"CORECLR_PROFILER={DF9EDC4B-25C1-4925-A3FB-6AAEB3E2FACD}",
		"CORECLR_PROFILER_PATH=/opt/jitrec/libjitprofiler.so",
		"DOTNET_EnableDiagnostics=1",
		"SIG_JIT_PROFILER_LOG_PATH=" + dir,
		"SIG_JIT_PROFILER_MAP_ID=" + name,
		"SIG_JIT_PROFILER_MAX_RECURSE_DEPTH=20",
	} {
		assert.Contains(t, env, kv)
	}
}

func TestLaunchRequiresProfiler(t *testing.T) {
	isolate(t)
	_, err := run(t, "launch", "--", "/bin/true")
	assert.ErrorContains(t, err, "profiler path")
}

// serveAttach answers one diagnostics request with the given response id
// and reports the command set and id it received.
func serveAttach(t *testing.T, l net.Listener, responseID byte) <-chan [2]byte {
	t.Helper()
	got := make(chan [2]byte, 1)
	go func() {
		defer close(got)
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		hdr := make([]byte, 20)
		if _, err = io.ReadFull(conn, hdr); err != nil {
			return
		}
		size := binary.LittleEndian.Uint16(hdr[14:16])
		if _, err = io.CopyN(io.Discard, conn, int64(size)-20); err != nil {
			return
		}
		got <- [2]byte{hdr[16], hdr[17]}

		resp := append([]byte("DOTNET_IPC_V1\x00"), 24, 0, 0xFF, responseID, 0, 0)
		hr := uint32(0)
		if responseID != 0 {
			hr = 0x80131370
		}
		resp = binary.LittleEndian.AppendUint32(resp, hr)
		_, _ = conn.Write(resp)
	}()
	return got
}

func listenDiagnostics(t *testing.T) net.Listener {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("TMPDIR", tmp)
	addr := filepath.Join(tmp, fmt.Sprintf("dotnet-diagnostic-%d-1-socket", os.Getpid()))
	l, err := net.Listen("unix", addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAttach(t *testing.T) {
	isolate(t)
	l := listenDiagnostics(t)
	got := serveAttach(t, l, 0x00)

	out, err := run(t, "attach", "--pid", fmt.Sprint(os.Getpid()), "--profiler", "/opt/jitrec/libjitprofiler.so")
	require.NoError(t, err)
	assert.Contains(t, out, fmt.Sprintf("profiler attached to %d", os.Getpid()))
	assert.Equal(t, [2]byte{0x03, 0x01}, <-got)
}

func TestAttachRejected(t *testing.T) {
	isolate(t)
	l := listenDiagnostics(t)
	serveAttach(t, l, 0xFF)

	_, err := run(t, "attach", "--pid", fmt.Sprint(os.Getpid()), "--profiler", "/p.so")
	assert.ErrorContains(t, err, "0x80131370")
}

func TestAttachUnknownProcess(t *testing.T) {
	isolate(t)
	_, err := run(t, "attach", "--pid", fmt.Sprint(math.MaxInt32), "--profiler", "/p.so")
	assert.Error(t, err)

	_, err = run(t, "attach", "--pid", fmt.Sprint(os.Getpid()))
	assert.ErrorContains(t, err, "profiler path")
}
