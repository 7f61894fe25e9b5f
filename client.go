// Package jitrec talks to the diagnostics server of a running .NET process:
// it loads the JIT recorder profiler into a process that was started
// without it, and opens EventPipe sessions streaming JIT events.
package jitrec

import (
	"bytes"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Microsoft/go-winio/pkg/guid"
)

// ProfilerGUID is the CLSID the JIT recorder profiler registers under.
const ProfilerGUID = "{DF9EDC4B-25C1-4925-A3FB-6AAEB3E2FACD}"

const DefaultAttachTimeout = 10 * time.Second

type Client struct {
	addr string
	dial func(addr string) (net.Conn, error)
}

type Option func(*Client)

// WithDialer replaces the platform transport (unix socket or named pipe).
func WithDialer(d func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.dial = d }
}

// NewClient creates a client for the diagnostics server listening on addr,
// see DefaultServerAddress.
func NewClient(addr string, options ...Option) *Client {
	c := &Client{addr: addr, dial: dial}
	for _, o := range options {
		o(c)
	}
	return c
}

type AttachProfilerConfig struct {
	AttachTimeout time.Duration
	ProfilerGUID  string
	ProfilerPath  string
	ClientData    []byte
}

func (cfg AttachProfilerConfig) marshal() ([]byte, error) {
	timeout := cfg.AttachTimeout
	if timeout <= 0 {
		timeout = DefaultAttachTimeout
	}
	clsid := cfg.ProfilerGUID
	if clsid == "" {
		clsid = ProfilerGUID
	}
	g, err := guid.FromString(strings.Trim(clsid, "{}"))
	if err != nil {
		return nil, fmt.Errorf("invalid profiler GUID %q: %w", clsid, err)
	}
	if cfg.ProfilerPath == "" {
		return nil, fmt.Errorf("profiler path is required")
	}
	var e encoder
	e.write(uint32(timeout / time.Millisecond))
	e.write(g.ToWindowsArray())
	e.utf16NTS(cfg.ProfilerPath)
	e.blob(cfg.ClientData)
	return e.Bytes(), e.err()
}

// AttachProfiler asks the runtime to load the profiler described by cfg.
// A rejection by the runtime is returned as *ErrorResponse.
func (c *Client) AttachProfiler(cfg AttachProfilerConfig) error {
	payload, err := cfg.marshal()
	if err != nil {
		return err
	}
	conn, err := c.connect()
	if err != nil {
		return err
	}
	defer conn.Close()

	timeout := cfg.AttachTimeout
	if timeout <= 0 {
		timeout = DefaultAttachTimeout
	}
	// The server answers once the profiler has loaded or the attach
	// timeout expired.
	_ = conn.SetDeadline(time.Now().Add(timeout + 5*time.Second))
	if err = writeMessage(conn, commandSetProfiler, profilerCommandAttach, payload); err != nil {
		return fmt.Errorf("write attach request: %w", err)
	}
	resp, err := readResponse(conn)
	if err != nil {
		return err
	}
	p := &parser{Buffer: bytes.NewBuffer(resp)}
	var hr uint32
	p.read(&hr)
	if err = p.err(); err != nil {
		return err
	}
	if hr != 0 {
		return &ErrorResponse{HRESULT: hr}
	}
	return nil
}

func (c *Client) connect() (net.Conn, error) {
	if c.addr == "" {
		return nil, fmt.Errorf("diagnostics server address is not known")
	}
	conn, err := c.dial(c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.addr, err)
	}
	return conn, nil
}
