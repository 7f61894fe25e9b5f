package jitrec

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pyroscope-io/jitrec/nettrace"
)

const formatNetTrace = 1

// ProviderConfig enables one EventPipe provider.
type ProviderConfig struct {
	Keywords     uint64
	LogLevel     uint32
	ProviderName string
	FilterData   string
}

type CollectTracingConfig struct {
	CircularBufferSizeMB uint32
	// RequestRundown makes the runtime describe every loaded method and
	// module when the session stops.
	RequestRundown bool
	Providers      []ProviderConfig
}

// JITTracingConfig enables the runtime events describing JIT compilation
// and module loads, followed by a rundown.
func JITTracingConfig() CollectTracingConfig {
	return CollectTracingConfig{
		CircularBufferSizeMB: 64,
		RequestRundown:       true,
		Providers: []ProviderConfig{{
			Keywords:     nettrace.KeywordJIT | nettrace.KeywordLoader,
			LogLevel:     nettrace.LevelVerbose,
			ProviderName: nettrace.ProviderRuntime,
		}},
	}
}

func (cfg CollectTracingConfig) marshal() ([]byte, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	var e encoder
	e.write(cfg.CircularBufferSizeMB)
	e.write(uint32(formatNetTrace))
	e.write(cfg.RequestRundown)
	e.write(uint32(len(cfg.Providers)))
	for _, p := range cfg.Providers {
		if p.ProviderName == "" {
			return nil, fmt.Errorf("provider name is required")
		}
		e.write(p.Keywords)
		e.write(p.LogLevel)
		e.utf16NTS(p.ProviderName)
		e.optionalUTF16NTS(p.FilterData)
	}
	return e.Bytes(), e.err()
}

// Session is an EventPipe session. Reading it yields a NetTrace stream.
type Session struct {
	ID uint64

	c    *Client
	conn net.Conn

	stop    sync.Once
	stopErr error
}

// CollectTracing starts an EventPipe session.
func (c *Client) CollectTracing(cfg CollectTracingConfig) (*Session, error) {
	payload, err := cfg.marshal()
	if err != nil {
		return nil, err
	}
	conn, err := c.connect()
	if err != nil {
		return nil, err
	}
	if err = writeMessage(conn, commandSetEventPipe, eventPipeCollectTracing2, payload); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("write collect tracing request: %w", err)
	}
	id, err := readSessionID(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Session{ID: id, c: c, conn: conn}, nil
}

func readSessionID(conn net.Conn) (uint64, error) {
	resp, err := readResponse(conn)
	if err != nil {
		return 0, err
	}
	p := &parser{Buffer: bytes.NewBuffer(resp)}
	var id uint64
	p.read(&id)
	return id, p.err()
}

// Read reads the session stream. It returns io.EOF once the runtime has
// flushed the session after Stop.
func (s *Session) Read(b []byte) (int, error) { return s.conn.Read(b) }

// Stop asks the runtime to end the session. The stream stays readable
// until the runtime closes it, after the rundown if one was requested.
func (s *Session) Stop() error {
	s.stop.Do(func() { s.stopErr = s.c.stopTracing(s.ID) })
	return s.stopErr
}

// Close stops the session and closes the stream.
func (s *Session) Close() error {
	err := s.Stop()
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (c *Client) stopTracing(id uint64) error {
	conn, err := c.connect()
	if err != nil {
		return err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	var e encoder
	e.write(id)
	if err = writeMessage(conn, commandSetEventPipe, eventPipeStopTracing, e.Bytes()); err != nil {
		return fmt.Errorf("write stop tracing request: %w", err)
	}
	if _, err = readSessionID(conn); err != nil {
		return fmt.Errorf("stop session %d: %w", id, err)
	}
	return nil
}
