package jitrec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/text/encoding/unicode"
)

const (
	commandSetServer    = 0xFF
	commandSetEventPipe = 0x02
	commandSetProfiler  = 0x03

	eventPipeStopTracing     = 0x01
	eventPipeCollectTracing2 = 0x03

	profilerCommandAttach = 0x01

	serverResponseOK    = 0x00
	serverResponseError = 0xFF
)

const headerSize = 20

var magic = [14]uint8{'D', 'O', 'T', 'N', 'E', 'T', '_', 'I', 'P', 'C', '_', 'V', '1', 0}

var ErrUnexpectedResponse = errors.New("unexpected response")

type header struct {
	Magic      [14]uint8
	Size       uint16
	CommandSet uint8
	CommandID  uint8
	Reserved   uint16
}

// ErrorResponse carries the HRESULT of a rejected command.
type ErrorResponse struct {
	HRESULT uint32
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("diagnostics server error: HRESULT 0x%08X", e.HRESULT)
}

func writeMessage(w io.Writer, commandSet, commandID uint8, payload []byte) error {
	size := headerSize + len(payload)
	if size > 0xFFFF {
		return fmt.Errorf("message too large: %d bytes", size)
	}
	var b bytes.Buffer
	b.Grow(size)
	h := header{
		Magic:      magic,
		Size:       uint16(size),
		CommandSet: commandSet,
		CommandID:  commandID,
	}
	_ = binary.Write(&b, binary.LittleEndian, h)
	b.Write(payload)
	_, err := w.Write(b.Bytes())
	return err
}

func readMessage(r io.Reader) (header, []byte, error) {
	var h header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return h, nil, fmt.Errorf("read header: %w", err)
	}
	if h.Magic != magic || h.Size < headerSize {
		return h, nil, fmt.Errorf("%w: malformed header", ErrUnexpectedResponse)
	}
	payload := make([]byte, int(h.Size)-headerSize)
	if _, err := io.ReadFull(r, payload); err != nil {
		return h, nil, fmt.Errorf("read payload: %w", err)
	}
	return h, payload, nil
}

// readResponse returns the payload of an OK response. An error response
// is returned as *ErrorResponse.
func readResponse(r io.Reader) ([]byte, error) {
	h, payload, err := readMessage(r)
	if err != nil {
		return nil, err
	}
	if h.CommandSet != commandSetServer {
		return nil, fmt.Errorf("%w: command set 0x%02X", ErrUnexpectedResponse, h.CommandSet)
	}
	switch h.CommandID {
	case serverResponseOK:
		return payload, nil
	case serverResponseError:
		p := &parser{Buffer: bytes.NewBuffer(payload)}
		var hr uint32
		p.read(&hr)
		if err = p.err(); err != nil {
			return nil, err
		}
		return nil, &ErrorResponse{HRESULT: hr}
	default:
		return nil, fmt.Errorf("%w: command id 0x%02X", ErrUnexpectedResponse, h.CommandID)
	}
}

// encoder accumulates a little-endian payload; the first error sticks.
type encoder struct {
	bytes.Buffer
	errs []error
}

func (e *encoder) err() error {
	if len(e.errs) != 0 {
		return fmt.Errorf("encoder: %w", e.errs[0])
	}
	return nil
}

func (e *encoder) write(v interface{}) {
	if err := binary.Write(&e.Buffer, binary.LittleEndian, v); err != nil {
		e.errs = append(e.errs, err)
	}
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// utf16NTS writes s as a length prefixed, NUL terminated UTF-16LE string.
// The length counts characters including the terminator.
func (e *encoder) utf16NTS(s string) {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		e.errs = append(e.errs, err)
		return
	}
	e.write(uint32(len(b)/2 + 1))
	e.Write(b)
	e.Write([]byte{0, 0})
}

// optionalUTF16NTS writes an empty s as a zero length, which the server
// reads as a null string.
func (e *encoder) optionalUTF16NTS(s string) {
	if s == "" {
		e.write(uint32(0))
		return
	}
	e.utf16NTS(s)
}

func (e *encoder) blob(b []byte) {
	e.write(uint32(len(b)))
	e.Write(b)
}

type parser struct {
	*bytes.Buffer
	errs []error
}

func (p *parser) err() error {
	if len(p.errs) != 0 {
		return fmt.Errorf("parser: %w", p.errs[0])
	}
	return nil
}

func (p *parser) read(v interface{}) {
	if err := binary.Read(p.Buffer, binary.LittleEndian, v); err != nil {
		p.errs = append(p.errs, err)
	}
}
