package nettrace

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf16"
)

// Parser reads little-endian values from a buffer. The first error sticks:
// once a read fails every later read is a no-op returning zero values.
type Parser struct {
	*bytes.Buffer
	errs []error
}

func NewParser(b *bytes.Buffer) *Parser { return &Parser{Buffer: b} }

func (p *Parser) Err() error {
	if len(p.errs) != 0 {
		return fmt.Errorf("parser: %w", p.errs[0])
	}
	return nil
}

func (p *Parser) fail(err error) { p.errs = append(p.errs, err) }

func (p *Parser) Read(v interface{}) {
	if p.errs != nil {
		return
	}
	if err := binary.Read(p.Buffer, binary.LittleEndian, v); err != nil {
		p.fail(err)
	}
}

func (p *Parser) Uvarint() uint64 {
	if p.errs != nil {
		return 0
	}
	n, err := binary.ReadUvarint(p.Buffer)
	if err != nil {
		p.fail(err)
	}
	return n
}

// Skip discards n bytes.
func (p *Parser) Skip(n int) {
	if p.errs != nil || n <= 0 {
		return
	}
	if p.Len() < n {
		p.fail(io.ErrUnexpectedEOF)
		return
	}
	p.Next(n)
}

// UTF16NTS reads a NUL terminated UTF-16LE string.
func (p *Parser) UTF16NTS() string {
	s := make([]uint16, 0, 64)
	var c uint16
	for {
		p.Read(&c)
		if p.errs != nil {
			return ""
		}
		if c == 0x0 {
			break
		}
		s = append(s, c)
	}
	return string(utf16.Decode(s))
}
