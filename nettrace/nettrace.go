// Package nettrace decodes the NetTrace format written by the runtime's
// EventPipe, either to a diagnostics session or to a .nettrace file.
package nettrace

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	ErrInvalidFormat  = errors.New("invalid nettrace format")
	ErrNotImplemented = errors.New("not implemented")
)

var magic = [8]byte{'N', 'e', 't', 't', 'r', 'a', 'c', 'e'}

const serializationSignature = "!FastSerialization.1"

const (
	tagNullReference      byte = 1
	tagBeginPrivateObject byte = 5
	tagEndObject          byte = 6
)

const maxBlockSize = 1 << 26

type ObjectType string

const (
	ObjectTrace              ObjectType = "Trace"
	ObjectEventBlock         ObjectType = "EventBlock"
	ObjectMetadataBlock      ObjectType = "MetadataBlock"
	ObjectStackBlock         ObjectType = "StackBlock"
	ObjectSequencePointBlock ObjectType = "SPBlock"
)

// Object is a single serialized object of the stream. Payload is only
// valid until the next call to Decode.
type Object struct {
	Type    ObjectType
	Version int32
	Payload *bytes.Buffer
}

type SystemTime struct {
	Year         uint16
	Month        uint16
	DayOfWeek    uint16
	Day          uint16
	Hour         uint16
	Minute       uint16
	Second       uint16
	Milliseconds uint16
}

// Trace is the first object of every stream.
type Trace struct {
	SyncTime                SystemTime
	SyncTimeQPC             int64
	QPCFrequency            int64
	PointerSize             int32
	ProcessID               int32
	NumberOfProcessors      int32
	ExpectedCPUSamplingRate int32
}

type objectType struct {
	Version              int32
	MinimumReaderVersion int32
}

// Decoder splits a stream into objects. Block payloads start at 4-byte
// aligned stream offsets, so the decoder counts every byte it consumes.
type Decoder struct {
	r   *bufio.Reader
	pos int64
	buf bytes.Buffer
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

func (d *Decoder) Read(b []byte) (int, error) {
	n, err := io.ReadFull(d.r, b)
	d.pos += int64(n)
	return n, err
}

func (d *Decoder) readByte() (byte, error) {
	c, err := d.r.ReadByte()
	if err == nil {
		d.pos++
	}
	return c, err
}

func (d *Decoder) read(v interface{}) error {
	return binary.Read(d, binary.LittleEndian, v)
}

func (d *Decoder) expectTag(want byte) error {
	c, err := d.readByte()
	if err != nil {
		return unexpectedEOF(err)
	}
	if c != want {
		return fmt.Errorf("%w: tag 0x%02X at offset %d, expected 0x%02X", ErrInvalidFormat, c, d.pos-1, want)
	}
	return nil
}

// OpenTrace reads the stream header and the trace object.
func (d *Decoder) OpenTrace() (*Trace, error) {
	var m [8]byte
	if _, err := d.Read(m[:]); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if m != magic {
		return nil, fmt.Errorf("%w: magic %q", ErrInvalidFormat, m[:])
	}
	var n int32
	if err := d.read(&n); err != nil {
		return nil, unexpectedEOF(err)
	}
	if n != int32(len(serializationSignature)) {
		return nil, fmt.Errorf("%w: serialization signature length %d", ErrInvalidFormat, n)
	}
	sig := make([]byte, n)
	if _, err := d.Read(sig); err != nil {
		return nil, unexpectedEOF(err)
	}
	if string(sig) != serializationSignature {
		return nil, fmt.Errorf("%w: serialization signature %q", ErrInvalidFormat, sig)
	}
	var o Object
	if err := d.Decode(&o); err != nil {
		return nil, unexpectedEOF(err)
	}
	if o.Type != ObjectTrace {
		return nil, fmt.Errorf("%w: first object is %q", ErrInvalidFormat, o.Type)
	}
	var t Trace
	if err := binary.Read(o.Payload, binary.LittleEndian, &t); err != nil {
		return nil, fmt.Errorf("trace object: %w", err)
	}
	return &t, nil
}

// Decode reads the next object. It returns io.EOF at the end of stream
// marker.
func (d *Decoder) Decode(o *Object) error {
	c, err := d.readByte()
	if err != nil {
		return unexpectedEOF(err)
	}
	if c == tagNullReference {
		return io.EOF
	}
	if c != tagBeginPrivateObject {
		return fmt.Errorf("%w: tag 0x%02X at offset %d", ErrInvalidFormat, c, d.pos-1)
	}
	if err = d.readType(o); err != nil {
		return err
	}
	d.buf.Reset()
	o.Payload = &d.buf
	if o.Type == ObjectTrace {
		_, err = io.CopyN(&d.buf, d, int64(binary.Size(Trace{})))
	} else {
		err = d.readBlock()
	}
	if err != nil {
		return unexpectedEOF(err)
	}
	return d.expectTag(tagEndObject)
}

func (d *Decoder) readType(o *Object) error {
	if err := d.expectTag(tagBeginPrivateObject); err != nil {
		return err
	}
	if err := d.expectTag(tagNullReference); err != nil {
		return err
	}
	var t objectType
	var n int32
	if err := d.read(&t); err != nil {
		return unexpectedEOF(err)
	}
	if err := d.read(&n); err != nil {
		return unexpectedEOF(err)
	}
	if n <= 0 || n > 64 {
		return fmt.Errorf("%w: type name length %d", ErrInvalidFormat, n)
	}
	name := make([]byte, n)
	if _, err := d.Read(name); err != nil {
		return unexpectedEOF(err)
	}
	o.Type = ObjectType(name)
	o.Version = t.Version
	return d.expectTag(tagEndObject)
}

func (d *Decoder) readBlock() error {
	var size int32
	if err := d.read(&size); err != nil {
		return err
	}
	if size < 0 || size > maxBlockSize {
		return fmt.Errorf("%w: block size %d", ErrInvalidFormat, size)
	}
	if pad := (4 - d.pos%4) % 4; pad != 0 {
		if _, err := io.CopyN(io.Discard, d, pad); err != nil {
			return err
		}
	}
	_, err := io.CopyN(&d.buf, d, int64(size))
	return err
}

func unexpectedEOF(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Stream dispatches the objects of a trace to handlers. Nil handlers
// skip the corresponding blocks.
type Stream struct {
	EventHandler              func(*Blob) error
	MetadataHandler           func(*Metadata) error
	StackBlockHandler         func(*StackBlock) error
	SequencePointBlockHandler func(*SequencePointBlock) error

	dec  *Decoder
	obj  Object
	blob Blob
}

func NewStream(r io.Reader) *Stream {
	return &Stream{dec: NewDecoder(r)}
}

func (s *Stream) Open() (*Trace, error) { return s.dec.OpenTrace() }

// Next processes one object. It returns io.EOF once the trace ends.
func (s *Stream) Next() error {
	if err := s.dec.Decode(&s.obj); err != nil {
		return err
	}
	switch s.obj.Type {
	case ObjectEventBlock:
		if s.EventHandler == nil {
			return nil
		}
		return s.blobs(s.EventHandler)

	case ObjectMetadataBlock:
		if s.MetadataHandler == nil {
			return nil
		}
		return s.blobs(s.metadata)

	case ObjectStackBlock:
		if s.StackBlockHandler == nil {
			return nil
		}
		b, err := StackBlockFromObject(s.obj)
		if err != nil {
			return err
		}
		return s.StackBlockHandler(b)

	case ObjectSequencePointBlock:
		if s.SequencePointBlockHandler == nil {
			return nil
		}
		b, err := SequencePointBlockFromObject(s.obj)
		if err != nil {
			return err
		}
		return s.SequencePointBlockHandler(b)
	}
	return nil
}

func (s *Stream) blobs(fn func(*Blob) error) error {
	b, err := BlobBlockFromObject(s.obj)
	if err != nil {
		return err
	}
	for {
		switch err = b.Next(&s.blob); {
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		if err = fn(&s.blob); err != nil {
			return err
		}
	}
}

func (s *Stream) metadata(b *Blob) error {
	md, err := MetadataFromBlob(b)
	if err != nil {
		return err
	}
	return s.MetadataHandler(md)
}
