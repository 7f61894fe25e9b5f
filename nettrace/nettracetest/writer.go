// Package nettracetest builds NetTrace streams for tests.
package nettracetest

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"

	"github.com/pyroscope-io/jitrec/nettrace"
)

// Event is a single event blob of an EventBlock.
type Event struct {
	MetadataID int32
	ThreadID   int64
	StackID    int32
	TimeStamp  int64
	Payload    []byte
}

// Writer accumulates a stream in memory. Call Bytes to terminate it.
type Writer struct {
	buf    bytes.Buffer
	nextID int32
	seq    int32
}

// NewWriter writes the stream header and the trace object.
func NewWriter(t nettrace.Trace) *Writer {
	w := new(Writer)
	w.buf.WriteString("Nettrace")
	le(&w.buf, int32(len("!FastSerialization.1")))
	w.buf.WriteString("!FastSerialization.1")
	var body bytes.Buffer
	le(&body, t)
	w.object(nettrace.ObjectTrace, body.Bytes(), false)
	return w
}

func le(b *bytes.Buffer, v interface{}) { _ = binary.Write(b, binary.LittleEndian, v) }

func (w *Writer) object(typ nettrace.ObjectType, body []byte, block bool) {
	w.buf.WriteByte(5)
	w.buf.WriteByte(5)
	w.buf.WriteByte(1)
	le(&w.buf, [2]int32{4, 4})
	le(&w.buf, int32(len(typ)))
	w.buf.WriteString(string(typ))
	w.buf.WriteByte(6)
	if block {
		le(&w.buf, int32(len(body)))
		for w.buf.Len()%4 != 0 {
			w.buf.WriteByte(0)
		}
	}
	w.buf.Write(body)
	w.buf.WriteByte(6)
}

// Metadata writes a MetadataBlock describing one event and returns the
// metadata id events reference.
func (w *Writer) Metadata(provider string, eventID int32, eventName string, fields ...nettrace.MetadataField) int32 {
	w.nextID++
	var p bytes.Buffer
	le(&p, w.nextID)
	utf16NTS(&p, provider)
	le(&p, eventID)
	utf16NTS(&p, eventName)
	le(&p, int64(0))
	le(&p, int32(0))
	le(&p, int32(nettrace.LevelVerbose))
	writeFields(&p, fields)
	w.blobs(nettrace.ObjectMetadataBlock, false, []Event{{Payload: p.Bytes()}})
	return w.nextID
}

func writeFields(b *bytes.Buffer, fields []nettrace.MetadataField) {
	le(b, int32(len(fields)))
	for _, f := range fields {
		le(b, f.TypeCode)
		if f.TypeCode == nettrace.TypeCodeArray {
			le(b, f.ElementTypeCode)
		}
		if f.TypeCode == nettrace.TypeCodeObject || f.ElementTypeCode == nettrace.TypeCodeObject {
			writeFields(b, f.Fields)
		}
		utf16NTS(b, f.Name)
	}
}

// Events writes an EventBlock, with compressed blob headers if requested.
func (w *Writer) Events(compressed bool, events ...Event) {
	w.blobs(nettrace.ObjectEventBlock, compressed, events)
}

func (w *Writer) blobs(typ nettrace.ObjectType, compressed bool, events []Event) {
	var b bytes.Buffer
	var flags int16
	if compressed {
		flags = 1
	}
	le(&b, nettrace.BlobBlockHeader{Size: 20, Flags: flags})
	var prevTS int64
	for _, e := range events {
		w.seq++
		if compressed {
			b.WriteByte(0x01 | 0x02 | 0x04 | 0x08 | 0x80)
			uvarint(&b, uint64(e.MetadataID))
			uvarint(&b, 0)
			uvarint(&b, uint64(e.ThreadID))
			uvarint(&b, 0)
			uvarint(&b, uint64(e.ThreadID))
			uvarint(&b, uint64(e.StackID))
			uvarint(&b, uint64(e.TimeStamp-prevTS))
			uvarint(&b, uint64(len(e.Payload)))
			b.Write(e.Payload)
			prevTS = e.TimeStamp
			continue
		}
		le(&b, nettrace.BlobHeader{
			EventSize:       int32(binary.Size(nettrace.BlobHeader{}) - 4 + len(e.Payload)),
			MetadataID:      e.MetadataID,
			SequenceNumber:  w.seq,
			ThreadID:        e.ThreadID,
			CaptureThreadID: e.ThreadID,
			StackID:         e.StackID,
			TimeStamp:       e.TimeStamp,
			PayloadSize:     int32(len(e.Payload)),
		})
		b.Write(e.Payload)
		for b.Len()%4 != 0 {
			b.WriteByte(0)
		}
	}
	w.object(typ, b.Bytes(), true)
}

// Stacks writes a StackBlock.
func (w *Writer) Stacks(firstID int32, stacks ...[]byte) {
	var b bytes.Buffer
	le(&b, firstID)
	le(&b, int32(len(stacks)))
	for _, s := range stacks {
		le(&b, int32(len(s)))
		b.Write(s)
	}
	w.object(nettrace.ObjectStackBlock, b.Bytes(), true)
}

// SequencePoint writes an SPBlock.
func (w *Writer) SequencePoint(ts int64, threads ...nettrace.Thread) {
	var b bytes.Buffer
	le(&b, ts)
	le(&b, int32(len(threads)))
	le(&b, threads)
	w.object(nettrace.ObjectSequencePointBlock, b.Bytes(), true)
}

// Bytes terminates the stream and returns it.
func (w *Writer) Bytes() []byte {
	out := append([]byte(nil), w.buf.Bytes()...)
	return append(out, 1)
}

func uvarint(b *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	b.Write(tmp[:binary.PutUvarint(tmp[:], v)])
}

func utf16NTS(b *bytes.Buffer, s string) {
	le(b, utf16.Encode([]rune(s)))
	le(b, uint16(0))
}

// MethodJittingStarted encodes a MethodJittingStarted payload.
func MethodJittingStarted(d nettrace.MethodJittingStarted) []byte {
	var b bytes.Buffer
	le(&b, d.MethodID)
	le(&b, d.ModuleID)
	le(&b, d.MethodToken)
	le(&b, d.MethodILSize)
	utf16NTS(&b, d.MethodNamespace)
	utf16NTS(&b, d.MethodName)
	utf16NTS(&b, d.MethodSignature)
	le(&b, uint16(0)) // ClrInstanceID
	return b.Bytes()
}

// MethodLoad encodes a MethodLoadVerbose or MethodDCEndVerbose payload.
func MethodLoad(d nettrace.MethodLoad) []byte {
	var b bytes.Buffer
	le(&b, d.MethodID)
	le(&b, d.ModuleID)
	le(&b, d.MethodStartAddress)
	le(&b, d.MethodSize)
	le(&b, d.MethodToken)
	le(&b, d.MethodFlags)
	utf16NTS(&b, d.MethodNamespace)
	utf16NTS(&b, d.MethodName)
	utf16NTS(&b, d.MethodSignature)
	le(&b, uint16(0))
	le(&b, uint64(0)) // ReJITID
	return b.Bytes()
}

// ModuleLoad encodes a ModuleLoad or ModuleDCEnd payload.
func ModuleLoad(d nettrace.ModuleLoad) []byte {
	var b bytes.Buffer
	le(&b, d.ModuleID)
	le(&b, d.AssemblyID)
	le(&b, d.ModuleFlags)
	le(&b, uint32(0))
	utf16NTS(&b, d.ModuleILPath)
	utf16NTS(&b, d.ModuleNativePath)
	le(&b, uint16(0))
	return b.Bytes()
}

// AssemblyLoad encodes an AssemblyLoad or AssemblyDCEnd payload.
func AssemblyLoad(d nettrace.AssemblyLoad) []byte {
	var b bytes.Buffer
	le(&b, d.AssemblyID)
	le(&b, d.AppDomainID)
	le(&b, d.BindingID)
	le(&b, d.AssemblyFlags)
	utf16NTS(&b, d.FullyQualifiedAssemblyName)
	le(&b, uint16(0))
	return b.Bytes()
}
