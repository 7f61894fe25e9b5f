package nettrace_test

import (
	"bytes"
	"errors"
	"io"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pyroscope-io/jitrec/nettrace"
	"github.com/pyroscope-io/jitrec/nettrace/nettracetest"
)

func requireNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v\n%s\n", err, string(debug.Stack()))
	}
}

var trace = nettrace.Trace{
	SyncTimeQPC:        1000,
	QPCFrequency:       10000000,
	PointerSize:        8,
	ProcessID:          4242,
	NumberOfProcessors: 4,
}

type collected struct {
	metadata []*nettrace.Metadata
	events   []nettrace.BlobHeader
	payloads [][]byte
	stacks   []*nettrace.StackBlock
	points   []*nettrace.SequencePointBlock
}

func collect(t *testing.T, b []byte) (*nettrace.Trace, *collected) {
	t.Helper()
	var c collected
	stream := nettrace.NewStream(bytes.NewReader(b))
	tr, err := stream.Open()
	requireNoError(t, err)
	stream.MetadataHandler = func(md *nettrace.Metadata) error {
		c.metadata = append(c.metadata, md)
		return nil
	}
	stream.EventHandler = func(e *nettrace.Blob) error {
		c.events = append(c.events, e.Header)
		c.payloads = append(c.payloads, append([]byte{}, e.Payload.Bytes()...))
		return nil
	}
	stream.StackBlockHandler = func(sb *nettrace.StackBlock) error {
		c.stacks = append(c.stacks, sb)
		return nil
	}
	stream.SequencePointBlockHandler = func(sp *nettrace.SequencePointBlock) error {
		c.points = append(c.points, sp)
		return nil
	}
	for {
		switch err = stream.Next(); {
		case errors.Is(err, io.EOF):
			return tr, &c
		default:
			requireNoError(t, err)
		}
	}
}

func TestStream(t *testing.T) {
	w := nettracetest.NewWriter(trace)
	id := w.Metadata(nettrace.ProviderRuntime, nettrace.EventMethodJittingStarted, "MethodJittingStarted",
		nettrace.MetadataField{TypeCode: nettrace.TypeCodeUInt64, Name: "MethodID"},
		nettrace.MetadataField{TypeCode: nettrace.TypeCodeString, Name: "MethodName"})
	w.Events(false,
		nettracetest.Event{MetadataID: id, ThreadID: 7, TimeStamp: 1100, Payload: []byte{1, 2, 3}},
		nettracetest.Event{MetadataID: id, ThreadID: 8, TimeStamp: 1200, Payload: []byte{4, 5, 6, 7, 8}})
	w.Stacks(1, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0, 0, 0, 0})
	w.Events(true,
		nettracetest.Event{MetadataID: id, ThreadID: 9, StackID: 1, TimeStamp: 1300, Payload: []byte{9}},
		nettracetest.Event{MetadataID: id, ThreadID: 9, StackID: 1, TimeStamp: 1350})
	w.SequencePoint(1400, nettrace.Thread{ThreadID: 9, SequenceNumber: 4})

	tr, c := collect(t, w.Bytes())
	assert.Equal(t, trace, *tr)

	require.Len(t, c.metadata, 1)
	md := c.metadata[0]
	assert.Equal(t, nettrace.MetadataHeader{
		MetadataID:   id,
		ProviderName: nettrace.ProviderRuntime,
		EventID:      nettrace.EventMethodJittingStarted,
		EventName:    "MethodJittingStarted",
		Level:        nettrace.LevelVerbose,
	}, md.Header)
	require.Len(t, md.Fields, 2)
	assert.Equal(t, "MethodName", md.Fields[1].Name)

	require.Len(t, c.events, 4)
	assert.Equal(t, [][]byte{{1, 2, 3}, {4, 5, 6, 7, 8}, {9}, {}}, c.payloads)
	for i, ts := range []int64{1100, 1200, 1300, 1350} {
		assert.Equal(t, id, c.events[i].MetadataID)
		assert.Equal(t, ts, c.events[i].TimeStamp)
	}
	assert.EqualValues(t, 9, c.events[3].ThreadID)
	assert.EqualValues(t, 1, c.events[2].StackID)
	assert.Equal(t, c.events[2].SequenceNumber+1, c.events[3].SequenceNumber)

	require.Len(t, c.stacks, 1)
	assert.EqualValues(t, 1, c.stacks[0].FirstID)
	assert.Equal(t, []nettrace.Stack{{0xAA, 0xBB, 0xCC, 0xDD, 0, 0, 0, 0}}, c.stacks[0].Stacks)

	require.Len(t, c.points, 1)
	assert.Equal(t, []nettrace.Thread{{ThreadID: 9, SequenceNumber: 4}}, c.points[0].Threads)
}

func TestStreamWithoutHandlers(t *testing.T) {
	w := nettracetest.NewWriter(trace)
	id := w.Metadata(nettrace.ProviderRundown, nettrace.EventMethodDCEndVerbose, "MethodDCEndVerbose")
	w.Events(false, nettracetest.Event{MetadataID: id, Payload: []byte{1}})
	w.Stacks(1)

	stream := nettrace.NewStream(bytes.NewReader(w.Bytes()))
	_, err := stream.Open()
	requireNoError(t, err)
	var n int
	for ; ; n++ {
		if err = stream.Next(); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 3, n)
}

func TestDecoderObjects(t *testing.T) {
	w := nettracetest.NewWriter(trace)
	w.Metadata(nettrace.ProviderRuntime, nettrace.EventModuleLoad, "ModuleLoad")
	w.Stacks(1)
	w.SequencePoint(0)

	dec := nettrace.NewDecoder(bytes.NewReader(w.Bytes()))
	_, err := dec.OpenTrace()
	requireNoError(t, err)
	var types []nettrace.ObjectType
	var o nettrace.Object
	for {
		err = dec.Decode(&o)
		if errors.Is(err, io.EOF) {
			break
		}
		requireNoError(t, err)
		types = append(types, o.Type)
	}
	assert.Equal(t, []nettrace.ObjectType{
		nettrace.ObjectMetadataBlock,
		nettrace.ObjectStackBlock,
		nettrace.ObjectSequencePointBlock,
	}, types)
}

func TestInvalidMagic(t *testing.T) {
	_, err := nettrace.NewStream(bytes.NewReader([]byte("Netperf!..."))).Open()
	assert.ErrorIs(t, err, nettrace.ErrInvalidFormat)
}

func TestTruncatedStream(t *testing.T) {
	w := nettracetest.NewWriter(trace)
	w.Stacks(1, []byte{1, 2, 3, 4})
	b := w.Bytes()

	stream := nettrace.NewStream(bytes.NewReader(b[:len(b)-6]))
	_, err := stream.Open()
	requireNoError(t, err)
	assert.ErrorIs(t, stream.Next(), io.ErrUnexpectedEOF)
}

func TestMetadataWithArrayOfObjects(t *testing.T) {
	w := nettracetest.NewWriter(trace)
	w.Metadata("Custom", 1, "WithArray",
		nettrace.MetadataField{
			TypeCode:        nettrace.TypeCodeArray,
			ElementTypeCode: nettrace.TypeCodeObject,
			Fields: []nettrace.MetadataField{
				{TypeCode: nettrace.TypeCodeUInt32, Name: "Key"},
				{TypeCode: nettrace.TypeCodeString, Name: "Value"},
			},
			Name: "Pairs",
		})

	_, c := collect(t, w.Bytes())
	require.Len(t, c.metadata, 1)
	f := c.metadata[0].Fields
	require.Len(t, f, 1)
	assert.Equal(t, "Pairs", f[0].Name)
	assert.Equal(t, nettrace.TypeCodeObject, f[0].ElementTypeCode)
	require.Len(t, f[0].Fields, 2)
	assert.Equal(t, "Value", f[0].Fields[1].Name)
}
