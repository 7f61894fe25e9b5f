package nettrace

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// BlobBlock holds the blobs of an EventBlock or a MetadataBlock.
type BlobBlock struct {
	Header BlobBlockHeader
	// Payload holds the serialized blobs that follow the header.
	Payload *bytes.Buffer

	size       int
	compressed bool
	// lastHeader holds the most recent blob header: compressed headers
	// only carry the fields that changed.
	lastHeader    BlobHeader
	extractHeader func(*Blob) error
	p             *Parser
}

type BlobBlockHeader struct {
	// Size of the header including this field.
	Size         int16
	Flags        int16
	MinTimestamp int64
	MaxTimestamp int64
	// Padding up to Size bytes.
}

var blobBlockHeaderSize = binary.Size(BlobBlockHeader{})

// Blob is a single event or metadata record.
type Blob struct {
	Header  BlobHeader
	Payload *bytes.Buffer
}

// BlobHeader is used for both compressed and uncompressed blobs.
type BlobHeader struct {
	// EventSize is the record size not counting this field.
	EventSize         int32
	MetadataID        int32
	SequenceNumber    int32
	ThreadID          int64
	CaptureThreadID   int64
	CaptureProcNumber int32
	StackID           int32
	TimeStamp         int64
	ActivityID        [16]byte
	RelatedActivityID [16]byte
	PayloadSize       int32
}

type StackBlock struct {
	FirstID int32
	Stacks  []Stack
}

// Stack holds raw instruction pointers of the trace's pointer size.
type Stack []byte

type SequencePointBlock struct {
	TimeStamp int64
	Threads   []Thread
}

type Thread struct {
	ThreadID       int64
	SequenceNumber int32
}

type compressedHeaderFlag byte

// Unless stated otherwise, a flag is set when the corresponding header
// member is present in the stream.
const (
	flagMetadataID compressedHeaderFlag = 1 << iota
	// CaptureThreadID, CaptureProcNumber and a SequenceNumber delta follow.
	// Without the flag a blob with a non-zero MetadataID increments the
	// previous SequenceNumber.
	flagCaptureThreadAndSequence
	flagThreadID
	flagStackID
	flagActivityID
	flagRelatedActivityID
	flagIsSorted
	flagPayloadSize
)

func BlobBlockFromObject(o Object) (*BlobBlock, error) {
	b := BlobBlock{
		size: o.Payload.Len(),
		p:    NewParser(o.Payload),
	}
	b.p.Read(&b.Header)
	if err := b.p.Err(); err != nil {
		return nil, err
	}
	b.compressed = b.Header.Flags&0x0001 != 0
	if b.compressed {
		b.extractHeader = b.readBlobHeaderCompressed
	} else {
		b.extractHeader = b.readBlobHeader
	}
	b.p.Skip(int(b.Header.Size) - blobBlockHeaderSize)
	// Blocks are processed sequentially: the blobs share the object buffer.
	b.Payload = o.Payload
	return &b, b.p.Err()
}

// Next reads the next blob of the block, or returns io.EOF.
func (b *BlobBlock) Next(blob *Blob) error {
	if b.Payload.Len() == 0 {
		return io.EOF
	}
	if err := b.extractHeader(blob); err != nil {
		return err
	}
	if blob.Header.PayloadSize < 0 || int(blob.Header.PayloadSize) > b.Payload.Len() {
		return fmt.Errorf("%w: blob payload size %d", ErrInvalidFormat, blob.Header.PayloadSize)
	}
	blob.Payload = bytes.NewBuffer(b.Payload.Next(int(blob.Header.PayloadSize)))
	if !b.compressed {
		// Uncompressed blobs are 4-byte aligned within the block.
		consumed := b.size - b.Payload.Len()
		b.p.Skip((4 - consumed%4) % 4)
	}
	return b.p.Err()
}

func (b *BlobBlock) readBlobHeader(blob *Blob) error {
	b.p.Read(&blob.Header)
	// The low 31 bits of MetadataID reference the event metadata (zero in
	// a metadata block), the high bit is the IsSorted flag.
	blob.Header.MetadataID &= 0x7FFFFFFF
	return b.p.Err()
}

func (b *BlobBlock) readBlobHeaderCompressed(blob *Blob) error {
	blob.Header = b.lastHeader
	var flags compressedHeaderFlag
	b.p.Read(&flags)
	if flags&flagMetadataID != 0 {
		blob.Header.MetadataID = int32(b.p.Uvarint())
	}
	if flags&flagCaptureThreadAndSequence != 0 {
		blob.Header.SequenceNumber += int32(b.p.Uvarint()) + 1
		blob.Header.CaptureThreadID = int64(b.p.Uvarint())
		blob.Header.CaptureProcNumber = int32(b.p.Uvarint())
	} else if blob.Header.MetadataID != 0 {
		blob.Header.SequenceNumber++
	}
	if flags&flagThreadID != 0 {
		blob.Header.ThreadID = int64(b.p.Uvarint())
	}
	if flags&flagStackID != 0 {
		blob.Header.StackID = int32(b.p.Uvarint())
	}
	blob.Header.TimeStamp += int64(b.p.Uvarint())
	if flags&flagActivityID != 0 {
		b.p.Read(&blob.Header.ActivityID)
	}
	if flags&flagRelatedActivityID != 0 {
		b.p.Read(&blob.Header.RelatedActivityID)
	}
	if flags&flagPayloadSize != 0 {
		blob.Header.PayloadSize = int32(b.p.Uvarint())
	}
	b.lastHeader = blob.Header
	return b.p.Err()
}

func StackBlockFromObject(o Object) (*StackBlock, error) {
	var b StackBlock
	var count, size int32
	p := NewParser(o.Payload)
	p.Read(&b.FirstID)
	p.Read(&count)
	if count < 0 || int(count) > o.Payload.Len()/4 {
		return nil, fmt.Errorf("%w: stack count %d", ErrInvalidFormat, count)
	}
	b.Stacks = make([]Stack, 0, count)
	for i := int32(0); i < count && p.Err() == nil; i++ {
		p.Read(&size)
		if size < 0 || int(size) > p.Len() {
			return nil, fmt.Errorf("%w: stack size %d", ErrInvalidFormat, size)
		}
		b.Stacks = append(b.Stacks, append(Stack(nil), o.Payload.Next(int(size))...))
	}
	return &b, p.Err()
}

func SequencePointBlockFromObject(o Object) (*SequencePointBlock, error) {
	var b SequencePointBlock
	var count int32
	p := NewParser(o.Payload)
	p.Read(&b.TimeStamp)
	p.Read(&count)
	if count < 0 || int(count) > o.Payload.Len()/binary.Size(Thread{}) {
		return nil, fmt.Errorf("%w: thread count %d", ErrInvalidFormat, count)
	}
	b.Threads = make([]Thread, count)
	p.Read(b.Threads)
	return &b, p.Err()
}
