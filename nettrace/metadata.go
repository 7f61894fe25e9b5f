package nettrace

import (
	"fmt"
)

type Metadata struct {
	Header MetadataHeader
	// Fields is nil when the event declares no payload fields.
	Fields []MetadataField
}

type MetadataHeader struct {
	MetadataID   int32
	ProviderName string
	EventID      int32
	EventName    string
	Keywords     int64
	Version      int32
	Level        int32
}

// TypeCode follows System.TypeCode, extended with Array.
type TypeCode int32

const (
	TypeCodeObject TypeCode = 1
	TypeCodeUInt16 TypeCode = 8
	TypeCodeUInt32 TypeCode = 10
	TypeCodeUInt64 TypeCode = 12
	TypeCodeString TypeCode = 18
	TypeCodeArray  TypeCode = 19
)

type MetadataField struct {
	TypeCode TypeCode
	// ElementTypeCode is only set for arrays.
	ElementTypeCode TypeCode
	// Fields describes the members of an object, or of an array of objects.
	Fields []MetadataField
	Name   string
}

const maxFieldDepth = 16

// MetadataFromBlob decodes a metadata record. Tags that V5 streams may
// append after the field list are ignored.
func MetadataFromBlob(b *Blob) (*Metadata, error) {
	p := NewParser(b.Payload)
	var md Metadata
	p.Read(&md.Header.MetadataID)
	md.Header.ProviderName = p.UTF16NTS()
	p.Read(&md.Header.EventID)
	md.Header.EventName = p.UTF16NTS()
	p.Read(&md.Header.Keywords)
	p.Read(&md.Header.Version)
	p.Read(&md.Header.Level)
	if err := p.Err(); err != nil {
		return nil, fmt.Errorf("metadata header: %w", err)
	}
	if p.Len() == 0 {
		return &md, nil
	}
	fields, err := readFields(p, 0)
	if err != nil {
		return nil, fmt.Errorf("metadata %d (%s/%d): %w",
			md.Header.MetadataID, md.Header.ProviderName, md.Header.EventID, err)
	}
	md.Fields = fields
	return &md, nil
}

func readFields(p *Parser, depth int) ([]MetadataField, error) {
	if depth > maxFieldDepth {
		return nil, fmt.Errorf("%w: fields nested deeper than %d", ErrInvalidFormat, maxFieldDepth)
	}
	var count int32
	p.Read(&count)
	if count < 0 || int(count) > p.Len() {
		return nil, fmt.Errorf("%w: field count %d", ErrInvalidFormat, count)
	}
	var fields []MetadataField
	for i := int32(0); i < count; i++ {
		var f MetadataField
		p.Read(&f.TypeCode)
		nested := f.TypeCode == TypeCodeObject
		if f.TypeCode == TypeCodeArray {
			p.Read(&f.ElementTypeCode)
			nested = f.ElementTypeCode == TypeCodeObject
		}
		if nested {
			sub, err := readFields(p, depth+1)
			if err != nil {
				return nil, err
			}
			f.Fields = sub
		}
		f.Name = p.UTF16NTS()
		if err := p.Err(); err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, p.Err()
}
