package codegen

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cuemby/nebula/pkg/schema"
)

// Record is one decoded tuple: field name to its Go-typed value. The
// interpreted execute path decodes a TupleBuffer into records, runs the
// operator chain over them, and re-encodes the survivors into an output
// buffer's row layout.
type Record map[string]any

// DecodeRows splits raw row-oriented buffer bytes into n records laid out
// per s's fixed-width fields, in declaration order.
func DecodeRows(s schema.Schema, raw []byte, n uint64) ([]Record, error) {
	recordSize := s.RecordSize()
	if recordSize == 0 {
		return nil, fmt.Errorf("codegen: schema has variable-sized fields, row codec requires fixed width")
	}
	records := make([]Record, 0, n)
	for i := uint64(0); i < n; i++ {
		offset := int(i) * recordSize
		if offset+recordSize > len(raw) {
			return nil, fmt.Errorf("codegen: buffer too short for %d tuples of record size %d", n, recordSize)
		}
		rec, err := decodeOne(s, raw[offset:offset+recordSize])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func decodeOne(s schema.Schema, row []byte) (Record, error) {
	rec := make(Record, len(s.Fields))
	pos := 0
	for _, f := range s.Fields {
		width := f.Size()
		if width == 0 || pos+width > len(row) {
			return nil, fmt.Errorf("codegen: field %q: invalid width in row codec", f.Name)
		}
		chunk := row[pos : pos+width]
		pos += width

		switch f.Type {
		case schema.TypeInt8:
			rec[f.Name] = int64(int8(chunk[0]))
		case schema.TypeUint8, schema.TypeBoolean, schema.TypeChar:
			rec[f.Name] = uint64(chunk[0])
		case schema.TypeInt16:
			rec[f.Name] = int64(int16(binary.LittleEndian.Uint16(chunk)))
		case schema.TypeUint16:
			rec[f.Name] = uint64(binary.LittleEndian.Uint16(chunk))
		case schema.TypeInt32:
			rec[f.Name] = int64(int32(binary.LittleEndian.Uint32(chunk)))
		case schema.TypeUint32:
			rec[f.Name] = uint64(binary.LittleEndian.Uint32(chunk))
		case schema.TypeFloat32:
			rec[f.Name] = float64(math.Float32frombits(binary.LittleEndian.Uint32(chunk)))
		case schema.TypeInt64:
			rec[f.Name] = int64(binary.LittleEndian.Uint64(chunk))
		case schema.TypeUint64:
			rec[f.Name] = binary.LittleEndian.Uint64(chunk)
		case schema.TypeFloat64:
			rec[f.Name] = math.Float64frombits(binary.LittleEndian.Uint64(chunk))
		default:
			return nil, fmt.Errorf("codegen: field %q: unsupported row-codec type %s", f.Name, f.Type)
		}
	}
	return rec, nil
}

// EncodeRows packs records into raw row-oriented bytes per s's fixed-width
// fields, the inverse of DecodeRows.
func EncodeRows(s schema.Schema, records []Record) ([]byte, error) {
	recordSize := s.RecordSize()
	if recordSize == 0 {
		return nil, fmt.Errorf("codegen: schema has variable-sized fields, row codec requires fixed width")
	}
	out := make([]byte, recordSize*len(records))
	for i, rec := range records {
		if err := encodeOne(s, rec, out[i*recordSize:(i+1)*recordSize]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func encodeOne(s schema.Schema, rec Record, row []byte) error {
	pos := 0
	for _, f := range s.Fields {
		width := f.Size()
		chunk := row[pos : pos+width]
		pos += width

		v, ok := rec[f.Name]
		if !ok {
			return fmt.Errorf("codegen: record missing field %q required by output schema", f.Name)
		}

		switch f.Type {
		case schema.TypeInt8:
			chunk[0] = byte(toInt64(v))
		case schema.TypeUint8, schema.TypeBoolean, schema.TypeChar:
			chunk[0] = byte(toUint64(v))
		case schema.TypeInt16:
			binary.LittleEndian.PutUint16(chunk, uint16(toInt64(v)))
		case schema.TypeUint16:
			binary.LittleEndian.PutUint16(chunk, uint16(toUint64(v)))
		case schema.TypeInt32:
			binary.LittleEndian.PutUint32(chunk, uint32(toInt64(v)))
		case schema.TypeUint32:
			binary.LittleEndian.PutUint32(chunk, uint32(toUint64(v)))
		case schema.TypeFloat32:
			binary.LittleEndian.PutUint32(chunk, math.Float32bits(float32(toFloat64(v))))
		case schema.TypeInt64:
			binary.LittleEndian.PutUint64(chunk, uint64(toInt64(v)))
		case schema.TypeUint64:
			binary.LittleEndian.PutUint64(chunk, toUint64(v))
		case schema.TypeFloat64:
			binary.LittleEndian.PutUint64(chunk, math.Float64bits(toFloat64(v)))
		default:
			return fmt.Errorf("codegen: field %q: unsupported row-codec type %s", f.Name, f.Type)
		}
	}
	return nil
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case float64:
		return uint64(n)
	case int:
		return uint64(n)
	default:
		return 0
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case uint64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}
