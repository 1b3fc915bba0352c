// Package schema describes the typed, ordered field layout carried by every
// tuple flowing through a query plan.
package schema

import "fmt"

// FieldType is the primitive wire type of a schema field.
type FieldType string

const (
	TypeInt8    FieldType = "int8"
	TypeInt16   FieldType = "int16"
	TypeInt32   FieldType = "int32"
	TypeInt64   FieldType = "int64"
	TypeUint8   FieldType = "uint8"
	TypeUint16  FieldType = "uint16"
	TypeUint32  FieldType = "uint32"
	TypeUint64  FieldType = "uint64"
	TypeFloat32 FieldType = "float32"
	TypeFloat64 FieldType = "float64"
	TypeBoolean FieldType = "boolean"
	TypeChar    FieldType = "char"
	TypeFixedChar FieldType = "fixed_char" // fixed-length char array, Length holds the array size
	TypeVarSized  FieldType = "var_sized"  // variable-sized data (e.g. TEXT)
)

// byteWidth returns the fixed on-wire byte width of a scalar type, or 0 for
// types whose width the type alone does not fix (TypeVarSized, and
// TypeFixedChar, whose width comes from Field.Length).
func (t FieldType) byteWidth() int {
	switch t {
	case TypeInt8, TypeUint8, TypeBoolean, TypeChar:
		return 1
	case TypeInt16, TypeUint16:
		return 2
	case TypeInt32, TypeUint32, TypeFloat32:
		return 4
	case TypeInt64, TypeUint64, TypeFloat64:
		return 8
	default:
		return 0
	}
}

// MemoryLayout selects how a schema's fields are packed in a TupleBuffer.
type MemoryLayout string

const (
	LayoutRowOriented MemoryLayout = "row"
	LayoutColumnar    MemoryLayout = "columnar"
)

// Field is a single named, typed column of a Schema.
type Field struct {
	Name string
	Type FieldType
	// Length is the element count for TypeFixedChar, ignored otherwise.
	Length int
}

// Size returns the field's fixed byte width, or 0 for variable-sized fields.
func (f Field) Size() int {
	if f.Type == TypeFixedChar {
		return f.Length
	}
	return f.Type.byteWidth()
}

// Schema is an ordered sequence of named, typed fields plus a memory layout
// hint used by the code generator when laying out TupleBuffer records.
type Schema struct {
	Fields []Field
	Layout MemoryLayout
}

// New builds a Schema with the given layout, defaulting to row-oriented
// when layout is the empty string.
func New(layout MemoryLayout, fields ...Field) Schema {
	if layout == "" {
		layout = LayoutRowOriented
	}
	return Schema{Fields: fields, Layout: layout}
}

// IndexOf returns the position of the named field, or -1 if absent.
func (s Schema) IndexOf(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Has reports whether the schema declares a field with the given name.
func (s Schema) Has(name string) bool {
	return s.IndexOf(name) >= 0
}

// RecordSize returns the fixed per-record byte width for row-oriented
// layout, or 0 if any field is variable-sized.
func (s Schema) RecordSize() int {
	total := 0
	for _, f := range s.Fields {
		sz := f.Size()
		if sz == 0 {
			return 0
		}
		total += sz
	}
	return total
}

// Concat returns a new schema whose fields are the receiver's fields
// followed by other's, used when joining two input schemas. The layout of
// the receiver is preserved.
func (s Schema) Concat(other Schema) Schema {
	fields := make([]Field, 0, len(s.Fields)+len(other.Fields))
	fields = append(fields, s.Fields...)
	fields = append(fields, other.Fields...)
	return Schema{Fields: fields, Layout: s.Layout}
}

// Equal reports whether two schemas declare identical fields, in order,
// with the same layout.
func (s Schema) Equal(other Schema) bool {
	if s.Layout != other.Layout || len(s.Fields) != len(other.Fields) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	return true
}

func (s Schema) String() string {
	return fmt.Sprintf("Schema(%d fields, %s)", len(s.Fields), s.Layout)
}
