package codegen

import (
	"testing"

	"github.com/cuemby/nebula/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func carSchema() schema.Schema {
	return schema.New(schema.LayoutRowOriented,
		schema.Field{Name: "id", Type: schema.TypeInt64},
		schema.Field{Name: "speed", Type: schema.TypeFloat64},
		schema.Field{Name: "lane", Type: schema.TypeInt32},
	)
}

func TestEncodeDecodeRows_RoundTrip(t *testing.T) {
	s := carSchema()
	records := []Record{
		{"id": int64(1), "speed": 55.5, "lane": int64(2)},
		{"id": int64(2), "speed": 61.2, "lane": int64(1)},
	}

	raw, err := EncodeRows(s, records)
	require.NoError(t, err)
	assert.Len(t, raw, s.RecordSize()*2)

	decoded, err := DecodeRows(s, raw, 2)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	assert.Equal(t, int64(1), decoded[0]["id"])
	assert.InDelta(t, 55.5, decoded[0]["speed"], 0.0001)
	assert.Equal(t, int64(2), decoded[0]["lane"])
	assert.Equal(t, int64(2), decoded[1]["id"])
}

func TestDecodeRows_BufferTooShort(t *testing.T) {
	s := carSchema()
	_, err := DecodeRows(s, make([]byte, 4), 2)
	assert.Error(t, err)
}

func TestDecodeRows_VariableSizedSchemaRejected(t *testing.T) {
	s := schema.New(schema.LayoutRowOriented, schema.Field{Name: "text", Type: schema.TypeVarSized})
	_, err := DecodeRows(s, []byte{1, 2, 3}, 1)
	assert.Error(t, err)
}

func TestEncodeRows_MissingFieldErrors(t *testing.T) {
	s := carSchema()
	_, err := EncodeRows(s, []Record{{"id": int64(1)}})
	assert.Error(t, err)
}
