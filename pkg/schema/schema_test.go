package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchema_IndexOf(t *testing.T) {
	s := New(LayoutRowOriented,
		Field{Name: "id", Type: TypeInt64},
		Field{Name: "value", Type: TypeFloat64},
	)

	assert.Equal(t, 0, s.IndexOf("id"))
	assert.Equal(t, 1, s.IndexOf("value"))
	assert.Equal(t, -1, s.IndexOf("missing"))
	assert.True(t, s.Has("id"))
	assert.False(t, s.Has("missing"))
}

func TestSchema_RecordSize(t *testing.T) {
	tests := []struct {
		name     string
		schema   Schema
		expected int
	}{
		{
			name: "fixed width fields",
			schema: New(LayoutRowOriented,
				Field{Name: "id", Type: TypeInt64},
				Field{Name: "flag", Type: TypeBoolean},
			),
			expected: 9,
		},
		{
			name: "fixed char field",
			schema: New(LayoutRowOriented,
				Field{Name: "name", Type: TypeFixedChar, Length: 16},
			),
			expected: 16,
		},
		{
			name: "variable sized field returns zero",
			schema: New(LayoutRowOriented,
				Field{Name: "id", Type: TypeInt32},
				Field{Name: "payload", Type: TypeVarSized},
			),
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.schema.RecordSize())
		})
	}
}

func TestSchema_Concat(t *testing.T) {
	left := New(LayoutRowOriented, Field{Name: "l_id", Type: TypeInt64})
	right := New(LayoutColumnar, Field{Name: "r_id", Type: TypeInt64})

	joined := left.Concat(right)

	assert.Len(t, joined.Fields, 2)
	assert.Equal(t, LayoutRowOriented, joined.Layout)
	assert.Equal(t, "l_id", joined.Fields[0].Name)
	assert.Equal(t, "r_id", joined.Fields[1].Name)
}

func TestSchema_Equal(t *testing.T) {
	a := New(LayoutRowOriented, Field{Name: "id", Type: TypeInt64})
	b := New(LayoutRowOriented, Field{Name: "id", Type: TypeInt64})
	c := New(LayoutColumnar, Field{Name: "id", Type: TypeInt64})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestNew_DefaultsToRowLayout(t *testing.T) {
	s := New("", Field{Name: "id", Type: TypeInt32})
	assert.Equal(t, LayoutRowOriented, s.Layout)
}
