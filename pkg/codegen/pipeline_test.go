package codegen

import (
	"testing"

	"github.com/cuemby/nebula/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestPipeline_HandlerCount(t *testing.T) {
	p := NewPipeline(1, "p", schema.Schema{}, schema.Schema{})
	p.AddOperator(GeneratableOperator{Kind: OpFilter, HandlerIndex: -1})
	p.AddOperator(GeneratableOperator{Kind: OpWindow, HandlerIndex: 0})
	assert.Equal(t, 1, p.HandlerCount())
}

func TestPipeline_HandlerCountRecursesIntoCEPIterate(t *testing.T) {
	p := NewPipeline(1, "p", schema.Schema{}, schema.Schema{})
	p.AddOperator(GeneratableOperator{
		Kind:        OpCEPIterate,
		HandlerIndex: -1,
		RepeatCount: 3,
		Inner: []GeneratableOperator{
			{Kind: OpWindow, HandlerIndex: 2},
		},
	})
	assert.Equal(t, 3, p.HandlerCount())
}

func TestPipeline_HandlerCountEmpty(t *testing.T) {
	p := NewPipeline(1, "p", schema.Schema{}, schema.Schema{})
	assert.Equal(t, 0, p.HandlerCount())
}

func TestArity_String(t *testing.T) {
	assert.Equal(t, "unary", Unary.String())
	assert.Equal(t, "binary_left", BinaryLeft.String())
	assert.Equal(t, "binary_right", BinaryRight.String())
}
