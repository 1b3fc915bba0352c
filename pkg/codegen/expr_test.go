package codegen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileExpr_EvalBool(t *testing.T) {
	c, err := compileExpr("speed > 50")
	require.NoError(t, err)

	keep, err := c.evalBool(Record{"speed": 60.0})
	require.NoError(t, err)
	assert.True(t, keep)

	keep, err = c.evalBool(Record{"speed": 10.0})
	require.NoError(t, err)
	assert.False(t, keep)
}

func TestCompileExpr_EvalBoolWrongType(t *testing.T) {
	c, err := compileExpr("speed")
	require.NoError(t, err)

	_, err = c.evalBool(Record{"speed": 60.0})
	assert.Error(t, err)
}

func TestCompileExpr_Eval(t *testing.T) {
	c, err := compileExpr("speed * 2")
	require.NoError(t, err)

	out, err := c.eval(Record{"speed": 10.0})
	require.NoError(t, err)
	assert.Equal(t, 20.0, out)
}

func TestCompileExpr_ParseError(t *testing.T) {
	_, err := compileExpr("speed >>> 5 ===")
	assert.Error(t, err)
}
