package precondition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnv(t *testing.T) {
	t.Setenv("PRECONDITION_TEST_SET", "value")
	t.Setenv("PRECONDITION_TEST_EMPTY", "")

	v, ok := Env().Lookup("PRECONDITION_TEST_SET")
	assert.True(t, ok)
	assert.Equal(t, "value", v)

	v, ok = Env().Lookup("PRECONDITION_TEST_EMPTY")
	assert.True(t, ok)
	assert.Empty(t, v)
}

func TestChain(t *testing.T) {
	first := Map(map[string]string{"A": "", "B": "first"})
	second := Map(map[string]string{"A": "second", "C": ""})
	chain := Chain(first, nil, second)

	v, ok := chain.Lookup("A")
	assert.True(t, ok)
	assert.Equal(t, "second", v)

	v, ok = chain.Lookup("B")
	assert.True(t, ok)
	assert.Equal(t, "first", v)

	v, ok = chain.Lookup("C")
	assert.True(t, ok)
	assert.Empty(t, v)

	_, ok = chain.Lookup("D")
	assert.False(t, ok)
}

func TestTrimmed(t *testing.T) {
	l := Trimmed(Map(map[string]string{"A": "\t \n", "B": " x "}))

	v, ok := l.Lookup("A")
	assert.True(t, ok)
	assert.Empty(t, v)

	v, ok = l.Lookup("B")
	assert.True(t, ok)
	assert.Equal(t, " x ", v)

	_, ok = l.Lookup("C")
	assert.False(t, ok)
}
