package precondition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_ReportsEveryMissingName(t *testing.T) {
	set := NewRequirementSet("A", "B", "C")
	env := Map(map[string]string{"A": "x", "B": ""})

	res, err := Validate(set, env)
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Equal(t, []string{"B", "C"}, res.Missing)

	var missingErr *MissingConfigurationError
	require.ErrorAs(t, res.Err(), &missingErr)
	assert.Equal(t, []string{"B", "C"}, missingErr.Names)
	assert.Contains(t, res.Err().Error(), "B, C")
}

func TestValidate_Success(t *testing.T) {
	res, err := Validate(NewRequirementSet("A"), Map(map[string]string{"A": "x"}))
	require.NoError(t, err)
	assert.True(t, res.OK())
	assert.NoError(t, res.Err())
	assert.Empty(t, res.Missing)
}

func TestValidate_EmptySetAlwaysSucceeds(t *testing.T) {
	for _, env := range []map[string]string{{}, {"A": ""}, {"A": "x"}} {
		res, err := Validate(NewRequirementSet(), Map(env))
		require.NoError(t, err)
		assert.True(t, res.OK())
	}
}

func TestValidate_EmptyValueEqualsAbsent(t *testing.T) {
	set := NewRequirementSet("A")

	absent, err := Validate(set, Map(map[string]string{}))
	require.NoError(t, err)
	empty, err := Validate(set, Map(map[string]string{"A": ""}))
	require.NoError(t, err)

	assert.Equal(t, absent, empty)
}

func TestValidate_PreservesOrderAndDuplicates(t *testing.T) {
	set := NewRequirementSet("Z", "A", "M", "A")

	res, err := Validate(set, Map(map[string]string{"M": "ok"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"Z", "A", "A"}, res.Missing)
}

func TestValidate_WhitespaceIsPresent(t *testing.T) {
	set := NewRequirementSet("A")
	env := Map(map[string]string{"A": "  "})

	res, err := Validate(set, env)
	require.NoError(t, err)
	assert.True(t, res.OK())

	res, err = Validate(set, Trimmed(env))
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.Missing)
}

func TestValidate_Idempotent(t *testing.T) {
	set := NewRequirementSet("A", "B")
	env := Map(map[string]string{"A": "x"})

	first, err := Validate(set, env)
	require.NoError(t, err)
	second, err := Validate(set, env)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestValidate_MalformedInput(t *testing.T) {
	tests := []struct {
		name   string
		set    *RequirementSet
		lookup Lookup
	}{
		{name: "nil set", set: nil, lookup: Map(nil)},
		{name: "nil lookup", set: NewRequirementSet("A"), lookup: nil},
		{name: "blank name", set: NewRequirementSet("A", " "), lookup: Map(nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.set, tt.lookup)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedInput))
		})
	}
}

func TestRequirementSet_WithDoesNotMutate(t *testing.T) {
	base := NewRequirementSet("A")
	extended := base.With("B")

	assert.Equal(t, []string{"A"}, base.Names())
	assert.Equal(t, []string{"A", "B"}, extended.Names())
	assert.Equal(t, 2, extended.Len())
}

func TestResult_ErrCopiesNames(t *testing.T) {
	res := Result{Missing: []string{"A"}}
	var missingErr *MissingConfigurationError
	require.ErrorAs(t, res.Err(), &missingErr)

	missingErr.Names[0] = "changed"
	assert.Equal(t, []string{"A"}, res.Missing)
}
