package fitness

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertOnlyAcceptsWeightedObjectives(t *testing.T) {
	f := New(Weighting{"register_error": 1, "gadgets_executed": -0.5})
	assert.True(t, f.Insert("register_error", 0.25))
	assert.False(t, f.Insert("zeroes", 3))
	_, ok := f.Get("zeroes")
	assert.False(t, ok)
	assert.Equal(t, []string{"register_error"}, f.Names())
}

func TestInsertReplacesNaNWithWorst(t *testing.T) {
	f := New(Weighting{"a": 1, "b": -1})
	f.Insert("a", math.NaN())
	f.Insert("b", math.NaN())
	a, _ := f.Get("a")
	b, _ := f.Get("b")
	assert.Equal(t, math.MaxFloat64, a)
	assert.Equal(t, -math.MaxFloat64, b)
}

func TestDeclareFailureIsDeterministic(t *testing.T) {
	weighting := Weighting{"register_error": 1, "register_novelty": -1, "crash_count": 0}
	a := New(weighting)
	a.Insert("register_error", 0)
	a.Insert("register_novelty", 1)
	a.DeclareFailure()

	b := New(weighting)
	b.Insert("crash_count", 12)
	b.DeclareFailure()

	assert.Equal(t, a.Scores, b.Scores)
	assert.True(t, a.Failed())
	assert.Equal(t, math.MaxFloat64, a.Scores["register_error"])
	assert.Equal(t, -math.MaxFloat64, a.Scores["register_novelty"])
	assert.Equal(t, math.MaxFloat64, a.Scores["crash_count"])
	assert.True(t, math.IsInf(a.Scalar(), 1))
}

func TestScalarIsWeightedSum(t *testing.T) {
	f := New(Weighting{"register_error": 2, "register_novelty": -1, "ignored": 0})
	require.True(t, f.Insert("register_error", 0.5))
	require.True(t, f.Insert("register_novelty", 0.25))
	require.True(t, f.Insert("ignored", math.MaxFloat64))
	assert.InDelta(t, 0.75, f.Scalar(), 1e-12)
	assert.False(t, f.Failed())
}

func TestNewCopiesWeighting(t *testing.T) {
	w := Weighting{"a": 1}
	f := New(w)
	w["b"] = 1
	assert.False(t, f.Insert("b", 1))
}
