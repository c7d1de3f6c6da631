package sketch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryIsNonIncreasingInInsertCount(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	key := WordsKey{1, 2, 3}

	assert.Equal(t, 1.0, s.Query(key), "unseen key is fully novel")
	prev := s.Query(key)
	for i := 0; i < 100; i++ {
		s.Insert(key)
		q := s.Query(key)
		assert.GreaterOrEqual(t, q, 0.0)
		assert.LessOrEqual(t, q, 1.0)
		assert.LessOrEqual(t, q, prev, "insert %d", i)
		prev = q
	}
	assert.InDelta(t, 0.01, prev, 1e-12)
	assert.Equal(t, uint64(100), s.Observations())
}

func TestCountNeverUnderestimates(t *testing.T) {
	s, err := New(Config{Width: 8, Depth: 2})
	require.NoError(t, err)
	want := map[Uint64Key]uint32{}
	for i := 0; i < 200; i++ {
		k := Uint64Key(i % 37)
		s.Insert(k)
		want[k]++
	}
	for k, n := range want {
		assert.GreaterOrEqual(t, s.Count(k), n, "key %d", k)
	}
}

func TestDistinctKeysStayNovelInWideSketch(t *testing.T) {
	s, err := New(Config{Width: 1 << 16, Depth: 4})
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		s.Insert(Uint64Key(0x400000 + i))
	}
	for i := 0; i < 100; i++ {
		assert.Equal(t, 1.0, s.Query(Uint64Key(0x400000+i)))
	}
}

func TestWordsKeyLengthIsPartOfKey(t *testing.T) {
	assert.NotEqual(t, WordsKey{0}.AppendKey(nil), WordsKey{0, 0}.AppendKey(nil))
}

func TestNewRejectsNegativeShape(t *testing.T) {
	_, err := New(Config{Width: -1})
	assert.True(t, errors.Is(err, ErrInvalidShape))
}

func TestSketchesAreIndependent(t *testing.T) {
	sk, err := NewSketches(Config{Width: 64, Depth: 2})
	require.NoError(t, err)
	sk.AddressesVisited.Insert(Uint64Key(7))
	sk.AddressesVisited.Insert(Uint64Key(7))
	assert.Equal(t, 1.0, sk.RegisterError.Query(Uint64Key(7)))
	assert.Equal(t, 1.0, sk.MemoryWrites.Query(Uint64Key(7)))
	assert.Equal(t, 0.5, sk.AddressesVisited.Query(Uint64Key(7)))
	assert.Equal(t, uint64(2), sk.Observations())
}
