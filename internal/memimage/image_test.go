package memimage

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roper/internal/arch"
)

func testTarget(t *testing.T) arch.Target {
	t.Helper()
	target, err := arch.ParseTarget("x86", "64")
	require.NoError(t, err)
	return target
}

func newTestImage(t *testing.T) *Image {
	t.Helper()
	text := make([]byte, 64)
	for i := range text {
		text[i] = byte(i)
	}
	data := []byte{
		0xef, 0xbe, 0xad, 0xde, 0, 0, 0, 0,
		0x00, 0x10, 0x40, 0, 0, 0, 0, 0,
		0xaa, 0xbb,
	}
	img, err := New(testTarget(t), []Segment{
		{Addr: 0x602000, Data: data, Perm: PermRead | PermWrite},
		{Addr: 0x401000, Data: text, Perm: PermRead | PermExec},
	}, 1)
	require.NoError(t, err)
	return img
}

func TestNewSortsAndMeasuresExecutable(t *testing.T) {
	img := newTestImage(t)
	segs := img.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, uint64(0x401000), segs[0].Addr)
	assert.Equal(t, 64, img.ExecutableSize())
	assert.Equal(t, 8, img.WordSize())
	assert.Equal(t, arch.Little, img.Endian())
	assert.Equal(t, "r-x", segs[0].Perm.String())
}

func TestNewRejectsOverlapAndEmpty(t *testing.T) {
	target := testTarget(t)
	_, err := New(target, nil, 0)
	assert.True(t, errors.Is(err, ErrNoSegments))
	_, err = New(target, []Segment{
		{Addr: 0x1000, Data: make([]byte, 0x20)},
		{Addr: 0x1010, Data: make([]byte, 0x20)},
	}, 0)
	assert.True(t, errors.Is(err, ErrOverlap))
	_, err = New(target, []Segment{{Addr: 0x1000}}, 0)
	assert.True(t, errors.Is(err, ErrEmptySegment))
}

func TestDereference(t *testing.T) {
	img := newTestImage(t)
	b, ok := img.Dereference(0x401010)
	require.True(t, ok)
	assert.Len(t, b, 48)
	assert.Equal(t, byte(0x10), b[0])

	_, ok = img.Dereference(0x401040)
	assert.False(t, ok)
	_, ok = img.Dereference(0)
	assert.False(t, ok)

	w, ok := img.ReadWord(0x602000)
	require.True(t, ok)
	assert.Equal(t, uint64(0xdeadbeef), w)
	_, ok = img.ReadWord(0x602010)
	assert.False(t, ok, "two trailing bytes cannot hold a word")
}

func TestReverseLookupFindsEveryOccurrenceFromAnyStart(t *testing.T) {
	for seed := int64(0); seed < 32; seed++ {
		img := newTestImage(t)
		img.rng = rand.New(rand.NewSource(seed))
		addr, ok := img.ReverseLookup([]byte{0xef, 0xbe, 0xad, 0xde})
		require.True(t, ok, "seed %d", seed)
		assert.Equal(t, uint64(0x602000), addr)

		addr, ok = img.ReverseLookup([]byte{0x20, 0x21})
		require.True(t, ok, "seed %d", seed)
		assert.Equal(t, uint64(0x401020), addr)
	}
}

func TestReverseLookupMisses(t *testing.T) {
	img := newTestImage(t)
	_, ok := img.ReverseLookup([]byte{0x99, 0x98, 0x97})
	assert.False(t, ok)
	_, ok = img.ReverseLookup(nil)
	assert.False(t, ok)
}

func TestSoupDrawsExecutableAddresses(t *testing.T) {
	img := newTestImage(t)
	soup, err := img.Soup(rand.New(rand.NewSource(3)), 50)
	require.NoError(t, err)
	require.Len(t, soup, 50)
	for i, addr := range soup {
		assert.GreaterOrEqual(t, addr, uint64(0x401000))
		assert.Less(t, addr, uint64(0x401040))
		if i > 0 {
			assert.LessOrEqual(t, soup[i-1], addr)
		}
	}

	noExec, err := New(testTarget(t), []Segment{{Addr: 0x1000, Data: []byte{1}, Perm: PermRead}}, 0)
	require.NoError(t, err)
	_, err = noExec.RandomExecutableAddress(rand.New(rand.NewSource(1)))
	assert.True(t, errors.Is(err, ErrNoExecutable))
}
