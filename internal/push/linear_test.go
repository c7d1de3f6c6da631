package push

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roper/internal/arch"
)

func TestLinearPacksWordsInTargetOrder(t *testing.T) {
	target, err := arch.ParseTarget("x86", "32")
	require.NoError(t, err)
	m := NewLinear(target)
	out := m.Exec([]uint64{0x11223344, 0x55667788}, []uint64{0xaabbccdd}, 10)
	assert.Equal(t, []byte{
		0xdd, 0xcc, 0xbb, 0xaa,
		0x44, 0x33, 0x22, 0x11,
		0x88, 0x77, 0x66, 0x55,
	}, out)
}

func TestLinearRespectsStepBudget(t *testing.T) {
	target, err := arch.ParseTarget("mips", "mips32")
	require.NoError(t, err)
	m := NewLinear(target)
	out := m.Exec([]uint64{1, 2, 3}, nil, 2)
	assert.Equal(t, []byte{0, 0, 0, 1, 0, 0, 0, 2}, out)
}

func TestLinearEmptyPayloads(t *testing.T) {
	target, err := arch.ParseTarget("x86", "64")
	require.NoError(t, err)
	m := NewLinear(target)
	assert.Empty(t, m.Exec(nil, nil, 100))
	assert.Empty(t, m.Exec([]uint64{1}, nil, 0))
	assert.NotNil(t, m.Exec(nil, nil, 100))

	broken := &Linear{WordSize: 3}
	assert.Empty(t, broken.Exec([]uint64{1}, nil, 10))
}
