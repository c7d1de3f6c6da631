package policy

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roper/internal/arch"
	"roper/internal/creature"
	"roper/internal/fitness"
	"roper/internal/genotype"
	"roper/internal/profile"
	"roper/internal/sketch"
)

var (
	rax = arch.Register{Arch: arch.X86, Name: "rax"}
	rbx = arch.Register{Arch: arch.X86, Name: "rbx"}
)

type fakeMemory struct {
	wordSize int
	execSize int
}

func (fakeMemory) Dereference(uint64) ([]byte, bool) { return nil, false }
func (fakeMemory) ReverseLookup([]byte) (uint64, bool) { return 0, false }
func (m fakeMemory) WordSize() int { return m.wordSize }
func (fakeMemory) Endian() arch.Endian { return arch.Little }
func (m fakeMemory) ExecutableSize() int { return m.execSize }

func newSketches(t *testing.T) *sketch.Sketches {
	t.Helper()
	s, err := sketch.NewSketches(sketch.Config{Width: 1024, Depth: 4})
	require.NoError(t, err)
	return s
}

func profiled(p *profile.Profile) creature.Creature {
	c := creature.New(genotype.Genotype{Name: "c", Chromosome: []uint64{1}})
	c.SetPayload([]byte{1, 0, 0, 0, 0, 0, 0, 0})
	c.SetProfile(p)
	return c
}

func state(values ...arch.RegisterValue) arch.RegisterState {
	return arch.RegisterState(values)
}

func val(r arch.Register, v uint64) arch.RegisterValue {
	return arch.RegisterValue{Register: r, Values: []uint64{v}}
}

func allWeighted() fitness.Weighting {
	return fitness.Weighting{
		ObjRegisterNovelty: 1,
		ObjGadgetsExecuted: -1,
		ObjRegisterError:   1,
		ObjMemWriteNovelty: 1,
		ObjCrashCount:      1,
		ObjRegisterEntropy: -1,
		ObjZeroes:          1,
		ObjMemWriteRatio:   1,
		ObjCodeCoverage:    1,
		ObjCodeFrequency:   1,
	}
}

func score(t *testing.T, c creature.Creature, name string) float64 {
	t.Helper()
	require.True(t, c.Scored(), "creature was not scored")
	v, ok := c.Fitness.Get(name)
	require.True(t, ok, "objective %s missing", name)
	return v
}

func TestJustNoveltyAveragesObservations(t *testing.T) {
	sketches := newSketches(t)
	env := &Env{Weighting: allWeighted()}
	p := &profile.Profile{
		Registers:       []arch.RegisterState{state(val(rax, 1)), state(val(rax, 1))},
		GadgetsExecuted: []uint64{0x10, 0x20},
		Executable:      true,
	}
	c := JustNovelty(profiled(p), sketches, env)
	assert.InDelta(t, 0.75, score(t, c, ObjRegisterNovelty), 1e-12)
	assert.Equal(t, 2.0, score(t, c, ObjGadgetsExecuted))
	assert.Equal(t, uint64(2), sketches.RegisterError.Observations())
	_, ok := c.Fitness.Get(ObjRegisterError)
	assert.False(t, ok)
}

func TestJustNoveltyWithoutObservationsUsesSentinel(t *testing.T) {
	c := JustNovelty(profiled(&profile.Profile{Executable: true}), newSketches(t), &Env{Weighting: allWeighted()})
	assert.Equal(t, 1.0, score(t, c, ObjRegisterNovelty))
	assert.False(t, math.IsNaN(c.Fitness.Scalar()))
}

func TestPoliciesSkipCreaturesWithoutProfile(t *testing.T) {
	for _, name := range Names() {
		fn, err := Resolve(name)
		require.NoError(t, err)
		c := creature.New(genotype.Genotype{Name: "c"})
		c.SetPayload([]byte{1})
		out := fn(c, newSketches(t), &Env{Weighting: allWeighted()})
		assert.Equal(t, creature.PayloadGenerated, out.State, name)
		assert.Nil(t, out.Fitness, name)
	}
}

func testPattern(t *testing.T) *arch.RegisterPattern {
	t.Helper()
	target, err := arch.ParseTarget("x86", "64")
	require.NoError(t, err)
	pattern, err := arch.ParsePattern(target, []arch.PatternEntry{
		{Register: "rax", Value: "0x10"},
		{Register: "rbx", Value: "0x20"},
	})
	require.NoError(t, err)
	return pattern
}

func TestRegisterPatternExactMatchHasZeroError(t *testing.T) {
	sketches := newSketches(t)
	env := &Env{Weighting: allWeighted(), Pattern: testPattern(t)}
	p := &profile.Profile{
		Registers:  []arch.RegisterState{state(val(rax, 0x10), val(rbx, 0x20))},
		WriteLogs:  [][]profile.MemoryWrite{nil},
		Executable: true,
	}
	c := RegisterPattern(profiled(p), sketches, env)
	assert.Equal(t, 0.0, score(t, c, ObjRegisterError))
	assert.Equal(t, 1.0, score(t, c, ObjRegisterNovelty))
	assert.Equal(t, 1.0, score(t, c, ObjMemWriteNovelty))
	assert.Equal(t, 0.0, score(t, c, ObjCrashCount))
	assert.Zero(t, sketches.Observations())
}

func TestRegisterPatternScoresMismatches(t *testing.T) {
	sketches := newSketches(t)
	env := &Env{Weighting: allWeighted(), Pattern: testPattern(t)}
	p := &profile.Profile{
		Registers: []arch.RegisterState{
			state(val(rax, 0x99), val(rbx, 0x20)),
			state(val(rax, 0x11)),
		},
		WriteLogs:       [][]profile.MemoryWrite{{{PC: 1, Address: 0x2000, Size: 8, Value: 7}}, nil},
		CPUErrors:       map[string]int{"UC_ERR_READ_UNMAPPED": 2, "UC_ERR_FETCH_UNMAPPED": 1},
		GadgetsExecuted: []uint64{0x400000},
		Executable:      true,
	}
	c := RegisterPattern(profiled(p), sketches, env)
	// rax is one bit off and rbx is missing from the final snapshot.
	assert.InDelta(t, (1.0/64+1)/2, score(t, c, ObjRegisterError), 1e-12)
	assert.Equal(t, 1.0, score(t, c, ObjRegisterNovelty))
	assert.Equal(t, 1.0, score(t, c, ObjMemWriteNovelty))
	assert.Equal(t, 3.0, score(t, c, ObjCrashCount))
	assert.Equal(t, 1.0, score(t, c, ObjGadgetsExecuted))
	assert.Equal(t, uint64(2), sketches.RegisterError.Observations())
	assert.Equal(t, uint64(1), sketches.MemoryWrites.Observations())

	again := RegisterPattern(profiled(p), sketches, env)
	assert.InDelta(t, 0.5, score(t, again, ObjRegisterNovelty), 1e-12)
	assert.InDelta(t, 0.5, score(t, again, ObjMemWriteNovelty), 1e-12)
}

func TestRegisterPatternWithoutPatternLeavesFitnessUnset(t *testing.T) {
	p := &profile.Profile{Registers: []arch.RegisterState{state(val(rax, 1))}, Executable: true}
	c := RegisterPattern(profiled(p), newSketches(t), &Env{Weighting: allWeighted()})
	assert.Equal(t, creature.Profiled, c.State)
	assert.Nil(t, c.Fitness)
}

func TestRegisterEntropy(t *testing.T) {
	p := &profile.Profile{
		Registers:       []arch.RegisterState{state(val(rax, 0x00), val(rbx, 0x01))},
		GadgetsExecuted: []uint64{1, 2, 3},
		Executable:      true,
	}
	sketches := newSketches(t)
	c := RegisterEntropy(profiled(p), sketches, &Env{Weighting: allWeighted(), Memory: fakeMemory{wordSize: 1}})
	assert.InDelta(t, 1.0, score(t, c, ObjRegisterEntropy), 1e-12)
	assert.Equal(t, 1.0, score(t, c, ObjRegisterNovelty))
	assert.Equal(t, 3.0, score(t, c, ObjGadgetsExecuted))

	uniform := &profile.Profile{Registers: []arch.RegisterState{state(val(rax, 0), val(rbx, 0))}, Executable: true}
	c = RegisterEntropy(profiled(uniform), sketches, &Env{Weighting: allWeighted()})
	assert.Equal(t, 0.0, score(t, c, ObjRegisterEntropy))
}

func TestByteEntropyEdgeCases(t *testing.T) {
	assert.Equal(t, 0.0, byteEntropy(nil, 8))
	assert.Equal(t, 0.0, byteEntropy([]uint64{1}, 0))
	assert.InDelta(t, 3.0, byteEntropy([]uint64{0x0706050403020100}, 8), 1e-12)
}

func TestRegisterConjunctionMasksToWordWidth(t *testing.T) {
	p := &profile.Profile{
		Registers:  []arch.RegisterState{state(val(rax, 0xffffffff0000000f), val(rbx, 0x0f))},
		WriteLogs:  [][]profile.MemoryWrite{{{Address: 0x10, Size: 4}}},
		Steps:      4,
		Executable: true,
	}
	c := RegisterConjunction(profiled(p), newSketches(t), &Env{Weighting: allWeighted(), Memory: fakeMemory{wordSize: 4}})
	assert.Equal(t, 28.0, score(t, c, ObjZeroes))
	assert.Equal(t, 1.0, score(t, c, ObjRegisterNovelty))
	assert.InDelta(t, 0.25, score(t, c, ObjMemWriteRatio), 1e-12)

	c = RegisterConjunction(profiled(p), newSketches(t), &Env{Weighting: allWeighted()})
	assert.Equal(t, 60.0, score(t, c, ObjZeroes))
}

func TestCodeCoverageFullVisitation(t *testing.T) {
	sketches := newSketches(t)
	env := &Env{Weighting: allWeighted(), Memory: fakeMemory{wordSize: 8, execSize: 4}}
	p := &profile.Profile{
		Blocks:     [][]profile.Block{{{Entry: 0x100, Size: 4}}},
		Executable: true,
	}
	c := CodeCoverage(profiled(p), sketches, env)
	assert.Equal(t, 0.0, score(t, c, ObjCodeCoverage))
	assert.Equal(t, 1.0, score(t, c, ObjCodeFrequency))
	assert.Equal(t, 1.0, score(t, c, ObjMemWriteRatio))

	c = CodeCoverage(profiled(p), sketches, env)
	assert.InDelta(t, 0.5, score(t, c, ObjCodeFrequency), 1e-12)
	assert.Equal(t, uint64(8), sketches.AddressesVisited.Observations())
}

func TestCodeCoverageWithoutBlocks(t *testing.T) {
	env := &Env{Weighting: allWeighted(), Memory: fakeMemory{wordSize: 8, execSize: 0x1000}}
	c := CodeCoverage(profiled(&profile.Profile{Executable: true}), newSketches(t), env)
	assert.Equal(t, 1.0, score(t, c, ObjCodeCoverage))
	assert.Equal(t, 1.0, score(t, c, ObjCodeFrequency))
}

func TestRegistryResolvesBuiltins(t *testing.T) {
	resetRegistryForTests()
	t.Cleanup(resetRegistryForTests)

	assert.Equal(t, []string{
		CodeCoverageName,
		JustNoveltyName,
		RegisterConjunctionName,
		RegisterEntropyName,
		RegisterPatternName,
	}, Names())

	_, err := Resolve("nope")
	assert.True(t, errors.Is(err, ErrPolicyNotFound))

	err = Register(JustNoveltyName, JustNovelty)
	assert.True(t, errors.Is(err, ErrPolicyExists))
	assert.Error(t, Register("", JustNovelty))
	assert.Error(t, Register("nil", nil))

	require.NoError(t, Register("custom", JustNovelty))
	_, err = Resolve("custom")
	assert.NoError(t, err)
}
