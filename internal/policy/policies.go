package policy

import (
	"encoding/binary"
	"math"
	"math/bits"

	"gonum.org/v1/gonum/stat"

	"roper/internal/arch"
	"roper/internal/creature"
	"roper/internal/fitness"
	"roper/internal/sketch"
)

// Objective names written by the built-in policies.
const (
	ObjRegisterNovelty = "register_novelty"
	ObjGadgetsExecuted = "gadgets_executed"
	ObjRegisterError   = "register_error"
	ObjMemWriteNovelty = "mem_write_novelty"
	ObjCrashCount      = "crash_count"
	ObjRegisterEntropy = "register_entropy"
	ObjZeroes          = "zeroes"
	ObjMemWriteRatio   = "mem_write_ratio"
	ObjCodeCoverage    = "code_coverage"
	ObjCodeFrequency   = "code_frequency"
)

// emptyNovelty is reported when there was nothing to observe.
const emptyNovelty = 1.0

// observe inserts k and returns its novelty afterwards.
func observe(s *sketch.Sketch, k sketch.Key) float64 {
	s.Insert(k)
	return s.Query(k)
}

func meanOr(xs []float64, fallback float64) float64 {
	if len(xs) == 0 {
		return fallback
	}
	return stat.Mean(xs, nil)
}

// JustNovelty rewards register observations that were rarely seen before.
func JustNovelty(c creature.Creature, sketches *sketch.Sketches, env *Env) creature.Creature {
	p := c.Profile
	if p == nil {
		return c
	}
	var scores []float64
	for _, state := range p.Registers {
		for _, v := range state {
			scores = append(scores, observe(sketches.RegisterError, v))
		}
	}
	f := fitness.New(env.weighting())
	f.Insert(ObjRegisterNovelty, meanOr(scores, emptyNovelty))
	f.Insert(ObjGadgetsExecuted, float64(p.GadgetCount()))
	c.SetFitness(f)
	return c
}

// RegisterPattern scores the final register snapshot against the configured
// pattern.
func RegisterPattern(c creature.Creature, sketches *sketch.Sketches, env *Env) creature.Creature {
	p := c.Profile
	if p == nil {
		return c
	}
	if env == nil || env.Pattern.Len() == 0 {
		env.logger().Error("register pattern policy selected without a register pattern", "creature", c.Name())
		return c
	}
	last, ok := p.LastRegisters()
	if !ok {
		env.logger().Debug("no register snapshot to score", "creature", c.Name())
		return c
	}
	f := fitness.New(env.weighting())
	f.Insert(ObjRegisterError, env.Pattern.Distance(last))

	var regScores []float64
	for _, state := range p.Registers {
		for _, v := range env.Pattern.Incorrect(state) {
			regScores = append(regScores, observe(sketches.RegisterError, v))
		}
	}
	f.Insert(ObjRegisterNovelty, meanOr(regScores, emptyNovelty))

	var memScores []float64
	for w := range p.Writes() {
		memScores = append(memScores, observe(sketches.MemoryWrites, w))
	}
	f.Insert(ObjMemWriteNovelty, meanOr(memScores, emptyNovelty))
	f.Insert(ObjCrashCount, float64(p.CrashCount()))
	f.Insert(ObjGadgetsExecuted, float64(p.GadgetCount()))
	c.SetFitness(f)
	return c
}

// RegisterEntropy rewards final register values with a spread-out byte
// distribution.
func RegisterEntropy(c creature.Creature, sketches *sketch.Sketches, env *Env) creature.Creature {
	p := c.Profile
	if p == nil {
		return c
	}
	last, ok := p.LastRegisters()
	if !ok {
		return c
	}
	values := last.Values()
	entropy := byteEntropy(values, env.wordSize())
	env.logger().Debug("register entropy", "creature", c.Name(), "registers", values, "entropy", entropy)

	f := fitness.New(env.weighting())
	f.Insert(ObjRegisterEntropy, entropy)
	f.Insert(ObjRegisterNovelty, observe(sketches.RegisterError, sketch.WordsKey(values)))
	f.Insert(ObjGadgetsExecuted, float64(p.GadgetCount()))
	c.SetFitness(f)
	return c
}

// byteEntropy is the Shannon entropy, in bits, of the bytes making up the
// low wordSize bytes of each value.
func byteEntropy(values []uint64, wordSize int) float64 {
	if len(values) == 0 || wordSize <= 0 || wordSize > 8 {
		return 0
	}
	var counts [256]float64
	var buf [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(buf[:], v)
		for _, b := range buf[:wordSize] {
			counts[b]++
		}
	}
	total := float64(len(values) * wordSize)
	dist := make([]float64, 0, len(counts))
	for _, n := range counts {
		if n > 0 {
			dist = append(dist, n/total)
		}
	}
	return stat.Entropy(dist) / math.Ln2
}

// RegisterConjunction counts the zero bits in the AND of all final register
// values within the target word width.
func RegisterConjunction(c creature.Creature, sketches *sketch.Sketches, env *Env) creature.Creature {
	p := c.Profile
	if p == nil {
		return c
	}
	last, ok := p.LastRegisters()
	if !ok {
		return c
	}
	mask := arch.WordMask(env.wordSize())
	conj := ^uint64(0)
	for _, v := range last {
		conj &= v.Value()
	}
	zeroes := bits.OnesCount64(^conj & mask)

	f := fitness.New(env.weighting())
	f.Insert(ObjZeroes, float64(zeroes))
	f.Insert(ObjGadgetsExecuted, float64(p.GadgetCount()))
	f.Insert(ObjRegisterNovelty, observe(sketches.RegisterError, last))
	f.Insert(ObjMemWriteRatio, p.MemWriteRatio())
	c.SetFitness(f)
	return c
}

// CodeCoverage rewards small footprints: the score is the share of executable
// memory that no run touched.
func CodeCoverage(c creature.Creature, sketches *sketch.Sketches, env *Env) creature.Creature {
	p := c.Profile
	if p == nil {
		return c
	}
	visited := p.VisitedAddresses()
	var freq float64
	for addr := range visited {
		freq += observe(sketches.AddressesVisited, sketch.Uint64Key(addr))
	}
	avgFreq := emptyNovelty
	if len(visited) > 0 {
		avgFreq = freq / float64(len(visited))
	}

	coverage := 1.0
	if env != nil && env.Memory != nil {
		if size := env.Memory.ExecutableSize(); size > 0 {
			coverage = math.Max(0, 1-float64(len(visited))/float64(size))
		}
	}

	f := fitness.New(env.weighting())
	f.Insert(ObjCodeCoverage, coverage)
	f.Insert(ObjCodeFrequency, avgFreq)
	f.Insert(ObjGadgetsExecuted, float64(p.GadgetCount()))
	f.Insert(ObjMemWriteRatio, 1-p.MemWriteRatio())
	c.SetFitness(f)
	return c
}
