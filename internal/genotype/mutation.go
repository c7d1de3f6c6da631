package genotype

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"roper/internal/arch"
	"roper/internal/memimage"
)

// MutationKind enumerates the point mutations. The set is closed: Mutate
// only draws from MutationKinds.
type MutationKind int

const (
	// Dereference replaces an address with the word stored there.
	Dereference MutationKind = iota
	// Indirection replaces a value with an address that holds it.
	Indirection
	Increment
	Decrement
)

var MutationKinds = [...]MutationKind{Dereference, Indirection, Increment, Decrement}

func (k MutationKind) String() string {
	switch k {
	case Dereference:
		return "dereference"
	case Indirection:
		return "indirection"
	case Increment:
		return "increment"
	case Decrement:
		return "decrement"
	default:
		return fmt.Sprintf("mutation(%d)", int(k))
	}
}

// maxNudge bounds the offset of increment and decrement mutations.
const maxNudge = 0x100

// dereferenceMinSpan is the span length the dereferenced bytes must exceed
// before the gene is replaced.
const dereferenceMinSpan = 8

// Mutate rewrites one uniformly chosen gene with a uniformly chosen kind.
// Length never changes. Failed memory lookups leave the gene untouched.
func (g *Genotype) Mutate(rng *rand.Rand, mem memimage.Accessor) (MutationKind, error) {
	if len(g.Chromosome) == 0 {
		return 0, ErrEmptyChromosome
	}
	if rng == nil {
		return 0, errors.New("random source is required")
	}
	if mem == nil {
		return 0, errors.New("memory image is required")
	}
	i := rng.Intn(len(g.Chromosome))
	kind := MutationKinds[rng.Intn(len(MutationKinds))]
	return kind, g.MutateAt(i, kind, rng, mem)
}

// MutateAt applies kind to gene i.
func (g *Genotype) MutateAt(i int, kind MutationKind, rng *rand.Rand, mem memimage.Accessor) error {
	if i < 0 || i >= len(g.Chromosome) {
		return fmt.Errorf("gene index out of range: %d", i)
	}
	switch kind {
	case Dereference:
		if word, ok := dereference(mem, g.Chromosome[i]); ok {
			g.Chromosome[i] = word
		}
	case Indirection:
		if addr, ok := indirection(mem, g.Chromosome[i]); ok {
			g.Chromosome[i] = addr
		}
	case Increment:
		g.Chromosome[i] += uint64(rng.Intn(maxNudge))
	case Decrement:
		g.Chromosome[i] -= uint64(rng.Intn(maxNudge))
	default:
		panic(fmt.Sprintf("genotype: unknown mutation kind %d", int(kind)))
	}
	return nil
}

func dereference(mem memimage.Accessor, addr uint64) (uint64, bool) {
	span, ok := mem.Dereference(addr)
	if !ok || len(span) <= dereferenceMinSpan {
		return 0, false
	}
	word, err := arch.DecodeWord(span, mem.WordSize(), mem.Endian())
	if err != nil {
		return 0, false
	}
	return word, true
}

func indirection(mem memimage.Accessor, value uint64) (uint64, bool) {
	pattern, err := arch.EncodeWord(value, mem.WordSize(), mem.Endian())
	if err != nil {
		return 0, false
	}
	return mem.ReverseLookup(pattern)
}

// MutationOperator applies Mutate to a copy of the genome.
type MutationOperator struct {
	Rand   *rand.Rand
	Memory memimage.Accessor
}

func (o *MutationOperator) Name() string {
	return "memory_aware_point_mutation"
}

func (o *MutationOperator) Apply(_ context.Context, g Genotype) (Genotype, error) {
	if o == nil || o.Rand == nil {
		return Genotype{}, errors.New("random source is required")
	}
	mutated := g.Clone()
	if _, err := mutated.Mutate(o.Rand, o.Memory); err != nil {
		return Genotype{}, err
	}
	return mutated, nil
}
