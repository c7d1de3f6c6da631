package genotype

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

var (
	ErrInvalidLengthBounds = errors.New("invalid initial length bounds")
	ErrSoupTooSmall        = errors.New("soup smaller than maximum initial length")
	ErrEmptyChromosome     = errors.New("chromosome is empty")
)

// Genotype is the chromosome of one individual: a sequence of words that are
// either addresses into the target or immediate values.
type Genotype struct {
	Chromosome    []uint64 `json:"chromosome"`
	CrossoverMask uint64   `json:"crossover_mask"`
	Tag           uint64   `json:"tag"`
	Name          string   `json:"name"`
	Parents       []string `json:"parents,omitempty"`
}

// Params shapes the initial population.
type Params struct {
	MinInitLen int
	MaxInitLen int
	Soup       []uint64
}

func (p Params) Validate() error {
	if p.MinInitLen < 1 || p.MaxInitLen <= p.MinInitLen {
		return fmt.Errorf("%w: min=%d max=%d", ErrInvalidLengthBounds, p.MinInitLen, p.MaxInitLen)
	}
	if len(p.Soup) < p.MaxInitLen-1 {
		return fmt.Errorf("%w: soup=%d max_init_len=%d", ErrSoupTooSmall, len(p.Soup), p.MaxInitLen)
	}
	return nil
}

// NewName returns a fresh display name.
func NewName() string {
	return uuid.NewString()
}

// Random draws a length in [MinInitLen, MaxInitLen) and samples that many
// soup words without replacement. Sampled words keep their soup order.
func Random(p Params, rng *rand.Rand) (Genotype, error) {
	if err := p.Validate(); err != nil {
		return Genotype{}, err
	}
	length := p.MinInitLen + rng.Intn(p.MaxInitLen-p.MinInitLen)
	return Genotype{
		Chromosome:    sampleOrdered(p.Soup, length, rng),
		CrossoverMask: rng.Uint64(),
		Tag:           rng.Uint64(),
		Name:          NewName(),
	}, nil
}

// sampleOrdered is selection sampling: each item is taken with probability
// needed/remaining, which yields a uniform k-subset in source order.
func sampleOrdered(src []uint64, k int, rng *rand.Rand) []uint64 {
	out := make([]uint64, 0, k)
	for i, v := range src {
		needed := k - len(out)
		if needed == 0 {
			break
		}
		remaining := len(src) - i
		if rng.Intn(remaining) < needed {
			out = append(out, v)
		}
	}
	return out
}

func (g Genotype) Len() int {
	return len(g.Chromosome)
}

func (g Genotype) Clone() Genotype {
	out := g
	out.Chromosome = append([]uint64(nil), g.Chromosome...)
	out.Parents = append([]string(nil), g.Parents...)
	return out
}

func bit(n uint64, i int) bool {
	return (n>>(uint(i)%64))&1 == 1
}

// Crossover recombines mother and father under mask. Gene i comes from the
// father, at index i mod len(father), when bit i mod 64 of mask is set.
func Crossover(mother, father Genotype, mask uint64, rng *rand.Rand) Genotype {
	chromosome := append([]uint64(nil), mother.Chromosome...)
	if n := len(father.Chromosome); n > 0 {
		for i := range chromosome {
			if bit(mask, i) {
				chromosome[i] = father.Chromosome[i%n]
			}
		}
	}
	return Genotype{
		Chromosome:    chromosome,
		CrossoverMask: mask,
		Tag:           rng.Uint64(),
		Parents:       []string{mother.Name, father.Name},
	}
}

// Crossover produces two offspring, one with each parent as mother. Both
// inherit the XOR of the parents' masks. Names are left for the caller.
func (g Genotype) Crossover(mate Genotype, rng *rand.Rand) [2]Genotype {
	mask := g.CrossoverMask ^ mate.CrossoverMask
	return [2]Genotype{
		Crossover(g, mate, mask, rng),
		Crossover(mate, g, mask, rng),
	}
}
