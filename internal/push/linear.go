// Package push turns chromosomes into payload bytes.
package push

import (
	"roper/internal/arch"
)

// Linear is the simplest interpreter: every executed step pops one word from
// the exec stack (initial args first, then the chromosome) and appends its
// encoding to the payload. Execution stops when the stack is empty or the
// step budget is spent.
type Linear struct {
	WordSize int
	Endian   arch.Endian
}

func NewLinear(t arch.Target) *Linear {
	return &Linear{WordSize: t.WordSize(), Endian: t.Endian()}
}

// Exec never fails. A non-positive budget or empty input yields an empty payload.
func (m *Linear) Exec(chromosome []uint64, args []uint64, maxSteps int) []byte {
	total := len(args) + len(chromosome)
	if maxSteps < total {
		total = maxSteps
	}
	if total <= 0 {
		return []byte{}
	}
	payload := make([]byte, 0, total*m.WordSize)
	step := 0
	for _, stack := range [][]uint64{args, chromosome} {
		for _, w := range stack {
			if step == total {
				return payload
			}
			b, err := arch.EncodeWord(w, m.WordSize, m.Endian)
			if err != nil {
				// Unsupported word size: the machine halts.
				return payload
			}
			payload = append(payload, b...)
			step++
		}
	}
	return payload
}
