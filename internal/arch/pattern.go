package arch

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// PatternEntry is one textual register/value pair as read from configuration.
type PatternEntry struct {
	Register string
	Value    string
}

type patternTarget struct {
	register Register
	value    uint64
}

// RegisterPattern is an ordered set of register targets for one architecture.
type RegisterPattern struct {
	targets []patternTarget
}

// ParsePattern resolves configured register names and values for t.
// Values accept any base strconv.ParseUint understands with base 0.
func ParsePattern(t Target, entries []PatternEntry) (*RegisterPattern, error) {
	p := &RegisterPattern{targets: make([]patternTarget, 0, len(entries))}
	seen := make(map[Register]bool, len(entries))
	for _, e := range entries {
		r, err := t.ParseRegister(e.Register)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPattern, err)
		}
		if seen[r] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatedRegister, r.Name)
		}
		seen[r] = true
		v, err := strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(e.Value), "_", ""), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: register %s value %q: %v", ErrMalformedPattern, r.Name, e.Value, err)
		}
		p.targets = append(p.targets, patternTarget{register: r, value: v})
	}
	return p, nil
}

func (p *RegisterPattern) Len() int {
	if p == nil {
		return 0
	}
	return len(p.targets)
}

// Registers lists the pattern's registers in configuration order.
func (p *RegisterPattern) Registers() []Register {
	if p == nil {
		return nil
	}
	out := make([]Register, len(p.targets))
	for i, t := range p.targets {
		out[i] = t.register
	}
	return out
}

// Target returns the wanted value for r.
func (p *RegisterPattern) Target(r Register) (uint64, bool) {
	if p == nil {
		return 0, false
	}
	for _, t := range p.targets {
		if t.register == r {
			return t.value, true
		}
	}
	return 0, false
}

// Distance is the mean normalized Hamming distance between the state and the
// pattern. Zero means every patterned register holds its target.
func (p *RegisterPattern) Distance(state RegisterState) float64 {
	if p.Len() == 0 {
		return 0
	}
	var sum float64
	for _, t := range p.targets {
		v, ok := state.Lookup(t.register)
		if !ok {
			sum++
			continue
		}
		sum += float64(bits.OnesCount64(v.Value()^t.value)) / 64
	}
	return sum / float64(len(p.targets))
}

// Incorrect returns the observations in state that miss their target.
func (p *RegisterPattern) Incorrect(state RegisterState) []RegisterValue {
	var out []RegisterValue
	for _, v := range state {
		want, ok := p.Target(v.Register)
		if ok && v.Value() != want {
			out = append(out, v)
		}
	}
	return out
}
