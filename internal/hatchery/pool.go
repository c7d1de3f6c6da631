// Package hatchery runs payloads through a bounded pool of CPU emulators and
// collects execution profiles.
package hatchery

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"roper/internal/arch"
	"roper/internal/creature"
	"roper/internal/profile"
)

var (
	ErrClosed         = errors.New("hatchery is closed")
	ErrNoInputs       = errors.New("hatchery requires at least one input register state")
	ErrNoEmulators    = errors.New("hatchery requires at least one emulator")
	ErrEmulatorFailed = errors.New("emulator failed")
)

// Emulator executes one payload against one initial register state. CPU
// faults are reported through Run.Error; a returned error means the emulator
// itself is unusable.
type Emulator interface {
	Run(ctx context.Context, payload []byte, input arch.RegisterState, outputs []arch.Register) (profile.Run, error)
	Close() error
}

// WordReader dereferences target words for pointer spidering.
type WordReader interface {
	ReadWord(addr uint64) (uint64, bool)
}

type Config struct {
	Inputs      []arch.RegisterState
	Outputs     []arch.Register
	Memory      WordReader
	SpiderDepth int
}

// Pool hands each execution an exclusive emulator from a fixed set.
type Pool struct {
	cfg       Config
	emulators chan Emulator
	all       []Emulator

	closeOnce sync.Once
	closed    chan struct{}
}

// New builds a pool of workers emulators using newEmulator.
func New(workers int, newEmulator func() (Emulator, error), cfg Config) (*Pool, error) {
	if workers <= 0 {
		return nil, ErrNoEmulators
	}
	if len(cfg.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	p := &Pool{
		cfg:       cfg,
		emulators: make(chan Emulator, workers),
		closed:    make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		emu, err := newEmulator()
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("failed to create emulator %d: %w", i, err)
		}
		p.all = append(p.all, emu)
		p.emulators <- emu
	}
	return p, nil
}

func (p *Pool) Outputs() []arch.Register {
	return p.cfg.Outputs
}

// Execute runs the creature's payload once per input state and returns the
// aggregated profile.
func (p *Pool) Execute(ctx context.Context, c creature.Creature) (creature.Creature, *profile.Profile, error) {
	var emu Emulator
	select {
	case <-p.closed:
		return c, nil, ErrClosed
	case <-ctx.Done():
		return c, nil, ctx.Err()
	case emu = <-p.emulators:
	}
	defer func() { p.emulators <- emu }()

	prof := &profile.Profile{}
	for _, input := range p.cfg.Inputs {
		run, err := emu.Run(ctx, c.Payload, input, p.cfg.Outputs)
		if err != nil {
			return c, nil, fmt.Errorf("%w: creature %s: %v", ErrEmulatorFailed, c.Name(), err)
		}
		run.Registers = p.spider(run.Registers)
		prof.Add(run)
	}
	return c, prof, nil
}

// spider extends each register observation with the chain of words reached
// by repeated dereferencing.
func (p *Pool) spider(state arch.RegisterState) arch.RegisterState {
	if p.cfg.Memory == nil || p.cfg.SpiderDepth <= 0 {
		return state
	}
	out := make(arch.RegisterState, len(state))
	for i, v := range state {
		values := []uint64{v.Value()}
		cur := v.Value()
		for d := 0; d < p.cfg.SpiderDepth; d++ {
			w, ok := p.cfg.Memory.ReadWord(cur)
			if !ok {
				break
			}
			values = append(values, w)
			cur = w
		}
		out[i] = arch.RegisterValue{Register: v.Register, Values: values}
	}
	return out
}

func (p *Pool) Close() error {
	var errs []error
	p.closeOnce.Do(func() {
		close(p.closed)
		for _, emu := range p.all {
			if err := emu.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// OutputRegisters resolves the configured output registers and appends the
// pattern's registers, dropping repeats while keeping first-seen order.
func OutputRegisters(t arch.Target, names []string, pattern *arch.RegisterPattern) ([]arch.Register, error) {
	regs, err := t.ParseRegisters(names)
	if err != nil {
		return nil, err
	}
	seen := make(map[arch.Register]bool, len(regs))
	for _, r := range regs {
		seen[r] = true
	}
	for _, r := range pattern.Registers() {
		if !seen[r] {
			seen[r] = true
			regs = append(regs, r)
		}
	}
	return regs, nil
}

// ConstantInputs sets every register to value.
func ConstantInputs(regs []arch.Register, value uint64) []arch.RegisterState {
	state := make(arch.RegisterState, len(regs))
	for i, r := range regs {
		state[i] = arch.RegisterValue{Register: r, Values: []uint64{value}}
	}
	return []arch.RegisterState{state}
}

// RandomInputs draws seeded random register values masked to the word size.
func RandomInputs(regs []arch.Register, wordSize int, seed int64) []arch.RegisterState {
	rng := rand.New(rand.NewSource(seed))
	mask := arch.WordMask(wordSize)
	state := make(arch.RegisterState, len(regs))
	for i, r := range regs {
		state[i] = arch.RegisterValue{Register: r, Values: []uint64{rng.Uint64() & mask}}
	}
	return []arch.RegisterState{state}
}
