package profile

import (
	"encoding/binary"
	"iter"
	"sort"

	"roper/internal/arch"
)

// MemoryWrite records one store performed during emulation.
type MemoryWrite struct {
	PC      uint64 `json:"pc"`
	Address uint64 `json:"address"`
	Size    int    `json:"size"`
	Value   uint64 `json:"value"`
}

func (w MemoryWrite) AppendKey(b []byte) []byte {
	b = binary.LittleEndian.AppendUint64(b, w.PC)
	b = binary.LittleEndian.AppendUint64(b, w.Address)
	b = binary.LittleEndian.AppendUint32(b, uint32(w.Size))
	return binary.LittleEndian.AppendUint64(b, w.Value)
}

// Block is one executed basic block.
type Block struct {
	Entry uint64 `json:"entry"`
	Size  uint32 `json:"size"`
}

// Profile is the observable behavior of one creature across every emulator
// run. The zero value is a non-executable profile.
type Profile struct {
	Registers       []arch.RegisterState `json:"registers"`
	WriteLogs       [][]MemoryWrite      `json:"write_logs"`
	GadgetsExecuted []uint64             `json:"gadgets_executed"`
	CPUErrors       map[string]int       `json:"cpu_errors,omitempty"`
	Blocks          [][]Block            `json:"blocks"`
	Steps           int                  `json:"steps"`
	Executable      bool                 `json:"executable"`
}

// NonExecutable returns the profile attached to creatures that were never run.
func NonExecutable() *Profile {
	return &Profile{}
}

// Run is the outcome of a single emulator run, merged into a Profile by Add.
type Run struct {
	Registers arch.RegisterState
	Writes    []MemoryWrite
	Blocks    []Block
	Gadgets   []uint64
	Steps     int
	// Error is the CPU error category that ended the run, empty on a clean exit.
	Error string
}

// Add appends one run's observations and marks the profile executable.
func (p *Profile) Add(run Run) {
	p.Executable = true
	p.Registers = append(p.Registers, run.Registers)
	p.WriteLogs = append(p.WriteLogs, run.Writes)
	p.Blocks = append(p.Blocks, run.Blocks)
	p.Steps += run.Steps
	if run.Error != "" {
		if p.CPUErrors == nil {
			p.CPUErrors = make(map[string]int)
		}
		p.CPUErrors[run.Error]++
	}
	if len(run.Gadgets) > 0 {
		p.GadgetsExecuted = mergeUnique(p.GadgetsExecuted, run.Gadgets)
	}
}

func mergeUnique(a, b []uint64) []uint64 {
	set := make(map[uint64]struct{}, len(a)+len(b))
	for _, v := range a {
		set[v] = struct{}{}
	}
	for _, v := range b {
		set[v] = struct{}{}
	}
	out := make([]uint64, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GadgetCount is the number of distinct gadgets executed.
func (p *Profile) GadgetCount() int {
	return len(p.GadgetsExecuted)
}

// CrashCount sums CPU errors over every category.
func (p *Profile) CrashCount() int {
	n := 0
	for _, c := range p.CPUErrors {
		n += c
	}
	return n
}

// LastRegisters returns the final register snapshot.
func (p *Profile) LastRegisters() (arch.RegisterState, bool) {
	if len(p.Registers) == 0 {
		return nil, false
	}
	return p.Registers[len(p.Registers)-1], true
}

func (p *Profile) WriteCount() int {
	n := 0
	for _, log := range p.WriteLogs {
		n += len(log)
	}
	return n
}

// MemWriteRatio is the number of memory writes per executed step, in [0,1].
func (p *Profile) MemWriteRatio() float64 {
	if p.Steps <= 0 {
		return 0
	}
	r := float64(p.WriteCount()) / float64(p.Steps)
	if r > 1 {
		return 1
	}
	return r
}

// Writes yields every memory write across runs, in run order.
func (p *Profile) Writes() iter.Seq[MemoryWrite] {
	return func(yield func(MemoryWrite) bool) {
		for _, log := range p.WriteLogs {
			for _, w := range log {
				if !yield(w) {
					return
				}
			}
		}
	}
}

// BasicBlockPaths yields the basic-block path of each run that executed any
// code.
func (p *Profile) BasicBlockPaths() iter.Seq[[]Block] {
	return func(yield func([]Block) bool) {
		for _, path := range p.Blocks {
			if len(path) == 0 {
				continue
			}
			if !yield(path) {
				return
			}
		}
	}
}

// VisitedAddresses is the set of instruction addresses covered by any block.
func (p *Profile) VisitedAddresses() map[uint64]struct{} {
	visited := make(map[uint64]struct{})
	for path := range p.BasicBlockPaths() {
		for _, b := range path {
			for addr := b.Entry; addr < b.Entry+uint64(b.Size); addr++ {
				visited[addr] = struct{}{}
			}
		}
	}
	return visited
}
