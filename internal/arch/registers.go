package arch

import (
	"fmt"
	"strings"
)

// Register is the architecture-neutral identity of a CPU register. It is the
// only register type the rest of the engine sees; emulator backends map it to
// their own numbering.
type Register struct {
	Arch Arch   `json:"arch"`
	Name string `json:"name"`
}

func (r Register) String() string {
	return r.Name
}

func numbered(prefix string, from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s%d", prefix, i))
	}
	return out
}

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

var registerNames = map[Arch]map[Mode][]string{
	X86: {
		Mode16: {"ax", "bx", "cx", "dx", "si", "di", "bp", "sp", "ip", "flags", "cs", "ds", "es", "ss"},
		Mode32: {"eax", "ebx", "ecx", "edx", "esi", "edi", "ebp", "esp", "eip", "eflags"},
		Mode64: concat(
			[]string{"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp", "rip", "rflags"},
			numbered("r", 8, 15),
		),
	},
	ARM: {
		"": concat(numbered("r", 0, 12), []string{"sp", "lr", "pc", "cpsr"}),
	},
	ARM64: {
		"": concat(numbered("x", 0, 30), []string{"sp", "pc", "nzcv"}),
	},
	MIPS: {
		"": concat(
			[]string{"zero", "at", "v0", "v1"},
			numbered("a", 0, 3),
			numbered("t", 0, 9),
			numbered("s", 0, 7),
			[]string{"k0", "k1", "gp", "sp", "fp", "ra", "pc", "hi", "lo"},
		),
	},
	SPARC: {
		"": concat(numbered("g", 0, 7), numbered("o", 0, 7), numbered("l", 0, 7), numbered("i", 0, 7), []string{"sp", "fp", "pc", "npc"}),
	},
	M68K: {
		"": concat(numbered("d", 0, 7), numbered("a", 0, 7), []string{"pc", "sr"}),
	},
}

// RegisterNames lists the register names known for the target, in table order.
func (t Target) RegisterNames() []string {
	byMode := registerNames[t.Arch]
	if names, ok := byMode[t.Mode]; ok {
		return append([]string(nil), names...)
	}
	return append([]string(nil), byMode[""]...)
}

// ParseRegister resolves a register name for the target, case-insensitively.
func (t Target) ParseRegister(name string) (Register, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, n := range t.RegisterNames() {
		if n == want {
			return Register{Arch: t.Arch, Name: n}, nil
		}
	}
	return Register{}, fmt.Errorf("%w: %q for %s", ErrUnknownRegister, name, t)
}

// ParseRegisters resolves a list of names, keeping order and dropping repeats.
func (t Target) ParseRegisters(names []string) ([]Register, error) {
	out := make([]Register, 0, len(names))
	seen := make(map[Register]bool, len(names))
	for _, name := range names {
		r, err := t.ParseRegister(name)
		if err != nil {
			return nil, err
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}

// StackPointer returns the register the emulator loads with the payload address.
func (t Target) StackPointer() Register {
	switch t.Arch {
	case X86:
		switch t.Mode {
		case Mode16:
			return Register{Arch: X86, Name: "sp"}
		case Mode32:
			return Register{Arch: X86, Name: "esp"}
		default:
			return Register{Arch: X86, Name: "rsp"}
		}
	default:
		return Register{Arch: t.Arch, Name: "sp"}
	}
}
