package memimage

import (
	"debug/elf"
	"fmt"
	"io"

	"roper/internal/arch"
)

var elfMachines = map[arch.Arch][]elf.Machine{
	arch.X86:   {elf.EM_386, elf.EM_X86_64},
	arch.ARM:   {elf.EM_ARM},
	arch.ARM64: {elf.EM_AARCH64},
	arch.MIPS:  {elf.EM_MIPS, elf.EM_MIPS_RS3_LE},
	arch.SPARC: {elf.EM_SPARC, elf.EM_SPARCV9, elf.EM_SPARC32PLUS},
	arch.M68K:  {elf.EM_68K},
}

// LoadELF reads the PT_LOAD segments of an ELF binary into an Image.
func LoadELF(path string, target arch.Target, seed int64) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrNotELF, path, err)
	}
	defer f.Close()
	return fromELF(f, target, seed)
}

func fromELF(f *elf.File, target arch.Target, seed int64) (*Image, error) {
	if !machineMatches(f.Machine, target.Arch) {
		return nil, fmt.Errorf("%w: machine %s for %s", ErrTargetMismatch, f.Machine, target)
	}
	var segments []Segment
	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD || prog.Memsz == 0 {
			continue
		}
		data := make([]byte, prog.Memsz)
		if _, err := io.ReadFull(prog.Open(), data[:prog.Filesz]); err != nil {
			return nil, fmt.Errorf("failed to read segment at %#x: %w", prog.Vaddr, err)
		}
		segments = append(segments, Segment{
			Addr: prog.Vaddr,
			Data: data,
			Perm: permFromFlags(prog.Flags),
		})
	}
	return New(target, segments, seed)
}

func machineMatches(m elf.Machine, a arch.Arch) bool {
	for _, want := range elfMachines[a] {
		if m == want {
			return true
		}
	}
	return false
}

func permFromFlags(flags elf.ProgFlag) Perm {
	var p Perm
	if flags&elf.PF_R != 0 {
		p |= PermRead
	}
	if flags&elf.PF_W != 0 {
		p |= PermWrite
	}
	if flags&elf.PF_X != 0 {
		p |= PermExec
	}
	return p
}
