//go:build unicorn

package hatchery

import (
	"context"
	"fmt"
	"time"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"roper/internal/arch"
	"roper/internal/memimage"
	"roper/internal/profile"
)

const pageSize = 0x1000

var unicornArch = map[arch.Arch]int{
	arch.X86: uc.ARCH_X86,
	arch.ARM: uc.ARCH_ARM,
}

var unicornMode = map[arch.Mode]int{
	arch.Mode16:      uc.MODE_16,
	arch.Mode32:      uc.MODE_32,
	arch.Mode64:      uc.MODE_64,
	arch.ModeARM:     uc.MODE_ARM,
	arch.ModeThumb:   uc.MODE_THUMB,
	arch.ModeARMBE:   uc.MODE_ARM | uc.MODE_BIG_ENDIAN,
	arch.ModeThumbBE: uc.MODE_THUMB | uc.MODE_BIG_ENDIAN,
}

var unicornRegisters = map[arch.Arch]map[string]int{
	arch.X86: {
		"rax": uc.X86_REG_RAX, "rbx": uc.X86_REG_RBX, "rcx": uc.X86_REG_RCX, "rdx": uc.X86_REG_RDX,
		"rsi": uc.X86_REG_RSI, "rdi": uc.X86_REG_RDI, "rbp": uc.X86_REG_RBP, "rsp": uc.X86_REG_RSP,
		"rip": uc.X86_REG_RIP, "rflags": uc.X86_REG_EFLAGS,
		"r8": uc.X86_REG_R8, "r9": uc.X86_REG_R9, "r10": uc.X86_REG_R10, "r11": uc.X86_REG_R11,
		"r12": uc.X86_REG_R12, "r13": uc.X86_REG_R13, "r14": uc.X86_REG_R14, "r15": uc.X86_REG_R15,
		"eax": uc.X86_REG_EAX, "ebx": uc.X86_REG_EBX, "ecx": uc.X86_REG_ECX, "edx": uc.X86_REG_EDX,
		"esi": uc.X86_REG_ESI, "edi": uc.X86_REG_EDI, "ebp": uc.X86_REG_EBP, "esp": uc.X86_REG_ESP,
		"eip": uc.X86_REG_EIP, "eflags": uc.X86_REG_EFLAGS,
		"ax": uc.X86_REG_AX, "bx": uc.X86_REG_BX, "cx": uc.X86_REG_CX, "dx": uc.X86_REG_DX,
		"si": uc.X86_REG_SI, "di": uc.X86_REG_DI, "bp": uc.X86_REG_BP, "sp": uc.X86_REG_SP,
		"ip": uc.X86_REG_IP, "flags": uc.X86_REG_EFLAGS,
		"cs": uc.X86_REG_CS, "ds": uc.X86_REG_DS, "es": uc.X86_REG_ES, "ss": uc.X86_REG_SS,
	},
	arch.ARM: {
		"r0": uc.ARM_REG_R0, "r1": uc.ARM_REG_R1, "r2": uc.ARM_REG_R2, "r3": uc.ARM_REG_R3,
		"r4": uc.ARM_REG_R4, "r5": uc.ARM_REG_R5, "r6": uc.ARM_REG_R6, "r7": uc.ARM_REG_R7,
		"r8": uc.ARM_REG_R8, "r9": uc.ARM_REG_R9, "r10": uc.ARM_REG_R10, "r11": uc.ARM_REG_R11,
		"r12": uc.ARM_REG_R12, "sp": uc.ARM_REG_SP, "lr": uc.ARM_REG_LR, "pc": uc.ARM_REG_PC,
		"cpsr": uc.ARM_REG_CPSR,
	},
}

type UnicornOptions struct {
	StackSize uint64
	MaxSteps  uint64
	Timeout   time.Duration
}

type trace struct {
	gadgetSet map[uint64]bool
	blocks    []profile.Block
	gadgets   []uint64
	writes    []profile.MemoryWrite
	steps     int
}

type unicornEmulator struct {
	mu        uc.Unicorn
	target    arch.Target
	image     *memimage.Image
	opts      UnicornOptions
	regs      map[string]int
	pc        int
	sp        int
	stackBase uint64
	clean     uc.Context
	cur       *trace
}

func alignDown(v uint64) uint64 { return v &^ (pageSize - 1) }
func alignUp(v uint64) uint64   { return (v + pageSize - 1) &^ (pageSize - 1) }

// NewUnicornEmulator maps the image into a fresh unicorn instance.
func NewUnicornEmulator(image *memimage.Image, opts UnicornOptions) (Emulator, error) {
	target := image.Target()
	a, ok := unicornArch[target.Arch]
	if !ok {
		return nil, fmt.Errorf("unicorn backend does not support %s", target)
	}
	m, ok := unicornMode[target.Mode]
	if !ok {
		return nil, fmt.Errorf("unicorn backend does not support %s", target)
	}
	if opts.StackSize == 0 {
		opts.StackSize = 0x10000
	}
	opts.StackSize = alignUp(opts.StackSize)

	mu, err := uc.NewUnicorn(a, m)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}
	e := &unicornEmulator{
		mu:     mu,
		target: target,
		image:  image,
		opts:   opts,
		regs:   unicornRegisters[target.Arch],
	}
	e.pc = e.regs[pcName(target)]
	e.sp = e.regs[target.StackPointer().Name]
	if err := e.mapImage(); err != nil {
		_ = mu.Close()
		return nil, err
	}
	if err := e.addHooks(); err != nil {
		_ = mu.Close()
		return nil, err
	}
	if e.clean, err = mu.ContextSave(nil); err != nil {
		_ = mu.Close()
		return nil, fmt.Errorf("save unicorn context: %w", err)
	}
	return e, nil
}

func pcName(t arch.Target) string {
	if t.Arch == arch.X86 {
		switch t.Mode {
		case arch.Mode16:
			return "ip"
		case arch.Mode32:
			return "eip"
		default:
			return "rip"
		}
	}
	return "pc"
}

func (e *unicornEmulator) mapImage() error {
	var top uint64
	mapped := map[uint64]bool{}
	for _, s := range e.image.Segments() {
		for page := alignDown(s.Addr); page < alignUp(s.End()); page += pageSize {
			if mapped[page] {
				continue
			}
			if err := e.mu.MemMapProt(page, pageSize, uc.PROT_ALL); err != nil {
				return fmt.Errorf("map page %#x: %w", page, err)
			}
			mapped[page] = true
		}
		if err := e.mu.MemWrite(s.Addr, s.Data); err != nil {
			return fmt.Errorf("write segment %#x: %w", s.Addr, err)
		}
		if s.End() > top {
			top = s.End()
		}
	}
	e.stackBase = alignUp(top) + 0x10*pageSize
	if err := e.mu.MemMapProt(e.stackBase, e.opts.StackSize, uc.PROT_READ|uc.PROT_WRITE); err != nil {
		return fmt.Errorf("map stack: %w", err)
	}
	return nil
}

func (e *unicornEmulator) addHooks() error {
	if _, err := e.mu.HookAdd(uc.HOOK_BLOCK, func(_ uc.Unicorn, addr uint64, size uint32) {
		e.cur.blocks = append(e.cur.blocks, profile.Block{Entry: addr, Size: size})
		if e.cur.gadgetSet[addr] {
			e.cur.gadgets = append(e.cur.gadgets, addr)
		}
	}, 1, 0); err != nil {
		return fmt.Errorf("add block hook: %w", err)
	}
	if _, err := e.mu.HookAdd(uc.HOOK_CODE, func(_ uc.Unicorn, _ uint64, _ uint32) {
		e.cur.steps++
	}, 1, 0); err != nil {
		return fmt.Errorf("add code hook: %w", err)
	}
	if _, err := e.mu.HookAdd(uc.HOOK_MEM_WRITE, func(mu uc.Unicorn, _ int, addr uint64, size int, value int64) {
		pc, _ := mu.RegRead(e.pc)
		e.cur.writes = append(e.cur.writes, profile.MemoryWrite{PC: pc, Address: addr, Size: size, Value: uint64(value)})
	}, 1, 0); err != nil {
		return fmt.Errorf("add write hook: %w", err)
	}
	return nil
}

func (e *unicornEmulator) reset() error {
	if err := e.mu.ContextRestore(e.clean); err != nil {
		return err
	}
	for _, s := range e.image.Segments() {
		if s.Perm&memimage.PermWrite == 0 {
			continue
		}
		if err := e.mu.MemWrite(s.Addr, s.Data); err != nil {
			return err
		}
	}
	return e.mu.MemWrite(e.stackBase, make([]byte, e.opts.StackSize))
}

// Run places the payload in the middle of the stack and returns into its
// first word.
func (e *unicornEmulator) Run(ctx context.Context, payload []byte, input arch.RegisterState, outputs []arch.Register) (profile.Run, error) {
	if err := ctx.Err(); err != nil {
		return profile.Run{}, err
	}
	if err := e.reset(); err != nil {
		return profile.Run{}, fmt.Errorf("reset emulator: %w", err)
	}
	ws := e.target.WordSize()
	if len(payload) < ws || uint64(len(payload)) > e.opts.StackSize/2 {
		return profile.Run{Error: "payload_size"}, nil
	}
	e.cur = &trace{gadgetSet: map[uint64]bool{}}
	for off := 0; off+ws <= len(payload); off += ws {
		w, err := arch.DecodeWord(payload[off:], ws, e.target.Endian())
		if err != nil {
			return profile.Run{}, err
		}
		e.cur.gadgetSet[w] = true
	}

	for _, v := range input {
		id, ok := e.regs[v.Register.Name]
		if !ok {
			return profile.Run{}, fmt.Errorf("unicorn backend has no register %s", v.Register.Name)
		}
		if err := e.mu.RegWrite(id, v.Value()); err != nil {
			return profile.Run{}, err
		}
	}
	at := e.stackBase + e.opts.StackSize/2
	if err := e.mu.MemWrite(at, payload); err != nil {
		return profile.Run{}, err
	}
	entry, _ := arch.DecodeWord(payload, ws, e.target.Endian())
	if err := e.mu.RegWrite(e.sp, at+uint64(ws)); err != nil {
		return profile.Run{}, err
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = e.mu.Stop()
		case <-done:
		}
	}()
	runErr := e.mu.StartWithOptions(entry, 0, &uc.UcOptions{
		Timeout: uint64(e.opts.Timeout / time.Microsecond),
		Count:   e.opts.MaxSteps,
	})
	close(done)
	if err := ctx.Err(); err != nil {
		return profile.Run{}, err
	}

	run := profile.Run{
		Writes:  e.cur.writes,
		Blocks:  e.cur.blocks,
		Gadgets: e.cur.gadgets,
		Steps:   e.cur.steps,
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	for _, r := range outputs {
		id, ok := e.regs[r.Name]
		if !ok {
			return profile.Run{}, fmt.Errorf("unicorn backend has no register %s", r.Name)
		}
		v, err := e.mu.RegRead(id)
		if err != nil {
			return profile.Run{}, err
		}
		run.Registers = append(run.Registers, arch.RegisterValue{Register: r, Values: []uint64{v}})
	}
	return run, nil
}

func (e *unicornEmulator) Close() error {
	return e.mu.Close()
}
