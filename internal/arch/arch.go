package arch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownArch        = errors.New("unknown architecture")
	ErrUnsupportedMode    = errors.New("unsupported mode for architecture")
	ErrUnsupportedWidth   = errors.New("unsupported word size")
	ErrShortWord          = errors.New("byte span shorter than word size")
	ErrUnknownRegister    = errors.New("unknown register")
	ErrMalformedPattern   = errors.New("malformed register pattern")
	ErrDuplicatedRegister = errors.New("register appears twice in pattern")
)

type Arch string

const (
	X86   Arch = "x86"
	ARM   Arch = "arm"
	ARM64 Arch = "arm64"
	MIPS  Arch = "mips"
	SPARC Arch = "sparc"
	M68K  Arch = "m68k"
)

type Mode string

const (
	Mode16      Mode = "16"
	Mode32      Mode = "32"
	Mode64      Mode = "64"
	ModeARM     Mode = "arm"
	ModeThumb   Mode = "thumb"
	ModeARMBE   Mode = "arm_be"
	ModeThumbBE Mode = "thumb_be"
	ModeMIPS32  Mode = "mips32"
	ModeMIPS32L Mode = "mips32_le"
	ModeMIPS64  Mode = "mips64"
	ModeMIPS64L Mode = "mips64_le"
	ModeSPARC32 Mode = "sparc32"
	ModeSPARC64 Mode = "sparc64"
	ModeM68K    Mode = "m68k"
)

type Endian int

const (
	Little Endian = iota
	Big
)

func (e Endian) String() string {
	if e == Big {
		return "big"
	}
	return "little"
}

// ByteOrder returns the encoding/binary order matching e.
func (e Endian) ByteOrder() binary.ByteOrder {
	if e == Big {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

type layout struct {
	wordSize int
	endian   Endian
}

var layouts = map[Arch]map[Mode]layout{
	X86: {
		Mode16: {2, Little},
		Mode32: {4, Little},
		Mode64: {8, Little},
	},
	ARM: {
		ModeARM:     {4, Little},
		ModeThumb:   {4, Little},
		ModeARMBE:   {4, Big},
		ModeThumbBE: {4, Big},
	},
	ARM64: {
		ModeARM: {8, Little},
		Mode64:  {8, Little},
	},
	MIPS: {
		ModeMIPS32:  {4, Big},
		ModeMIPS32L: {4, Little},
		ModeMIPS64:  {8, Big},
		ModeMIPS64L: {8, Little},
	},
	SPARC: {
		ModeSPARC32: {4, Big},
		ModeSPARC64: {8, Big},
	},
	M68K: {
		ModeM68K: {4, Big},
	},
}

// Target pins an architecture and mode pair that has been validated.
type Target struct {
	Arch Arch
	Mode Mode
}

// ParseTarget validates an architecture/mode pair given as configuration text.
func ParseTarget(archName, modeName string) (Target, error) {
	a := Arch(strings.ToLower(strings.TrimSpace(archName)))
	m := Mode(strings.ToLower(strings.TrimSpace(modeName)))
	modes, ok := layouts[a]
	if !ok {
		return Target{}, fmt.Errorf("%w: %q", ErrUnknownArch, archName)
	}
	if _, ok := modes[m]; !ok {
		return Target{}, fmt.Errorf("%w: arch=%s mode=%q", ErrUnsupportedMode, a, modeName)
	}
	return Target{Arch: a, Mode: m}, nil
}

func (t Target) layout() layout {
	l, ok := layouts[t.Arch][t.Mode]
	if !ok {
		panic(fmt.Sprintf("arch: unvalidated target %s/%s", t.Arch, t.Mode))
	}
	return l
}

// WordSize is the native word width of the target in bytes.
func (t Target) WordSize() int {
	return t.layout().wordSize
}

func (t Target) Endian() Endian {
	return t.layout().endian
}

func (t Target) String() string {
	return string(t.Arch) + "/" + string(t.Mode)
}

// WordSize returns the word width in bytes for an arch/mode pair.
func WordSize(a Arch, m Mode) (int, error) {
	t, err := ParseTarget(string(a), string(m))
	if err != nil {
		return 0, err
	}
	return t.WordSize(), nil
}

// Endianness returns the byte order of an arch/mode pair.
func Endianness(a Arch, m Mode) (Endian, error) {
	t, err := ParseTarget(string(a), string(m))
	if err != nil {
		return Little, err
	}
	return t.Endian(), nil
}

// EncodeWord writes the low size bytes of word in the given byte order.
func EncodeWord(word uint64, size int, endian Endian) ([]byte, error) {
	buf := make([]byte, size)
	order := endian.ByteOrder()
	switch size {
	case 8:
		order.PutUint64(buf, word)
	case 4:
		order.PutUint32(buf, uint32(word))
	case 2:
		order.PutUint16(buf, uint16(word))
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedWidth, size)
	}
	return buf, nil
}

// DecodeWord reads the first size bytes of b in the given byte order.
func DecodeWord(b []byte, size int, endian Endian) (uint64, error) {
	if len(b) < size {
		return 0, fmt.Errorf("%w: have %d want %d", ErrShortWord, len(b), size)
	}
	order := endian.ByteOrder()
	switch size {
	case 8:
		return order.Uint64(b), nil
	case 4:
		return uint64(order.Uint32(b)), nil
	case 2:
		return uint64(order.Uint16(b)), nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedWidth, size)
	}
}

// WordMask has every bit set that fits in a word of size bytes.
func WordMask(size int) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (uint(size) * 8)) - 1
}
