package memimage

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"roper/internal/arch"
)

var (
	ErrNoSegments     = errors.New("memory image has no segments")
	ErrOverlap        = errors.New("memory segments overlap")
	ErrNoExecutable   = errors.New("memory image has no executable segment")
	ErrEmptySegment   = errors.New("memory segment is empty")
	ErrNotELF         = errors.New("not an ELF binary")
	ErrTargetMismatch = errors.New("binary does not match configured target")
)

// Accessor is the read-only view of the loaded target binary used by the
// genetic operators and fitness policies.
type Accessor interface {
	Dereference(addr uint64) ([]byte, bool)
	ReverseLookup(pattern []byte) (uint64, bool)
	WordSize() int
	Endian() arch.Endian
	ExecutableSize() int
}

type Perm uint8

const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
)

func (p Perm) String() string {
	out := []byte("---")
	if p&PermRead != 0 {
		out[0] = 'r'
	}
	if p&PermWrite != 0 {
		out[1] = 'w'
	}
	if p&PermExec != 0 {
		out[2] = 'x'
	}
	return string(out)
}

type Segment struct {
	Addr uint64
	Data []byte
	Perm Perm
}

func (s Segment) End() uint64 {
	return s.Addr + uint64(len(s.Data))
}

func (s Segment) Contains(addr uint64) bool {
	return addr >= s.Addr && addr < s.End()
}

func (s Segment) Executable() bool {
	return s.Perm&PermExec != 0
}

// Image is an in-memory copy of the target's loadable segments.
type Image struct {
	target   arch.Target
	segments []Segment
	execSize int

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds an image from segments. Segments are sorted by address and must
// not overlap. seed drives the random start of ReverseLookup.
func New(target arch.Target, segments []Segment, seed int64) (*Image, error) {
	if len(segments) == 0 {
		return nil, ErrNoSegments
	}
	segs := make([]Segment, len(segments))
	copy(segs, segments)
	sort.Slice(segs, func(i, j int) bool { return segs[i].Addr < segs[j].Addr })

	execSize := 0
	for i, s := range segs {
		if len(s.Data) == 0 {
			return nil, fmt.Errorf("%w: at %#x", ErrEmptySegment, s.Addr)
		}
		if i > 0 && segs[i-1].End() > s.Addr {
			return nil, fmt.Errorf("%w: %#x-%#x and %#x", ErrOverlap, segs[i-1].Addr, segs[i-1].End(), s.Addr)
		}
		if s.Executable() {
			execSize += len(s.Data)
		}
	}
	return &Image{
		target:   target,
		segments: segs,
		execSize: execSize,
		rng:      rand.New(rand.NewSource(seed)),
	}, nil
}

func (m *Image) Target() arch.Target {
	return m.target
}

func (m *Image) WordSize() int {
	return m.target.WordSize()
}

func (m *Image) Endian() arch.Endian {
	return m.target.Endian()
}

// ExecutableSize is the total byte count of executable segments.
func (m *Image) ExecutableSize() int {
	return m.execSize
}

// Segments returns the image's segments sorted by address. The returned slice
// shares its backing data with the image and must not be modified.
func (m *Image) Segments() []Segment {
	return m.segments
}

func (m *Image) segmentFor(addr uint64) (Segment, bool) {
	i := sort.Search(len(m.segments), func(i int) bool { return m.segments[i].End() > addr })
	if i < len(m.segments) && m.segments[i].Contains(addr) {
		return m.segments[i], true
	}
	return Segment{}, false
}

// Dereference returns the bytes from addr to the end of its segment.
func (m *Image) Dereference(addr uint64) ([]byte, bool) {
	s, ok := m.segmentFor(addr)
	if !ok {
		return nil, false
	}
	return s.Data[addr-s.Addr:], true
}

// ReadWord dereferences addr and decodes one target word.
func (m *Image) ReadWord(addr uint64) (uint64, bool) {
	b, ok := m.Dereference(addr)
	if !ok {
		return 0, false
	}
	w, err := arch.DecodeWord(b, m.WordSize(), m.Endian())
	if err != nil {
		return 0, false
	}
	return w, true
}

func (m *Image) intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

// ReverseLookup finds an address whose contents start with pattern. The scan
// begins at a random segment and offset and wraps around the whole image.
func (m *Image) ReverseLookup(pattern []byte) (uint64, bool) {
	if len(pattern) == 0 {
		return 0, false
	}
	first := m.intn(len(m.segments))
	startOff := m.intn(len(m.segments[first].Data))
	for k := 0; k < len(m.segments); k++ {
		s := m.segments[(first+k)%len(m.segments)]
		off := 0
		if k == 0 {
			off = startOff
		}
		if i := bytes.Index(s.Data[off:], pattern); i >= 0 {
			return s.Addr + uint64(off+i), true
		}
	}
	// Wrap into the part of the first segment skipped above, allowing a match
	// that straddles the random start.
	s := m.segments[first]
	limit := startOff + len(pattern) - 1
	if limit > len(s.Data) {
		limit = len(s.Data)
	}
	if i := bytes.Index(s.Data[:limit], pattern); i >= 0 {
		return s.Addr + uint64(i), true
	}
	return 0, false
}

// RandomExecutableAddress draws an address inside an executable segment,
// weighted by segment size.
func (m *Image) RandomExecutableAddress(rng *rand.Rand) (uint64, error) {
	if m.execSize == 0 {
		return 0, ErrNoExecutable
	}
	n := rng.Intn(m.execSize)
	for _, s := range m.segments {
		if !s.Executable() {
			continue
		}
		if n < len(s.Data) {
			return s.Addr + uint64(n), nil
		}
		n -= len(s.Data)
	}
	return 0, ErrNoExecutable
}

// Soup draws n executable addresses for use as an initial gene vocabulary,
// returned in ascending address order.
func (m *Image) Soup(rng *rand.Rand, n int) ([]uint64, error) {
	out := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		addr, err := m.RandomExecutableAddress(rng)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
