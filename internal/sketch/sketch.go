// Package sketch implements the approximate frequency counters that turn
// execution observations into novelty scores.
package sketch

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultWidth = 1 << 14
	DefaultDepth = 4
)

var ErrInvalidShape = errors.New("sketch width and depth must be > 0")

// Key is anything that can serialize itself into hash input.
type Key interface {
	AppendKey(b []byte) []byte
}

// Uint64Key keys a sketch by a single word, e.g. an instruction address.
type Uint64Key uint64

func (k Uint64Key) AppendKey(b []byte) []byte {
	return binary.LittleEndian.AppendUint64(b, uint64(k))
}

// WordsKey keys a sketch by an ordered sequence of words.
type WordsKey []uint64

func (k WordsKey) AppendKey(b []byte) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(k)))
	for _, w := range k {
		b = binary.LittleEndian.AppendUint64(b, w)
	}
	return b
}

type Config struct {
	Width int `yaml:"width"`
	Depth int `yaml:"depth"`
}

func (c Config) withDefaults() Config {
	if c.Width == 0 {
		c.Width = DefaultWidth
	}
	if c.Depth == 0 {
		c.Depth = DefaultDepth
	}
	return c
}

// Sketch is a count-min sketch. Query reports 1/count for the smallest row
// counter, so a key seen once (including by the caller that just inserted it)
// scores 1 and scores shrink as the key, or keys colliding with it, recur.
//
// Sketch is not safe for concurrent use.
type Sketch struct {
	width    uint64
	counters [][]uint32
	total    uint64
	buf      []byte
}

func New(cfg Config) (*Sketch, error) {
	cfg = cfg.withDefaults()
	if cfg.Width < 0 || cfg.Depth < 0 {
		return nil, fmt.Errorf("%w: width=%d depth=%d", ErrInvalidShape, cfg.Width, cfg.Depth)
	}
	counters := make([][]uint32, cfg.Depth)
	for i := range counters {
		counters[i] = make([]uint32, cfg.Width)
	}
	return &Sketch{width: uint64(cfg.Width), counters: counters}, nil
}

func (s *Sketch) hashes(k Key) (uint64, uint64) {
	s.buf = k.AppendKey(s.buf[:0])
	h1 := xxhash.Sum64(s.buf)
	// Second hash for double hashing; forced odd so rows never coincide.
	h2 := (h1>>32 | h1<<32) ^ 0x9e3779b97f4a7c15
	return h1, h2 | 1
}

func (s *Sketch) index(row int, h1, h2 uint64) uint64 {
	return (h1 + uint64(row)*h2) % s.width
}

// Insert records one observation of k.
func (s *Sketch) Insert(k Key) {
	h1, h2 := s.hashes(k)
	for row := range s.counters {
		i := s.index(row, h1, h2)
		if s.counters[row][i] < ^uint32(0) {
			s.counters[row][i]++
		}
	}
	s.total++
}

// Count estimates how many times k was inserted. It never underestimates.
func (s *Sketch) Count(k Key) uint32 {
	h1, h2 := s.hashes(k)
	minimum := ^uint32(0)
	for row := range s.counters {
		if c := s.counters[row][s.index(row, h1, h2)]; c < minimum {
			minimum = c
		}
	}
	return minimum
}

// Query returns the novelty of k in (0,1].
func (s *Sketch) Query(k Key) float64 {
	c := s.Count(k)
	if c <= 1 {
		return 1
	}
	return 1 / float64(c)
}

// Observations is the number of Insert calls so far.
func (s *Sketch) Observations() uint64 {
	return s.total
}

// Sketches groups the three novelty counters of one evaluation session.
type Sketches struct {
	RegisterError    *Sketch
	MemoryWrites     *Sketch
	AddressesVisited *Sketch
}

func NewSketches(cfg Config) (*Sketches, error) {
	regs, err := New(cfg)
	if err != nil {
		return nil, err
	}
	writes, err := New(cfg)
	if err != nil {
		return nil, err
	}
	addrs, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return &Sketches{RegisterError: regs, MemoryWrites: writes, AddressesVisited: addrs}, nil
}

// Observations sums the insert counts of all three sketches.
func (s *Sketches) Observations() uint64 {
	return s.RegisterError.Observations() + s.MemoryWrites.Observations() + s.AddressesVisited.Observations()
}
