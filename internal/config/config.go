// Package config loads and validates the YAML configuration of an evaluation
// session.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"roper/internal/arch"
	"roper/internal/policy"
	"roper/internal/sketch"
	"roper/internal/storage"
)

var ErrInvalidConfig = errors.New("invalid config")

// Word is a target word written either as a YAML integer or as a string such
// as "0x4010_00".
type Word uint64

func (w *Word) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a word, got %s", node.Line, kindName(node.Kind))
	}
	v, err := parseWord(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*w = Word(v)
	return nil
}

func parseWord(s string) (uint64, error) {
	return strconv.ParseUint(strings.ReplaceAll(strings.TrimSpace(s), "_", ""), 0, 64)
}

// Pattern is the register pattern in file order.
type Pattern []arch.PatternEntry

func (p *Pattern) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: register_pattern must be a mapping, got %s", node.Line, kindName(node.Kind))
	}
	out := make(Pattern, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if key.Kind != yaml.ScalarNode || value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: register_pattern entries must be register: value", key.Line)
		}
		out = append(out, arch.PatternEntry{Register: key.Value, Value: value.Value})
	}
	*p = out
	return nil
}

func kindName(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

type Fitness struct {
	Function  string             `yaml:"function"`
	Weighting map[string]float64 `yaml:"weighting"`
}

type PushVM struct {
	MaxSteps int `yaml:"max_steps"`
}

type Hatchery struct {
	Workers     int           `yaml:"workers"`
	MaxSteps    uint64        `yaml:"max_steps"`
	StackSize   uint64        `yaml:"stack_size"`
	SpiderDepth int           `yaml:"spider_depth"`
	Timeout     time.Duration `yaml:"timeout"`
}

type Cache struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
}

type Config struct {
	BinaryFile         string        `yaml:"binary_file"`
	Arch               string        `yaml:"arch"`
	Mode               string        `yaml:"mode"`
	Soup               []Word        `yaml:"soup"`
	SoupSize           int           `yaml:"soup_size"`
	MinInitLen         int           `yaml:"min_init_len"`
	MaxInitLen         int           `yaml:"max_init_len"`
	MaxFinalLen        int           `yaml:"max_final_len"`
	PopulationSize     int           `yaml:"population_size"`
	MutationRate       float64       `yaml:"mutation_rate"`
	RandomSeed         int64         `yaml:"random_seed"`
	OutputRegisters    []string      `yaml:"output_registers"`
	RandomizeRegisters bool          `yaml:"randomize_registers"`
	RegisterPattern    Pattern       `yaml:"register_pattern"`
	Fitness            Fitness       `yaml:"fitness"`
	PushVM             PushVM        `yaml:"push_vm"`
	Hatchery           Hatchery      `yaml:"hatchery"`
	Sketch             sketch.Config `yaml:"sketch"`
	Cache              Cache         `yaml:"cache"`
	Workers            int           `yaml:"workers"`
	LogLevel           string        `yaml:"log_level"`
}

// Default returns a configuration with every optional field filled in.
func Default() Config {
	return Config{
		SoupSize:       256,
		MinInitLen:     1,
		MaxInitLen:     64,
		MaxFinalLen:    100,
		PopulationSize: 64,
		MutationRate:   0.3,
		Fitness:        Fitness{Function: policy.JustNoveltyName},
		Hatchery: Hatchery{
			Workers:     4,
			MaxSteps:    0x10000,
			StackSize:   0x10000,
			SpiderDepth: 2,
			Timeout:     time.Second,
		},
		Sketch:   sketch.Config{Width: sketch.DefaultWidth, Depth: sketch.DefaultDepth},
		Cache:    Cache{Kind: storage.KindMemory},
		Workers:  4,
		LogLevel: "info",
	}
}

// Load reads, defaults and validates a configuration file.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.PushVM.MaxSteps == 0 {
		cfg.PushVM.MaxSteps = cfg.MaxFinalLen
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func invalid(field string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

func (c Config) Validate() error {
	t, err := c.Target()
	if err != nil {
		return invalid("arch", "%v", err)
	}
	if c.MinInitLen < 1 {
		return invalid("min_init_len", "must be at least 1, got %d", c.MinInitLen)
	}
	if c.MaxInitLen <= c.MinInitLen {
		return invalid("max_init_len", "must exceed min_init_len (%d), got %d", c.MinInitLen, c.MaxInitLen)
	}
	if c.MaxFinalLen < c.MaxInitLen {
		return invalid("max_final_len", "must be at least max_init_len (%d), got %d", c.MaxInitLen, c.MaxFinalLen)
	}
	if len(c.Soup) == 0 && c.SoupSize < c.MaxInitLen-1 {
		return invalid("soup_size", "must provide at least max_init_len-1 (%d) words, got %d", c.MaxInitLen-1, c.SoupSize)
	}
	if len(c.Soup) > 0 && len(c.Soup) < c.MaxInitLen-1 {
		return invalid("soup", "must hold at least max_init_len-1 (%d) words, got %d", c.MaxInitLen-1, len(c.Soup))
	}
	if c.PopulationSize < 0 {
		return invalid("population_size", "must not be negative, got %d", c.PopulationSize)
	}
	if c.MutationRate < 0 || c.MutationRate > 1 {
		return invalid("mutation_rate", "must be within [0,1], got %g", c.MutationRate)
	}
	if _, err := t.ParseRegisters(c.OutputRegisters); err != nil {
		return invalid("output_registers", "%v", err)
	}
	if _, err := c.Pattern(); err != nil {
		return invalid("register_pattern", "%v", err)
	}
	if _, err := policy.Resolve(c.Fitness.Function); err != nil {
		return invalid("fitness.function", "%v", err)
	}
	if c.Fitness.Function == policy.RegisterPatternName && len(c.RegisterPattern) == 0 {
		return invalid("register_pattern", "required by the %s fitness function", policy.RegisterPatternName)
	}
	if len(c.Fitness.Weighting) == 0 {
		return invalid("fitness.weighting", "at least one weighted objective is required")
	}
	if c.PushVM.MaxSteps < 1 {
		return invalid("push_vm.max_steps", "must be at least 1, got %d", c.PushVM.MaxSteps)
	}
	if c.Hatchery.Workers < 1 {
		return invalid("hatchery.workers", "must be at least 1, got %d", c.Hatchery.Workers)
	}
	if c.Hatchery.SpiderDepth < 0 {
		return invalid("hatchery.spider_depth", "must not be negative, got %d", c.Hatchery.SpiderDepth)
	}
	if c.Hatchery.Timeout < 0 {
		return invalid("hatchery.timeout", "must not be negative, got %s", c.Hatchery.Timeout)
	}
	if c.Sketch.Width < 0 || c.Sketch.Depth < 0 {
		return invalid("sketch", "width and depth must not be negative")
	}
	switch c.Cache.Kind {
	case "", storage.KindNone, storage.KindMemory:
	case storage.KindSQLite:
		if c.Cache.Path == "" {
			return invalid("cache.path", "required by the sqlite cache")
		}
	default:
		return invalid("cache.kind", "unsupported backend %q", c.Cache.Kind)
	}
	if c.Workers < 1 {
		return invalid("workers", "must be at least 1, got %d", c.Workers)
	}
	if _, err := c.Level(); err != nil {
		return invalid("log_level", "%v", err)
	}
	return nil
}

func (c Config) Target() (arch.Target, error) {
	return arch.ParseTarget(c.Arch, c.Mode)
}

// Pattern parses the register pattern. It returns nil when none is set.
func (c Config) Pattern() (*arch.RegisterPattern, error) {
	if len(c.RegisterPattern) == 0 {
		return nil, nil
	}
	t, err := c.Target()
	if err != nil {
		return nil, err
	}
	return arch.ParsePattern(t, c.RegisterPattern)
}

// SoupWords returns the configured soup as plain words.
func (c Config) SoupWords() []uint64 {
	out := make([]uint64, len(c.Soup))
	for i, w := range c.Soup {
		out[i] = uint64(w)
	}
	return out
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// NewLogger builds the session logger writing text records to w.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
