// Package policy holds the fitness policies that turn an execution profile
// into a weighted fitness, updating the session's novelty sketches as a side
// effect.
package policy

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"roper/internal/arch"
	"roper/internal/creature"
	"roper/internal/fitness"
	"roper/internal/memimage"
	"roper/internal/sketch"
)

const (
	JustNoveltyName         = "just_novelty"
	RegisterPatternName     = "register_pattern"
	RegisterEntropyName     = "register_entropy"
	RegisterConjunctionName = "register_conjunction"
	CodeCoverageName        = "code_coverage"
)

var (
	ErrPolicyExists   = errors.New("fitness policy already registered")
	ErrPolicyNotFound = errors.New("fitness policy not found")
)

// Env is the read-only session context a policy scores against.
type Env struct {
	Weighting fitness.Weighting
	Pattern   *arch.RegisterPattern
	Memory    memimage.Accessor
	Logger    *slog.Logger
}

func (e *Env) logger() *slog.Logger {
	if e == nil || e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

func (e *Env) weighting() fitness.Weighting {
	if e == nil {
		return nil
	}
	return e.Weighting
}

func (e *Env) wordSize() int {
	if e == nil || e.Memory == nil {
		return 8
	}
	return e.Memory.WordSize()
}

// Func scores a profiled creature. Policies leave the fitness unset when the
// creature has no profile or the profile lacks what they measure.
type Func func(c creature.Creature, sketches *sketch.Sketches, env *Env) creature.Creature

var policyRegistry = struct {
	mu sync.RWMutex
	m  map[string]Func
}{
	m: builtins(),
}

func builtins() map[string]Func {
	return map[string]Func{
		JustNoveltyName:         JustNovelty,
		RegisterPatternName:     RegisterPattern,
		RegisterEntropyName:     RegisterEntropy,
		RegisterConjunctionName: RegisterConjunction,
		CodeCoverageName:        CodeCoverage,
	}
}

// Register adds a named policy alongside the built-ins.
func Register(name string, fn Func) error {
	if name == "" {
		return errors.New("policy name is required")
	}
	if fn == nil {
		return errors.New("policy function is required")
	}
	policyRegistry.mu.Lock()
	defer policyRegistry.mu.Unlock()
	if _, exists := policyRegistry.m[name]; exists {
		return fmt.Errorf("%w: %s", ErrPolicyExists, name)
	}
	policyRegistry.m[name] = fn
	return nil
}

func Resolve(name string) (Func, error) {
	policyRegistry.mu.RLock()
	fn, ok := policyRegistry.m[name]
	policyRegistry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, name)
	}
	return fn, nil
}

func Names() []string {
	policyRegistry.mu.RLock()
	defer policyRegistry.mu.RUnlock()

	names := make([]string, 0, len(policyRegistry.m))
	for name := range policyRegistry.m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func resetRegistryForTests() {
	policyRegistry.mu.Lock()
	defer policyRegistry.mu.Unlock()
	policyRegistry.m = builtins()
}
