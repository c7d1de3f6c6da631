// Package evaluator develops creatures into execution profiles and scores
// them with the session's fitness policy.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"roper/internal/arch"
	"roper/internal/creature"
	"roper/internal/fitness"
	"roper/internal/memimage"
	"roper/internal/metrics"
	"roper/internal/policy"
	"roper/internal/profile"
	"roper/internal/sketch"
	"roper/internal/storage"
)

var (
	ErrNoPool         = errors.New("evaluator requires an emulator pool")
	ErrNoInterpreter  = errors.New("evaluator requires a push interpreter")
	ErrMissingPattern = errors.New("fitness policy requires a register pattern")
)

// Interpreter turns a chromosome into payload bytes. It never fails and may
// return an empty payload.
type Interpreter interface {
	Exec(chromosome, args []uint64, maxSteps int) []byte
}

// Pool executes a creature's payload and reports what it did.
type Pool interface {
	Execute(ctx context.Context, c creature.Creature) (creature.Creature, *profile.Profile, error)
}

type Options struct {
	Pool        Pool
	Interpreter Interpreter
	// Store caches profiles by payload digest. Nil disables caching.
	Store   storage.Store
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	Policy    string
	Weighting fitness.Weighting
	Pattern   *arch.RegisterPattern
	Memory    memimage.Accessor
	Sketch    sketch.Config

	// Workers bounds DevelopmentPipeline concurrency.
	Workers  int
	MaxSteps int
	Args     []uint64
}

type Evaluator struct {
	opts   Options
	policy policy.Func
	env    *policy.Env
	store  storage.Store
	logger *slog.Logger

	mu       sync.Mutex
	sketches *sketch.Sketches
}

func New(opts Options) (*Evaluator, error) {
	if opts.Pool == nil {
		return nil, ErrNoPool
	}
	if opts.Interpreter == nil {
		return nil, ErrNoInterpreter
	}
	if opts.Policy == "" {
		opts.Policy = policy.JustNoveltyName
	}
	fn, err := policy.Resolve(opts.Policy)
	if err != nil {
		return nil, err
	}
	if opts.Policy == policy.RegisterPatternName && opts.Pattern.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingPattern, opts.Policy)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	sketches, err := sketch.NewSketches(opts.Sketch)
	if err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "evaluator")
	store := opts.Store
	if store == nil {
		store = storage.NopStore{}
	}
	return &Evaluator{
		opts:   opts,
		policy: fn,
		env: &policy.Env{
			Weighting: opts.Weighting,
			Pattern:   opts.Pattern,
			Memory:    opts.Memory,
			Logger:    logger.With("policy", opts.Policy),
		},
		store:    store,
		logger:   logger,
		sketches: sketches,
	}, nil
}

// Sketches exposes the session's novelty sketches. Callers must not use them
// while a scoring pipeline runs.
func (e *Evaluator) Sketches() *sketch.Sketches {
	return e.sketches
}

// Develop generates the creature's payload and profile if it lacks them.
// A creature that already has a profile is returned unchanged.
func (e *Evaluator) Develop(ctx context.Context, c creature.Creature) (creature.Creature, error) {
	if c.HasProfile() {
		return c, nil
	}
	if !c.HasPayload() {
		c.SetPayload(e.opts.Interpreter.Exec(c.Genotype.Chromosome, e.opts.Args, e.opts.MaxSteps))
	}
	defer e.opts.Metrics.Developed()

	if len(c.Payload) == 0 {
		c.SetProfile(profile.NonExecutable())
		e.opts.Metrics.NonExecutable()
		return c, nil
	}

	key := storage.PayloadKey(c.Payload)
	cached, ok, err := e.store.GetProfile(ctx, key)
	if err != nil {
		e.logger.Warn("profile cache lookup failed", "creature", c.Name(), "error", err)
	}
	if ok {
		c.SetProfile(cached)
		e.opts.Metrics.CacheHit()
		e.countNonExecutable(cached)
		return c, nil
	}

	c, p, err := e.opts.Pool.Execute(ctx, c)
	if err != nil {
		return c, fmt.Errorf("develop %s: %w", c.Name(), err)
	}
	if p == nil {
		p = profile.NonExecutable()
	}
	e.opts.Metrics.Emulated()
	if err := e.store.SaveProfile(ctx, key, p); err != nil {
		e.logger.Warn("profile cache store failed", "creature", c.Name(), "error", err)
	}
	if n := p.CrashCount(); n > 0 {
		e.logger.Debug("emulator faults", "creature", c.Name(), "crashes", n, "errors", p.CPUErrors)
	}
	c.SetProfile(p)
	e.countNonExecutable(p)
	return c, nil
}

func (e *Evaluator) countNonExecutable(p *profile.Profile) {
	if !p.Executable {
		e.opts.Metrics.NonExecutable()
	}
}

// ApplyFitnessFunction scores a developed creature. It panics if the
// creature has no profile.
func (e *Evaluator) ApplyFitnessFunction(c creature.Creature) creature.Creature {
	if !c.HasProfile() || c.Profile == nil {
		panic(fmt.Sprintf("evaluator: creature %q scored before development", c.Name()))
	}
	if !c.Profile.Executable {
		c.SetFitness(e.failure())
		e.opts.Metrics.Failure()
		e.opts.Metrics.Scored()
		return c
	}

	e.mu.Lock()
	c = e.policy(c, e.sketches, e.env)
	e.mu.Unlock()

	if !c.Scored() {
		e.logger.Debug("policy left fitness unset", "creature", c.Name(), "policy", e.opts.Policy)
		c.SetFitness(e.failure())
		e.opts.Metrics.Failure()
	} else if !c.Fitness.Failed() {
		for name, v := range c.Fitness.Scores {
			e.opts.Metrics.ObserveObjective(name, v)
		}
	}
	e.opts.Metrics.Scored()
	return c
}

func (e *Evaluator) failure() *fitness.Weighted {
	f := fitness.New(e.opts.Weighting)
	f.DeclareFailure()
	return f
}

// DevelopmentPipeline develops every creature concurrently and returns them
// in input order. The first error cancels the remaining work.
func (e *Evaluator) DevelopmentPipeline(ctx context.Context, cs []creature.Creature) ([]creature.Creature, error) {
	out := make([]creature.Creature, len(cs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, c := range cs {
		g.Go(func() error {
			developed, err := e.Develop(ctx, c)
			if err != nil {
				return err
			}
			out[i] = developed
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ScoringPipeline scores creatures one at a time in input order so sketch
// updates are reproducible.
func (e *Evaluator) ScoringPipeline(cs []creature.Creature) []creature.Creature {
	out := make([]creature.Creature, len(cs))
	for i, c := range cs {
		out[i] = e.ApplyFitnessFunction(c)
	}
	return out
}
