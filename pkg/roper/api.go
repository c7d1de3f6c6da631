// Package roper wires a configuration into a ready-to-use evaluation session:
// target image, emulator pool, profile cache and evaluator.
package roper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"roper/internal/config"
	"roper/internal/creature"
	"roper/internal/evaluator"
	"roper/internal/genotype"
	"roper/internal/hatchery"
	"roper/internal/memimage"
	"roper/internal/metrics"
	"roper/internal/push"
	"roper/internal/storage"
)

type Options struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Image replaces loading Config.BinaryFile.
	Image *memimage.Image
	// NewEmulator replaces the unicorn emulator backend.
	NewEmulator func(image *memimage.Image) (hatchery.Emulator, error)
}

type Client struct {
	cfg       config.Config
	image     *memimage.Image
	pool      *hatchery.Pool
	store     storage.Store
	evaluator *evaluator.Evaluator
	params    genotype.Params
	rng       *rand.Rand
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

type SegmentSummary struct {
	Addr uint64
	Size int
	Perm string
}

type ImageSummary struct {
	Target         string
	WordSize       int
	Endian         string
	ExecutableSize int
	Segments       []SegmentSummary
}

type RunRequest struct {
	Population int
}

type RunSummary struct {
	// Creatures holds parents and offspring, best fitness first.
	Creatures []creature.Creature
	Parents   int
	Offspring int
}

func New(ctx context.Context, opts Options) (*Client, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	target, err := cfg.Target()
	if err != nil {
		return nil, err
	}
	pattern, err := cfg.Pattern()
	if err != nil {
		return nil, err
	}

	image := opts.Image
	if image == nil {
		if cfg.BinaryFile == "" {
			return nil, errors.New("binary_file is required")
		}
		image, err = memimage.LoadELF(cfg.BinaryFile, target, cfg.RandomSeed)
		if err != nil {
			return nil, err
		}
	}
	if image.Target() != target {
		return nil, fmt.Errorf("%w: image=%s config=%s", memimage.ErrTargetMismatch, image.Target(), target)
	}

	rng := rand.New(rand.NewSource(cfg.RandomSeed))
	soup := cfg.SoupWords()
	if len(soup) == 0 {
		soup, err = image.Soup(rng, cfg.SoupSize)
		if err != nil {
			return nil, fmt.Errorf("seed soup: %w", err)
		}
	}
	params := genotype.Params{MinInitLen: cfg.MinInitLen, MaxInitLen: cfg.MaxInitLen, Soup: soup}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	outputs, err := hatchery.OutputRegisters(target, cfg.OutputRegisters, pattern)
	if err != nil {
		return nil, err
	}
	inputs := hatchery.ConstantInputs(outputs, 1)
	if cfg.RandomizeRegisters {
		inputs = hatchery.RandomInputs(outputs, target.WordSize(), cfg.RandomSeed)
	}
	newEmulator := opts.NewEmulator
	if newEmulator == nil {
		newEmulator = func(image *memimage.Image) (hatchery.Emulator, error) {
			return hatchery.NewUnicornEmulator(image, hatchery.UnicornOptions{
				StackSize: cfg.Hatchery.StackSize,
				MaxSteps:  cfg.Hatchery.MaxSteps,
				Timeout:   cfg.Hatchery.Timeout,
			})
		}
	}
	pool, err := hatchery.New(cfg.Hatchery.Workers, func() (hatchery.Emulator, error) {
		return newEmulator(image)
	}, hatchery.Config{
		Inputs:      inputs,
		Outputs:     outputs,
		Memory:      image,
		SpiderDepth: cfg.Hatchery.SpiderDepth,
	})
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.Cache.Kind, cfg.Cache.Path)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		_ = pool.Close()
		_ = storage.CloseIfSupported(store)
		return nil, fmt.Errorf("init profile cache: %w", err)
	}

	ev, err := evaluator.New(evaluator.Options{
		Pool:        pool,
		Interpreter: push.NewLinear(target),
		Store:       store,
		Metrics:     opts.Metrics,
		Logger:      logger,
		Policy:      cfg.Fitness.Function,
		Weighting:   cfg.Fitness.Weighting,
		Pattern:     pattern,
		Memory:      image,
		Sketch:      cfg.Sketch,
		Workers:     cfg.Workers,
		MaxSteps:    cfg.PushVM.MaxSteps,
	})
	if err != nil {
		_ = pool.Close()
		_ = storage.CloseIfSupported(store)
		return nil, err
	}

	logger.Info("session ready",
		"target", target.String(),
		"outputs", len(outputs),
		"soup", len(soup),
		"policy", cfg.Fitness.Function,
		"cache", cfg.Cache.Kind,
	)
	return &Client{
		cfg:       cfg,
		image:     image,
		pool:      pool,
		store:     store,
		evaluator: ev,
		params:    params,
		rng:       rng,
		logger:    logger,
		metrics:   opts.Metrics,
	}, nil
}

func (c *Client) Close() error {
	return errors.Join(c.pool.Close(), storage.CloseIfSupported(c.store))
}

func (c *Client) Evaluator() *evaluator.Evaluator {
	return c.evaluator
}

func (c *Client) Store() storage.Store {
	return c.store
}

// Inspect summarizes the loaded target image.
func (c *Client) Inspect() ImageSummary {
	out := ImageSummary{
		Target:         c.image.Target().String(),
		WordSize:       c.image.WordSize(),
		Endian:         c.image.Endian().String(),
		ExecutableSize: c.image.ExecutableSize(),
	}
	for _, s := range c.image.Segments() {
		out.Segments = append(out.Segments, SegmentSummary{Addr: s.Addr, Size: len(s.Data), Perm: s.Perm.String()})
	}
	return out
}

// Spawn creates n random unborn creatures.
func (c *Client) Spawn(n int) ([]creature.Creature, error) {
	out := make([]creature.Creature, 0, n)
	for i := 0; i < n; i++ {
		g, err := genotype.Random(c.params, c.rng)
		if err != nil {
			return nil, err
		}
		out = append(out, creature.New(g))
	}
	return out, nil
}

// Breed crosses consecutive pairs and mutates each child with the configured
// mutation rate.
func (c *Client) Breed(ctx context.Context, parents []creature.Creature) []creature.Creature {
	op := &genotype.MutationOperator{Rand: c.rng, Memory: c.image}
	var out []creature.Creature
	for i := 0; i+1 < len(parents); i += 2 {
		children := parents[i].Genotype.Crossover(parents[i+1].Genotype, c.rng)
		for _, child := range children {
			child.Name = genotype.NewName()
			if c.rng.Float64() < c.cfg.MutationRate {
				mutated, err := op.Apply(ctx, child)
				if err != nil {
					c.logger.Debug("mutation skipped", "creature", child.Name, "operator", op.Name(), "error", err)
				} else {
					child = mutated
				}
			}
			out = append(out, creature.New(child))
		}
	}
	return out
}

// Evaluate develops and scores creatures, then records them in the store.
func (c *Client) Evaluate(ctx context.Context, cs []creature.Creature) ([]creature.Creature, error) {
	developed, err := c.evaluator.DevelopmentPipeline(ctx, cs)
	if err != nil {
		return nil, err
	}
	scored := c.evaluator.ScoringPipeline(developed)
	for _, cr := range scored {
		if err := c.store.SaveCreature(ctx, storage.NewCreatureRecord(cr)); err != nil {
			c.logger.Warn("store creature failed", "creature", cr.Name(), "error", err)
		}
	}
	return scored, nil
}

// Run evaluates a random population and one round of its offspring.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.Population <= 0 {
		req.Population = c.cfg.PopulationSize
	}
	if req.Population <= 0 {
		return RunSummary{}, errors.New("population must be positive")
	}
	population, err := c.Spawn(req.Population)
	if err != nil {
		return RunSummary{}, err
	}
	parents, err := c.Evaluate(ctx, population)
	if err != nil {
		return RunSummary{}, err
	}
	offspring, err := c.Evaluate(ctx, c.Breed(ctx, parents))
	if err != nil {
		return RunSummary{}, err
	}

	all := append(append([]creature.Creature(nil), parents...), offspring...)
	SortByFitness(all)
	c.logger.Info("evaluation finished",
		"parents", len(parents),
		"offspring", len(offspring),
		"observations", c.evaluator.Sketches().Observations(),
	)
	return RunSummary{Creatures: all, Parents: len(parents), Offspring: len(offspring)}, nil
}

// SortByFitness orders creatures best first. Unscored creatures go last.
func SortByFitness(cs []creature.Creature) {
	scalar := func(c creature.Creature) float64 {
		if c.Fitness == nil {
			return 0
		}
		return c.Fitness.Scalar()
	}
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.Scored() != b.Scored() {
			return a.Scored()
		}
		return scalar(a) < scalar(b)
	})
}
