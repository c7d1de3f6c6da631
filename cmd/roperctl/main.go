package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"roper/internal/config"
	"roper/internal/hatchery"
	"roper/internal/memimage"
	"roper/internal/metrics"
	"roper/internal/policy"
	"roper/pkg/roper"
)

var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr

	// newEmulator overrides the emulator backend when set.
	newEmulator func(*memimage.Image) (hatchery.Emulator, error)
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "check-config":
		return runCheckConfig(ctx, args[1:])
	case "inspect-binary":
		return runInspectBinary(ctx, args[1:])
	case "evaluate":
		return runEvaluate(ctx, args[1:])
	case "policies":
		return runPolicies(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runCheckConfig(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("check-config", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "roper.yaml", "session config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	target, err := cfg.Target()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "config=%s target=%s function=%s population=%d cache=%s\n",
		*configPath, target, cfg.Fitness.Function, cfg.PopulationSize, cfg.Cache.Kind)
	for _, name := range sortedKeys(cfg.Fitness.Weighting) {
		fmt.Fprintf(stdout, "weight objective=%s weight=%g\n", name, cfg.Fitness.Weighting[name])
	}
	return nil
}

func runInspectBinary(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("inspect-binary", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "session config file supplying binary_file, arch and mode")
	binary := fs.String("binary", "", "ELF binary; overrides binary_file")
	archName := fs.String("arch", "", "target architecture; overrides arch")
	mode := fs.String("mode", "", "target mode; overrides mode")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *binary != "" {
		cfg.BinaryFile = *binary
	}
	if *archName != "" {
		cfg.Arch = *archName
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if cfg.BinaryFile == "" {
		return usageError("inspect-binary requires --binary or a config with binary_file")
	}
	target, err := cfg.Target()
	if err != nil {
		return err
	}
	image, err := memimage.LoadELF(cfg.BinaryFile, target, cfg.RandomSeed)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "binary=%s target=%s word_size=%d endian=%s executable_bytes=%d segments=%d\n",
		cfg.BinaryFile, target, image.WordSize(), image.Endian(), image.ExecutableSize(), len(image.Segments()))
	for _, s := range image.Segments() {
		fmt.Fprintf(stdout, "segment addr=%#x size=%d perm=%s\n", s.Addr, len(s.Data), s.Perm)
	}
	return nil
}

func runPolicies(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("policies", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}
	for _, name := range policy.Names() {
		fmt.Fprintf(stdout, "policy=%s\n", name)
	}
	return nil
}

func runEvaluate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "roper.yaml", "session config file")
	population := fs.Int("n", 0, "population size; 0 uses population_size")
	top := fs.Int("top", 5, "number of best creatures to print")
	metricsAddr := fs.String("metrics-addr", "", "serve prometheus metrics on this address while evaluating")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *population < 0 {
		return usageError("-n must not be negative")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := cfg.NewLogger(stderr)
	m := metrics.New()

	if *metricsAddr != "" {
		srv, err := serveMetrics(*metricsAddr, m)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("serving metrics", "addr", *metricsAddr)
	}

	client, err := roper.New(ctx, roper.Options{
		Config:      cfg,
		Logger:      logger,
		Metrics:     m,
		NewEmulator: newEmulator,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, roper.RunRequest{Population: *population})
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "evaluated parents=%d offspring=%d observations=%d\n",
		summary.Parents, summary.Offspring, client.Evaluator().Sketches().Observations())
	for i, c := range summary.Creatures {
		if i >= *top {
			break
		}
		scalar := math.Inf(1)
		failed := true
		if c.Fitness != nil {
			scalar = c.Fitness.Scalar()
			failed = c.Fitness.Failed()
		}
		gadgets := 0
		if c.Profile != nil {
			gadgets = len(c.Profile.GadgetsExecuted)
		}
		fmt.Fprintf(stdout, "rank=%d name=%s fitness=%g failed=%t length=%d payload_bytes=%d gadgets=%d\n",
			i+1, c.Name(), scalar, failed, len(c.Genotype.Chromosome), len(c.Payload), gadgets)
	}
	for _, name := range m.Objectives() {
		median, _ := m.Quantile(name, 0.5)
		fmt.Fprintf(stdout, "objective name=%s median=%g\n", name, median)
	}
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintln(stderr, "metrics server:", err)
		}
	}()
	return srv, nil
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: roperctl <%s> [flags]", msg, strings.Join(commands, "|"))
}

var commands = []string{"check-config", "inspect-binary", "evaluate", "policies"}
