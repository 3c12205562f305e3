// Package main provides ggcat, a bucketed external-memory de Bruijn
// graph assembler.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/ggcat-go/ggcat/internal/common"
	"github.com/ggcat-go/ggcat/internal/minimizer"
	"github.com/ggcat-go/ggcat/internal/pipeline"
	"github.com/ggcat-go/ggcat/internal/query"
)

const (
	Version   = "0.1.0"
	BuildDate = "2026-07-30"
)

var (
	shutdownChan = make(chan os.Signal, 1)
	cleanupFuncs []func()
)

func main() {
	setupSignalHandler()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "build":
		runBuild(os.Args[2:])
	case "query":
		runQuery(os.Args[2:])
	case "version":
		fmt.Printf("ggcat v%s (%s)\n", Version, BuildDate)
	case "help":
		printUsage()
	default:
		fmt.Printf("unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func setupSignalHandler() {
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	go handleShutdown()
}

func handleShutdown() {
	<-shutdownChan
	fmt.Fprintln(os.Stderr, "\nreceived shutdown signal, cleaning up...")
	for i := len(cleanupFuncs) - 1; i >= 0; i-- {
		cleanupFuncs[i]()
	}
	fmt.Fprintln(os.Stderr, "cleanup complete")
	os.Exit(130)
}

func printUsage() {
	fmt.Println(`ggcat - bucketed external-memory de Bruijn graph assembler

Usage:
    ggcat <command> [arguments]

Commands:
    build    Assemble unitigs from read files
    query    Look up a k-mer against an assembled unitigs file
    version  Show version
    help     Show this help

Use "ggcat <command> -h" for command-specific options.`)
}

// runBuild handles the build command.
func runBuild(args []string) {
	fs := flag.NewFlagSet("build", flag.ExitOnError)

	k := fs.Int("k", 0, "k-mer length (required)")
	m := fs.Int("m", 0, "minimizer length (0 = heuristic default)")
	threads := fs.Int("t", runtime.NumCPU(), "number of worker threads")
	output := fs.String("o", "", "output unitigs FASTA path (required)")
	tempDir := fs.String("temp-dir", os.Getenv("TEMP_DIR"), "scratch directory for intermediate buckets (default: $TEMP_DIR, or <output>.tmp-scratch)")
	hashType := fs.String("hash-type", "Auto", "rolling hash kind: Auto, SeqHash, RabinKarp32, RabinKarp64, RabinKarp128")
	forwardOnly := fs.Bool("forward-only", false, "skip reverse-complement canonicalization")
	keepTemp := fs.Bool("keep-temp", os.Getenv("KEEP_FILES") != "", "keep intermediate bucket directories after the run (default: $KEEP_FILES set)")
	minMultiplicity := fs.Uint("min-multiplicity", 2, "drop k-mers seen fewer than this many times")
	minLength := fs.Int("min-length", 0, "drop finished unitigs shorter than this many bases")
	numBuckets := fs.Uint("buckets", 128, "number of top-level minimizer buckets (power of two)")
	secondBuckets := fs.Uint("second-buckets", 16, "number of sub-buckets per top-level bucket (power of two)")
	outlierFactor := fs.Float64("outlier-factor", 3.0, "sub-bucket outlier threshold, in standard deviations")
	seed := fs.Uint64("seed", 0x5eed, "seed for the hash-collision tie-break RNG")
	maxChainLength := fs.Int("max-chain-length", 0, "cap on partial-unitigs spliced per chain (0 = unbounded)")
	verbose := fs.Bool("verbose", false, "print per-phase timing and progress")

	_ = fs.Parse(args)

	if *k <= 0 {
		fmt.Fprintln(os.Stderr, "error: -k is required")
		fs.PrintDefaults()
		os.Exit(1)
	}
	if *output == "" {
		fmt.Fprintln(os.Stderr, "error: -o is required")
		fs.PrintDefaults()
		os.Exit(1)
	}
	if *tempDir == "" {
		*tempDir = *output + ".tmp-scratch"
	}

	hashKind, ok := minimizer.ParseHashKind(*hashType)
	if !ok {
		fmt.Fprintf(os.Stderr, "error: unknown --hash-type %q\n", *hashType)
		os.Exit(1)
	}

	inputs := fs.Args()
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "error: at least one input read file is required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	cfg := pipeline.Config{
		Inputs:           inputs,
		OutputPath:       *output,
		TempDir:          *tempDir,
		K:                *k,
		M:                *m,
		NumBuckets:       uint32(numBucketsPow2(*numBuckets)),
		SecondBuckets:    uint32(numBucketsPow2(*secondBuckets)),
		ForwardOnly:      *forwardOnly,
		MinMultiplicity:  uint32(*minMultiplicity),
		MinLength:        *minLength,
		HashKind:         hashKind,
		OutlierFactor:    *outlierFactor,
		Workers:          *threads,
		MaxChainLength:   *maxChainLength,
		Seed:             *seed,
		Verbose:          *verbose,
		KeepIntermediate: *keepTemp,
	}

	cleanupFuncs = append(cleanupFuncs, func() {
		if !*keepTemp {
			os.RemoveAll(*tempDir)
		}
	})

	if err := pipeline.Run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(common.ExitCode(err))
	}
}

// runQuery handles the query command.
func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)

	unitigs := fs.String("unitigs", "", "path to a build subcommand's FASTA output (required)")
	k := fs.Int("k", 0, "k-mer length, must match the build that produced -unitigs (required)")
	seq := fs.String("seq", "", "k-mer sequence to look up (required)")
	forwardOnly := fs.Bool("forward-only", false, "skip reverse-complement canonicalization")
	verbose := fs.Bool("verbose", false, "print bloom filter statistics before the lookup")

	_ = fs.Parse(args)

	if *unitigs == "" || *k <= 0 || *seq == "" {
		fmt.Fprintln(os.Stderr, "error: -unitigs, -k and -seq are required")
		fs.PrintDefaults()
		os.Exit(1)
	}

	engine := query.NewEngine(query.Config{
		UnitigsPath: *unitigs,
		K:           *k,
		ForwardOnly: *forwardOnly,
		Query:       strings.ToUpper(*seq),
		Verbose:     *verbose,
	})

	if err := engine.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(common.ExitCode(err))
	}
}

// numBucketsPow2 rounds n up to the nearest power of two, the invariant
// BucketOf/Shifts both assume.
func numBucketsPow2(n uint) uint {
	if n < 2 {
		return 2
	}
	p := uint(1)
	for p < n {
		p <<= 1
	}
	return p
}
