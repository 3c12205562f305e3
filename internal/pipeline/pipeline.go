package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ggcat-go/ggcat/internal/common"
	"github.com/ggcat-go/ggcat/internal/minimizer"
)

// Config holds every flag the `build` subcommand exposes, collected in
// one struct so main.go only has to fill it in once from the flag set.
type Config struct {
	Inputs          []string
	OutputPath      string
	TempDir         string
	K               int
	M               int
	NumBuckets      uint32
	SecondBuckets   uint32
	ForwardOnly     bool
	MinMultiplicity uint32
	MinLength       int
	HashKind        minimizer.HashKind
	OutlierFactor   float64
	Workers         int
	MaxChainLength  int
	Seed            uint64
	Verbose         bool
	KeepIntermediate bool
}

// Run drives the five phases in sequence: minimizer-bucketing, k-mer
// merging, hash-sorting, link compaction, and reorganize/build-unitigs.
// Each phase's output directory is removed once the next phase has
// consumed it, unless KeepIntermediate is set (handy when debugging a
// single phase in isolation).
func Run(cfg Config) error {
	if cfg.K <= 0 || cfg.K > 64 {
		return common.UserErrorf("validate k", "k must be between 1 and 64, got %d", cfg.K)
	}
	m := cfg.M
	if m <= 0 {
		m = minimizer.DefaultM(cfg.K)
	}
	if m > cfg.K {
		return common.UserErrorf("validate m", "m (%d) must not exceed k (%d)", m, cfg.K)
	}
	if len(cfg.Inputs) == 0 {
		return common.UserErrorf("validate inputs", "at least one input file is required")
	}

	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		return common.IOErrorf("create temp dir", err)
	}

	fmt.Println("=== bucketed de Bruijn graph assembler ===")
	fmt.Printf("inputs:  %v\n", cfg.Inputs)
	fmt.Printf("output:  %s\n", cfg.OutputPath)
	fmt.Printf("k=%d m=%d buckets=%d/%d workers=%d\n\n", cfg.K, m, cfg.NumBuckets, cfg.SecondBuckets, cfg.Workers)

	bucketingDir := filepath.Join(cfg.TempDir, "1-bucketing")
	mergeDir := filepath.Join(cfg.TempDir, "2-merge")
	hashDir := filepath.Join(cfg.TempDir, "3-hashsort")
	compactDir := filepath.Join(cfg.TempDir, "4-compaction")

	start := time.Now()

	bucketingCfg := BucketingConfig{
		K: cfg.K, M: m,
		NumBuckets:       cfg.NumBuckets,
		NumSecondBuckets: cfg.SecondBuckets,
		ForwardOnly:      cfg.ForwardOnly,
		HashKind:         cfg.HashKind,
		OutlierFactor:    cfg.OutlierFactor,
		Workers:          cfg.Workers,
		Verbose:          cfg.Verbose,
	}
	bucketingResult, err := RunBucketing(bucketingCfg, cfg.Inputs, bucketingDir)
	if err != nil {
		return fmt.Errorf("phase 1 (bucketing): %w", err)
	}
	logPhase(cfg.Verbose, "bucketing", start)

	mergeStart := time.Now()
	mergeCfg := MergeConfig{
		K:                cfg.K,
		ForwardOnly:      cfg.ForwardOnly,
		MinMultiplicity:  cfg.MinMultiplicity,
		Workers:          cfg.Workers,
		NumSecondBuckets: cfg.SecondBuckets,
		OutlierFactor:    cfg.OutlierFactor,
		Counters:         bucketingResult.Counters,
	}
	mergeResult, err := RunMerge(mergeCfg, bucketingResult.Buckets, mergeDir)
	if err != nil {
		return fmt.Errorf("phase 2 (merge): %w", err)
	}
	if !cfg.KeepIntermediate {
		bucketingResult.Buckets.RemoveAll()
	}
	logPhase(cfg.Verbose, "merge", mergeStart)

	hashStart := time.Now()
	rng := NewFastRand(cfg.Seed)
	links, err := RunHashSort(mergeResult.Hashes, hashDir, rng)
	if err != nil {
		return fmt.Errorf("phase 3 (hash-sort): %w", err)
	}
	if !cfg.KeepIntermediate {
		mergeResult.Hashes.RemoveAll()
	}
	logPhase(cfg.Verbose, "hash-sort", hashStart)

	compactStart := time.Now()
	compactionCfg := CompactionConfig{K: cfg.K, MaxChainLength: cfg.MaxChainLength, Seed: cfg.Seed}
	chains, resultMap, err := RunCompaction(compactionCfg, links, mergeResult.Seqs, compactDir)
	if err != nil {
		return fmt.Errorf("phase 4 (link compaction): %w", err)
	}
	if !cfg.KeepIntermediate {
		links.RemoveAll()
	}
	logPhase(cfg.Verbose, "link-compaction", compactStart)

	reorgStart := time.Now()
	reorgCfg := ReorganizeConfig{K: cfg.K, MinLength: cfg.MinLength}
	if err := RunReorganize(reorgCfg, mergeResult.Seqs, chains, resultMap, cfg.OutputPath); err != nil {
		return fmt.Errorf("phase 5 (reorganize): %w", err)
	}
	if !cfg.KeepIntermediate {
		mergeResult.Seqs.RemoveAll()
		chains.RemoveAll()
		resultMap.RemoveAll()
		os.RemoveAll(cfg.TempDir)
	}
	logPhase(cfg.Verbose, "reorganize", reorgStart)

	fmt.Printf("\ndone in %s -> %s\n", time.Since(start).Round(time.Millisecond), cfg.OutputPath)
	return nil
}

func logPhase(verbose bool, name string, start time.Time) {
	if !verbose {
		return
	}
	fmt.Printf("  %-16s %s\n", name, time.Since(start).Round(time.Millisecond))
}
