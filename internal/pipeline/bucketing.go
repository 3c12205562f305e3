package pipeline

import (
	"fmt"
	"math"
	"sync"

	"github.com/ggcat-go/ggcat/internal/bucket"
	"github.com/ggcat-go/ggcat/internal/kmer"
	"github.com/ggcat-go/ggcat/internal/minimizer"
)

// SubBucketCounters tracks per-second-bucket record counts while a
// minimizer-bucketing worker writes, so the counter analyzer can flag
// outliers for the resplitter in phase 2.
type SubBucketCounters struct {
	Counts []int64
}

// IsOutlier reports whether count i exceeds mean + f*stddev of the
// distribution. The counters are handed to merge in memory; nothing of
// them is written to disk beside the bucket.
func (c SubBucketCounters) IsOutlier(i int, f float64) bool {
	if len(c.Counts) == 0 {
		return false
	}
	var sum, sumSq float64
	for _, v := range c.Counts {
		sum += float64(v)
		sumSq += float64(v) * float64(v)
	}
	n := float64(len(c.Counts))
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	stddev := math.Sqrt(variance)
	return float64(c.Counts[i]) > mean+f*stddev
}

// BucketingConfig parameterizes phase 1.
type BucketingConfig struct {
	K, M             int
	NumBuckets       uint32
	NumSecondBuckets uint32
	ForwardOnly      bool
	HashKind         minimizer.HashKind
	OutlierFactor    float64 // f in mean + f*stddev
	Workers          int
	Verbose          bool
}

// BucketingResult is what phase 1 hands to phase 2: the super-k-mer
// bucket set plus each bucket's sub-bucket counters for outlier
// detection.
type BucketingResult struct {
	Buckets  *bucket.MultiThreadBuckets
	Counters []SubBucketCounters // one per top-level bucket
}

// RunBucketing implements minimizer-bucketing: for every input read,
// once N-split into maximal N-free records, slide a rolling m-mer hash
// across each k-mer window, detect super-k-mer boundaries at argmin
// changes, and append a CompressedReadsBucketData record for every
// super-k-mer whose minimizer hash clears the threshold.
func RunBucketing(cfg BucketingConfig, inputs []string, outDir string) (*BucketingResult, error) {
	buckets, err := bucket.NewMultiThreadBuckets(outDir, "reads", int(cfg.NumBuckets))
	if err != nil {
		return nil, err
	}

	highShift, lowShift := minimizer.Shifts(cfg.NumBuckets, cfg.NumSecondBuckets)
	threshold := minimizer.Threshold()

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	counters := make([]SubBucketCounters, cfg.NumBuckets)
	for i := range counters {
		counters[i] = SubBucketCounters{Counts: make([]int64, cfg.NumSecondBuckets)}
	}
	countersMu := make([]sync.Mutex, cfg.NumBuckets)

	report := newProgressReporter(cfg.Verbose, 0)
	report.setPhase("bucketing")
	report.run()
	defer report.close()

	for colorID, path := range inputs {
		scanner, err := NewReadScanner(path, workers)
		if err != nil {
			buckets.Close()
			return nil, fmt.Errorf("bucketing input %s: %w", path, err)
		}

		dispatchers := make([]*bucket.Dispatcher, workers)
		for i := range dispatchers {
			dispatchers[i] = bucket.NewDispatcher(buckets, true)
		}

		scanErr := scanner.Scan(func(workerID int, rec NFreeRecord) {
			d := dispatchers[workerID%len(dispatchers)]
			bucketizeRecord(cfg, rec, uint32(colorID), highShift, lowShift, threshold, d, counters, countersMu)
			report.add(1)
		})
		scanner.Close()
		if scanErr != nil {
			buckets.Close()
			return nil, scanErr
		}
		for _, d := range dispatchers {
			if err := d.Flush(); err != nil {
				buckets.Close()
				return nil, fmt.Errorf("flush bucketing dispatcher: %w", err)
			}
		}
	}

	if err := buckets.Close(); err != nil {
		return nil, err
	}
	return &BucketingResult{Buckets: buckets, Counters: counters}, nil
}

// bucketizeRecord slides a length-m rolling hash across one N-free read
// record and emits super-k-mers at every minimizer change. The window
// only starts reporting an authoritative minimizer once the first full
// k-mer (k bases) has been seen; before that there is no complete k-mer
// to assign a bucket to.
func bucketizeRecord(cfg BucketingConfig, rec NFreeRecord, colorID uint32, highShift, lowShift uint, threshold uint64, dispatcher *bucket.Dispatcher, counters []SubBucketCounters, countersMu []sync.Mutex) {
	bases := rec.Bases
	if len(bases) < cfg.K {
		return
	}

	hasher := minimizer.Resolve(cfg.HashKind, cfg.M)
	win := minimizer.NewWindow(cfg.M, hasher)
	win.Reset()

	superStart := 0 // first k-mer start of the pending super-k-mer
	lastMinPos := -1
	var lastMinHash uint64
	haveFullKmer := false

	// emitUpTo writes the super-k-mer made of the k-mers starting at
	// superStart..kmerEnd-1 (bases superStart..kmerEnd+K-2), bucketed by
	// minHash, the minimizer those k-mers share.
	emitUpTo := func(kmerEnd int, minHash uint64) {
		if kmerEnd <= superStart {
			return
		}
		seq := bases[superStart : kmerEnd+cfg.K-1]
		superStart = kmerEnd
		if minHash >= threshold {
			return
		}
		bucketID, secondID := minimizer.BucketOf(minHash, highShift, lowShift, cfg.NumBuckets, cfg.NumSecondBuckets)

		countersMu[bucketID].Lock()
		counters[bucketID].Counts[secondID]++
		countersMu[bucketID].Unlock()

		rec := CompressedReadsBucketData{
			Sequence:     packSeq(seq),
			BaseCount:    uint32(len(seq)),
			SecondBucket: secondID,
			ColorID:      colorID,
		}
		_ = dispatcher.Push(int(bucketID), rec.Encode(nil))
	}

	mWindow := make([]kmer.Base, 0, cfg.M)
	for i := 0; i < cfg.M; i++ {
		b, ok := kmer.EncodeBase(bases[i])
		if !ok {
			return // ambiguity codes other than N are out of scope; skip the record
		}
		mWindow = append(mWindow, b)
	}
	hasher.Reset(mWindow)
	win.PushHash(hasher.Value())
	if cfg.K == cfg.M {
		haveFullKmer = true
		lastMinHash, lastMinPos, _ = win.Min()
	}

	for i := cfg.M; i < len(bases); i++ {
		b, ok := kmer.EncodeBase(bases[i])
		if !ok {
			return
		}
		out := mWindow[0]
		copy(mWindow, mWindow[1:])
		mWindow[len(mWindow)-1] = b
		hasher.Roll(out, b)
		win.PushHash(hasher.Value())

		kmerStart := i - cfg.K + 1
		if kmerStart < 0 {
			continue
		}
		win.EvictBefore(kmerStart)

		if !haveFullKmer {
			haveFullKmer = true
			lastMinHash, lastMinPos, _ = win.Min()
			continue
		}

		minHash, minPos, ok := win.Min()
		if ok && minPos != lastMinPos {
			emitUpTo(kmerStart, lastMinHash)
		}
		lastMinPos = minPos
		lastMinHash = minHash
	}
	emitUpTo(len(bases)-cfg.K+1, lastMinHash)
}
