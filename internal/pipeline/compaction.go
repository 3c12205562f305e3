package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ggcat-go/ggcat/internal/bucket"
	"github.com/ggcat-go/ggcat/internal/common"
)

// CompactionConfig parameterizes phase 4.
type CompactionConfig struct {
	K int
	// MaxChainLength bounds how many partial-unitigs a single fuse may
	// splice together in one step; a fuse that would exceed it finalizes
	// what has joined so far instead of growing further. Zero means
	// unbounded.
	MaxChainLength int
	// Seed feeds the per-round fair-coin tie-break (FastRand) that picks
	// which endpoint becomes a fused chain's new address when neither
	// side is already end-sealed.
	Seed uint64
}

const (
	// maxCompactionRounds bounds the fixed-point loop: each round is a
	// randomized pointer-jump, so round count is expected O(log(longest
	// chain)) rather than O(longest chain). This is a safety net for a
	// malformed edge set that would otherwise never reach totsum == 0;
	// whatever is still open when it trips gets force-finalized rather
	// than dropped.
	maxCompactionRounds = 256
	// seqBucketCacheSize bounds how many seq buckets' contents
	// compaction holds in memory at once while stitching finalized
	// chains: the external-memory tradeoff of re-reading a bucket file
	// instead of ever holding every bucket's sequences at the same time.
	seqBucketCacheSize = 16
)

// RunCompaction implements link compaction's fixed-point loop. Every
// round loads one bucket's current-round links at a time, radix-sorts
// them by the node they address, and groups by equal entry:
//   - two non-empty records of opposite direction fuse: the node folds
//     out of the graph, flags combine, and the joined chain is
//     re-addressed to one of its two neighbors (a coin flip breaks the
//     tie unless one side is already end-sealed) while the other
//     neighbor gets an empty placeholder to cancel its stale reference;
//   - a lonely record (or a pair where the partner is the empty
//     placeholder) seals its begin; if the far end was already sealed
//     too the chain is finished and finalizes, otherwise it re-emits
//     addressed at its one known neighbor;
//   - a record whose own chain already loops back to its own address
//     is a closed circular unitig and finalizes immediately;
//   - anything else (three or more records sharing an entry, or two
//     records on the same side) is a branch or palindrome and is
//     dropped, the same shape hash-sorting itself drops.
//
// totsum (the number of links re-emitted for another round, summed
// across every bucket) reaches zero exactly when every chain has
// finalized or been dropped; RunCompaction terminates there, with
// maxCompactionRounds as a backstop that force-finalizes any survivor
// rather than discarding it. Finalizing a chain stitches its
// partial-unitig sequences through a bounded per-run cache of recently
// touched seq buckets, so peak memory never holds more than a handful
// of buckets' sequence data at once, and writes one LinkMapping
// redirection per constituent piece to the result-map: the table
// reorganize reads to route each seq bucket's own output without ever
// loading the whole graph.
func RunCompaction(cfg CompactionConfig, links *bucket.MultiThreadBuckets, seqs *bucket.MultiThreadBuckets, outDir string) (final *bucket.MultiThreadBuckets, resultMap *bucket.MultiThreadBuckets, err error) {
	numBuckets := links.NumBuckets()
	rng := NewFastRand(cfg.Seed)

	final, err = bucket.NewMultiThreadBuckets(outDir, "chains", numBuckets)
	if err != nil {
		return nil, nil, err
	}
	resultMap, err = bucket.NewMultiThreadBuckets(outDir, "resultmap", numBuckets)
	if err != nil {
		final.Close()
		return nil, nil, err
	}
	finalDispatch := bucket.NewDispatcher(final, true)
	mapDispatch := bucket.NewDispatcher(resultMap, true)
	seqCache := newSeqBucketCache(seqs, seqBucketCacheSize)

	current := links
	ownsCurrent := false
	round := 0
	for {
		roundDir := filepath.Join(outDir, fmt.Sprintf("round-%d", round))
		next, nerr := bucket.NewMultiThreadBuckets(roundDir, "links", numBuckets)
		if nerr != nil {
			err = nerr
			break
		}
		nextDispatch := bucket.NewDispatcher(next, true)

		var totsum int64
		for id := 0; id < numBuckets; id++ {
			n, berr := compactBucketRound(cfg, current, id, nextDispatch, finalDispatch, mapDispatch, rng, seqCache, numBuckets)
			if berr != nil {
				err = fmt.Errorf("compaction round %d bucket %d: %w", round, id, berr)
				break
			}
			totsum += n
		}
		if err == nil {
			if ferr := nextDispatch.Flush(); ferr != nil {
				err = ferr
			}
		}
		if ownsCurrent {
			current.RemoveAll()
			current.Close()
		}
		if cerr := next.Close(); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			next.RemoveAll()
			break
		}

		round++
		if totsum == 0 {
			next.RemoveAll()
			break
		}
		if round >= maxCompactionRounds {
			if ferr := forceFinalizeRemaining(cfg, next, finalDispatch, mapDispatch, seqCache, numBuckets); ferr != nil {
				err = ferr
			}
			next.RemoveAll()
			break
		}
		current = next
		ownsCurrent = true
	}

	if err == nil {
		err = finalDispatch.Flush()
	}
	if err == nil {
		err = mapDispatch.Flush()
	}
	if cerr := final.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := resultMap.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, nil, err
	}
	return final, resultMap, nil
}

// compactBucketRound processes bucket id's current-round links and
// returns how many it re-emitted for the next round (this bucket's
// totsum contribution).
func compactBucketRound(cfg CompactionConfig, current *bucket.MultiThreadBuckets, id int, nextDispatch, finalDispatch, mapDispatch *bucket.Dispatcher, rng *FastRand, seqCache *seqBucketCache, numFinalBuckets int) (int64, error) {
	recs, err := readUnitigLinks(current, id)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	indices := make([]int, len(recs))
	keys := make([]uint64, len(recs))
	for i := range recs {
		indices[i] = i
		keys[i] = recs[i].Entry
	}
	radixSortUint64(indices, keys)

	var written int64
	i := 0
	for i < len(indices) {
		j := i + 1
		entry := recs[indices[i]].Entry
		for j < len(indices) && recs[indices[j]].Entry == entry {
			j++
		}
		n, gerr := compactGroup(cfg, recs, indices[i:j], uint32(id), entry, nextDispatch, finalDispatch, mapDispatch, rng, seqCache, numFinalBuckets)
		if gerr != nil {
			return 0, gerr
		}
		written += n
		i = j
	}
	return written, nil
}

// compactGroup implements the per-entry case split described in
// RunCompaction's doc comment.
func compactGroup(cfg CompactionConfig, recs []UnitigLink, group []int, bucketID uint32, entryID uint64, nextDispatch, finalDispatch, mapDispatch *bucket.Dispatcher, rng *FastRand, seqCache *seqBucketCache, numFinalBuckets int) (int64, error) {
	nonEmpty := make([]UnitigLink, 0, len(group))
	for _, idx := range group {
		if !recs[idx].Empty {
			nonEmpty = append(nonEmpty, recs[idx])
		}
	}
	if len(nonEmpty) == 0 {
		return 0, nil
	}

	self := UnitigIndex{Bucket: bucketID, Index: uint32(entryID)}

	if len(nonEmpty) == 2 && nonEmpty[0].Flags.IsForward != nonEmpty[1].Flags.IsForward {
		return fuseGroup(cfg, nonEmpty, self, nextDispatch, finalDispatch, mapDispatch, rng, seqCache, numFinalBuckets)
	}
	if len(nonEmpty) != 1 {
		return 0, nil // branching/palindromic shape: drop entirely
	}

	rec := nonEmpty[0]
	if len(rec.Entries) == 0 {
		return 0, nil
	}

	if rec.Entries[len(rec.Entries)-1] == self {
		// Circular: the chain already loops back to its own address.
		chain := append([]UnitigIndex(nil), rec.Entries...)
		return 0, finalizeChain(cfg, chain, finalDispatch, mapDispatch, seqCache, numFinalBuckets)
	}

	flags := rec.Flags
	flags.BeginSealed = true

	if flags.BeginSealed && flags.EndSealed {
		chain := append([]UnitigIndex{self}, rec.Entries...)
		if !flags.IsForward {
			// The entries run from self's begin side: restore forward order.
			for a, b := 0, len(chain)-1; a < b; a, b = a+1, b-1 {
				chain[a], chain[b] = chain[b], chain[a]
			}
		}
		return 0, finalizeChain(cfg, chain, finalDispatch, mapDispatch, seqCache, numFinalBuckets)
	}

	last := rec.Entries[len(rec.Entries)-1]
	rest := rec.Entries[:len(rec.Entries)-1]
	content := make([]UnitigIndex, 0, len(rest)+1)
	for k := len(rest) - 1; k >= 0; k-- {
		content = append(content, rest[k])
	}
	content = append(content, self)

	newRec := UnitigLink{Entry: uint64(last.Index), Flags: flags.reversed(), Entries: content}
	if err := nextDispatch.Push(int(last.Bucket), UnitigLinkCodec.Encode(nil, newRec, UnitigLinkCodec.Zero())); err != nil {
		return 0, err
	}
	return 1, nil
}

// fuseGroup eliminates self (now the midpoint between two
// previously-distinct chains) by combining the end-side and begin-side
// records into one, re-addressed at whichever frontier was chosen to
// keep growing.
func fuseGroup(cfg CompactionConfig, nonEmpty []UnitigLink, self UnitigIndex, nextDispatch, finalDispatch, mapDispatch *bucket.Dispatcher, rng *FastRand, seqCache *seqBucketCache, numFinalBuckets int) (int64, error) {
	end, begin := nonEmpty[0], nonEmpty[1]
	if !end.Flags.IsForward {
		end, begin = begin, end
	}
	flags := combineFlags(end.Flags, begin.Flags)

	fw, bw := end, begin
	if begin.Flags.EndSealed || (!end.Flags.EndSealed && rng.Bool()) {
		fw, bw = begin, end
		flags = flags.reversed()
	}

	newEntry := bw.Entries[len(bw.Entries)-1]
	otherEntry := fw.Entries[len(fw.Entries)-1]

	bwRest := bw.Entries[:len(bw.Entries)-1]
	chain := make([]UnitigIndex, 0, len(bwRest)+1+len(fw.Entries))
	for k := len(bwRest) - 1; k >= 0; k-- {
		chain = append(chain, bwRest[k])
	}
	chain = append(chain, self)
	chain = append(chain, fw.Entries...)

	placeholder := UnitigLink{Entry: uint64(otherEntry.Index), Empty: true}

	if cfg.MaxChainLength > 0 && len(chain) > cfg.MaxChainLength {
		if err := finalizeChain(cfg, chain, finalDispatch, mapDispatch, seqCache, numFinalBuckets); err != nil {
			return 0, err
		}
		if err := nextDispatch.Push(int(otherEntry.Bucket), UnitigLinkCodec.Encode(nil, placeholder, UnitigLinkCodec.Zero())); err != nil {
			return 0, err
		}
		return 0, nil
	}

	fused := UnitigLink{Entry: uint64(newEntry.Index), Flags: flags, Entries: chain}
	if err := nextDispatch.Push(int(newEntry.Bucket), UnitigLinkCodec.Encode(nil, fused, UnitigLinkCodec.Zero())); err != nil {
		return 0, err
	}
	if err := nextDispatch.Push(int(otherEntry.Bucket), UnitigLinkCodec.Encode(nil, placeholder, UnitigLinkCodec.Zero())); err != nil {
		return 0, err
	}
	return 2, nil
}

// finalizeChain stitches a finished chain's sequences, writes the
// assembled unitig to the final bucket chosen by its head node, and
// records one LinkMapping per constituent so reorganize can route each
// seq bucket's own pieces without a global index.
func finalizeChain(cfg CompactionConfig, chain []UnitigIndex, finalDispatch, mapDispatch *bucket.Dispatcher, seqCache *seqBucketCache, numFinalBuckets int) error {
	if len(chain) == 0 {
		return common.Assertf("link compaction: empty chain finalized")
	}
	seqsByIdx, err := seqCache.resolve(chain)
	if err != nil {
		return err
	}
	stitched, err := stitchChain(cfg.K, chain, seqsByIdx)
	if err != nil {
		return err
	}
	colorIdx := seqsByIdx[chain[0]].ColorIdx
	finalBucket := int(chain[0].Bucket) % numFinalBuckets

	rec := PartialUnitig{Entry: chain[0].Index, Sequence: stitched, ColorIdx: colorIdx}
	if err := finalDispatch.Push(finalBucket, rec.Encode(nil)); err != nil {
		return err
	}
	for _, ui := range chain {
		lm := LinkMapping{SourceBucket: ui.Bucket, SourceEntry: ui.Index, FinalBucket: uint32(finalBucket)}
		if err := mapDispatch.Push(int(ui.Bucket), lm.Encode(nil)); err != nil {
			return err
		}
	}
	return nil
}

// forceFinalizeRemaining finalizes every still-live record left once
// maxCompactionRounds is hit, preserving every partial-unitig rather
// than silently dropping whatever never reached a natural fixed point.
func forceFinalizeRemaining(cfg CompactionConfig, remaining *bucket.MultiThreadBuckets, finalDispatch, mapDispatch *bucket.Dispatcher, seqCache *seqBucketCache, numFinalBuckets int) error {
	for id := 0; id < remaining.NumBuckets(); id++ {
		recs, err := readUnitigLinks(remaining, id)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if rec.Empty || len(rec.Entries) == 0 {
				continue
			}
			self := UnitigIndex{Bucket: uint32(id), Index: uint32(rec.Entry)}
			chain := append([]UnitigIndex{self}, rec.Entries...)
			if err := finalizeChain(cfg, chain, finalDispatch, mapDispatch, seqCache, numFinalBuckets); err != nil {
				return err
			}
		}
	}
	return nil
}

// seqBucketCache bounds how many seq buckets' PartialUnitig content
// compaction holds in memory at once: least-recently-used eviction over
// a small fixed capacity, trading repeated bucket reads for a flat
// memory ceiling regardless of how many chains finalize.
type seqBucketCache struct {
	seqs  *bucket.MultiThreadBuckets
	cap   int
	order []uint32
	data  map[uint32]map[uint32]PartialUnitig
}

func newSeqBucketCache(seqs *bucket.MultiThreadBuckets, cap int) *seqBucketCache {
	return &seqBucketCache{seqs: seqs, cap: cap, data: make(map[uint32]map[uint32]PartialUnitig)}
}

func (c *seqBucketCache) get(bucketID uint32) (map[uint32]PartialUnitig, error) {
	if m, ok := c.data[bucketID]; ok {
		return m, nil
	}
	m, err := loadBucketUnitigs(c.seqs, int(bucketID))
	if err != nil {
		return nil, err
	}
	if len(c.order) >= c.cap {
		evict := c.order[0]
		c.order = c.order[1:]
		delete(c.data, evict)
	}
	c.order = append(c.order, bucketID)
	c.data[bucketID] = m
	return m, nil
}

// resolve loads, through the cache, exactly the seq buckets chain
// touches rather than the whole seq-bucket set.
func (c *seqBucketCache) resolve(chain []UnitigIndex) (map[UnitigIndex]PartialUnitig, error) {
	out := make(map[UnitigIndex]PartialUnitig, len(chain))
	for _, ui := range chain {
		m, err := c.get(ui.Bucket)
		if err != nil {
			return nil, err
		}
		pu, ok := m[ui.Index]
		if !ok {
			return nil, fmt.Errorf("link compaction: missing partial unitig %v", ui)
		}
		out[ui] = pu
	}
	return out, nil
}

func readUnitigLinks(mb *bucket.MultiThreadBuckets, id int) ([]UnitigLink, error) {
	f, err := os.Open(mb.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	payload, err := bucket.ReadAllCheckpoints(f)
	if err != nil {
		return nil, err
	}

	// Each per-round bucket is written by a single compaction pass with
	// no meaningful Entry ordering to delta against, so every record
	// decodes against a fresh zero baseline.
	var out []UnitigLink
	data := payload
	for {
		rec, rest, ok := bucket.NextFramed(data)
		if !ok {
			break
		}
		data = rest
		v, _, ok := UnitigLinkCodec.Decode(rec, UnitigLinkCodec.Zero())
		if !ok {
			return nil, fmt.Errorf("corrupt UnitigLink in bucket %d", id)
		}
		out = append(out, v)
	}
	return out, nil
}
