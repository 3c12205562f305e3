package pipeline

import (
	"context"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/ggcat-go/ggcat/internal/bucket"
	"github.com/ggcat-go/ggcat/internal/colors"
	"github.com/ggcat-go/ggcat/internal/kmer"
	"github.com/ggcat-go/ggcat/internal/scheduler"
)

// MergeConfig parameterizes phase 2.
type MergeConfig struct {
	K               int
	ForwardOnly     bool
	MinMultiplicity uint32
	// Workers bounds how many buckets this phase processes at once.
	// Zero means sequential (one worker).
	Workers int
	// NumSecondBuckets and OutlierFactor mirror phase 1's bucketing
	// config; Counters carries phase 1's counter analyzer output so the
	// Resplitter can find the same sub-buckets phase 1 flagged.
	NumSecondBuckets uint32
	OutlierFactor    float64
	Counters         []SubBucketCounters // one per top-level bucket
	// MaxResplitDepth bounds how many times a flagged sub-bucket may be
	// split again before it is merged as-is regardless of size.
	MaxResplitDepth int
}

// defaultMaxResplitDepth is used when MaxResplitDepth is left at zero.
const defaultMaxResplitDepth = 4

// MergeResult is what phase 2 hands downstream: one sequence bucket of
// PartialUnitig records and one hash bucket of HashEntry records, both
// indexed the same way as the source read buckets (one file per
// top-level bucket id).
type MergeResult struct {
	Seqs  *bucket.MultiThreadBuckets
	Hashes *bucket.MultiThreadBuckets
}

// node is one canonical k-mer's local adjacency info: how many times it
// was observed, and which bases were seen extending it in each
// direction (a bitmask over the 4 base codes). Degree 1 means
// unambiguous; 0 means a dead end; 2+ means a branch.
type node struct {
	mult      uint32
	fwd, bwd  byte
	colorMask uint64 // bit i set: this k-mer was seen in input file i (i<64)
}

func degree(mask byte) int {
	n := 0
	for m := mask; m != 0; m &= m - 1 {
		n++
	}
	return n
}

func singleBase(mask byte) (kmer.Base, bool) {
	for b := kmer.Base(0); b < 4; b++ {
		if mask == 1<<b {
			return b, true
		}
	}
	return 0, false
}

// RunMerge implements k-mer merging: read every read bucket back,
// rebuild each super-k-mer's canonical k-mer graph locally in memory,
// drop k-mers under the multiplicity floor, and walk the resulting
// local de Bruijn graph into maximal partial unitigs. An end that can't
// be extended because the neighbor k-mer isn't present in this bucket
// (it was either filtered out or routed to a different bucket) is left
// unsealed and recorded as a HashEntry so hash-sorting can pair it with
// whichever bucket resolves that neighbor.
func RunMerge(cfg MergeConfig, reads *bucket.MultiThreadBuckets, outDir string) (*MergeResult, error) {
	seqs, err := bucket.NewMultiThreadBuckets(outDir, "seqs", reads.NumBuckets())
	if err != nil {
		return nil, err
	}
	hashes, err := bucket.NewMultiThreadBuckets(outDir, "hashes", reads.NumBuckets())
	if err != nil {
		seqs.Close()
		return nil, err
	}

	colorSerializer := colors.NewSerializer(nil)

	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	sch := scheduler.New(workers)
	for id := 0; id < reads.NumBuckets(); id++ {
		id := id
		sch.Submit(&scheduler.Task{
			Priority: 0,
			Run: func(ctx context.Context) error {
				if err := mergeBucket(cfg, reads, id, seqs, hashes, colorSerializer); err != nil {
					return fmt.Errorf("merge bucket %d: %w", id, err)
				}
				return nil
			},
		})
	}
	sch.Close()
	if err := sch.Run(context.Background()); err != nil {
		seqs.Close()
		hashes.Close()
		return nil, err
	}

	if err := seqs.Close(); err != nil {
		return nil, err
	}
	if err := hashes.Close(); err != nil {
		return nil, err
	}
	return &MergeResult{Seqs: seqs, Hashes: hashes}, nil
}

func mergeBucket(cfg MergeConfig, reads *bucket.MultiThreadBuckets, id int, seqs, hashes *bucket.MultiThreadBuckets, colorSerializer *colors.Serializer) error {
	records, err := readBucketRecords(reads, id)
	if err != nil {
		return err
	}

	seqDispatch := bucket.NewDispatcher(seqs, true)
	hashDispatch := bucket.NewDispatcher(hashes, true)
	var nextEntry uint32

	direct, flagged := splitOutlierGroups(cfg, records, id)
	for _, recs := range flagged {
		if err := resplitGroup(cfg, recs, 1, id, hashes.NumBuckets(), seqDispatch, hashDispatch, colorSerializer, &nextEntry); err != nil {
			return err
		}
	}
	if err := mergeRecordGroup(cfg, direct, id, hashes.NumBuckets(), seqDispatch, hashDispatch, colorSerializer, &nextEntry); err != nil {
		return err
	}

	if err := seqDispatch.Flush(); err != nil {
		return err
	}
	return hashDispatch.Flush()
}

// splitOutlierGroups partitions a bucket's records by the SecondBucket
// phase 1's counter analyzer tagged, separating out every second-bucket
// it flagged `is_outlier` (§4.2 step 2) so the Resplitter handles each
// one before the rest of the bucket merges normally. Without counters
// (e.g. a caller that skips phase 1's analyzer) everything merges
// directly.
func splitOutlierGroups(cfg MergeConfig, records []CompressedReadsBucketData, id int) (direct []CompressedReadsBucketData, flagged [][]CompressedReadsBucketData) {
	if cfg.Counters == nil || id >= len(cfg.Counters) || len(cfg.Counters[id].Counts) == 0 {
		return records, nil
	}
	counters := cfg.Counters[id]
	byBucket := make(map[uint32][]CompressedReadsBucketData)
	for _, r := range records {
		byBucket[r.SecondBucket] = append(byBucket[r.SecondBucket], r)
	}
	for secondID, recs := range byBucket {
		if int(secondID) < len(counters.Counts) && counters.IsOutlier(int(secondID), cfg.OutlierFactor) {
			flagged = append(flagged, recs)
		} else {
			direct = append(direct, recs...)
		}
	}
	return direct, flagged
}

// resplitOversizeMultiple is how many times larger than an even split a
// nested resplit group must be before it is split again: the recursive
// analogue of the μ+f·σ test phase 1 ran with full statistics, using a
// simple size heuristic since a nested shard has no sibling
// distribution left to compute a mean/stddev over.
const resplitOversizeMultiple = 2

// resplitGroup implements the Resplitter: it re-buckets an
// outlier-flagged group into a fresh nested bucket set (keyed by a
// secondary hash over each record's packed sequence, independent of the
// minimizer hash that produced the original assignment) and merges each
// nested shard on its own, so no single in-memory graph build ever has
// to hold the whole oversized group at once. A still-oversized nested
// shard resplits again, bounded by MaxResplitDepth.
func resplitGroup(cfg MergeConfig, recs []CompressedReadsBucketData, depth, id, numHashBuckets int, seqDispatch, hashDispatch *bucket.Dispatcher, colorSerializer *colors.Serializer, nextEntry *uint32) error {
	fanout := int(cfg.NumSecondBuckets)
	if fanout <= 0 {
		fanout = 16
	}
	maxDepth := cfg.MaxResplitDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxResplitDepth
	}

	nested := make(map[int][]CompressedReadsBucketData)
	for _, r := range recs {
		slot := int(resplitHash(r, depth) % uint32(fanout))
		nested[slot] = append(nested[slot], r)
	}

	target := len(recs)/fanout + 1
	for _, group := range nested {
		if depth < maxDepth && len(group) > target*resplitOversizeMultiple {
			if err := resplitGroup(cfg, group, depth+1, id, numHashBuckets, seqDispatch, hashDispatch, colorSerializer, nextEntry); err != nil {
				return err
			}
			continue
		}
		if err := mergeRecordGroup(cfg, group, id, numHashBuckets, seqDispatch, hashDispatch, colorSerializer, nextEntry); err != nil {
			return err
		}
	}
	return nil
}

// resplitHash assigns a record to a nested resplit bucket, varying with
// depth so repeated resplits of the same oversized shard don't just
// reproduce the same partition.
func resplitHash(r CompressedReadsBucketData, depth int) uint32 {
	h := fnv.New32a()
	h.Write(r.Sequence)
	h.Write([]byte{byte(depth)})
	return h.Sum32()
}

// mergeRecordGroup builds one local de Bruijn graph over a group of
// super-k-mer records (either a whole bucket's worth, or one resplit
// shard of it), drops k-mers under the multiplicity floor, and walks
// the result into maximal partial unitigs, exactly as a bucket with no
// outlier sub-buckets would. entry ids are drawn from the shared
// nextEntry counter so every group merged for the same top-level bucket
// still gets a distinct, monotonic entry id.
func mergeRecordGroup(cfg MergeConfig, records []CompressedReadsBucketData, id, numHashBuckets int, seqDispatch, hashDispatch *bucket.Dispatcher, colorSerializer *colors.Serializer, nextEntry *uint32) error {
	if len(records) == 0 {
		return nil
	}

	nodes := make(map[kmer.Kmer]*node)
	for _, r := range records {
		bases := unpackSeq(r.Sequence, int(r.BaseCount))
		buildGraph(bases, cfg.K, cfg.ForwardOnly, nodes, r.ColorID)
	}

	for k, n := range nodes {
		if n.mult < cfg.MinMultiplicity {
			delete(nodes, k)
		}
	}

	visited := make(map[kmer.Kmer]bool, len(nodes))

	// A PartialUnitig's ends are sealed by default; an end only stays
	// open (fusible by link compaction) when this bucket emits a
	// HashEntry for it, because its neighbor k-mer lives elsewhere.
	emit := func(start kmer.Kmer, strand bool) {
		visited[start] = true
		seq, colorMask, beginHash, hasBeginHash, endHash, hasEndHash := walkPath(nodes, visited, start, strand, cfg.K, cfg.ForwardOnly)
		entry := *nextEntry
		*nextEntry++
		pu := PartialUnitig{Entry: entry, Sequence: seq, ColorIdx: uint32(colorSerializer.GetID(maskToColorIDs(colorMask)))}
		_ = seqDispatch.Push(id, pu.Encode(nil))
		if hasBeginHash {
			he := HashEntry{Hash: beginHash, Bucket: uint32(id), Entry: entry, Direction: Backward}
			_ = hashDispatch.Push(bucketOfHash(beginHash, numHashBuckets), HashEntryCodec.Encode(nil, he, HashEntryCodec.Zero()))
		}
		if hasEndHash {
			he := HashEntry{Hash: endHash, Bucket: uint32(id), Entry: entry, Direction: Forward}
			_ = hashDispatch.Push(bucketOfHash(endHash, numHashBuckets), HashEntryCodec.Encode(nil, he, HashEntryCodec.Zero()))
		}
	}

	// Pass 1: every node whose backward side is a true boundary (dead
	// end, branch, or unresolved cross-bucket neighbor) starts a
	// forward walk.
	for k, n := range nodes {
		if visited[k] {
			continue
		}
		if degree(n.bwd) != 1 {
			emit(k, true)
			continue
		}
		if nb, ok := singleBase(n.bwd); ok {
			if _, present := nodes[predecessorOf(k, nb, cfg.K, cfg.ForwardOnly)]; !present {
				emit(k, true)
			}
		}
	}

	// Pass 2: remaining unvisited nodes form pure cycles (degree 1 on
	// both sides, every neighbor present) or isolated fragments cut off
	// on both sides. Either way an arbitrary forward walk accounts for
	// the whole component.
	for k := range nodes {
		if visited[k] {
			continue
		}
		emit(k, true)
	}

	return nil
}

// predecessorOf returns the canonical k-mer that would precede cur if
// cur's backward extension base is b (a base actually observed in the
// data, not a guess), i.e. the k-mer obtained by prepending b to cur's
// own first K-1 bases and re-deriving its canonical form. Used only to
// test whether that neighbor is resolved locally; the hash used to pair
// across a bucket boundary comes from overlapHash instead, since this
// reconstruction depends on which single base was actually observed and
// so isn't independently reproducible by the bucket on the other side.
func predecessorOf(cur kmer.Kmer, b kmer.Base, K int, forwardOnly bool) kmer.Kmer {
	rc := cur.ReverseComplement(K)
	pushed := rc.Push(b.Complement(), K)
	raw := pushed.ReverseComplement(K)
	canon, _ := kmer.Canonical(raw, K, forwardOnly)
	return canon
}

// overlapHash hashes the canonical (K-1)-mer shared between a k-mer and
// whatever k-mer is adjacent to it across a bucket boundary. The last
// K-1 bases of a k-mer equal the first K-1 bases of the k-mer that
// follows it, so both sides of a boundary compute this value from
// purely local data and always agree, with no need for either side to
// know the single base the other side would add.
func overlapHash(k kmer.Kmer, K int, suffix bool, forwardOnly bool) uint64 {
	s := k.String(K)
	var overlap string
	if suffix {
		overlap = s[1:]
	} else {
		overlap = s[:K-1]
	}
	var raw kmer.Kmer
	for i := 0; i < len(overlap); i++ {
		b, _ := kmer.EncodeBase(overlap[i])
		raw = raw.Push(b, K-1)
	}
	canon, _ := kmer.Canonical(raw, K-1, forwardOnly)
	return kmer.Hash(canon)
}

// walkPath follows a maximal unambiguous path starting at `start` in
// orientation `strand` (true: walk start's own canonical strand,
// extending via its forward extension bitmask; false: walk start's
// reverse complement, extending via its backward extension bitmask
// complemented). Every node the walk steps into after start is marked
// visited, including the one it stops at; marking start is left to the
// caller. The walk never steps into a node with more than one incoming
// edge on its side, so such merge points stay unvisited and seed walks
// of their own.
func walkPath(nodes map[kmer.Kmer]*node, visited map[kmer.Kmer]bool, start kmer.Kmer, strand bool, K int, forwardOnly bool) (seq []byte, colorMask uint64, beginHash uint64, hasBeginHash bool, endHash uint64, hasEndHash bool) {
	cur := start
	curStrand := strand

	var walkCur kmer.Kmer
	if curStrand {
		walkCur = cur
	} else {
		walkCur = cur.ReverseComplement(K)
	}
	startWalkKmer := walkCur
	seq = append(seq, []byte(walkCur.String(K))...)
	colorMask |= nodes[cur].colorMask

	n := nodes[cur]
	beginMask := n.bwd
	if !curStrand {
		beginMask = n.fwd
	}
	if degree(beginMask) == 1 {
		if nb, ok := singleBase(beginMask); ok {
			var neighbor kmer.Kmer
			if curStrand {
				neighbor = predecessorOf(cur, nb, K, forwardOnly)
			} else {
				raw := cur.Push(nb, K)
				neighbor, _ = kmer.Canonical(raw, K, forwardOnly)
			}
			if _, present := nodes[neighbor]; !present {
				hasBeginHash = true
				beginHash = overlapHash(startWalkKmer, K, false, forwardOnly)
			}
		}
	}

	for {
		n := nodes[cur]
		var mask byte
		if curStrand {
			mask = n.fwd
		} else {
			mask = n.bwd
		}
		if degree(mask) != 1 {
			return
		}
		b, _ := singleBase(mask)
		exitBase := b
		if !curStrand {
			exitBase = b.Complement()
		}

		lastWalkKmer := walkCur
		walkCur = walkCur.Push(exitBase, K)
		nextCanon, isFwd := kmer.Canonical(walkCur, K, forwardOnly)

		next, present := nodes[nextCanon]
		if !present {
			hasEndHash = true
			endHash = overlapHash(lastWalkKmer, K, true, forwardOnly)
			return
		}
		inMask := next.bwd
		if !isFwd {
			inMask = next.fwd
		}
		if degree(inMask) != 1 {
			return
		}

		seq = append(seq, exitBase.Byte())
		if nextCanon == start {
			// Closed the loop: a circular unitig.
			return
		}
		visited[nextCanon] = true
		cur = nextCanon
		curStrand = isFwd
		colorMask |= nodes[cur].colorMask
	}
}

// buildGraph extracts every canonical k-mer from one super-k-mer's
// bases and records its observed extension bases in nodes.
func buildGraph(bases []byte, K int, forwardOnly bool, nodes map[kmer.Kmer]*node, colorID uint32) {
	L := len(bases)
	if L < K {
		return
	}
	var raw kmer.Kmer
	for i := 0; i < K; i++ {
		b, ok := kmer.EncodeBase(bases[i])
		if !ok {
			return
		}
		raw = raw.Push(b, K)
	}

	for i := 0; i+K <= L; i++ {
		if i > 0 {
			b, ok := kmer.EncodeBase(bases[i+K-1])
			if !ok {
				return
			}
			raw = raw.Push(b, K)
		}
		canon, isFwd := kmer.Canonical(raw, K, forwardOnly)
		n, ok := nodes[canon]
		if !ok {
			n = &node{}
			nodes[canon] = n
		}
		n.mult++
		if colorID < 64 {
			n.colorMask |= 1 << colorID
		}

		var fwdBase, bwdBase kmer.Base
		var hasFwd, hasBwd bool
		if isFwd {
			if i+K < L {
				fwdBase, hasFwd = kmer.EncodeBase(bases[i+K])
			}
			if i-1 >= 0 {
				bwdBase, hasBwd = kmer.EncodeBase(bases[i-1])
			}
		} else {
			if i-1 >= 0 {
				b, ok := kmer.EncodeBase(bases[i-1])
				if ok {
					fwdBase, hasFwd = b.Complement(), true
				}
			}
			if i+K < L {
				b, ok := kmer.EncodeBase(bases[i+K])
				if ok {
					bwdBase, hasBwd = b.Complement(), true
				}
			}
		}
		if hasFwd {
			n.fwd |= 1 << fwdBase
		}
		if hasBwd {
			n.bwd |= 1 << bwdBase
		}
	}
}

// readBucketRecords decompresses every checkpoint in bucket id and
// decodes the framed CompressedReadsBucketData records inside.
func readBucketRecords(mb *bucket.MultiThreadBuckets, id int) ([]CompressedReadsBucketData, error) {
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

	var out []CompressedReadsBucketData
	data := payload
	for {
		rec, rest, ok := bucket.NextFramed(data)
		if !ok {
			break
		}
		data = rest
		r, _, ok := DecodeCompressedReadsBucketData(rec)
		if !ok {
			return nil, fmt.Errorf("corrupt CompressedReadsBucketData in bucket %d", id)
		}
		out = append(out, r)
	}
	return out, nil
}

// maskToColorIDs expands a colorMask bitset back into the sorted slice
// of input-file indices it represents, the shape colors.Serializer.GetID
// keys its memo table on.
func maskToColorIDs(mask uint64) []uint32 {
	var ids []uint32
	for i := uint32(0); mask != 0; i++ {
		if mask&1 != 0 {
			ids = append(ids, i)
		}
		mask >>= 1
	}
	return ids
}

// bucketOfHash routes a HashEntry to one of numBuckets hash buckets so
// hash-sorting only ever has to load and sort one bucket's worth of
// entries at a time, mirroring how read buckets are split.
func bucketOfHash(h uint64, numBuckets int) int {
	return int(h % uint64(numBuckets))
}
