package pipeline

import (
	"fmt"
	"os"
	"sort"

	"github.com/ggcat-go/ggcat/internal/bucket"
)

// RunHashSort implements hash-sorting: load each hash bucket, sort its
// HashEntries by Hash (radix sort, since hashes are uniformly
// distributed uint64s), and pair up consecutive equal-hash groups of
// opposite Direction. Each pairing writes two UnitigLinks, one per
// partner, each routed to its own node's bucket: a fair coin picks
// which partner carries the real content (Entries holding the other's
// UnitigIndex) and which gets an empty placeholder, so link compaction
// can address both a node's open ends from its own identity rather
// than from a hash-derived bucket. A group with no opposite-direction
// partner never becomes an edge; the partial-unitig it belongs to is
// picked up later in reorganize as an unreferenced, already-sealed end.
func RunHashSort(hashes *bucket.MultiThreadBuckets, outDir string, rng *FastRand) (*bucket.MultiThreadBuckets, error) {
	links, err := bucket.NewMultiThreadBuckets(outDir, "links", hashes.NumBuckets())
	if err != nil {
		return nil, err
	}

	for id := 0; id < hashes.NumBuckets(); id++ {
		if err := hashSortBucket(hashes, id, links, rng); err != nil {
			links.Close()
			return nil, fmt.Errorf("hash-sort bucket %d: %w", id, err)
		}
	}

	if err := links.Close(); err != nil {
		return nil, err
	}
	return links, nil
}

func hashSortBucket(hashes *bucket.MultiThreadBuckets, id int, links *bucket.MultiThreadBuckets, rng *FastRand) error {
	entries, err := readHashEntries(hashes, id)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	indices := make([]int, len(entries))
	keys := make([]uint64, len(entries))
	for i := range entries {
		indices[i] = i
		keys[i] = entries[i].Hash
	}
	radixSortUint64(indices, keys)

	dispatch := bucket.NewDispatcher(links, true)
	defer dispatch.Flush()

	i := 0
	for i < len(indices) {
		j := i + 1
		h := entries[indices[i]].Hash
		for j < len(indices) && entries[indices[j]].Hash == h {
			j++
		}
		group := indices[i:j]
		pairGroup(entries, group, dispatch, rng)
		i = j
	}
	return nil
}

// pairGroup matches a single Forward entry against a single Backward
// entry in a same-hash group. A group whose size isn't exactly one
// forward plus one backward entry is branching or palindromic (three
// or more entries sharing a hash, or two entries on the same side) and
// is dropped outright: neither endpoint gets a link, so both
// partial-unitigs in it stay unreferenced and reorganize later emits
// each as its own sealed end.
func pairGroup(entries []HashEntry, group []int, dispatch *bucket.Dispatcher, rng *FastRand) {
	if len(group) != 2 {
		return
	}
	var fwd, bwd []HashEntry
	for _, idx := range group {
		e := entries[idx]
		if e.Direction == Forward {
			fwd = append(fwd, e)
		} else {
			bwd = append(bwd, e)
		}
	}
	if len(fwd) != 1 || len(bwd) != 1 {
		return
	}

	winner, loser := fwd[0], bwd[0]
	if rng.Bool() {
		winner, loser = loser, winner
	}

	winnerLink := UnitigLink{
		Entry: uint64(winner.Entry),
		Flags: UnitigFlags{IsForward: winner.Direction == Forward},
		Entries: []UnitigIndex{
			{Bucket: loser.Bucket, Index: loser.Entry},
		},
	}
	loserLink := UnitigLink{
		Entry: uint64(loser.Entry),
		Flags: UnitigFlags{IsForward: loser.Direction == Forward},
		Empty: true,
	}
	_ = dispatch.Push(int(winner.Bucket), UnitigLinkCodec.Encode(nil, winnerLink, UnitigLinkCodec.Zero()))
	_ = dispatch.Push(int(loser.Bucket), UnitigLinkCodec.Encode(nil, loserLink, UnitigLinkCodec.Zero()))
}

func readHashEntries(mb *bucket.MultiThreadBuckets, id int) ([]HashEntry, error) {
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

	// Every HashEntry was written independently (merge runs concurrently
	// across buckets with no global hash order to delta against), so
	// each record decodes against a fresh zero baseline rather than a
	// running "last" threaded across the whole bucket.
	var out []HashEntry
	data := payload
	for {
		rec, rest, ok := bucket.NextFramed(data)
		if !ok {
			break
		}
		data = rest
		v, _, ok := HashEntryCodec.Decode(rec, HashEntryCodec.Zero())
		if !ok {
			return nil, fmt.Errorf("corrupt HashEntry in bucket %d", id)
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hash < out[j].Hash })
	return out, nil
}
