package pipeline

import (
	"bufio"
	"fmt"
	"os"

	"github.com/ggcat-go/ggcat/internal/bucket"
	"github.com/ggcat-go/ggcat/internal/common"
)

// ReorganizeConfig parameterizes phase 5.
type ReorganizeConfig struct {
	K int
	// MinLength drops a finished unitig shorter than this many bases
	// from the output; zero means no floor.
	MinLength int
}

// RunReorganize implements reorganize/build-unitigs. Link compaction
// has already stitched every finished chain into a single sequence and
// written it to the chains bucket set (addressed by its head node's own
// bucket, modulo numBuckets) plus one LinkMapping per constituent piece
// into the result-map, so this phase has two independent passes left:
//
//  1. copy every already-stitched chains record straight into the
//     output as a FASTA record;
//  2. for every seq bucket, load only that bucket's own slice of the
//     result-map (result-map records are dispatched by the source
//     bucket they redirect, so bucket i's file holds exactly the
//     consumed markers for seq bucket i) to build a small per-bucket
//     consumed set, then stream that one seq bucket's own
//     PartialUnitig records and emit whichever were never claimed by a
//     chain — each of those is itself a complete, already-sealed
//     unitig with no other end to join.
//
// Neither pass ever holds more than one bucket's data at a time. The
// output file is written to a ".tmp" sibling and renamed into place
// once closed, and an advisory lock on the final path keeps two
// concurrent `build` runs targeting the same output from interleaving.
func RunReorganize(cfg ReorganizeConfig, seqs *bucket.MultiThreadBuckets, chains *bucket.MultiThreadBuckets, resultMap *bucket.MultiThreadBuckets, outPath string) (err error) {
	lockPath := outPath
	lockFh, err := os.OpenFile(lockPath+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return common.IOErrorf("open output lock", err)
	}
	defer lockFh.Close()
	if err := lockFile(lockFh); err != nil {
		return common.IOErrorf("lock output", err)
	}
	defer unlockFile(lockFh)

	tmpPath := outPath + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return common.IOErrorf("create temp output", err)
	}
	w := bufio.NewWriterSize(f, 256*1024)

	var unitigID uint64
	writeOne := func(seq []byte, colorIdx uint32) error {
		if len(seq) < cfg.MinLength {
			return nil
		}
		if _, err := fmt.Fprintf(w, ">unitig_%d length=%d color=%d\n", unitigID, len(seq), colorIdx); err != nil {
			return err
		}
		unitigID++
		if _, err := w.Write(seq); err != nil {
			return err
		}
		return w.WriteByte('\n')
	}

	for id := 0; id < chains.NumBuckets(); id++ {
		recs, err := loadBucketUnitigs(chains, id)
		if err != nil {
			f.Close()
			return err
		}
		for _, pu := range recs {
			if err := writeOne(pu.Sequence, pu.ColorIdx); err != nil {
				f.Close()
				return common.IOErrorf("write unitig", err)
			}
		}
	}

	for id := 0; id < seqs.NumBuckets(); id++ {
		consumed, err := loadConsumedSet(resultMap, id)
		if err != nil {
			f.Close()
			return err
		}
		recs, err := loadBucketUnitigs(seqs, id)
		if err != nil {
			f.Close()
			return err
		}
		for entry, pu := range recs {
			if consumed[entry] {
				continue
			}
			if err := writeOne(pu.Sequence, pu.ColorIdx); err != nil {
				f.Close()
				return common.IOErrorf("write unitig", err)
			}
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return common.IOErrorf("flush output", err)
	}
	if err := f.Close(); err != nil {
		return common.IOErrorf("close temp output", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return common.IOErrorf("rename output into place", err)
	}
	return nil
}

// stitchChain concatenates the sequences of a chain of PartialUnitigs,
// trimming the K-1 base overlap link compaction's boundary hash
// guarantees exists between each consecutive pair.
func stitchChain(K int, chain []UnitigIndex, seqs map[UnitigIndex]PartialUnitig) ([]byte, error) {
	if len(chain) == 0 {
		return nil, common.Assertf("link compaction: empty chain")
	}
	first, ok := seqs[chain[0]]
	if !ok {
		return nil, common.Assertf("link compaction: chain references missing partial unitig %v", chain[0])
	}
	out := append([]byte(nil), first.Sequence...)
	for i := 1; i < len(chain); i++ {
		pu, ok := seqs[chain[i]]
		if !ok {
			return nil, common.Assertf("link compaction: chain references missing partial unitig %v", chain[i])
		}
		overlap := K - 1
		if overlap > len(pu.Sequence) {
			overlap = len(pu.Sequence)
		}
		out = append(out, pu.Sequence[overlap:]...)
	}
	return out, nil
}

// loadBucketUnitigs reads one seq bucket's PartialUnitig records, keyed
// by their in-bucket Entry id. Unlike the eager whole-graph load this
// phase used to do, every caller only ever asks for one bucket at a
// time.
func loadBucketUnitigs(seqs *bucket.MultiThreadBuckets, id int) (map[uint32]PartialUnitig, error) {
	out := make(map[uint32]PartialUnitig)
	f, err := os.Open(seqs.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	payload, err := bucket.ReadAllCheckpoints(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	data := payload
	for {
		rec, rest, ok := bucket.NextFramed(data)
		if !ok {
			break
		}
		data = rest
		pu, _, ok := DecodePartialUnitig(rec)
		if !ok {
			return nil, fmt.Errorf("corrupt PartialUnitig in bucket %d", id)
		}
		out[pu.Entry] = pu
	}
	return out, nil
}

// loadConsumedSet reads bucket id's own slice of the result-map (the
// redirection records link compaction dispatched by each piece's
// source bucket) and returns the set of local entry ids it claims.
func loadConsumedSet(resultMap *bucket.MultiThreadBuckets, id int) (map[uint32]bool, error) {
	out := make(map[uint32]bool)
	f, err := os.Open(resultMap.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, err
	}
	payload, err := bucket.ReadAllCheckpoints(f)
	f.Close()
	if err != nil {
		return nil, err
	}
	data := payload
	for {
		rec, rest, ok := bucket.NextFramed(data)
		if !ok {
			break
		}
		data = rest
		lm, _, ok := DecodeLinkMapping(rec)
		if !ok {
			return nil, fmt.Errorf("corrupt LinkMapping in bucket %d", id)
		}
		out[lm.SourceEntry] = true
	}
	return out, nil
}
