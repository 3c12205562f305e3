// Package query implements the read-only lookup path: given an already
// built unitigs FASTA file and a query k-mer, report which unitig (if
// any) contains it. It never touches the build pipeline's scratch
// buckets directly; the finished output is the only thing it reads.
package query

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ggcat-go/ggcat/internal/common"
	"github.com/ggcat-go/ggcat/internal/kmer"
)

// Config holds the parameters the `query` subcommand exposes.
type Config struct {
	UnitigsPath string // Path to a build subcommand's FASTA output
	K           int
	ForwardOnly bool
	Query       string // the k-mer to look up, as ASCII bases
	Verbose     bool
}

// Engine executes one lookup against a unitigs file.
type Engine struct {
	config Config

	// Writer for output (defaults to stdout)
	Writer io.Writer
}

// NewEngine creates a query engine for the given config.
func NewEngine(config Config) *Engine {
	return &Engine{config: config, Writer: os.Stdout}
}

// unitigRecord is one parsed FASTA entry kept only long enough to scan it.
type unitigRecord struct {
	id  string
	seq []byte
}

// Run canonicalizes the query k-mer, builds a bloom filter over every
// k-mer hash the unitigs file contains, and uses it to answer "not
// found" without scanning when the query provably is absent; otherwise
// it falls back to an exact positional scan of every unitig.
func (q *Engine) Run() error {
	if q.config.UnitigsPath == "" {
		return common.UserErrorf("validate query", "unitigs path required")
	}
	if len(q.config.Query) < q.config.K {
		return common.UserErrorf("validate query", "query sequence shorter than k")
	}

	queryKmer, err := encodeKmer(q.config.Query[:q.config.K])
	if err != nil {
		return common.UserErrorf("validate query", "%v", err)
	}
	target, _ := kmer.Canonical(queryKmer, q.config.K, q.config.ForwardOnly)
	targetHash := kmer.Hash(target)

	f, err := os.Open(q.config.UnitigsPath)
	if err != nil {
		return common.IOErrorf("open unitigs file", err)
	}
	defer f.Close()

	records, err := readFasta(f)
	if err != nil {
		return common.IOErrorf("read unitigs file", err)
	}

	filter := common.NewBloomFilter(estimatedKmers(records, q.config.K), 0.01)
	for _, rec := range records {
		forEachKmer(rec.seq, q.config.K, q.config.ForwardOnly, func(_ int, h uint64) {
			filter.AddHash(h)
		})
	}

	if q.config.Verbose {
		size, hashCount, count := filter.GetStats()
		fmt.Fprintf(q.Writer, "indexed %d k-mers (filter: %d bits, %d hashes)\n", count, size, hashCount)
	}

	if !filter.MightContainHash(targetHash) {
		fmt.Fprintf(q.Writer, "not found\n")
		return nil
	}

	found := false
	for _, rec := range records {
		forEachKmer(rec.seq, q.config.K, q.config.ForwardOnly, func(pos int, h uint64) {
			if h != targetHash {
				return
			}
			// Equal hashes do not prove equal k-mers: the packed k-mer
			// itself is re-checked so a hash collision never gets
			// reported as a match.
			window, err := encodeKmer(string(rec.seq[pos : pos+q.config.K]))
			if err != nil {
				return
			}
			canon, _ := kmer.Canonical(window, q.config.K, q.config.ForwardOnly)
			if !canon.Equal(target) {
				return
			}
			fmt.Fprintf(q.Writer, "%s\tposition=%d\n", rec.id, pos)
			found = true
		})
	}
	if !found {
		fmt.Fprintf(q.Writer, "not found\n")
	}
	return nil
}

// forEachKmer calls fn once per canonical k-mer hash found at each
// position of seq, mirroring how minimizer-bucketing windows a read.
func forEachKmer(seq []byte, K int, forwardOnly bool, fn func(pos int, hash uint64)) {
	if len(seq) < K {
		return
	}
	var win kmer.Kmer
	for i := 0; i < K; i++ {
		b, ok := kmer.EncodeBase(seq[i])
		if !ok {
			return
		}
		win = win.Push(b, K)
	}
	canon, _ := kmer.Canonical(win, K, forwardOnly)
	fn(0, kmer.Hash(canon))

	for i := K; i < len(seq); i++ {
		b, ok := kmer.EncodeBase(seq[i])
		if !ok {
			return
		}
		win = win.Push(b, K)
		canon, _ := kmer.Canonical(win, K, forwardOnly)
		fn(i-K+1, kmer.Hash(canon))
	}
}

func encodeKmer(s string) (kmer.Kmer, error) {
	var k kmer.Kmer
	for i := 0; i < len(s); i++ {
		b, ok := kmer.EncodeBase(s[i])
		if !ok {
			return kmer.Kmer{}, fmt.Errorf("query sequence has a non-ACGT base at position %d", i)
		}
		k = k.Push(b, len(s))
	}
	return k, nil
}

func estimatedKmers(records []unitigRecord, K int) int {
	total := 0
	for _, r := range records {
		if len(r.seq) >= K {
			total += len(r.seq) - K + 1
		}
	}
	if total < 1 {
		total = 1
	}
	return total
}

// readFasta loads every record into memory; build output is bounded by
// bucket-RAM already, so the final unitigs file a query runs against is
// never larger than what phase 5 wrote in one pass.
func readFasta(r io.Reader) ([]unitigRecord, error) {
	var records []unitigRecord
	var cur *unitigRecord

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, ">") {
			if cur != nil {
				records = append(records, *cur)
			}
			cur = &unitigRecord{id: strings.TrimPrefix(line, ">")}
			continue
		}
		if cur == nil {
			continue
		}
		cur.seq = append(cur.seq, []byte(line)...)
	}
	if cur != nil {
		records = append(records, *cur)
	}
	return records, scanner.Err()
}
