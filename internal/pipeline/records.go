// Package pipeline implements the five sequential phases that drive the
// assembler: minimizer-bucketing, k-mer merging, hash-sorting, iterated
// link compaction, and reorganize/build-unitigs, plus the record types
// and bucket codecs those phases pass between each other.
package pipeline

import (
	"github.com/ggcat-go/ggcat/internal/bucket"
	"github.com/ggcat-go/ggcat/internal/varint"
)

// Direction is which end of a k-mer an extension crosses.
type Direction uint8

const (
	Forward Direction = iota
	Backward
)

// CompressedReadsBucketData is one super-k-mer record written by
// minimizer-bucketing: the packed sequence, its flags, and the
// second-level bucket it was routed to.
type CompressedReadsBucketData struct {
	Sequence    []byte // 2-bit packed bases, length = ceil(len*2/8)
	BaseCount   uint32
	SecondBucket uint32
	IsOutlierHint bool
	// ColorID names which input file this super-k-mer came from (its
	// index in the build's input list), the raw material merge turns
	// into a PartialUnitig's ColorIdx via colors.Serializer.
	ColorID uint32
}

func (r CompressedReadsBucketData) Encode(dst []byte) []byte {
	dst = varint.PutUvarint(dst, uint64(r.BaseCount))
	dst = varint.PutUvarint(dst, uint64(r.SecondBucket))
	flag := byte(0)
	if r.IsOutlierHint {
		flag = 1
	}
	dst = append(dst, flag)
	dst = varint.PutUvarint(dst, uint64(r.ColorID))
	dst = varint.PutUvarint(dst, uint64(len(r.Sequence)))
	return append(dst, r.Sequence...)
}

func DecodeCompressedReadsBucketData(data []byte) (CompressedReadsBucketData, []byte, bool) {
	baseCount, n := varint.Uvarint(data)
	if n == 0 {
		return CompressedReadsBucketData{}, data, false
	}
	data = data[n:]
	secondBucket, n := varint.Uvarint(data)
	if n == 0 {
		return CompressedReadsBucketData{}, data, false
	}
	data = data[n:]
	if len(data) < 1 {
		return CompressedReadsBucketData{}, data, false
	}
	outlier := data[0] == 1
	data = data[1:]
	colorID, n := varint.Uvarint(data)
	if n == 0 {
		return CompressedReadsBucketData{}, data, false
	}
	data = data[n:]
	seqLen, n := varint.Uvarint(data)
	if n == 0 || uint64(len(data)-n) < seqLen {
		return CompressedReadsBucketData{}, data, false
	}
	data = data[n:]
	seq := data[:seqLen]
	data = data[seqLen:]
	return CompressedReadsBucketData{
		Sequence:      seq,
		BaseCount:     uint32(baseCount),
		SecondBucket:  uint32(secondBucket),
		IsOutlierHint: outlier,
		ColorID:       uint32(colorID),
	}, data, true
}

// HashEntry is one oriented extension of a k-mer that crosses a bucket
// boundary: two HashEntries with equal Hash and opposite Direction
// define one graph edge.
type HashEntry struct {
	Hash      uint64
	Bucket    uint32
	Entry     uint32
	Direction Direction
}

// hashEntryCodec implements bucket.DeltaCodec[HashEntry], encoding Hash
// as a delta against `last`. The pipeline always passes Zero() as
// `last`, so each stored Hash is the full value.
type hashEntryCodec struct{}

var HashEntryCodec bucket.DeltaCodec[HashEntry] = hashEntryCodec{}

func (hashEntryCodec) Zero() HashEntry { return HashEntry{} }

func (hashEntryCodec) MaxSize(v HashEntry) int {
	return varint.MaxLen*3 + 1
}

func (hashEntryCodec) Encode(dst []byte, v, last HashEntry) []byte {
	dst = varint.PutUvarint(dst, v.Hash-last.Hash)
	dst = varint.PutUvarint(dst, uint64(v.Bucket))
	dst = varint.PutUvarint(dst, uint64(v.Entry))
	dst = append(dst, byte(v.Direction))
	return dst
}

func (hashEntryCodec) Decode(data []byte, last HashEntry) (HashEntry, []byte, bool) {
	deltaHash, n := varint.Uvarint(data)
	if n == 0 {
		return HashEntry{}, data, false
	}
	data = data[n:]
	bkt, n := varint.Uvarint(data)
	if n == 0 {
		return HashEntry{}, data, false
	}
	data = data[n:]
	entry, n := varint.Uvarint(data)
	if n == 0 {
		return HashEntry{}, data, false
	}
	data = data[n:]
	if len(data) < 1 {
		return HashEntry{}, data, false
	}
	dir := Direction(data[0])
	data = data[1:]
	return HashEntry{
		Hash:      last.Hash + deltaHash,
		Bucket:    uint32(bkt),
		Entry:     uint32(entry),
		Direction: dir,
	}, data, true
}

// UnitigIndex points at a partial-unitig sequence record inside a
// numbered bucket.
type UnitigIndex struct {
	Bucket uint32
	Index  uint32
}

func (u UnitigIndex) encode(dst []byte) []byte {
	dst = varint.PutUvarint(dst, uint64(u.Bucket))
	return varint.PutUvarint(dst, uint64(u.Index))
}

func decodeUnitigIndex(data []byte) (UnitigIndex, []byte, bool) {
	b, n := varint.Uvarint(data)
	if n == 0 {
		return UnitigIndex{}, data, false
	}
	data = data[n:]
	i, n := varint.Uvarint(data)
	if n == 0 {
		return UnitigIndex{}, data, false
	}
	data = data[n:]
	return UnitigIndex{Bucket: uint32(b), Index: uint32(i)}, data, true
}

// UnitigFlags carries one link's orientation and seal state.
// IsForward distinguishes which of a node's two open ends this record
// describes (true: the node's end; false: its begin), so a group of
// two records sharing an Entry only fuses when they disagree.
// BeginSealed/EndSealed record which ends of the accumulated chain, if
// any, have already found their permanent dead end; link compaction
// finalizes a chain once both are set.
type UnitigFlags struct {
	IsForward   bool
	BeginSealed bool
	EndSealed   bool
}

func (f UnitigFlags) byte() byte {
	var b byte
	if f.IsForward {
		b |= 1
	}
	if f.BeginSealed {
		b |= 2
	}
	if f.EndSealed {
		b |= 4
	}
	return b
}

func flagsFromByte(b byte) UnitigFlags {
	return UnitigFlags{
		IsForward:   b&1 != 0,
		BeginSealed: b&2 != 0,
		EndSealed:   b&4 != 0,
	}
}

// reversed flips a link's orientation when link compaction re-addresses
// it at the opposite frontier: forward/backward swaps, and so do the
// two seal bits.
func (f UnitigFlags) reversed() UnitigFlags {
	return UnitigFlags{IsForward: !f.IsForward, BeginSealed: f.EndSealed, EndSealed: f.BeginSealed}
}

// combineFlags implements UnitigFlags::combine: a fused node is sealed
// on an end iff the side that contributed that end already was.
func combineFlags(end, begin UnitigFlags) UnitigFlags {
	return UnitigFlags{IsForward: true, EndSealed: end.EndSealed, BeginSealed: begin.BeginSealed}
}

// UnitigLink is one link-compaction record, addressed by Entry within
// whichever bucket holds it. A fresh hash-sorting record is either the
// coin-flip winner (Empty false, Entries holding its partner's
// UnitigIndex) or the loser (Empty true, a placeholder that cancels the
// other side of the same pairing). Link compaction re-addresses and
// grows non-empty records round over round; Entries always lists, in
// walk order and excluding the record's own node, every partial-unitig
// between this record's address and its open frontier.
type UnitigLink struct {
	Entry   uint64
	Flags   UnitigFlags
	Empty   bool
	Entries []UnitigIndex
}

type unitigLinkCodec struct{}

// UnitigLinkCodec implements bucket.DeltaCodec[UnitigLink], delta-coding
// Entry the same way hashEntryCodec delta-codes Hash.
var UnitigLinkCodec bucket.DeltaCodec[UnitigLink] = unitigLinkCodec{}

func (unitigLinkCodec) Zero() UnitigLink { return UnitigLink{} }

func (unitigLinkCodec) MaxSize(v UnitigLink) int {
	return varint.MaxLen*2 + 1 + len(v.Entries)*varint.MaxLen*2
}

func (unitigLinkCodec) Encode(dst []byte, v, last UnitigLink) []byte {
	dst = varint.PutUvarint(dst, v.Entry-last.Entry)
	fb := v.Flags.byte()
	if v.Empty {
		fb |= 8
	}
	dst = append(dst, fb)
	if v.Empty {
		return dst
	}
	dst = varint.PutUvarint(dst, uint64(len(v.Entries)))
	for _, ui := range v.Entries {
		dst = ui.encode(dst)
	}
	return dst
}

func (unitigLinkCodec) Decode(data []byte, last UnitigLink) (UnitigLink, []byte, bool) {
	deltaEntry, n := varint.Uvarint(data)
	if n == 0 {
		return UnitigLink{}, data, false
	}
	data = data[n:]
	if len(data) < 1 {
		return UnitigLink{}, data, false
	}
	fb := data[0]
	data = data[1:]
	v := UnitigLink{
		Entry: last.Entry + deltaEntry,
		Flags: flagsFromByte(fb),
		Empty: fb&8 != 0,
	}
	if v.Empty {
		return v, data, true
	}
	count, n := varint.Uvarint(data)
	if n == 0 {
		return UnitigLink{}, data, false
	}
	data = data[n:]
	entries := make([]UnitigIndex, 0, count)
	for i := uint64(0); i < count; i++ {
		var ui UnitigIndex
		var ok bool
		ui, data, ok = decodeUnitigIndex(data)
		if !ok {
			return UnitigLink{}, data, false
		}
		entries = append(entries, ui)
	}
	v.Entries = entries
	return v, data, true
}

// LinkMapping is the result-map record: which final bucket now owns a
// given (bucket, entry) partial sequence.
type LinkMapping struct {
	SourceBucket uint32
	SourceEntry  uint32
	FinalBucket  uint32
}

func (m LinkMapping) Encode(dst []byte) []byte {
	dst = varint.PutUvarint(dst, uint64(m.SourceBucket))
	dst = varint.PutUvarint(dst, uint64(m.SourceEntry))
	return varint.PutUvarint(dst, uint64(m.FinalBucket))
}

func DecodeLinkMapping(data []byte) (LinkMapping, []byte, bool) {
	sb, n := varint.Uvarint(data)
	if n == 0 {
		return LinkMapping{}, data, false
	}
	data = data[n:]
	se, n := varint.Uvarint(data)
	if n == 0 {
		return LinkMapping{}, data, false
	}
	data = data[n:]
	fb, n := varint.Uvarint(data)
	if n == 0 {
		return LinkMapping{}, data, false
	}
	data = data[n:]
	return LinkMapping{SourceBucket: uint32(sb), SourceEntry: uint32(se), FinalBucket: uint32(fb)}, data, true
}

// PartialUnitig is a seq-bucket record: a resolved-in-bucket stretch of
// sequence plus the entry id it is addressed by within its bucket.
type PartialUnitig struct {
	Entry    uint32
	Sequence []byte // ASCII bases
	ColorIdx uint32
}

func (p PartialUnitig) Encode(dst []byte) []byte {
	dst = varint.PutUvarint(dst, uint64(p.Entry))
	dst = varint.PutUvarint(dst, uint64(p.ColorIdx))
	dst = varint.PutUvarint(dst, uint64(len(p.Sequence)))
	return append(dst, p.Sequence...)
}

func DecodePartialUnitig(data []byte) (PartialUnitig, []byte, bool) {
	entry, n := varint.Uvarint(data)
	if n == 0 {
		return PartialUnitig{}, data, false
	}
	data = data[n:]
	color, n := varint.Uvarint(data)
	if n == 0 {
		return PartialUnitig{}, data, false
	}
	data = data[n:]
	seqLen, n := varint.Uvarint(data)
	if n == 0 || uint64(len(data)-n) < seqLen {
		return PartialUnitig{}, data, false
	}
	data = data[n:]
	seq := data[:seqLen]
	data = data[seqLen:]
	return PartialUnitig{Entry: uint32(entry), Sequence: seq, ColorIdx: uint32(color)}, data, true
}

// packSeq / unpackSeq 2-bit pack ASCII ACGT sequences for
// CompressedReadsBucketData; unused bases at the end of the final byte
// are zero.
func packSeq(seq []byte) []byte {
	out := make([]byte, (len(seq)*2+7)/8)
	for i, b := range seq {
		var code byte
		switch b {
		case 'C', 'c':
			code = 1
		case 'G', 'g':
			code = 2
		case 'T', 't':
			code = 3
		}
		out[i/4] |= code << uint((i%4)*2)
	}
	return out
}

func unpackSeq(packed []byte, baseCount int) []byte {
	out := make([]byte, baseCount)
	for i := 0; i < baseCount; i++ {
		code := (packed[i/4] >> uint((i%4)*2)) & 3
		out[i] = "ACGT"[code]
	}
	return out
}
