package pipeline

// radixSortUint64 performs an 8-pass LSD radix sort (256-way counting
// sort per byte) on indices, ordered by keys[indices[i]]. An LSD pass
// over 8-bit digits produces the same total order as an MSD pass would
// and is simpler to get right, so that is what both hash-sorting and
// link compaction use here.
func radixSortUint64(indices []int, keys []uint64) {
	n := len(indices)
	if n < 2 {
		return
	}
	buf := make([]int, n)
	src, dst := indices, buf

	var count [257]int
	for shift := 0; shift < 64; shift += 8 {
		for i := range count {
			count[i] = 0
		}
		for _, idx := range src {
			b := byte(keys[idx] >> uint(shift))
			count[int(b)+1]++
		}
		for i := 0; i < 256; i++ {
			count[i+1] += count[i]
		}
		for _, idx := range src {
			b := byte(keys[idx] >> uint(shift))
			dst[count[b]] = idx
			count[b]++
		}
		src, dst = dst, src
	}
	if &src[0] != &indices[0] {
		copy(indices, src)
	}
}
