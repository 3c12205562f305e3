package bucket

import "github.com/ggcat-go/ggcat/internal/varint"

// AppendFramed appends a varint length prefix followed by encoded to
// dst. Every record inside a checkpoint payload is framed this way so
// record boundaries survive without per-checkpoint record counts.
func AppendFramed(dst []byte, encoded []byte) []byte {
	dst = varint.PutUvarint(dst, uint64(len(encoded)))
	return append(dst, encoded...)
}

// NextFramed reads one length-prefixed record off the front of data,
// returning the record bytes and the remaining data. ok is false once
// data is exhausted (the normal end-of-payload condition).
func NextFramed(data []byte) (record, rest []byte, ok bool) {
	if len(data) == 0 {
		return nil, data, false
	}
	n, used := varint.Uvarint(data)
	if used == 0 || used+int(n) > len(data) {
		return nil, data, false
	}
	start := used
	end := used + int(n)
	return data[start:end], data[end:], true
}
