// Package bucket implements the on-disk bucket file format: a sequence
// of lz4-compressed checkpoints, each holding a run of varint-framed
// records. This is the sole persistence mechanism every pipeline phase
// spills through and reads back: each checkpoint carries its own
// compressed/uncompressed lengths inline rather than relying on a
// single trailing footer, since a bucket here is appended to by many
// per-thread dispatchers over the life of a phase rather than written
// once start-to-finish.
package bucket

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
)

// Flag bits stored in a checkpoint header.
const (
	FlagCompressed byte = 1 << 0
)

// checkpointHeaderSize is u32 compressed_len + u32 uncompressed_len + u8 flags.
const checkpointHeaderSize = 4 + 4 + 1

// CheckpointWriter appends checkpoints to an underlying writer. It is
// not safe for concurrent use; each bucket's MultiThreadBuckets serializes
// access with one mutex per logical bucket (see buckets.go).
type CheckpointWriter struct {
	w       io.Writer
	lw      *lz4.Writer
	compBuf bytes.Buffer
}

func NewCheckpointWriter(w io.Writer) *CheckpointWriter {
	lw := lz4.NewWriter(io.Discard)
	_ = lw.Apply(lz4.BlockSizeOption(lz4.Block64Kb))
	return &CheckpointWriter{w: w, lw: lw}
}

// WriteCheckpoint compresses payload (unless compress is false, used for
// payloads too small to be worth it) and appends one checkpoint.
func (cw *CheckpointWriter) WriteCheckpoint(payload []byte, compress bool) error {
	var flags byte
	body := payload
	if compress && len(payload) > 0 {
		cw.compBuf.Reset()
		cw.lw.Reset(&cw.compBuf)
		if _, err := cw.lw.Write(payload); err != nil {
			return fmt.Errorf("compress checkpoint: %w", err)
		}
		if err := cw.lw.Close(); err != nil {
			return fmt.Errorf("compress checkpoint: %w", err)
		}
		body = cw.compBuf.Bytes()
		flags |= FlagCompressed
	}

	var header [checkpointHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(body)))
	binary.BigEndian.PutUint32(header[4:8], uint32(len(payload)))
	header[8] = flags

	if _, err := cw.w.Write(header[:]); err != nil {
		return fmt.Errorf("write checkpoint header: %w", err)
	}
	if _, err := cw.w.Write(body); err != nil {
		return fmt.Errorf("write checkpoint body: %w", err)
	}
	return nil
}

// CheckpointReader reads checkpoints back in order from a stream.
type CheckpointReader struct {
	r      io.Reader
	header [checkpointHeaderSize]byte
}

func NewCheckpointReader(r io.Reader) *CheckpointReader {
	return &CheckpointReader{r: r}
}

// Next returns the next checkpoint's decompressed payload, or io.EOF
// once the stream is exhausted cleanly (i.e. at a checkpoint boundary).
func (cr *CheckpointReader) Next() ([]byte, error) {
	if _, err := io.ReadFull(cr.r, cr.header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated checkpoint header: %w", err)
		}
		return nil, err
	}
	compLen := binary.BigEndian.Uint32(cr.header[0:4])
	rawLen := binary.BigEndian.Uint32(cr.header[4:8])
	flags := cr.header[8]

	body := make([]byte, compLen)
	if _, err := io.ReadFull(cr.r, body); err != nil {
		return nil, fmt.Errorf("truncated checkpoint body: %w", err)
	}

	if flags&FlagCompressed == 0 {
		return body, nil
	}

	out := make([]byte, 0, rawLen)
	lr := lz4.NewReader(bytes.NewReader(body))
	buf := make([]byte, 32*1024)
	for {
		n, err := lr.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decompress checkpoint: %w", err)
		}
	}
	return out, nil
}

// ReadAllCheckpoints decompresses every checkpoint in r and concatenates
// their payloads, the shape every phase's "load one bucket into RAM"
// step wants.
func ReadAllCheckpoints(r io.Reader) ([]byte, error) {
	cr := NewCheckpointReader(r)
	var out []byte
	for {
		payload, err := cr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, payload...)
	}
}
