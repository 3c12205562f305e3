package bucket

import (
	"bytes"
	"io"
	"testing"
)

func TestCheckpointRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewCheckpointWriter(&buf)

	payloads := [][]byte{
		[]byte("hello checkpoint one"),
		bytes.Repeat([]byte("x"), 5000),
		{},
	}
	for _, p := range payloads {
		if err := w.WriteCheckpoint(p, true); err != nil {
			t.Fatalf("WriteCheckpoint: %v", err)
		}
	}

	r := NewCheckpointReader(&buf)
	for i, want := range payloads {
		got, err := r.Next()
		if err != nil {
			t.Fatalf("checkpoint %d: %v", i, err)
		}
		if !bytes.Equal(got, want) && !(len(got) == 0 && len(want) == 0) {
			t.Fatalf("checkpoint %d mismatch: got %d bytes, want %d", i, len(got), len(want))
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after last checkpoint, got %v", err)
	}
}

func TestFramedRecordRoundTrip(t *testing.T) {
	var payload []byte
	records := [][]byte{[]byte("a"), []byte("bb"), []byte("ccc"), {}}
	for _, r := range records {
		payload = AppendFramed(payload, r)
	}

	var got [][]byte
	rest := payload
	for {
		rec, r, ok := NextFramed(rest)
		if !ok {
			break
		}
		got = append(got, rec)
		rest = r
	}

	if len(got) != len(records) {
		t.Fatalf("decoded %d records, want %d", len(got), len(records))
	}
	for i := range records {
		if !bytes.Equal(got[i], records[i]) {
			t.Fatalf("record %d = %q, want %q", i, got[i], records[i])
		}
	}
}
