package query

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeUnitigs(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "unitigs.fasta")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestEngineRunFindsExactMatch(t *testing.T) {
	path := writeUnitigs(t, ">unitig_0 length=8 color=0\nACGTACGT\n")
	var out bytes.Buffer
	e := NewEngine(Config{UnitigsPath: path, K: 4, Query: "ACGT"})
	e.Writer = &out
	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "unitig_0") {
		t.Errorf("output %q does not name the matching unitig", out.String())
	}
	if strings.Contains(out.String(), "not found") {
		t.Errorf("output %q incorrectly reports not found", out.String())
	}
}

func TestEngineRunReportsNotFound(t *testing.T) {
	path := writeUnitigs(t, ">unitig_0 length=8 color=0\nACGTACGT\n")
	var out bytes.Buffer
	e := NewEngine(Config{UnitigsPath: path, K: 4, Query: "TTTT"})
	e.Writer = &out
	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "not found") {
		t.Errorf("output %q should report not found", out.String())
	}
}

func TestEngineRunMatchesReverseComplement(t *testing.T) {
	// ACGT's reverse complement is itself, so use a non-palindromic k-mer.
	path := writeUnitigs(t, ">unitig_0 length=6 color=0\nAACCGG\n")
	var out bytes.Buffer
	// CCGGTT is not present, but its reverse complement AACCGG is: a
	// canonical (non-forward-only) lookup must still find it.
	e := NewEngine(Config{UnitigsPath: path, K: 6, Query: "CCGGTT"})
	e.Writer = &out
	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(out.String(), "not found") {
		t.Errorf("canonical lookup should match the reverse complement, got %q", out.String())
	}
}

func TestEngineRunForwardOnlyMissesReverseComplement(t *testing.T) {
	path := writeUnitigs(t, ">unitig_0 length=6 color=0\nAACCGG\n")
	var out bytes.Buffer
	e := NewEngine(Config{UnitigsPath: path, K: 6, Query: "CCGGTT", ForwardOnly: true})
	e.Writer = &out
	if err := e.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(out.String(), "not found") {
		t.Errorf("forward-only lookup should not match the reverse complement, got %q", out.String())
	}
}

func TestEngineRunRejectsShortQuery(t *testing.T) {
	path := writeUnitigs(t, ">unitig_0 length=8 color=0\nACGTACGT\n")
	e := NewEngine(Config{UnitigsPath: path, K: 10, Query: "ACGT"})
	if err := e.Run(); err == nil {
		t.Fatal("expected an error for a query shorter than k")
	}
}

func TestEngineRunRejectsMissingPath(t *testing.T) {
	e := NewEngine(Config{UnitigsPath: "", K: 4, Query: "ACGT"})
	if err := e.Run(); err == nil {
		t.Fatal("expected an error for a missing unitigs path")
	}
}
