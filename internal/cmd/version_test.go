package cmd

import (
	"bytes"
	"strings"
	"testing"
)

func TestVersion_OutputsVersionString(t *testing.T) {
	origVersion := Version
	origCommit := Commit
	defer func() {
		Version = origVersion
		Commit = origCommit
	}()

	Version = "1.2.3"
	Commit = "abc123"

	var buf bytes.Buffer
	cmd := NewVersionCmd()
	cmd.SetOut(&buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	output := buf.String()
	if output != "idea version 1.2.3 (commit: abc123)\n" {
		t.Errorf("unexpected version output: %q", output)
	}
}

func TestVersion_IncludesCommitHash(t *testing.T) {
	origCommit := Commit
	defer func() { Commit = origCommit }()

	Commit = "def456789"

	var buf bytes.Buffer
	cmd := NewVersionCmd()
	cmd.SetOut(&buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if !strings.Contains(buf.String(), "def456789") {
		t.Errorf("expected output to contain commit hash 'def456789', got: %q", buf.String())
	}
}
