package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/jw6ventures/timetable/internal/vault"
)

func TestRunPrintsParseableKey(t *testing.T) {
	var out bytes.Buffer
	random := bytes.NewReader(bytes.Repeat([]byte{7}, 32))
	if err := run(&out, random, 3, 32); err != nil {
		t.Fatalf("run: %v", err)
	}

	line := strings.TrimSpace(out.String())
	if !strings.HasPrefix(line, "3:") {
		t.Fatalf("unexpected output %q", line)
	}
	keys, err := vault.ParseKeys(line)
	if err != nil {
		t.Fatalf("ParseKeys: %v", err)
	}
	if got := keys[3]; len(got) != 32 || got[0] != 7 {
		t.Fatalf("unexpected key %v", got)
	}
}

func TestRunRejectsBadArguments(t *testing.T) {
	var out bytes.Buffer
	if err := run(&out, bytes.NewReader(make([]byte, 64)), 0, 32); err == nil {
		t.Fatalf("expected error for version 0")
	}
	if err := run(&out, bytes.NewReader(make([]byte, 64)), 1, 8); err == nil {
		t.Fatalf("expected error for short key")
	}
	if err := run(&out, bytes.NewReader(make([]byte, 4)), 1, 32); err == nil {
		t.Fatalf("expected error when randomness runs out")
	}
	if out.Len() != 0 {
		t.Fatalf("nothing should be printed on error, got %q", out.String())
	}
}
