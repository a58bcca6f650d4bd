package epc

import (
	"strings"
	"testing"
	"time"
)

func TestReadPortLineSkipsBlankLines(t *testing.T) {
	t.Parallel()
	r := strings.NewReader("\n\n   \n54321\n")
	port, err := readPortLine(r)
	if err != nil {
		t.Fatal(err)
	}
	if port != 54321 {
		t.Fatalf("got %d, want 54321", port)
	}
}

func TestReadPortLineRejectsNonNumeric(t *testing.T) {
	t.Parallel()
	r := strings.NewReader("not a port\n")
	if _, err := readPortLine(r); err == nil {
		t.Fatal("expected an error for a non-numeric handshake line")
	}
}

func TestReadPortLineErrorsOnEmptyStream(t *testing.T) {
	t.Parallel()
	r := strings.NewReader("")
	if _, err := readPortLine(r); err == nil {
		t.Fatal("expected an error when the stream closes before any line arrives")
	}
}

func TestDefaultProcessPortTimeoutIsPositive(t *testing.T) {
	t.Parallel()
	if DefaultProcessPortTimeout <= 0 {
		t.Fatal("DefaultProcessPortTimeout must be positive")
	}
	if DefaultProcessPortTimeout > time.Minute {
		t.Fatalf("DefaultProcessPortTimeout looks too long: %v", DefaultProcessPortTimeout)
	}
}

func TestKillIsNilSafe(t *testing.T) {
	t.Parallel()
	var p *process
	p.kill() // must not panic
}
