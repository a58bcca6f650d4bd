package detect_test

import (
	"testing"
	"time"

	"github.com/eval-exec/go-epc/detect"
)

func TestBelowThreshold(t *testing.T) {
	t.Parallel()
	d := detect.New(5, time.Second, 10*time.Second)
	now := time.Now()
	sig := detect.Signature("outbound", "add", "(1 2)")

	for i := range 4 {
		r := d.Record(sig, now.Add(time.Duration(i)*100*time.Millisecond))
		if r.Matched {
			t.Fatal("unexpected match before threshold")
		}
		if r.Alert != nil {
			t.Fatal("unexpected alert before threshold")
		}
	}
}

func TestAtThreshold(t *testing.T) {
	t.Parallel()
	d := detect.New(5, time.Second, 10*time.Second)
	now := time.Now()
	sig := detect.Signature("outbound", "add", "(1 2)")

	for i := range 4 {
		d.Record(sig, now.Add(time.Duration(i)*100*time.Millisecond))
	}

	r := d.Record(sig, now.Add(400*time.Millisecond))
	if !r.Matched {
		t.Fatal("expected matched at threshold")
	}
	if r.Alert == nil {
		t.Fatal("expected alert at threshold")
	}
	if r.Alert.Count != 5 {
		t.Fatalf("got count %d, want 5", r.Alert.Count)
	}
	if r.Alert.Signature != sig {
		t.Fatalf("got signature %q, want %q", r.Alert.Signature, sig)
	}
}

func TestMatchedAfterThreshold(t *testing.T) {
	t.Parallel()
	d := detect.New(5, time.Second, 10*time.Second)
	now := time.Now()
	sig := detect.Signature("outbound", "add", "(1 2)")

	for i := range 5 {
		d.Record(sig, now.Add(time.Duration(i)*100*time.Millisecond))
	}

	for i := range 5 {
		r := d.Record(sig, now.Add(time.Duration(500+i*100)*time.Millisecond))
		if !r.Matched {
			t.Fatalf("event %d: expected matched after threshold", i)
		}
		if r.Alert != nil {
			t.Fatalf("event %d: expected cooldown to suppress alert", i)
		}
	}
}

func TestWindowExpiry(t *testing.T) {
	t.Parallel()
	d := detect.New(5, time.Second, 10*time.Second)
	now := time.Now()
	sig := detect.Signature("outbound", "add", "(1 2)")

	for i := range 3 {
		d.Record(sig, now.Add(time.Duration(i)*100*time.Millisecond))
	}

	after := now.Add(2 * time.Second)
	for i := range 3 {
		r := d.Record(sig, after.Add(time.Duration(i)*100*time.Millisecond))
		if r.Matched {
			t.Fatal("unexpected match: only 3 in window")
		}
	}
}

func TestCooldownExpiry(t *testing.T) {
	t.Parallel()
	d := detect.New(5, 2*time.Second, time.Second)
	now := time.Now()
	sig := detect.Signature("outbound", "add", "(1 2)")

	for i := range 5 {
		d.Record(sig, now.Add(time.Duration(i)*100*time.Millisecond))
	}

	after := now.Add(1500 * time.Millisecond)
	r := d.Record(sig, after)
	if !r.Matched {
		t.Fatal("expected matched after cooldown expired")
	}
	if r.Alert == nil {
		t.Fatal("expected alert after cooldown expired")
	}
}

func TestDifferentSignatures(t *testing.T) {
	t.Parallel()
	d := detect.New(3, time.Second, 10*time.Second)
	now := time.Now()
	sig1 := detect.Signature("outbound", "add", "(1 2)")
	sig2 := detect.Signature("outbound", "echo", `("hi")`)

	d.Record(sig1, now)
	d.Record(sig2, now.Add(100*time.Millisecond))
	d.Record(sig1, now.Add(200*time.Millisecond))
	d.Record(sig2, now.Add(300*time.Millisecond))

	r := d.Record(sig1, now.Add(400*time.Millisecond))
	if r.Alert == nil {
		t.Fatal("expected alert for sig1")
	}
	if r.Alert.Signature != sig1 {
		t.Fatalf("got signature %q, want %q", r.Alert.Signature, sig1)
	}

	r = d.Record(sig2, now.Add(500*time.Millisecond))
	if r.Alert == nil {
		t.Fatal("expected alert for sig2")
	}
	if r.Alert.Signature != sig2 {
		t.Fatalf("got signature %q, want %q", r.Alert.Signature, sig2)
	}
}

// TestDirectionDistinguishesSignatures verifies that identical
// method+args calls in opposite directions are tracked as separate
// patterns: a peer flooding us with inbound calls must not be masked
// by, or mistaken for, a flood of our own outbound calls of the same
// shape.
func TestDirectionDistinguishesSignatures(t *testing.T) {
	t.Parallel()
	d := detect.New(3, time.Second, 10*time.Second)
	now := time.Now()
	out := detect.Signature("outbound", "echo", `("hi")`)
	in := detect.Signature("inbound", "echo", `("hi")`)

	if out == in {
		t.Fatalf("outbound and inbound signatures must differ, both got %q", out)
	}

	for i := range 2 {
		d.Record(out, now.Add(time.Duration(i)*100*time.Millisecond))
	}
	r := d.Record(in, now.Add(250*time.Millisecond))
	if r.Matched {
		t.Fatal("inbound call should not inherit the outbound count")
	}

	r = d.Record(out, now.Add(300*time.Millisecond))
	if !r.Matched {
		t.Fatal("expected the outbound signature to cross its own threshold")
	}
}

func TestEmptySignature(t *testing.T) {
	t.Parallel()
	d := detect.New(1, time.Second, 10*time.Second)
	r := d.Record("", time.Now())
	if r.Matched {
		t.Fatal("expected no match for an empty signature")
	}
}

func TestSignatureEmptyMethod(t *testing.T) {
	t.Parallel()
	if got := detect.Signature("outbound", "", "(1 2)"); got != "" {
		t.Fatalf("Signature with empty method should be empty, got %q", got)
	}
}
