package epc_test

import (
	"testing"

	"github.com/eval-exec/go-epc/epc"
)

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	t.Parallel()
	msgs := []epc.Message{
		epc.CallMessage(1, "add", epc.List(epc.Int(1), epc.Int(2))),
		epc.ReturnMessage(1, epc.Int(3)),
		epc.ReturnErrorMessage(2, "division by zero"),
		epc.EpcErrorMessage(3, "no such method: bogus"),
		epc.MethodsQueryMessage(4),
	}
	for _, m := range msgs {
		wire, err := epc.EncodeMessage(m)
		if err != nil {
			t.Fatalf("EncodeMessage(%#v): %v", m, err)
		}
		got, err := epc.DecodeMessage(wire)
		if err != nil {
			t.Fatalf("DecodeMessage(%q): %v", wire, err)
		}
		if got.Kind != m.Kind || got.UID != m.UID {
			t.Fatalf("round-trip mismatch: got %#v, want %#v", got, m)
		}
	}
}

func TestEncodeCallWireShape(t *testing.T) {
	t.Parallel()
	wire, err := epc.EncodeMessage(epc.CallMessage(7, "echo", epc.List(epc.String("hi"))))
	if err != nil {
		t.Fatal(err)
	}
	want := `(call 7 echo ("hi"))`
	if string(wire) != want {
		t.Fatalf("got %q, want %q", wire, want)
	}
}

func TestDecodeMessageRejectsWrongArity(t *testing.T) {
	t.Parallel()
	cases := []string{
		`(call 1 add)`,           // missing args
		`(call 1 add (1 2) nil)`, // extra element
		`(return 1)`,             // missing result
		`(methods 1 extra)`,
	}
	for _, in := range cases {
		if _, err := epc.DecodeMessage([]byte(in)); err == nil {
			t.Fatalf("DecodeMessage(%q) should have failed on arity", in)
		}
	}
}

func TestDecodeMessageRejectsBadUID(t *testing.T) {
	t.Parallel()
	cases := []string{
		`(call -1 add (1))`,
		`(call "x" add (1))`,
		`(call 1.5 add (1))`,
	}
	for _, in := range cases {
		if _, err := epc.DecodeMessage([]byte(in)); err == nil {
			t.Fatalf("DecodeMessage(%q) should have rejected the UID", in)
		}
	}
}

func TestDecodeMessageRejectsUnknownHead(t *testing.T) {
	t.Parallel()
	if _, err := epc.DecodeMessage([]byte(`(bogus 1)`)); err == nil {
		t.Fatal("expected an error for an unknown message kind")
	}
}

func TestDecodeMessageRejectsNonListPayload(t *testing.T) {
	t.Parallel()
	if _, err := epc.DecodeMessage([]byte(`42`)); err == nil {
		t.Fatal("expected an error for a non-list top-level payload")
	}
}
