package epc_test

import (
	"testing"

	"github.com/eval-exec/go-epc/epc"
)

func TestValueEqual(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		a, b epc.Value
		want bool
	}{
		{"nil-nil", epc.Nil, epc.Nil, true},
		{"int-eq", epc.Int(1), epc.Int(1), true},
		{"int-ne", epc.Int(1), epc.Int(2), false},
		{"string-vs-symbol", epc.String("a"), epc.Symbol("a"), false},
		{"list-eq", epc.List(epc.Int(1), epc.String("x")), epc.List(epc.Int(1), epc.String("x")), true},
		{"list-len-ne", epc.List(epc.Int(1)), epc.List(epc.Int(1), epc.Int(2)), false},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			if got := epc.Equal(c.a, c.b); got != c.want {
				t.Fatalf("Equal(%#v, %#v) = %v, want %v", c.a, c.b, got, c.want)
			}
		})
	}
}

func TestBoolCanonicalizesToNilWire(t *testing.T) {
	t.Parallel()
	falseWire, err := epc.EmitSexp(epc.Bool(false))
	if err != nil {
		t.Fatal(err)
	}
	nilWire, err := epc.EmitSexp(epc.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(falseWire) != string(nilWire) {
		t.Fatalf("Bool(false) emits %q, Nil emits %q; want identical", falseWire, nilWire)
	}
	if string(nilWire) != "nil" {
		t.Fatalf("Nil emits %q, want \"nil\"", nilWire)
	}
}

func TestTruthy(t *testing.T) {
	t.Parallel()
	if epc.Nil.Truthy() {
		t.Fatal("Nil should not be truthy")
	}
	if !epc.Int(0).Truthy() {
		t.Fatal("Int(0) should be truthy: only Nil is falsy in EPC")
	}
	if !epc.True.Truthy() {
		t.Fatal("True should be truthy")
	}
}

func TestOrderedMapPreservesInsertionOrder(t *testing.T) {
	t.Parallel()
	m := epc.NewOrderedMap()
	m.Set("z", epc.Int(1))
	m.Set("a", epc.Int(2))
	m.Set("m", epc.Int(3))

	got := m.Keys()
	want := []string{"z", "a", "m"}
	if len(got) != len(want) {
		t.Fatalf("got %d keys, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("key[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestEmptyMapDegradesToNil(t *testing.T) {
	t.Parallel()
	v := epc.Map(epc.NewOrderedMap())
	if v.Kind() != epc.KindNil {
		t.Fatalf("empty map should degrade to Nil, got Kind()=%v", v.Kind())
	}
}
