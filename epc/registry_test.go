package epc_test

import (
	"sync"
	"testing"

	"github.com/eval-exec/go-epc/epc"
)

func echoHandler(args epc.Value) (epc.Value, error) { return args, nil }

func TestRegistryRegisterLookupUnregister(t *testing.T) {
	t.Parallel()
	r := epc.NewRegistry()
	r.Register("echo", echoHandler, "(x)", "echoes its argument")

	entry, ok := r.Lookup("echo")
	if !ok {
		t.Fatal("expected echo to be registered")
	}
	if entry.ArgSpec != "(x)" || !entry.HasSpec || entry.Doc != "echoes its argument" || !entry.HasDoc {
		t.Fatalf("unexpected entry metadata: %#v", entry)
	}

	r.Unregister("echo")
	if _, ok := r.Lookup("echo"); ok {
		t.Fatal("expected echo to be gone after Unregister")
	}
}

func TestRegistryRegisterReplaces(t *testing.T) {
	t.Parallel()
	r := epc.NewRegistry()
	r.Register("m", echoHandler, "", "")
	r.Register("m", echoHandler, "(a b)", "second")

	if len(r.List()) != 1 {
		t.Fatalf("expected exactly one entry after re-registration, got %d", len(r.List()))
	}
	entry, _ := r.Lookup("m")
	if entry.ArgSpec != "(a b)" || entry.Doc != "second" {
		t.Fatalf("re-registration did not replace metadata: %#v", entry)
	}
}

func TestRegisterOptionalDistinguishesEmptyFromAbsent(t *testing.T) {
	t.Parallel()
	r := epc.NewRegistry()
	r.RegisterOptional("m", echoHandler, "", true, "", true)
	entry, _ := r.Lookup("m")
	if !entry.HasSpec || !entry.HasDoc {
		t.Fatal("explicit empty-string metadata should still report HasSpec/HasDoc true")
	}
}

func TestMethodsQueryRoundTripsThroughWire(t *testing.T) {
	t.Parallel()
	r := epc.NewRegistry()
	r.Register("add", echoHandler, "(a b)", "adds two numbers")
	r.Register("bare", echoHandler, "", "")

	msg := epc.MethodsQueryMessage(1)
	wire, err := epc.EncodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := epc.DecodeMessage(wire)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Kind != epc.KindMethodsQuery {
		t.Fatalf("expected MethodsQuery, got %v", decoded.Kind)
	}

	// Build the wire-level reply the engine would send and parse it back.
	resultWire, err := epc.EncodeMessage(epc.ReturnMessage(1, methodsResultValue(t, r)))
	if err != nil {
		t.Fatal(err)
	}
	reply, err := epc.DecodeMessage(resultWire)
	if err != nil {
		t.Fatal(err)
	}
	infos := epc.ParseMethodsResult(reply.Result)
	if len(infos) != 2 {
		t.Fatalf("expected 2 methods, got %d: %#v", len(infos), infos)
	}
	byName := map[string]epc.MethodInfo{}
	for _, mi := range infos {
		byName[mi.Name] = mi
	}
	add, ok := byName["add"]
	if !ok || !add.HasSpec || add.ArgSpec != "(a b)" || !add.HasDoc || add.Doc != "adds two numbers" {
		t.Fatalf("add method round-tripped wrong: %#v", add)
	}
	bare, ok := byName["bare"]
	if !ok || bare.HasSpec || bare.HasDoc {
		t.Fatalf("bare method should have no metadata: %#v", bare)
	}
}

// methodsResultValue mirrors what Engine.dispatchMethodsQuery builds,
// used here to test the wire encoding without spinning up a connection.
func methodsResultValue(t *testing.T, r *epc.Registry) epc.Value {
	t.Helper()
	infos := r.List()
	items := make([]epc.Value, 0, len(infos))
	for _, mi := range infos {
		spec := epc.Nil
		if mi.HasSpec {
			spec = epc.String(mi.ArgSpec)
		}
		doc := epc.Nil
		if mi.HasDoc {
			doc = epc.String(mi.Doc)
		}
		items = append(items, epc.List(epc.Symbol(mi.Name), spec, doc))
	}
	return epc.List(items...)
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()
	r := epc.NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			r.Register("m", echoHandler, "", "")
		}(i)
		go func() {
			defer wg.Done()
			r.List()
		}()
	}
	wg.Wait()
}
