package epc_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/eval-exec/go-epc/epc"
)

// pairedEngines wires two Engines together over an in-memory net.Pipe,
// each with its own registry, so tests can exercise calls in both
// directions without a real TCP listener.
func pairedEngines(t *testing.T, left, right *epc.Registry) (*epc.Engine, *epc.Engine) {
	t.Helper()
	a, b := net.Pipe()
	e1 := epc.NewEngine(a, left)
	e2 := epc.NewEngine(b, right)
	e1.Start()
	e2.Start()
	t.Cleanup(func() {
		_ = e1.Close()
		_ = e2.Close()
	})
	return e1, e2
}

func TestEngineEchoRoundTrip(t *testing.T) {
	t.Parallel()
	server := epc.NewRegistry()
	server.Register("echo", func(args epc.Value) (epc.Value, error) { return args, nil }, "", "")

	client, _ := pairedEngines(t, epc.NewRegistry(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := client.Call(ctx, "echo", epc.List(epc.Int(1), epc.String("hi")))
	if err != nil {
		t.Fatal(err)
	}
	want := epc.List(epc.Int(1), epc.String("hi"))
	if !epc.Equal(result, want) {
		t.Fatalf("got %#v, want %#v", result, want)
	}
}

func TestEngineApplicationError(t *testing.T) {
	t.Parallel()
	server := epc.NewRegistry()
	server.Register("div", func(args epc.Value) (epc.Value, error) {
		a, b := args.At(0).IntValue(), args.At(1).IntValue()
		if b == 0 {
			return epc.Nil, errors.New("division by zero")
		}
		return epc.Int(a / b), nil
	}, "", "")

	client, _ := pairedEngines(t, epc.NewRegistry(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Call(ctx, "div", epc.List(epc.Int(1), epc.Int(0)))
	if err == nil {
		t.Fatal("expected a division-by-zero application error")
	}
	pe, ok := err.(*epc.ProtocolError)
	if !ok || pe.Kind != epc.ErrApplication {
		t.Fatalf("expected ErrApplication, got %v", err)
	}
}

func TestEngineUnknownMethod(t *testing.T) {
	t.Parallel()
	client, _ := pairedEngines(t, epc.NewRegistry(), epc.NewRegistry())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := client.Call(ctx, "bogus", epc.Nil)
	if err == nil {
		t.Fatal("expected an error calling an unregistered method")
	}
	pe, ok := err.(*epc.ProtocolError)
	if !ok || pe.Kind != epc.ErrProtocol {
		t.Fatalf("expected ErrProtocol (peer-reported EpcError), got %v", err)
	}
}

func TestEngineMethodsQuery(t *testing.T) {
	t.Parallel()
	server := epc.NewRegistry()
	server.Register("add", func(args epc.Value) (epc.Value, error) {
		return epc.Int(args.At(0).IntValue() + args.At(1).IntValue()), nil
	}, "(a b)", "adds two numbers")

	client, _ := pairedEngines(t, epc.NewRegistry(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := client.QueryMethods(ctx)
	if err != nil {
		t.Fatal(err)
	}
	infos := epc.ParseMethodsResult(v)
	if len(infos) != 1 || infos[0].Name != "add" || infos[0].ArgSpec != "(a b)" {
		t.Fatalf("unexpected methods result: %#v", infos)
	}
}

func TestEngineConcurrentOverlappingCalls(t *testing.T) {
	t.Parallel()
	server := epc.NewRegistry()
	server.Register("double", func(args epc.Value) (epc.Value, error) {
		return epc.Int(args.At(0).IntValue() * 2), nil
	}, "", "")

	client, _ := pairedEngines(t, epc.NewRegistry(), server)

	const n = 50
	var wg sync.WaitGroup
	errs := make([]error, n)
	results := make([]epc.Value, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			v, err := client.Call(ctx, "double", epc.List(epc.Int(int64(i))))
			results[i], errs[i] = v, err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if results[i].IntValue() != int64(i*2) {
			t.Fatalf("call %d: got %d, want %d", i, results[i].IntValue(), i*2)
		}
	}
}

func TestEngineTeardownWakesPendingCalls(t *testing.T) {
	t.Parallel()
	server := epc.NewRegistry()
	block := make(chan struct{})
	server.Register("block", func(args epc.Value) (epc.Value, error) {
		<-block
		return epc.Nil, nil
	}, "", "")
	defer close(block)

	client, serverEngine := pairedEngines(t, epc.NewRegistry(), server)

	errCh := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := client.Call(ctx, "block", epc.Nil)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := serverEngine.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected ConnectionClosed, got nil")
		}
		if !epc.IsConnectionClosed(err) {
			t.Fatalf("expected ConnectionClosed, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pending call was never woken by teardown")
	}
}

func TestEngineCallTimesOutOnContextDeadline(t *testing.T) {
	t.Parallel()
	server := epc.NewRegistry()
	block := make(chan struct{})
	server.Register("block", func(args epc.Value) (epc.Value, error) {
		<-block
		return epc.Nil, nil
	}, "", "")
	defer close(block)

	client, _ := pairedEngines(t, epc.NewRegistry(), server)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.Call(ctx, "block", epc.Nil)
	if !epc.IsTimeout(err) {
		t.Fatalf("expected Timeout, got %v", err)
	}
}

func TestEngineEventsCaptureBothDirections(t *testing.T) {
	t.Parallel()
	events := make(chan epc.CallEvent, 16)
	server := epc.NewRegistry()
	server.Register("ping", func(args epc.Value) (epc.Value, error) { return epc.Symbol("pong"), nil }, "", "")

	a, b := net.Pipe()
	clientEngine := epc.NewEngine(a, epc.NewRegistry(), epc.WithEvents(events))
	serverEngine := epc.NewEngine(b, server, epc.WithEvents(events))
	clientEngine.Start()
	serverEngine.Start()
	t.Cleanup(func() {
		_ = clientEngine.Close()
		_ = serverEngine.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := clientEngine.Call(ctx, "ping", epc.Nil); err != nil {
		t.Fatal(err)
	}

	var gotOutbound, gotInbound bool
	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			switch ev.Direction {
			case epc.Outbound:
				gotOutbound = true
			case epc.Inbound:
				gotInbound = true
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for call events")
		}
	}
	if !gotOutbound || !gotInbound {
		t.Fatalf("expected one outbound and one inbound event, got outbound=%v inbound=%v", gotOutbound, gotInbound)
	}
}

func TestEngineBidirectionalCalls(t *testing.T) {
	t.Parallel()
	leftRegistry := epc.NewRegistry()
	rightRegistry := epc.NewRegistry()
	leftRegistry.Register("from-right", func(args epc.Value) (epc.Value, error) {
		return epc.String("handled by left"), nil
	}, "", "")
	rightRegistry.Register("from-left", func(args epc.Value) (epc.Value, error) {
		return epc.String("handled by right"), nil
	}, "", "")

	left, right := pairedEngines(t, leftRegistry, rightRegistry)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	v1, err := left.Call(ctx, "from-left", epc.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if v1.Text() != "handled by right" {
		t.Fatalf("got %q", v1.Text())
	}

	v2, err := right.Call(ctx, "from-right", epc.Nil)
	if err != nil {
		t.Fatal(err)
	}
	if v2.Text() != "handled by left" {
		t.Fatalf("got %q", v2.Text())
	}
}
