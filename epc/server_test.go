package epc_test

import (
	"context"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/eval-exec/go-epc/epc"
)

func TestStartProcessConnectsUsingPortHandshake(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("handshake script assumes a POSIX shell")
	}
	t.Parallel()

	srv := startTestServer(t)
	_, port := splitHostPort(t, srv.Addr().String())

	cmd := exec.Command("sh", "-c", "echo "+port)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	client, err := epc.StartProcess(ctx, cmd, epc.WithClientRegistry(epc.NewRegistry()))
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	result, err := client.Call(callCtx, "add", epc.List(epc.Int(4), epc.Int(5)))
	if err != nil {
		t.Fatal(err)
	}
	if result.IntValue() != 9 {
		t.Fatalf("got %d, want 9", result.IntValue())
	}
}

func TestStartProcessTimesOutWithoutHandshake(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("handshake script assumes a POSIX shell")
	}
	t.Parallel()

	cmd := exec.Command("sh", "-c", "sleep 5")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := epc.StartProcess(ctx, cmd)
	if err == nil {
		t.Fatal("expected an error when the child never prints a port")
	}
}

func splitHostPort(t *testing.T, addr string) (string, string) {
	t.Helper()
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	t.Fatalf("address %q has no port", addr)
	return "", ""
}
