// Command epc is a client for the EPC protocol: it can dial an
// existing server, spawn one as a child process, issue a single call
// and print the result, or launch the interactive watch inspector
// against a running daemon's HTTP endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/eval-exec/go-epc/epc"
	"github.com/eval-exec/go-epc/tui"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("epc", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `epc — talk to an EPC server

Usage:
  epc [flags] <addr>                 connect to addr and wait (Ctrl-C to stop)
  epc [flags] -call METHOD -args ARGS addr  call METHOD with sexp ARGS and print the result
  epc [flags] -spawn CMD [arg...]    spawn CMD as a server, call/connect, then kill it
  epc -watch URL                     launch the watch inspector against a running daemon

Flags:
`)
		fs.PrintDefaults()
	}
	call := fs.String("call", "", "method name to call; requires an addr or -spawn argument")
	callArgs := fs.String("args", "()", "sexp-encoded arguments for -call")
	spawn := fs.Bool("spawn", false, "treat the remaining arguments as a command to spawn as the server")
	watch := fs.String("watch", "", "watch endpoint base URL (e.g. http://127.0.0.1:8080) to launch the inspector against")
	timeout := fs.Duration("timeout", 10*time.Second, "timeout for -call")
	showVersion := fs.Bool("version", false, "show version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("epc %s\n", version)
		return
	}

	if *watch != "" {
		if err := runWatch(*watch); err != nil {
			fmt.Fprintf(os.Stderr, "epc: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	if err := run(*spawn, *call, *callArgs, *timeout, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "epc: %v\n", err)
		os.Exit(1)
	}
}

func run(spawn bool, call, callArgs string, timeout time.Duration, rest []string) error {
	client, err := connect(spawn, rest)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if call == "" {
		fmt.Printf("connected to %s; waiting (Ctrl-C to stop)\n", client.ConnID())
		select {}
	}

	args, err := epc.ParseSexp([]byte(callArgs))
	if err != nil {
		return fmt.Errorf("parse -args: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	result, err := client.Call(ctx, call, args)
	if err != nil {
		return fmt.Errorf("call %s: %w", call, err)
	}

	b, err := epc.EmitSexp(result)
	if err != nil {
		return fmt.Errorf("render result: %w", err)
	}
	fmt.Println(string(b))
	return nil
}

// connect dials addr directly, or spawns rest as a child EPC server
// and connects to its handshake port, depending on spawn. The spawned
// process's lifetime is independent of any later call timeout: it runs
// until the returned Client is closed.
func connect(spawn bool, rest []string) (*epc.Client, error) {
	if spawn {
		if len(rest) == 0 {
			return nil, fmt.Errorf("-spawn requires a command")
		}
		cmd := exec.Command(rest[0], rest[1:]...) //nolint:gosec // operator-supplied command, same trust level as running it directly
		return epc.StartProcess(context.Background(), cmd)
	}
	if len(rest) != 1 {
		return nil, fmt.Errorf("expected exactly one address argument, got %d", len(rest))
	}
	return epc.Dial(rest[0])
}

func runWatch(target string) error {
	target = strings.TrimSuffix(target, "/")
	p := tea.NewProgram(tui.New(target), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
