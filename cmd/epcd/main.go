// Command epcd runs a standalone EPC server: a registry of demo
// methods reachable over TCP, with an optional HTTP watch endpoint for
// live inspection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eval-exec/go-epc/detect"
	"github.com/eval-exec/go-epc/epc"
	"github.com/eval-exec/go-epc/watch"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("epcd", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "epcd — run a standalone EPC server\n\nUsage:\n  epcd [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	listen := fs.String("listen", "127.0.0.1:0", "address to listen on; port 0 picks a free port")
	watchAddr := fs.String("watch", "", "address to serve the HTTP watch endpoint on (empty disables it)")
	floodThreshold := fs.Int("flood-threshold", 20, "call-storm threshold: occurrences within -flood-window before a signature is flagged")
	floodWindow := fs.Duration("flood-window", time.Second, "call-storm detection window")
	floodCooldown := fs.Duration("flood-cooldown", 10*time.Second, "minimum time between repeated call-storm alerts for the same signature")
	printPort := fs.Bool("print-port", false, "print the bound port to stdout, the handshake a spawning parent process waits on")
	showVersion := fs.Bool("version", false, "show version and exit")
	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("epcd %s\n", version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *listen, *watchAddr, *floodThreshold, *floodWindow, *floodCooldown, *printPort); err != nil {
		log.Fatalf("epcd: %v", err)
	}
}

func run(ctx context.Context, listen, watchAddr string, floodThreshold int, floodWindow, floodCooldown time.Duration, printPort bool) error {
	events := make(chan epc.CallEvent, 256)

	broker := watch.NewBroker()
	if floodThreshold > 0 {
		broker.WithDetector(detect.New(floodThreshold, floodWindow, floodCooldown))
	}
	go broker.Run(events)

	registry := epc.NewRegistry()
	registerDemoMethods(registry)

	srv, err := epc.Listen(listen, registry, epc.WithServerEvents(events))
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listen, err)
	}
	defer func() { _ = srv.Shutdown() }()

	log.Printf("epcd: listening on %s", srv.Addr())
	if printPort {
		srv.PrintPort()
	}

	var watchSrv *watch.Server
	if watchAddr != "" {
		watchSrv = watch.NewServer(broker, registry)
		go func() {
			log.Printf("epcd: watch endpoint on http://%s", watchAddr)
			if err := watchSrv.ListenAndServe(watchAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("epcd: watch server: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ServeForever() }()

	select {
	case <-ctx.Done():
		log.Printf("epcd: shutting down")
		if err := srv.Shutdown(); err != nil {
			log.Printf("epcd: shutdown: %v", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

// registerDemoMethods populates registry with a handful of sample
// methods exercising different argument and error shapes, useful for
// poking at epcd with the client CLI or the watch TUI without writing
// a bespoke server first.
func registerDemoMethods(registry *epc.Registry) {
	registry.Register("echo", func(args epc.Value) (epc.Value, error) {
		return args.At(0), nil
	}, "(ARG)", "Return ARG unchanged.")

	registry.Register("add", func(args epc.Value) (epc.Value, error) {
		if args.Kind() != epc.KindList || args.Len() != 2 {
			return epc.Value{}, errors.New("add expects a list of two numbers")
		}
		a, b := args.At(0), args.At(1)
		if a.Kind() == epc.KindFloat || b.Kind() == epc.KindFloat {
			return epc.Float(numberValue(a) + numberValue(b)), nil
		}
		return epc.Int(a.IntValue() + b.IntValue()), nil
	}, "(A B)", "Return the sum of two numbers.")

	registry.Register("sleep", func(args epc.Value) (epc.Value, error) {
		ms := int64(100)
		if args.Kind() == epc.KindList && args.Len() >= 1 {
			ms = args.At(0).IntValue()
		}
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return epc.Symbol("ok"), nil
	}, "(&optional MILLIS)", "Sleep for MILLIS milliseconds (default 100), then return ok.")
}

func numberValue(v epc.Value) float64 {
	if v.Kind() == epc.KindFloat {
		return v.FloatValue()
	}
	return float64(v.IntValue())
}
