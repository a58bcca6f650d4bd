package epc

import (
	"fmt"
	"net"
	"os"
	"sync"
)

// Server binds a TCP listener and turns every accepted connection into
// its own Engine, all sharing one Registry — so a method registered
// once is callable by every connected peer.
type Server struct {
	listener *net.TCPListener
	registry *Registry
	events   chan<- CallEvent

	mu      sync.Mutex
	engines map[*Engine]struct{}

	closeOnce sync.Once
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// WithServerEvents routes every connection's CallEvent stream onto ch.
func WithServerEvents(ch chan<- CallEvent) ServerOption {
	return func(s *Server) { s.events = ch }
}

// Listen binds addr (e.g. "127.0.0.1:0" for an OS-assigned port) and
// returns a Server ready to accept connections.
func Listen(addr string, registry *Registry, opts ...ServerOption) (*Server, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, wrapErr(ErrIO, "resolve address", err)
	}
	ln, err := net.ListenTCP("tcp", tcpAddr)
	if err != nil {
		return nil, wrapErr(ErrIO, "listen", err)
	}
	s := &Server{
		listener: ln,
		registry: registry,
		engines:  make(map[*Engine]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Register adds name to the shared registry; every connection, present
// and future, can see it called.
func (s *Server) Register(name string, handler Handler, argSpec, doc string) {
	s.registry.Register(name, handler, argSpec, doc)
}

// Unregister removes name from the shared registry.
func (s *Server) Unregister(name string) { s.registry.Unregister(name) }

// PrintPort writes the decimal listener port followed by a newline to
// standard output exactly once, the convention a parent process relies
// on to learn which port a spawned EPC server bound to.
func (s *Server) PrintPort() {
	fmt.Fprintf(os.Stdout, "%d\n", s.listener.Addr().(*net.TCPAddr).Port)
}

// ServeForever accepts connections until Shutdown is called or the
// listener errors, running each connection's Engine on its own
// goroutines.
func (s *Server) ServeForever() error {
	for {
		conn, err := s.listener.AcceptTCP()
		if err != nil {
			if isClosedConnErr(err) {
				return nil
			}
			return wrapErr(ErrIO, "accept", err)
		}
		_ = conn.SetNoDelay(true)

		opts := []EngineOption{}
		if s.events != nil {
			opts = append(opts, WithEvents(s.events))
		}
		e := NewEngine(conn, s.registry, opts...)

		s.mu.Lock()
		s.engines[e] = struct{}{}
		s.mu.Unlock()

		go func() {
			<-e.Done()
			s.mu.Lock()
			delete(s.engines, e)
			s.mu.Unlock()
		}()

		e.Start()
	}
}

// Shutdown closes the listener and tears down every live connection's
// engine, propagating ConnectionClosed to their pending callers.
func (s *Server) Shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.listener.Close()
		s.mu.Lock()
		engines := make([]*Engine, 0, len(s.engines))
		for e := range s.engines {
			engines = append(engines, e)
		}
		s.mu.Unlock()
		for _, e := range engines {
			_ = e.Close()
		}
	})
	return err
}
