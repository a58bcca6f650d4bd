package epc

import (
	"context"
	"net"
	"os/exec"
	"strconv"
)

// Client is a single Engine bound to one outbound TCP connection,
// optionally owning a spawned child process.
type Client struct {
	engine   *Engine
	registry *Registry
	proc     *process
}

// ClientOption configures a Client at construction time.
type ClientOption func(*clientConfig)

type clientConfig struct {
	registry *Registry
	events   chan<- CallEvent
}

// WithClientRegistry supplies the registry of methods this client
// exposes to its peer. If omitted, an empty registry is used (the
// client can still call out, but the peer can't call in).
func WithClientRegistry(r *Registry) ClientOption {
	return func(c *clientConfig) { c.registry = r }
}

// WithClientEvents routes the connection's CallEvent stream onto ch.
func WithClientEvents(ch chan<- CallEvent) ClientOption {
	return func(c *clientConfig) { c.events = ch }
}

func buildConfig(opts []ClientOption) *clientConfig {
	cfg := &clientConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.registry == nil {
		cfg.registry = NewRegistry()
	}
	return cfg
}

// Dial connects to an existing EPC server at addr ("host:port").
func Dial(addr string, opts ...ClientOption) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, wrapErr(ErrIO, "dial", err)
	}
	return newClient(conn, nil, opts...), nil
}

// StartProcess spawns cmd as a child EPC server, reads its port
// handshake from stdout, and connects to it on 127.0.0.1. The child is
// killed when the returned Client is closed.
func StartProcess(ctx context.Context, cmd *exec.Cmd, opts ...ClientOption) (*Client, error) {
	proc, port, err := spawnAndReadPort(ctx, cmd, DefaultProcessPortTimeout)
	if err != nil {
		return nil, err
	}
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		proc.kill()
		return nil, wrapErr(ErrIO, "dial spawned process", err)
	}
	return newClient(conn, proc, opts...), nil
}

func newClient(conn net.Conn, proc *process, opts ...ClientOption) *Client {
	cfg := buildConfig(opts)
	var engineOpts []EngineOption
	if cfg.events != nil {
		engineOpts = append(engineOpts, WithEvents(cfg.events))
	}
	e := NewEngine(conn, cfg.registry, engineOpts...)
	e.Start()
	return &Client{engine: e, registry: cfg.registry, proc: proc}
}

// Call issues a remote call; see Engine.Call for semantics.
func (c *Client) Call(ctx context.Context, method string, args Value) (Value, error) {
	return c.engine.Call(ctx, method, args)
}

// QueryMethods asks the peer for its registered methods.
func (c *Client) QueryMethods(ctx context.Context) ([]MethodInfo, error) {
	v, err := c.engine.QueryMethods(ctx)
	if err != nil {
		return nil, err
	}
	return ParseMethodsResult(v), nil
}

// Register exposes a method the peer can call on this client.
func (c *Client) Register(name string, handler Handler, argSpec, doc string) {
	c.registry.Register(name, handler, argSpec, doc)
}

// Unregister removes a previously registered method.
func (c *Client) Unregister(name string) { c.registry.Unregister(name) }

// ConnID returns the underlying engine's observability identifier.
func (c *Client) ConnID() string { return c.engine.ConnID() }

// Close tears down the connection and, if this Client spawned a child
// process, kills it on a best-effort basis.
func (c *Client) Close() error {
	err := c.engine.Close()
	if c.proc != nil {
		c.proc.kill()
	}
	return err
}
