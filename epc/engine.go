package epc

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Direction distinguishes an outbound call this side originated from an
// inbound call the peer originated, for observability purposes only.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// MarshalJSON renders Direction as its String() form, so the watch feed
// and exported call logs read "outbound"/"inbound" instead of 0/1.
func (d Direction) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (d *Direction) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"outbound"`:
		*d = Outbound
	case `"inbound"`:
		*d = Inbound
	default:
		return fmt.Errorf("invalid Direction %s", b)
	}
	return nil
}

// CallEvent is an observability record describing one dispatched or
// completed message. It never travels on the wire; it exists purely so
// that a detector or a watch feed can observe traffic on an Engine.
type CallEvent struct {
	ConnID    string
	Direction Direction
	Kind      MessageKind
	UID       uint64
	Method    string
	Args      string
	Result    string
	Err       string
	StartTime time.Time
	Duration  time.Duration

	// Flood is never set by the engine itself; a call-pattern detector
	// sitting downstream of the event stream annotates a copy of the
	// event before it reaches subscribers, once the same method+args
	// signature has repeated past its configured threshold.
	Flood bool
}

type callResult struct {
	value Value
	err   error
}

// Engine is the per-connection bidirectional dispatcher: the heart of
// the protocol. One Engine owns exactly one net.Conn and runs exactly
// one reader goroutine and one writer goroutine, spawning a fresh
// goroutine per inbound Call/MethodsQuery so a slow handler never
// starves the reader.
type Engine struct {
	id       string
	conn     net.Conn
	registry *Registry
	events   chan<- CallEvent
	writeCap int

	uidCounter uint64

	writeCh chan []byte

	mu           sync.Mutex
	pendingCalls map[uint64]chan callResult
	torndown     bool

	closed   chan struct{}
	closeErr error
	once     sync.Once

	wg sync.WaitGroup
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine)

// WithEvents routes every CallEvent the engine produces onto ch.
// Publishing never blocks: if ch's buffer is full the event is
// dropped, so a slow or absent observer can never create backpressure
// on the protocol itself.
func WithEvents(ch chan<- CallEvent) EngineOption {
	return func(e *Engine) { e.events = ch }
}

// WithWriteQueueCapacity overrides the default bounded write-queue
// depth (64). A full queue applies backpressure: a Call blocks until
// the writer drains room, per the specification.
func WithWriteQueueCapacity(n int) EngineOption {
	return func(e *Engine) { e.writeCap = n }
}

// NewEngine constructs an Engine bound to conn and registry but does
// not start its goroutines; call Start to begin serving.
func NewEngine(conn net.Conn, registry *Registry, opts ...EngineOption) *Engine {
	e := &Engine{
		id:           uuid.NewString(),
		conn:         conn,
		registry:     registry,
		writeCap:     64,
		pendingCalls: make(map[uint64]chan callResult),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.writeCh = make(chan []byte, e.writeCap)
	return e
}

// ConnID returns the engine's observability-only connection identifier.
// It is never sent on the wire and has no relationship to protocol
// UIDs, which are always 64-bit unsigned integers per the
// specification.
func (e *Engine) ConnID() string { return e.id }

// Start launches the reader and writer goroutines. It returns
// immediately; the connection is served in the background until Close
// or a fatal I/O error.
func (e *Engine) Start() {
	e.wg.Add(2)
	go e.readLoop()
	go e.writeLoop()
}

// Done returns a channel closed once the engine has torn down.
func (e *Engine) Done() <-chan struct{} { return e.closed }

// Err returns the reason the engine tore down. It is nil while the
// engine is running, and also after a clean teardown (Close, or the
// peer closing the connection).
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeErr
}

// Close tears the engine down: the socket is closed, the writer drains
// and stops, and every outstanding Call is woken with
// ConnectionClosed.
func (e *Engine) Close() error {
	e.teardown(nil)
	e.wg.Wait()
	return nil
}

func (e *Engine) teardown(cause error) {
	e.once.Do(func() {
		e.mu.Lock()
		e.torndown = true
		e.closeErr = cause
		waiters := e.pendingCalls
		e.pendingCalls = make(map[uint64]chan callResult)
		e.mu.Unlock()

		werr := wrapErr(ErrConnectionClosed, "connection closed", cause)
		for _, ch := range waiters {
			ch <- callResult{err: werr}
		}
		close(e.closed)
		_ = e.conn.Close()
	})
}

// Call issues an outbound call and blocks until it resolves: with the
// handler's result, with an Application/Protocol error reported by the
// peer, with Timeout if ctx is done first, or with ConnectionClosed if
// the engine tears down while waiting.
func (e *Engine) Call(ctx context.Context, method string, args Value) (Value, error) {
	return e.outbound(ctx, func(uid uint64) Message {
		return CallMessage(uid, method, args)
	}, Outbound, method, args)
}

// QueryMethods issues a MethodsQuery and returns the peer's registry
// snapshot as the raw wire Value (a list of (name arg-spec doc)
// triples); see ParseMethodsResult to decode it.
func (e *Engine) QueryMethods(ctx context.Context) (Value, error) {
	return e.outbound(ctx, func(uid uint64) Message {
		return MethodsQueryMessage(uid)
	}, Outbound, "", Nil)
}

func (e *Engine) outbound(ctx context.Context, build func(uid uint64) Message, dir Direction, method string, args Value) (Value, error) {
	uid := atomic.AddUint64(&e.uidCounter, 1)
	resultCh := make(chan callResult, 1)

	e.mu.Lock()
	if e.torndown {
		e.mu.Unlock()
		return Nil, wrapErr(ErrConnectionClosed, "connection closed", e.closeErr)
	}
	e.pendingCalls[uid] = resultCh
	e.mu.Unlock()

	msg := build(uid)
	start := time.Now()
	e.enqueue(msg)

	select {
	case res := <-resultCh:
		e.emitOutbound(dir, msg.Kind, uid, method, args, res, start)
		return res.value, res.err
	case <-ctx.Done():
		e.mu.Lock()
		delete(e.pendingCalls, uid)
		e.mu.Unlock()
		res := callResult{err: wrapErr(ErrTimeout, "call timed out", ctx.Err())}
		e.emitOutbound(dir, msg.Kind, uid, method, args, res, start)
		return Nil, res.err
	}
}

func (e *Engine) emitOutbound(dir Direction, kind MessageKind, uid uint64, method string, args Value, res callResult, start time.Time) {
	if e.events == nil {
		return
	}
	ev := CallEvent{
		ConnID: e.id, Direction: dir, Kind: kind, UID: uid,
		Method: method, Args: renderTruncated(args),
		Result:    renderTruncated(res.value),
		StartTime: start, Duration: time.Since(start),
	}
	if res.err != nil {
		ev.Err = res.err.Error()
	}
	e.publish(ev)
}

func (e *Engine) publish(ev CallEvent) {
	select {
	case e.events <- ev:
	default:
	}
}

// enqueue encodes and frames msg and pushes it onto the write queue,
// unblocking early if the engine tears down while it was waiting for
// room (a full write queue otherwise applies backpressure, per the
// specification).
func (e *Engine) enqueue(msg Message) {
	payload, err := EncodeMessage(msg)
	if err != nil {
		// Nothing sane to send if we can't even encode our own
		// outgoing message; drop it. This only happens for
		// programmer error (e.g. a NaN result value).
		return
	}
	frame := FrameBytes(payload)
	select {
	case e.writeCh <- frame:
	case <-e.closed:
	}
}

func (e *Engine) writeLoop() {
	defer e.wg.Done()
	for {
		select {
		case frame := <-e.writeCh:
			if _, err := e.conn.Write(frame); err != nil {
				e.teardown(wrapErr(ErrIO, "write failed", err))
				e.drainWrites()
				return
			}
		case <-e.closed:
			e.drainWrites()
			return
		}
	}
}

// drainWrites flushes whatever is already queued, best-effort, after
// teardown has begun, then returns. In-flight dispatcher responses
// enqueued after this point are dropped by enqueue's select on
// e.closed.
func (e *Engine) drainWrites() {
	for {
		select {
		case frame := <-e.writeCh:
			_, _ = e.conn.Write(frame)
		default:
			return
		}
	}
}

func (e *Engine) readLoop() {
	defer e.wg.Done()
	fr := NewFrameReader(e.conn)
	for {
		payload, err := fr.ReadFrame()
		if err != nil {
			if isClosedConnErr(err) {
				e.teardown(nil)
			} else {
				e.teardown(wrapErr(ErrIO, "read failed", err))
			}
			return
		}

		msg, err := DecodeMessage(payload)
		if err != nil {
			uid := recoverUID(payload)
			e.enqueue(EpcErrorMessage(uid, err.Error()))
			continue
		}

		e.route(msg)
	}
}

func (e *Engine) route(msg Message) {
	switch msg.Kind {
	case KindCall:
		e.wg.Add(1)
		go e.dispatchCall(msg)
	case KindMethodsQuery:
		e.wg.Add(1)
		go e.dispatchMethodsQuery(msg)
	case KindReturn:
		e.resolve(msg.UID, msg.Result, nil)
	case KindReturnError:
		e.resolve(msg.UID, Nil, newErr(ErrApplication, msg.ErrMessage))
	case KindEpcError:
		e.resolve(msg.UID, Nil, newErr(ErrProtocol, msg.ErrMessage))
	}
}

func (e *Engine) resolve(uid uint64, value Value, err error) {
	e.mu.Lock()
	ch, ok := e.pendingCalls[uid]
	if ok {
		delete(e.pendingCalls, uid)
	}
	e.mu.Unlock()
	if ok {
		ch <- callResult{value: value, err: err}
	}
	// A response for an unknown (or already-timed-out) UID is dropped
	// silently, per the specification.
}

func (e *Engine) dispatchCall(msg Message) {
	defer e.wg.Done()
	start := time.Now()

	entry, ok := e.registry.Lookup(msg.Method)
	var result Value
	var handlerErr error
	var resp Message
	if !ok {
		handlerErr = newErr(ErrMethodNotFound, "method not found: "+msg.Method)
		resp = EpcErrorMessage(msg.UID, handlerErr.Error())
	} else {
		result, handlerErr = entry.Handler(msg.Args)
		if handlerErr != nil {
			resp = ReturnErrorMessage(msg.UID, handlerErr.Error())
		} else {
			resp = ReturnMessage(msg.UID, result)
		}
	}
	e.enqueue(resp)

	if e.events != nil {
		ev := CallEvent{
			ConnID: e.id, Direction: Inbound, Kind: KindCall, UID: msg.UID,
			Method: msg.Method, Args: renderTruncated(msg.Args),
			Result: renderTruncated(result), StartTime: start, Duration: time.Since(start),
		}
		if handlerErr != nil {
			ev.Err = handlerErr.Error()
		}
		e.publish(ev)
	}
}

func (e *Engine) dispatchMethodsQuery(msg Message) {
	defer e.wg.Done()
	start := time.Now()
	result := methodsQueryResult(e.registry.List())
	e.enqueue(ReturnMessage(msg.UID, result))

	if e.events != nil {
		e.publish(CallEvent{
			ConnID: e.id, Direction: Inbound, Kind: KindMethodsQuery, UID: msg.UID,
			Result: renderTruncated(result), StartTime: start, Duration: time.Since(start),
		})
	}
}

// recoverUID makes a best-effort attempt to find the UID inside a
// frame whose body failed to parse as a known message, so the
// resulting EpcError can still correlate with the caller. If the
// second element isn't readable as a non-negative integer, 0 is used.
func recoverUID(payload []byte) uint64 {
	v, err := ParseSexp(payload)
	if err != nil || v.Kind() != KindList || v.Len() < 2 {
		return 0
	}
	uid, err := uidOf(v.At(1))
	if err != nil {
		return 0
	}
	return uid
}

func isClosedConnErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "closed network connection") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "use of closed file")
}

func renderTruncated(v Value) string {
	b, err := EmitSexp(v)
	if err != nil {
		return fmt.Sprintf("<unrepresentable: %v>", err)
	}
	const max = 500
	if len(b) > max {
		return string(b[:max]) + "…"
	}
	return string(b)
}
