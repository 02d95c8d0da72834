package gateway

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// State is the handshake state machine (spec.md §4.2).
type State int32

const (
	StateDisconnected State = iota
	StateOpening
	StateChallenged
	StateAuthenticating
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateOpening:
		return "opening"
	case StateChallenged:
		return "challenged"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Config configures a Client.
type Config struct {
	URL              string
	Token            string
	ClientID         string
	ClientMode       string
	Role             string
	Scopes           []string
	IdentityPath     string
	ChallengeWait    time.Duration
	HandshakeTimeout time.Duration
	RequestTimeout   time.Duration
	Logger           *zap.Logger
	Metrics          Metrics
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ChallengeWait == 0 {
		out.ChallengeWait = 500 * time.Millisecond
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = 30 * time.Second
	}
	if out.Role == "" {
		out.Role = "operator"
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out
}

// Metrics receives gateway observability events. A nil Metrics on a
// Client disables instrumentation entirely.
type Metrics interface {
	RecordGatewayRPC(method, outcome string, latency time.Duration)
	RecordHandshake(outcome string)
	RecordChatDelta()
}

// EventHandler receives event frames whose Event name it subscribed
// to. Handlers MUST NOT block: the client dispatches them off the
// receive loop, but on a single worker in arrival order, so a slow
// handler delays every later event delivery, its own and others'.
type EventHandler func(EventFrame)

// Client owns the persistent connection to the gateway. Reconnection
// is out of scope for the core; a runner surfaces transport loss as a
// node error (spec.md §4.2).
type Client struct {
	cfg      Config
	identity *Identity

	conn     *websocket.Conn
	writeMu  sync.Mutex // serializes writes onto the single connection
	state    atomic.Int32

	pendingMu sync.Mutex
	pending   map[string]chan *ResponseFrame

	subsMu  sync.RWMutex
	subs    map[string]map[uint64]EventHandler
	subSeq  atomic.Uint64

	// events queues frames from readLoop for a single dedicated worker
	// goroutine to dispatch, in arrival order. This keeps a slow
	// handler from stalling readLoop without letting two event frames
	// ever dispatch concurrently, which chat deltas rely on for their
	// cumulative-to-incremental suffix computation (spec.md §4.2, §9).
	events chan EventFrame

	reqCounter atomic.Uint64

	metrics Metrics

	closeOnce sync.Once
	closed    chan struct{}
}

// WithMetrics attaches a Metrics sink to the client. Returns c for
// chaining.
func (c *Client) WithMetrics(m Metrics) *Client {
	c.metrics = m
	return c
}

// NewClient dials the gateway, performs the challenge-response
// handshake, and returns a Client in the StateReady state, or an
// error describing which handshake step failed.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	identity, err := LoadOrCreateIdentity(cfg.IdentityPath)
	if err != nil {
		return nil, fmt.Errorf("load device identity: %w", err)
	}

	c := &Client{
		cfg:      cfg,
		identity: identity,
		pending:  make(map[string]chan *ResponseFrame),
		subs:     make(map[string]map[uint64]EventHandler),
		events:   make(chan EventFrame, 256),
		metrics:  cfg.Metrics,
		closed:   make(chan struct{}),
	}
	c.state.Store(int32(StateDisconnected))

	dialCtx, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	defer cancel()

	c.state.Store(int32(StateOpening))
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.URL, nil)
	if err != nil {
		c.state.Store(int32(StateFailed))
		c.recordHandshake("dial_error")
		return nil, &TransportError{Err: err}
	}
	c.conn = conn

	go c.readLoop()
	go c.eventWorker()

	nonce, err := c.awaitChallenge(dialCtx)
	if err != nil {
		c.state.Store(int32(StateFailed))
		c.Close()
		c.recordHandshake("challenge_error")
		return nil, err
	}

	c.state.Store(int32(StateAuthenticating))
	if err := c.connect(dialCtx, nonce); err != nil {
		c.state.Store(int32(StateFailed))
		c.Close()
		c.recordHandshake("auth_error")
		return nil, err
	}

	c.state.Store(int32(StateReady))
	c.recordHandshake("ok")
	return c, nil
}

func (c *Client) recordHandshake(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordHandshake(outcome)
	}
}

func (c *Client) State() State { return State(c.state.Load()) }

// Metrics returns the sink attached via Config.Metrics or WithMetrics,
// or nil if none was attached.
func (c *Client) Metrics() Metrics { return c.metrics }

// awaitChallenge waits for a connect.challenge event: up to
// cfg.ChallengeWait when a token is configured, 50ms otherwise. If
// none arrives in that window it proceeds without a nonce, whether or
// not a token is configured (spec.md §4.2 step 1).
func (c *Client) awaitChallenge(ctx context.Context) (nonceEvent, error) {
	c.state.Store(int32(StateChallenged))

	type result struct {
		n   nonceEvent
		err error
	}
	ch := make(chan result, 1)

	var handler EventHandler
	handler = func(ev EventFrame) {
		var payload struct {
			Nonce string `json:"nonce"`
			TS    int64  `json:"ts"`
		}
		if err := json.Unmarshal(ev.Payload, &payload); err != nil {
			return
		}
		select {
		case ch <- result{n: nonceEvent{Nonce: payload.Nonce, TS: payload.TS, Present: true}}:
		default:
		}
	}
	token := c.On("connect.challenge", handler)
	defer c.Off("connect.challenge", token)

	wait := c.cfg.ChallengeWait
	if c.cfg.Token == "" {
		// No token configured: a short, cheap wait is still useful in
		// case the gateway challenges anyway, but its absence is not
		// an error.
		wait = 50 * time.Millisecond
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.n, r.err
	case <-timer.C:
		return nonceEvent{}, nil
	case <-ctx.Done():
		return nonceEvent{}, &TimeoutError{Op: "connect.challenge"}
	}
}

type nonceEvent struct {
	Nonce   string
	TS      int64
	Present bool
}

// connect builds and sends the signed connect frame (spec.md §4.2
// steps 3-4) and waits for hello-ok.
func (c *Client) connect(ctx context.Context, nonce nonceEvent) error {
	version := "v1"
	if nonce.Present {
		version = "v2"
	}

	signedAtMs := time.Now().UnixMilli()
	scopes := strings.Join(c.cfg.Scopes, ",")

	parts := []string{
		version,
		c.identity.DeviceID,
		c.cfg.ClientID,
		c.cfg.ClientMode,
		c.cfg.Role,
		scopes,
		strconv.FormatInt(signedAtMs, 10),
		c.cfg.Token,
	}
	if nonce.Present {
		parts = append(parts, nonce.Nonce)
	}
	signedPayload := strings.Join(parts, "|")

	sig := ed25519.Sign(c.identity.PrivateKey, []byte(signedPayload))

	device := map[string]interface{}{
		"id":        c.identity.DeviceID,
		"publicKey": Base64URLNoPad(c.identity.PublicKeyRaw()),
		"signature": Base64URLNoPad(sig),
		"signedAt":  signedAtMs,
	}
	if nonce.Present {
		device["nonce"] = nonce.Nonce
	}

	params := map[string]interface{}{
		"minProtocol": 3,
		"maxProtocol": 3,
		"client": map[string]interface{}{
			"id":   c.cfg.ClientID,
			"mode": c.cfg.ClientMode,
		},
		"role":   c.cfg.Role,
		"scopes": c.cfg.Scopes,
		"device": device,
	}
	if c.cfg.Token != "" {
		params["auth"] = map[string]interface{}{"token": c.cfg.Token}
	}

	payload, err := c.request(ctx, "connect", params)
	if err != nil {
		return err
	}

	var hello struct {
		Type   string `json:"type"`
		Server struct {
			Version string `json:"version"`
			ConnID  string `json:"connId"`
		} `json:"server"`
	}
	if err := json.Unmarshal(payload, &hello); err != nil {
		return &ProtocolError{Msg: "malformed hello-ok payload: " + err.Error()}
	}
	if hello.Type != "hello-ok" {
		return &AuthError{Msg: "handshake did not complete: unexpected payload type " + hello.Type}
	}

	return nil
}

// request is the generic correlated call (spec.md §4.2 RPC surface).
func (c *Client) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	started := time.Now()
	payload, err := c.doRequest(ctx, method, params)
	if err != nil {
		c.cfg.Logger.Debug("gateway request failed", zap.String("method", method), zap.Error(err))
	}
	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.metrics.RecordGatewayRPC(method, outcome, time.Since(started))
	}
	return payload, err
}

func (c *Client) doRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	ch := make(chan *ResponseFrame, 1)

	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	frame := NewRequestFrame(id, method, params)
	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	timeout := c.cfg.RequestTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if !res.OK {
			code, msg := "unknown", "request failed"
			if res.Error != nil {
				code, msg = res.Error.Code, res.Error.Message
			}
			return nil, &RPCError{Code: code, Message: msg}
		}
		return res.Payload, nil
	case <-timer.C:
		return nil, &TimeoutError{Op: method}
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, &TransportError{Err: fmt.Errorf("client closed")}
	}
}

// Request exposes the generic RPC surface for callers outside this
// package (the Invoke node executor uses it directly).
func (c *Client) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.request(ctx, method, params)
}

func (c *Client) writeFrame(v interface{}) error {
	data, err := EncodeFrame(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// readLoop is the single receive loop; it routes frames to pending
// request slots or queues event frames onto c.events for eventWorker
// to dispatch. Queuing rather than dispatching inline keeps a slow
// handler from blocking the read loop, without handing dispatch order
// to the Go scheduler the way a goroutine-per-event would.
func (c *Client) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.closeOnce.Do(func() { close(c.closed) })
			return
		}

		req, res, event, err := DecodeFrame(data)
		if err != nil {
			c.cfg.Logger.Warn("malformed frame, dropping", zap.Error(err))
			continue
		}

		switch {
		case res != nil:
			c.pendingMu.Lock()
			ch, ok := c.pending[res.ID]
			c.pendingMu.Unlock()
			if ok {
				select {
				case ch <- res:
				default:
				}
			}
		case event != nil:
			select {
			case c.events <- *event:
			case <-c.closed:
			}
		case req != nil:
			// The core client never receives inbound RPC requests from
			// the gateway; ignore for forward compatibility.
		}
	}
}

// eventWorker is the sole consumer of c.events: a single goroutine
// guarantees event frames dispatch in the order the transport
// delivered them, and that no two dispatches ever overlap. Callers
// relying on ordered, non-concurrent delivery (the chat delta
// tracker, internal/executor/chatcall.go) depend on this.
func (c *Client) eventWorker() {
	for {
		select {
		case ev := <-c.events:
			c.dispatchEvent(ev)
		case <-c.closed:
			return
		}
	}
}

func (c *Client) dispatchEvent(ev EventFrame) {
	c.subsMu.RLock()
	handlers := make([]EventHandler, 0, len(c.subs[ev.Event]))
	for _, h := range c.subs[ev.Event] {
		handlers = append(handlers, h)
	}
	c.subsMu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}

// SubToken identifies a single On registration for a later Off call.
// Go function values are not comparable, so unlike a dynamic-language
// on(event, handler)/off(event, handler) pair, Off here takes the
// token On returned rather than the handler itself.
type SubToken uint64

// On subscribes handler to eventName and returns a token to pass to
// Off.
func (c *Client) On(eventName string, handler EventHandler) SubToken {
	token := SubToken(c.subSeq.Add(1))

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if c.subs[eventName] == nil {
		c.subs[eventName] = make(map[uint64]EventHandler)
	}
	c.subs[eventName][uint64(token)] = handler
	return token
}

// Off removes the subscription identified by token.
func (c *Client) Off(eventName string, token SubToken) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs[eventName], uint64(token))
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
