package main

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arborflow/arborflow/internal/gateway"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// gatewaySim holds the process-wide state shared by every connection:
// configuration and the chat responder backing chat.send.
type gatewaySim struct {
	cfg       Config
	logger    *zap.Logger
	responder *chatResponder
}

func (g *gatewaySim) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("upgrade failed", zap.Error(err))
		return
	}

	s := &session{
		sim:       g,
		conn:      conn,
		logger:    g.logger,
		inFlight:  make(map[string]context.CancelFunc),
		connID:    uuid.NewString(),
	}
	s.run()
}

// session is one client connection, carried from the challenge through
// the RPC dispatch loop until the socket closes.
type session struct {
	sim    *gatewaySim
	conn   *websocket.Conn
	logger *zap.Logger
	connID string

	writeMu sync.Mutex

	authenticated bool
	deviceID      string

	inFlightMu sync.Mutex
	inFlight   map[string]context.CancelFunc // chat runId -> abort
}

func (s *session) run() {
	defer s.conn.Close()

	nonce := s.maybeSendChallenge()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}

		req, _, _, err := gateway.DecodeFrame(data)
		if err != nil || req == nil {
			continue // responses/events/malformed frames are not expected inbound
		}

		if !s.authenticated {
			if req.Method != "connect" {
				s.writeError(req.ID, "not_authenticated", "connect must be the first request")
				continue
			}
			s.handleConnect(req, nonce)
			continue
		}

		s.dispatch(req)
	}
}

// maybeSendChallenge emits a connect.challenge event before the first
// request, matching client.go's awaitChallenge wait window. Returns
// the nonce issued, or "" if no challenge was sent this connection.
func (s *session) maybeSendChallenge() string {
	if !s.sim.cfg.ChallengeEvery {
		return ""
	}
	nonce := fmt.Sprintf("%x", rand.Int63())
	s.writeEvent("connect.challenge", map[string]interface{}{
		"nonce": nonce,
		"ts":    time.Now().UnixMilli(),
	})
	return nonce
}

// connectParams is the wire shape of a connect request's params,
// matching how internal/gateway's Client.connect builds it.
type connectParams struct {
	MinProtocol int      `json:"minProtocol"`
	MaxProtocol int      `json:"maxProtocol"`
	Role        string   `json:"role"`
	Scopes      []string `json:"scopes"`
	Client      struct {
		ID   string `json:"id"`
		Mode string `json:"mode"`
	} `json:"client"`
	Auth *struct {
		Token string `json:"token"`
	} `json:"auth"`
	Device struct {
		ID        string `json:"id"`
		PublicKey string `json:"publicKey"`
		Signature string `json:"signature"`
		SignedAt  int64  `json:"signedAt"`
		Nonce     string `json:"nonce"`
	} `json:"device"`
}

func (s *session) handleConnect(req *gateway.RequestFrame, nonce string) {
	var params connectParams
	raw, err := json.Marshal(req.Params)
	if err != nil {
		s.writeError(req.ID, "bad_request", "malformed connect params")
		return
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		s.writeError(req.ID, "bad_request", "malformed connect params: "+err.Error())
		return
	}

	if s.sim.cfg.Token != "" {
		if params.Auth == nil || params.Auth.Token != s.sim.cfg.Token {
			s.writeError(req.ID, "unauthorized", "token rejected")
			return
		}
	}

	if !s.verifyDeviceSignature(params, nonce) {
		s.writeError(req.ID, "unauthorized", "device signature rejected")
		return
	}

	s.authenticated = true
	s.deviceID = params.Device.ID

	s.writeResult(req.ID, map[string]interface{}{
		"type": "hello-ok",
		"server": map[string]interface{}{
			"version": "1",
			"connId":  s.connID,
		},
	})
}

// verifyDeviceSignature reconstructs the "|"-joined signed payload
// exactly as internal/gateway's Client.connect built it and checks the
// submitted Ed25519 signature against the submitted public key.
func (s *session) verifyDeviceSignature(params connectParams, nonce string) bool {
	version := "v1"
	if nonce != "" {
		version = "v2"
	}

	parts := []string{
		version,
		params.Device.ID,
		params.Client.ID,
		params.Client.Mode,
		params.Role,
		strings.Join(params.Scopes, ","),
		strconv.FormatInt(params.Device.SignedAt, 10),
	}
	if params.Auth != nil {
		parts = append(parts, params.Auth.Token)
	} else {
		parts = append(parts, "")
	}
	if nonce != "" {
		parts = append(parts, params.Device.Nonce)
	}
	signedPayload := strings.Join(parts, "|")

	pub, err := base64.RawURLEncoding.DecodeString(params.Device.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.RawURLEncoding.DecodeString(params.Device.Signature)
	if err != nil {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(pub), []byte(signedPayload), sig)
}

func (s *session) dispatch(req *gateway.RequestFrame) {
	switch req.Method {
	case "agents.list":
		s.writeResult(req.ID, gateway.AgentsListResult{
			DefaultID: "default",
			MainKey:   "main",
			Agents:    []gateway.Agent{{ID: "default", Name: "gatewaysim", Identity: s.deviceID}},
		})
	case "models.list":
		s.writeResult(req.ID, gateway.ModelsListResult{
			Models: []gateway.Model{{ID: s.sim.cfg.AnthropicModel, Name: s.sim.cfg.AnthropicModel, Provider: "anthropic"}},
		})
	case "sessions.reset", "sessions.patch":
		s.writeResult(req.ID, map[string]bool{"ok": true})
	case "chat.send":
		s.handleChatSend(req)
	case "chat.abort":
		s.handleChatAbort(req)
	default:
		s.writeError(req.ID, "unknown_method", fmt.Sprintf("unsupported method %q", req.Method))
	}
}

func (s *session) handleChatSend(req *gateway.RequestFrame) {
	var params struct {
		SessionKey     string `json:"sessionKey"`
		Message        string `json:"message"`
		IdempotencyKey string `json:"idempotencyKey"`
		TimeoutMs      int64  `json:"timeoutMs"`
		ModelID        string `json:"modelId"`
	}
	raw, _ := json.Marshal(req.Params)
	if err := json.Unmarshal(raw, &params); err != nil {
		s.writeError(req.ID, "bad_request", "malformed chat.send params")
		return
	}

	chatRunID := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	if params.TimeoutMs > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, time.Duration(params.TimeoutMs)*time.Millisecond)
		orig := cancel
		cancel = func() { timeoutCancel(); orig() }
	}

	s.inFlightMu.Lock()
	s.inFlight[chatRunID] = cancel
	s.inFlightMu.Unlock()

	s.writeResult(req.ID, gateway.ChatSendResult{RunID: chatRunID})

	model := params.ModelID
	if model == "" {
		model = s.sim.cfg.AnthropicModel
	}

	go s.streamChat(ctx, chatRunID, params.SessionKey, params.Message, model)
}

func (s *session) handleChatAbort(req *gateway.RequestFrame) {
	var params struct {
		SessionKey string `json:"sessionKey"`
		RunID      string `json:"runId"`
	}
	raw, _ := json.Marshal(req.Params)
	_ = json.Unmarshal(raw, &params)

	s.inFlightMu.Lock()
	cancel, ok := s.inFlight[params.RunID]
	s.inFlightMu.Unlock()
	if ok {
		cancel()
	}
	s.writeResult(req.ID, map[string]bool{"ok": true})
}

// streamChat drives one chat.send call to completion, pushing "chat"
// events as the response is produced; each delta event carries the
// cumulative text so far, not just the latest chunk. It is the only
// place gatewaysim talks to the Anthropic API (via chatResponder), or
// falls back to a canned streamed echo when no API key is configured.
func (s *session) streamChat(ctx context.Context, chatRunID, sessionKey, message, model string) {
	defer func() {
		s.inFlightMu.Lock()
		delete(s.inFlight, chatRunID)
		s.inFlightMu.Unlock()
	}()

	var sofar strings.Builder
	onDelta := func(text string) {
		sofar.WriteString(text)
		s.writeEvent("chat", gateway.ChatEvent{
			RunID:      chatRunID,
			SessionKey: sessionKey,
			State:      gateway.ChatDelta,
			Message:    &gateway.ChatMessage{Text: sofar.String()},
		})
	}

	final, err := s.sim.responder.respond(ctx, model, message, onDelta)

	switch {
	case ctx.Err() != nil:
		s.writeEvent("chat", gateway.ChatEvent{
			RunID:      chatRunID,
			SessionKey: sessionKey,
			State:      gateway.ChatAborted,
		})
	case err != nil:
		s.writeEvent("chat", gateway.ChatEvent{
			RunID:        chatRunID,
			SessionKey:   sessionKey,
			State:        gateway.ChatError,
			ErrorMessage: err.Error(),
		})
	default:
		s.writeEvent("chat", gateway.ChatEvent{
			RunID:      chatRunID,
			SessionKey: sessionKey,
			State:      gateway.ChatFinal,
			Message:    &gateway.ChatMessage{Text: final},
		})
	}
}

func (s *session) writeResult(id string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode rpc result", zap.Error(err))
		return
	}
	s.writeFrame(&gateway.ResponseFrame{Type: gateway.FrameResponse, ID: id, OK: true, Payload: data})
}

func (s *session) writeError(id, code, message string) {
	s.writeFrame(&gateway.ResponseFrame{
		Type:  gateway.FrameResponse,
		ID:    id,
		OK:    false,
		Error: &gateway.RPCErrorBody{Code: code, Message: message},
	})
}

func (s *session) writeEvent(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encode event payload", zap.Error(err))
		return
	}
	s.writeFrame(&gateway.EventFrame{Type: gateway.FrameEvent, Event: event, Payload: data})
}

func (s *session) writeFrame(v interface{}) {
	data, err := gateway.EncodeFrame(v)
	if err != nil {
		s.logger.Error("encode frame", zap.Error(err))
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Warn("write frame failed", zap.Error(err))
	}
}
