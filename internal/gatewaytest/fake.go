// Package gatewaytest provides an in-process fake implementation of
// the remote gateway's wire protocol (spec.md §4.1, §4.2) for tests
// that exercise internal/gateway.Client and its callers without a real
// network dependency. Spec.md §8 Scenario 4 calls for exactly this: "a
// simulated gateway" driving delta/final events.
package gatewaytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/arborflow/arborflow/internal/gateway"
)

// ChatScript describes how the fake gateway responds to one chat.send
// call: either a sequence of cumulative delta texts ending in a final
// event, or an error/aborted terminal event.
type ChatScript struct {
	Deltas       []string // cumulative texts, last one doubles as the final text unless FinalText is set
	FinalText    string
	ErrorMessage string
	Aborted      bool
}

// Server is a minimal gateway peer: it completes the handshake
// unconditionally (no challenge, no signature check) and answers
// chat.send/invoke calls from pre-registered scripts.
type Server struct {
	httpServer *httptest.Server

	mu              sync.Mutex
	chatScripts     map[string]ChatScript
	invokeResponses map[string]interface{}
}

// NewServer starts a fake gateway and returns it; call Close when done.
func NewServer() *Server {
	s := &Server{
		chatScripts:     make(map[string]ChatScript),
		invokeResponses: make(map[string]interface{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.httpServer = httptest.NewServer(mux)
	return s
}

// URL returns a ws:// URL suitable for gateway.Config.URL.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http")
}

func (s *Server) Close() { s.httpServer.Close() }

// SetChatScript registers the script served for chat.send calls whose
// sessionKey equals key, or for any session if key is "".
func (s *Server) SetChatScript(key string, script ChatScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatScripts[key] = script
}

// SetInvokeResponse registers the payload returned for a generic
// request(method, ...) call (used by the Invoke node executor).
func (s *Server) SetInvokeResponse(method string, result interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invokeResponses[method] = result
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(v interface{}) {
		data, err := gateway.EncodeFrame(v)
		if err != nil {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, _, _, err := gateway.DecodeFrame(data)
		if err != nil || req == nil {
			continue
		}
		s.handleRequest(req, write)
	}
}

func (s *Server) handleRequest(req *gateway.RequestFrame, write func(interface{})) {
	switch req.Method {
	case "connect":
		write(&gateway.ResponseFrame{Type: gateway.FrameResponse, ID: req.ID, OK: true, Payload: rawJSON(map[string]interface{}{
			"type":   "hello-ok",
			"server": map[string]interface{}{"version": "fake-1", "connId": uuid.NewString()},
		})})
	case "sessions.reset", "sessions.patch":
		write(&gateway.ResponseFrame{Type: gateway.FrameResponse, ID: req.ID, OK: true, Payload: rawJSON(map[string]interface{}{})})
	case "chat.abort":
		var params struct {
			SessionKey string `json:"sessionKey"`
			RunID      string `json:"runId"`
		}
		decodeParams(req.Params, &params)
		write(&gateway.ResponseFrame{Type: gateway.FrameResponse, ID: req.ID, OK: true, Payload: rawJSON(map[string]interface{}{})})
		s.emitChat(write, params.SessionKey, params.RunID, "aborted", "", "")
	case "chat.send":
		var params struct {
			SessionKey string `json:"sessionKey"`
			Message    string `json:"message"`
		}
		decodeParams(req.Params, &params)
		runID := uuid.NewString()
		write(&gateway.ResponseFrame{Type: gateway.FrameResponse, ID: req.ID, OK: true, Payload: rawJSON(map[string]interface{}{"runId": runID})})
		go s.driveChatScript(params.SessionKey, runID, write)
	default:
		s.mu.Lock()
		result, ok := s.invokeResponses[req.Method]
		s.mu.Unlock()
		if !ok {
			result = map[string]interface{}{}
		}
		write(&gateway.ResponseFrame{Type: gateway.FrameResponse, ID: req.ID, OK: true, Payload: rawJSON(result)})
	}
}

func (s *Server) driveChatScript(sessionKey, runID string, write func(interface{})) {
	s.mu.Lock()
	script, ok := s.chatScripts[sessionKey]
	if !ok {
		script, ok = s.chatScripts[""]
	}
	s.mu.Unlock()
	if !ok {
		script = ChatScript{Deltas: []string{"ok"}}
	}

	time.Sleep(5 * time.Millisecond)

	if script.ErrorMessage != "" {
		s.emitChat(write, sessionKey, runID, "error", "", script.ErrorMessage)
		return
	}
	if script.Aborted {
		s.emitChat(write, sessionKey, runID, "aborted", "", "")
		return
	}

	for i, text := range script.Deltas {
		state := "delta"
		if i == len(script.Deltas)-1 && script.FinalText == "" {
			state = "final"
		}
		s.emitChat(write, sessionKey, runID, state, text, "")
		time.Sleep(2 * time.Millisecond)
	}
	if script.FinalText != "" {
		s.emitChat(write, sessionKey, runID, "final", script.FinalText, "")
	}
}

func (s *Server) emitChat(write func(interface{}), sessionKey, runID, state, text, errMsg string) {
	payload := map[string]interface{}{
		"runId":      runID,
		"sessionKey": sessionKey,
		"state":      state,
	}
	if errMsg != "" {
		payload["errorMessage"] = errMsg
	}
	if state == "delta" || state == "final" {
		payload["message"] = map[string]interface{}{"text": text}
	}
	write(&gateway.EventFrame{Type: gateway.FrameEvent, Event: "chat", Payload: rawJSON(payload)})
}

// decodeParams re-marshals req.Params (already decoded into a generic
// interface{} by gateway.DecodeFrame) and unmarshals it into v, since
// encoding/json leaves interface{} fields as maps rather than raw bytes.
func decodeParams(params interface{}, v interface{}) {
	data, err := json.Marshal(params)
	if err != nil {
		return
	}
	_ = json.Unmarshal(data, v)
}

func rawJSON(v interface{}) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
