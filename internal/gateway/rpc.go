package gateway

import (
	"context"
	"encoding/json"
	"fmt"
)

// Agent describes an entry in the agents.list response.
type Agent struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Identity string `json:"identity,omitempty"`
}

// AgentsListResult is the agents.list payload.
type AgentsListResult struct {
	DefaultID string  `json:"defaultId"`
	MainKey   string  `json:"mainKey"`
	Agents    []Agent `json:"agents"`
}

func (c *Client) AgentsList(ctx context.Context) (*AgentsListResult, error) {
	payload, err := c.request(ctx, "agents.list", nil)
	if err != nil {
		return nil, err
	}
	var out AgentsListResult
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ProtocolError{Msg: "agents.list: " + err.Error()}
	}
	return &out, nil
}

// Model describes an entry in the models.list response.
type Model struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// ModelsListResult is the models.list payload.
type ModelsListResult struct {
	Models []Model `json:"models"`
}

func (c *Client) ModelsList(ctx context.Context) (*ModelsListResult, error) {
	payload, err := c.request(ctx, "models.list", nil)
	if err != nil {
		return nil, err
	}
	var out ModelsListResult
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ProtocolError{Msg: "models.list: " + err.Error()}
	}
	return &out, nil
}

func (c *Client) SessionsReset(ctx context.Context, sessionKey string) error {
	_, err := c.request(ctx, "sessions.reset", map[string]string{"sessionKey": sessionKey})
	return err
}

// SessionsPatch applies partial session settings such as {model: ...}.
func (c *Client) SessionsPatch(ctx context.Context, sessionKey string, patch map[string]interface{}) error {
	params := map[string]interface{}{"sessionKey": sessionKey}
	for k, v := range patch {
		params[k] = v
	}
	_, err := c.request(ctx, "sessions.patch", params)
	return err
}

// ChatSendOptions configures a chat.send call.
type ChatSendOptions struct {
	IdempotencyKey string
	TimeoutMs      int64
	ModelID        string
}

// ChatSendResult is the chat.send response payload. RunID here is a
// gateway-assigned chat run ID, distinct from the orchestrator's own
// run ID (spec.md §4.2).
type ChatSendResult struct {
	RunID string `json:"runId"`
}

func (c *Client) ChatSend(ctx context.Context, sessionKey, message string, opts ChatSendOptions) (*ChatSendResult, error) {
	params := map[string]interface{}{
		"sessionKey": sessionKey,
		"message":    message,
	}
	if opts.IdempotencyKey != "" {
		params["idempotencyKey"] = opts.IdempotencyKey
	}
	if opts.TimeoutMs > 0 {
		params["timeoutMs"] = opts.TimeoutMs
	}
	if opts.ModelID != "" {
		params["modelId"] = opts.ModelID
	}

	payload, err := c.request(ctx, "chat.send", params)
	if err != nil {
		return nil, err
	}
	var out ChatSendResult
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ProtocolError{Msg: "chat.send: " + err.Error()}
	}
	return &out, nil
}

func (c *Client) ChatAbort(ctx context.Context, sessionKey, chatRunID string) error {
	params := map[string]interface{}{"sessionKey": sessionKey}
	if chatRunID != "" {
		params["runId"] = chatRunID
	}
	_, err := c.request(ctx, "chat.abort", params)
	return err
}

// ChatState enumerates the states carried by a chat event.
type ChatState string

const (
	ChatDelta   ChatState = "delta"
	ChatFinal   ChatState = "final"
	ChatError   ChatState = "error"
	ChatAborted ChatState = "aborted"
)

// ChatEvent is the payload shape of the "chat" event (spec.md §4.2).
type ChatEvent struct {
	RunID        string      `json:"runId"`
	SessionKey   string      `json:"sessionKey"`
	State        ChatState   `json:"state"`
	Message      *ChatMessage `json:"message,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// ChatMessage carries the model's message content, which the gateway
// may encode as a plain string, a list of content blocks, or a
// top-level Text fallback.
type ChatMessage struct {
	Content json.RawMessage `json:"content,omitempty"`
	Text    string          `json:"text,omitempty"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractText implements spec.md §4.2's content-shape rules: Content
// may be a bare string, a list of {type:"text", text} blocks (non-text
// blocks are ignored), or absent with Text providing the string.
func (m *ChatMessage) ExtractText() string {
	if m == nil {
		return ""
	}
	if len(m.Content) > 0 {
		var asString string
		if err := json.Unmarshal(m.Content, &asString); err == nil {
			return asString
		}

		var blocks []contentBlock
		if err := json.Unmarshal(m.Content, &blocks); err == nil {
			var sb []byte
			for _, b := range blocks {
				if b.Type == "text" {
					sb = append(sb, b.Text...)
				}
			}
			return string(sb)
		}
	}
	return m.Text
}

// ParseChatEvent decodes an EventFrame known to be "chat".
func ParseChatEvent(ev EventFrame) (*ChatEvent, error) {
	var out ChatEvent
	if err := json.Unmarshal(ev.Payload, &out); err != nil {
		return nil, fmt.Errorf("parse chat event: %w", err)
	}
	return &out, nil
}
