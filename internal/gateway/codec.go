package gateway

import (
	"encoding/json"
	"fmt"
)

// FrameType discriminates the three frame shapes that share the wire.
type FrameType string

const (
	FrameRequest  FrameType = "req"
	FrameResponse FrameType = "res"
	FrameEvent    FrameType = "event"
)

// RequestFrame is sent by the client; ID is echoed back on the
// matching ResponseFrame.
type RequestFrame struct {
	Type   FrameType   `json:"type"`
	ID     string      `json:"id"`
	Method string      `json:"method"`
	Params interface{} `json:"params,omitempty"`
}

// ResponseFrame is sent by the gateway in reply to a RequestFrame.
type ResponseFrame struct {
	Type    FrameType       `json:"type"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *RPCErrorBody   `json:"error,omitempty"`
}

// RPCErrorBody is the server-supplied error carried in a failed
// ResponseFrame.
type RPCErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// EventFrame is an unsolicited push from the gateway. Seq, when
// present, is used only for logging — the core does not require event
// ordering beyond what the transport already provides.
type EventFrame struct {
	Type    FrameType       `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

// envelope is decoded first to discover which of the three shapes a
// raw frame is before unmarshalling it fully.
type envelope struct {
	Type FrameType `json:"type"`
}

// DecodeFrame parses a raw wire frame into one of RequestFrame,
// ResponseFrame, or EventFrame. Unknown frame types are ignored for
// forward compatibility: DecodeFrame returns (nil, nil, nil) for them.
func DecodeFrame(raw []byte) (req *RequestFrame, res *ResponseFrame, event *EventFrame, err error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, nil, fmt.Errorf("decode frame envelope: %w", err)
	}

	switch env.Type {
	case FrameRequest:
		var f RequestFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, nil, nil, fmt.Errorf("decode request frame: %w", err)
		}
		return &f, nil, nil, nil
	case FrameResponse:
		var f ResponseFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, nil, nil, fmt.Errorf("decode response frame: %w", err)
		}
		return nil, &f, nil, nil
	case FrameEvent:
		var f EventFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, nil, nil, fmt.Errorf("decode event frame: %w", err)
		}
		return nil, nil, &f, nil
	default:
		return nil, nil, nil, nil
	}
}

// EncodeFrame serializes any of the three frame shapes. The caller is
// expected to have set Type correctly (NewRequestFrame does this
// automatically for request frames).
func EncodeFrame(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return data, nil
}

func NewRequestFrame(id, method string, params interface{}) *RequestFrame {
	return &RequestFrame{Type: FrameRequest, ID: id, Method: method, Params: params}
}
