package gateway

import "fmt"

// TransportError wraps a connection refused/dropped condition.
type TransportError struct{ Err error }

func (e *TransportError) Error() string { return fmt.Sprintf("transport error: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError wraps a malformed frame or unexpected field shape.
type ProtocolError struct{ Msg string }

func (e *ProtocolError) Error() string { return fmt.Sprintf("protocol error: %s", e.Msg) }

// AuthError reports a connect handshake whose reply was not hello-ok.
// A server that rejects the connect request itself (for example a bad
// device signature) or a later call (for example a missing scope)
// surfaces as RPCError carrying the server's code, not as AuthError.
// The client retries neither.
type AuthError struct{ Msg string }

func (e *AuthError) Error() string { return fmt.Sprintf("auth error: %s", e.Msg) }

// RPCError wraps any ok:false response, carrying the server's code
// and message verbatim.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error [%s]: %s", e.Code, e.Message) }

// TimeoutError wraps a per-RPC or per-chat wait exceeding its bound.
type TimeoutError struct{ Op string }

func (e *TimeoutError) Error() string { return fmt.Sprintf("timeout waiting for %s", e.Op) }
