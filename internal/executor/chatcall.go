package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/arborflow/arborflow/internal/gateway"
	"github.com/arborflow/arborflow/internal/graph"
)

const chatHardTimeout = 120 * time.Second

// chatOutcome is delivered once per chat.send call, either from a
// final event, an error/aborted event, or synthesized on timeout.
type chatOutcome struct {
	text string
	err  error
}

// runChatCompletion drives one full chat.send round trip: reset the
// session, optionally pin the model, subscribe to cumulative delta
// events emitting nodeDelta/thinking as they arrive, send the message,
// and wait for a terminal state. It is shared by the agent, merge,
// judge and extract executors (spec.md §4.3).
//
// allowPartialOnTimeout controls whether a hard-timeout with some text
// already observed returns that text instead of a TimeoutError; only
// the merge executor's llm/consensus modes ask for this.
func runChatCompletion(ctx context.Context, deps *Deps, nodeID, sessionKey, modelID, message string, allowPartialOnTimeout bool) (string, error) {
	if err := deps.Gateway.SessionsReset(ctx, sessionKey); err != nil {
		// A nonexistent session on first use is expected; logged upstream
		// by the gateway client, not fatal here.
		_ = err
	}
	if modelID != "" {
		_ = deps.Gateway.SessionsPatch(ctx, sessionKey, map[string]interface{}{"model": modelID})
	}

	var tracker gateway.DeltaTracker
	done := make(chan chatOutcome, 1)
	sendOnce := func(o chatOutcome) {
		select {
		case done <- o:
		default:
		}
	}

	handler := func(ev gateway.EventFrame) {
		if ev.Event != "chat" {
			return
		}
		chatEv, err := gateway.ParseChatEvent(ev)
		if err != nil || chatEv.SessionKey != sessionKey {
			return
		}
		switch chatEv.State {
		case gateway.ChatDelta, gateway.ChatFinal:
			full := chatEv.Message.ExtractText()
			delta := tracker.Advance(full)
			if delta != "" {
				deps.Emit(graph.RunEvent{Type: graph.EventNodeDelta, NodeID: nodeID, Data: &graph.NodePayload{Text: delta}})
				deps.Emit(graph.RunEvent{Type: graph.EventThinking, NodeID: nodeID, Content: preview(delta)})
				if m := deps.Gateway.Metrics(); m != nil {
					m.RecordChatDelta()
				}
			}
			if chatEv.State == gateway.ChatFinal {
				sendOnce(chatOutcome{text: tracker.Text()})
			}
		case gateway.ChatError:
			sendOnce(chatOutcome{err: fmt.Errorf("chat error: %s", chatEv.ErrorMessage)})
		case gateway.ChatAborted:
			sendOnce(chatOutcome{err: fmt.Errorf("chat aborted")})
		}
	}

	token := deps.Gateway.On("chat", handler)
	defer deps.Gateway.Off("chat", token)

	res, err := deps.Gateway.ChatSend(ctx, sessionKey, message, gateway.ChatSendOptions{ModelID: modelID})
	if err != nil {
		return "", err
	}
	deps.SetInFlight(nodeID, sessionKey, res.RunID)
	defer deps.ClearInFlight(nodeID)

	timer := time.NewTimer(chatHardTimeout)
	defer timer.Stop()

	select {
	case outcome := <-done:
		if outcome.err != nil {
			return "", outcome.err
		}
		return outcome.text, nil
	case <-timer.C:
		if allowPartialOnTimeout && tracker.Text() != "" {
			return tracker.Text(), nil
		}
		return "", &gateway.TimeoutError{Op: "chat.send:" + sessionKey}
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func preview(s string) string {
	const maxLen = 80
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
