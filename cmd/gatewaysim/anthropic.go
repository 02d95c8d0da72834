package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const maxResponseTokens = 1024

// chatResponder produces the text for a chat.send call, streaming
// incremental deltas through onDelta as they arrive. With no API key
// configured it falls back to a canned, chunked echo so the rest of
// the protocol can be exercised without live credentials.
type chatResponder struct {
	client  anthropic.Client
	enabled bool
	logger  *zap.Logger
}

func newChatResponder(apiKey, model string, logger *zap.Logger) *chatResponder {
	if apiKey == "" {
		return &chatResponder{enabled: false, logger: logger}
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &chatResponder{client: client, enabled: true, logger: logger}
}

func (r *chatResponder) respond(ctx context.Context, model, message string, onDelta func(string)) (string, error) {
	if !r.enabled {
		return r.echo(ctx, message, onDelta)
	}

	stream := r.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxResponseTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(message)),
		},
	})

	var full strings.Builder
	for stream.Next() {
		event := stream.Current()
		delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		text := delta.Delta.Text
		if text == "" {
			continue
		}
		full.WriteString(text)
		onDelta(text)
	}
	if err := stream.Err(); err != nil {
		return "", fmt.Errorf("anthropic stream: %w", err)
	}
	return full.String(), nil
}

// echo is the offline fallback: it replays the request message back,
// prefixed with "echo: ", one whitespace-separated word per chunk, so
// a caller exercising the protocol sees multiple deltas before final.
func (r *chatResponder) echo(ctx context.Context, message string, onDelta func(string)) (string, error) {
	words := strings.Fields("echo: " + message)
	var full strings.Builder
	for i, w := range words {
		select {
		case <-ctx.Done():
			return full.String(), ctx.Err()
		default:
		}
		chunk := w
		if i > 0 {
			chunk = " " + w
		}
		full.WriteString(chunk)
		onDelta(chunk)
	}
	return full.String(), nil
}
