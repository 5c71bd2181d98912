package llm

import (
	"context"
	"fmt"
	"strings"
)

// FirstChoice safely returns the first choice from a ChatResponse.
// Returns an error if the response is nil or has no choices.
func FirstChoice(resp *ChatResponse) (ChatChoice, error) {
	if resp == nil {
		return ChatChoice{}, fmt.Errorf("nil ChatResponse")
	}
	if len(resp.Choices) == 0 {
		return ChatChoice{}, fmt.Errorf("empty choices in ChatResponse (model returned no choices)")
	}
	return resp.Choices[0], nil
}

// ReplyText returns the text of the first choice.
func ReplyText(resp *ChatResponse) (string, error) {
	choice, err := FirstChoice(resp)
	if err != nil {
		return "", err
	}
	return choice.Message.Content, nil
}

// UserPrompt builds a request that carries prompt as its only user message.
func UserPrompt(model, prompt string) *ChatRequest {
	return &ChatRequest{
		Model:    model,
		Messages: []Message{{Role: RoleUser, Content: prompt}},
	}
}

// CollectStream drains a stream and concatenates its deltas. It stops at the
// first chunk error or when ctx is done.
func CollectStream(ctx context.Context, ch <-chan StreamChunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				return sb.String(), nil
			}
			if chunk.Err != nil {
				return sb.String(), chunk.Err
			}
			sb.WriteString(chunk.Delta.Content)
		}
	}
}
