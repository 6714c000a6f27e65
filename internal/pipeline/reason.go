package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultChatEndpoint = "https://api.openai.com/v1/chat/completions"

// ChatReasoner implements the reasoning stage against a chat-completions
// API. Each call sends the full conversation history; the stage itself is
// stateless.
type ChatReasoner struct {
	apiKey string
	model  string

	// Endpoint is overridable for tests; defaults to the public API.
	Endpoint string

	client *http.Client
}

func NewChatReasoner(apiKey, chatModel string) *ChatReasoner {
	return &ChatReasoner{
		apiKey:   apiKey,
		model:    chatModel,
		Endpoint: defaultChatEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NextUtterance returns what the AI should say next.
func (c *ChatReasoner) NextUtterance(ctx context.Context, call CallContext, history []Exchange, callerText string) (string, error) {
	system := fmt.Sprintf(
		"You are making an outbound phone call. Purpose: %s. %s Keep replies short and conversational; you are speaking aloud.",
		call.Purpose, call.Instructions,
	)
	messages := []chatMessage{{Role: "system", Content: system}}
	for _, ex := range history {
		messages = append(messages, chatMessage{Role: ex.Role, Content: ex.Text})
	}
	if callerText == "" && len(history) == 0 {
		messages = append(messages, chatMessage{Role: "user", Content: "The call just connected. Greet the person and state why you are calling."})
	}
	return c.complete(ctx, messages)
}

// Summarize returns the terminal call-outcome summary.
func (c *ChatReasoner) Summarize(ctx context.Context, call CallContext, history []Exchange) (string, error) {
	messages := []chatMessage{{
		Role:    "system",
		Content: fmt.Sprintf("You made an outbound phone call. Purpose: %s.", call.Purpose),
	}}
	for _, ex := range history {
		messages = append(messages, chatMessage{Role: ex.Role, Content: ex.Text})
	}
	messages = append(messages, chatMessage{
		Role:    "user",
		Content: "Summarize the call outcome in one short paragraph: what was requested, what was agreed, and any follow-up needed.",
	})
	return c.complete(ctx, messages)
}

func (c *ChatReasoner) complete(ctx context.Context, messages []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Temperature: 0.7})
	if err != nil {
		return "", fmt.Errorf("pipeline: marshal chat request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("pipeline: build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("pipeline: chat request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("pipeline: chat request rejected with status %d", resp.StatusCode)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("pipeline: decode chat response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("pipeline: chat response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}
