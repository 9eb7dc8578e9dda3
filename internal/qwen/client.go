// Package qwen is the HTTP client for the DashScope text-generation
// service. It supports the legacy completion endpoint and the
// OpenAI-compatible chat endpoint; the mode is a deployment choice.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	textGenerationURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"
	chatCompletionURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
)

// Mode selects the wire protocol.
type Mode string

const (
	// ModeText is the legacy completion endpoint: one combined prompt,
	// response under output.text or output.choices[0].message.content.
	ModeText Mode = "text"
	// ModeCompatible is the chat endpoint: separate system/user messages
	// with structured-object-only output forced.
	ModeCompatible Mode = "compatible"
)

// TransientError marks a failure worth retrying: 429/5xx statuses,
// transport errors and timeouts, or a 2xx response with no usable text.
type TransientError struct {
	msg string
	err error
}

func (e *TransientError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *TransientError) Unwrap() error { return e.err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var t *TransientError
	return errors.As(err, &t)
}

type Client struct {
	apiKey string
	model  string
	mode   Mode
	client *http.Client

	textURL string
	chatURL string
}

func NewClient(apiKey, model string, mode Mode) *Client {
	return &Client{
		apiKey:  apiKey,
		model:   model,
		mode:    mode,
		client:  &http.Client{},
		textURL: textGenerationURL,
		chatURL: chatCompletionURL,
	}
}

// SetTestTransport redirects both endpoints to a test server.
func (c *Client) SetTestTransport(url string) {
	c.textURL = url
	c.chatURL = url
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends one generation request and returns the raw model text.
// The timeout bounds this single attempt; retry policy lives with the
// caller.
func (c *Client) Complete(ctx context.Context, system, user string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		url     string
		payload any
	)
	if c.mode == ModeCompatible {
		url = c.chatURL
		payload = map[string]any{
			"model": c.model,
			"messages": []map[string]string{
				{"role": "system", "content": system},
				{"role": "user", "content": user},
			},
			"response_format": map[string]string{"type": "json_object"},
		}
	} else {
		url = c.textURL
		payload = map[string]any{
			"model": c.model,
			"input": map[string]any{
				"messages": []map[string]string{
					{"role": "user", "content": combinePrompts(system, user)},
				},
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &TransientError{msg: "dashscope request", err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &TransientError{msg: "read response", err: err}
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return "", &TransientError{msg: fmt.Sprintf("dashscope temporary error: %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("dashscope error %d: %s", resp.StatusCode, string(respBody))
	}

	if c.mode == ModeCompatible {
		return extractChatText(respBody)
	}
	return extractText(respBody)
}

func combinePrompts(system, user string) string {
	return fmt.Sprintf("system\n\n%s\n\nuser\n%s", system, user)
}

func extractText(body []byte) (string, error) {
	var payload struct {
		Output struct {
			Text    string `json:"text"`
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"output"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &TransientError{msg: "parse dashscope response", err: err}
	}
	if payload.Output.Text != "" {
		return payload.Output.Text, nil
	}
	if len(payload.Output.Choices) > 0 && payload.Output.Choices[0].Message.Content != "" {
		return payload.Output.Choices[0].Message.Content, nil
	}
	return "", &TransientError{msg: "dashscope response missing text content"}
}

func extractChatText(body []byte) (string, error) {
	var payload struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", &TransientError{msg: "parse dashscope response", err: err}
	}
	if len(payload.Choices) > 0 && payload.Choices[0].Message.Content != "" {
		return payload.Choices[0].Message.Content, nil
	}
	return "", &TransientError{msg: "dashscope compatible response missing content"}
}
