package subagent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrWaitTimeout reports that a remote assistant did not answer within the
// configured max wait. The session guard converts it to a terminal
// *tool.SubAgentTimeoutError for that call.
var ErrWaitTimeout = errors.New("subagent: reply wait timed out")

// Reply is the remote assistant's answer.
type Reply struct {
	Text       string `json:"text"`
	ChatID     string `json:"chatId"`
	Assessment string `json:"assessment,omitempty"`
}

// Transport delivers a message to a remote assistant session and waits for
// its reply. chatID is empty for a fresh session; implementations return the
// (possibly new) chat id on the Reply.
type Transport interface {
	SendMessageAndWait(ctx context.Context, assistantID, text, chatID string, pollInterval, maxWait time.Duration) (*Reply, error)
}

// HTTPTransport polls a platform REST API for the assistant's reply.
type HTTPTransport struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewHTTPTransport creates a polling transport against baseURL.
func NewHTTPTransport(baseURL, apiKey string) *HTTPTransport {
	return &HTTPTransport{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type sendMessageRequest struct {
	Text   string `json:"text"`
	ChatID string `json:"chat_id,omitempty"`
}

type sendMessageResponse struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

type pollMessageResponse struct {
	Status     string `json:"status"` // pending, answered, failed
	Text       string `json:"text,omitempty"`
	Assessment string `json:"assessment,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SendMessageAndWait posts the message and polls until the assistant answers
// or maxWait elapses.
func (t *HTTPTransport) SendMessageAndWait(ctx context.Context, assistantID, text, chatID string, pollInterval, maxWait time.Duration) (*Reply, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	sent, err := t.sendMessage(ctx, assistantID, text, chatID)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		if maxWait > 0 && time.Now().After(deadline) {
			return nil, fmt.Errorf("assistant %s after %s: %w", assistantID, maxWait, ErrWaitTimeout)
		}

		polled, err := t.pollMessage(ctx, sent.MessageID)
		if err != nil {
			return nil, err
		}

		switch polled.Status {
		case "answered":
			return &Reply{
				Text:       polled.Text,
				ChatID:     sent.ChatID,
				Assessment: polled.Assessment,
			}, nil
		case "failed":
			return nil, fmt.Errorf("assistant %s failed: %s", assistantID, polled.Error)
		}
	}
}

func (t *HTTPTransport) sendMessage(ctx context.Context, assistantID, text, chatID string) (*sendMessageResponse, error) {
	body, err := json.Marshal(sendMessageRequest{Text: text, ChatID: chatID})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/assistants/%s/messages", t.BaseURL, assistantID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("send message: unexpected status %d", resp.StatusCode)
	}

	var sent sendMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&sent); err != nil {
		return nil, fmt.Errorf("send message: decode response: %w", err)
	}
	return &sent, nil
}

func (t *HTTPTransport) pollMessage(ctx context.Context, messageID string) (*pollMessageResponse, error) {
	url := fmt.Sprintf("%s/messages/%s", t.BaseURL, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if t.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.APIKey)
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("poll message: unexpected status %d", resp.StatusCode)
	}

	var polled pollMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&polled); err != nil {
		return nil, fmt.Errorf("poll message: decode response: %w", err)
	}
	return &polled, nil
}
