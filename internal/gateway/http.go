package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPGateway forwards sends to a bridge service that owns the channel
// sessions, e.g. a WhatsApp multi-device sidecar.
type HTTPGateway struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

type sendRequest struct {
	To       string `json:"to"`
	Body     string `json:"body"`
	MediaURL string `json:"media_url,omitempty"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
	Error     string `json:"error,omitempty"`
}

func (g *HTTPGateway) Send(ctx context.Context, channelID int, recipient, body, mediaURL string) (string, error) {
	fail := func(retryable bool, err error) (string, error) {
		return "", &SendError{ChannelID: channelID, Recipient: recipient, Retryable: retryable, Err: err}
	}

	payload, err := json.Marshal(sendRequest{To: recipient, Body: body, MediaURL: mediaURL})
	if err != nil {
		return fail(false, err)
	}
	url := fmt.Sprintf("%s/channels/%d/messages", g.BaseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fail(false, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.Client.Do(req)
	if err != nil {
		return fail(true, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fail(true, err)
	}
	var out sendResponse
	_ = json.Unmarshal(raw, &out)

	if resp.StatusCode >= 300 {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return fail(retryable, fmt.Errorf("bridge returned %d: %s", resp.StatusCode, msg))
	}
	if out.MessageID == "" {
		return fail(false, fmt.Errorf("bridge response has no message_id"))
	}
	return out.MessageID, nil
}
