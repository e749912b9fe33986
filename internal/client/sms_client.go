package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSClient talks to the provider gateway API. Every call is bounded by the
// client timeout; there is no automatic retry.
type SMSClient struct {
	baseURL string
	client  *http.Client
}

const defaultTimeout = 30 * time.Second

func NewSMSClient(baseURL string) *SMSClient {
	return &SMSClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: defaultTimeout,
		},
	}
}

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type tokenRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Token       string `json:"token,omitempty"`
}

type providerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Result  struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	} `json:"result"`
}

// Send submits one SMS and returns the provider message id. Provider-reported
// failures (success=false) surface as errors just like transport failures.
func (c *SMSClient) Send(ctx context.Context, to, message string) (string, error) {
	resp, err := c.post(ctx, "/send-sms", sendRequest{To: to, Message: message})
	if err != nil {
		return "", err
	}
	if resp.Result.SID == "" {
		return "", fmt.Errorf("missing message sid in provider response")
	}
	return resp.Result.SID, nil
}

// SendToken delivers an authentication code over SMS. An empty token lets the
// provider generate one.
func (c *SMSClient) SendToken(ctx context.Context, phoneNumber, token string) error {
	_, err := c.post(ctx, "/send-token-by-sms", tokenRequest{PhoneNumber: phoneNumber, Token: token})
	return err
}

func (c *SMSClient) post(ctx context.Context, path string, payload any) (*providerResponse, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	var pr providerResponse
	if err := json.Unmarshal(body, &pr); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
		}
		return nil, fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}

	if !pr.Success {
		reason := pr.Message
		if reason == "" {
			reason = pr.Error
		}
		if reason == "" {
			reason = fmt.Sprintf("provider returned status %d", resp.StatusCode)
		}
		return nil, fmt.Errorf("provider rejected send: %s", reason)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	return &pr, nil
}
