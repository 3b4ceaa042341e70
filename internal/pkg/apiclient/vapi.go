package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/ringlinehq/ringline/internal/pkg/env"
)

const defaultVapiAPIBaseURL = "https://api.vapi.ai"

const (
	OpVapiGetCall         = "vapi:get_call"
	OpVapiGetAssistant    = "vapi:get_assistant"
	OpVapiUpdateAssistant = "vapi:update_assistant"
	OpVapiDeleteAssistant = "vapi:delete_assistant"
)

// VapiClient covers the voice-assistant runtime operations the processors
// use: call/assistant lookups and assistant lifecycle on tenant teardown.
type VapiClient struct {
	APIKey     string
	APIBaseURL string

	HTTPClient *http.Client
	caller     *Caller
}

type VapiCall struct {
	ID           string  `json:"id"`
	AssistantID  string  `json:"assistantId"`
	Status       string  `json:"status"`
	EndedReason  string  `json:"endedReason"`
	RecordingURL string  `json:"recordingUrl"`
	Transcript   string  `json:"transcript"`
	Cost         float64 `json:"cost"`
}

type VapiAssistant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewVapiClientFromEnv builds the assistant client from env configuration.
func NewVapiClientFromEnv(caller *Caller) *VapiClient {
	return &VapiClient{
		APIKey:     strings.TrimSpace(env.GetEnv("VAPI_API_KEY", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("VAPI_API_BASE_URL", defaultVapiAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		caller: caller,
	}
}

// GetCall retrieves a call by id.
func (c *VapiClient) GetCall(ctx context.Context, callID string) (*VapiCall, error) {
	var call VapiCall
	err := c.caller.Call(OpVapiGetCall, func() error {
		return c.do(ctx, OpVapiGetCall, http.MethodGet, "/call/"+url.PathEscape(callID), nil, &call)
	})
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// GetAssistant retrieves an assistant by id.
func (c *VapiClient) GetAssistant(ctx context.Context, assistantID string) (*VapiAssistant, error) {
	var assistant VapiAssistant
	err := c.caller.Call(OpVapiGetAssistant, func() error {
		return c.do(ctx, OpVapiGetAssistant, http.MethodGet, "/assistant/"+url.PathEscape(assistantID), nil, &assistant)
	})
	if err != nil {
		return nil, err
	}
	return &assistant, nil
}

// UpdateAssistant patches mutable assistant fields.
func (c *VapiClient) UpdateAssistant(ctx context.Context, assistantID string, patch map[string]interface{}) error {
	return c.caller.Call(OpVapiUpdateAssistant, func() error {
		return c.do(ctx, OpVapiUpdateAssistant, http.MethodPatch, "/assistant/"+url.PathEscape(assistantID), patch, nil)
	})
}

// DeleteAssistant removes an assistant.
func (c *VapiClient) DeleteAssistant(ctx context.Context, assistantID string) error {
	return c.caller.Call(OpVapiDeleteAssistant, func() error {
		return c.do(ctx, OpVapiDeleteAssistant, http.MethodDelete, "/assistant/"+url.PathEscape(assistantID), nil, nil)
	})
}

func (c *VapiClient) do(ctx context.Context, operation, method, path string, payload interface{}, out interface{}) error {
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(operation, resp, out)
}
