package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ringlinehq/ringline/internal/pkg/env"
)

const defaultTwilioAPIBaseURL = "https://api.twilio.com/2010-04-01"

const (
	OpTwilioGetCall            = "twilio:get_call"
	OpTwilioUpdatePhoneNumber  = "twilio:update_phone_number"
	OpTwilioReleasePhoneNumber = "twilio:release_phone_number"
)

// TwilioClient covers the telephony operations the processors use: call
// detail lookups and phone-number lifecycle on tenant conversion/teardown.
type TwilioClient struct {
	AccountSID string
	AuthToken  string
	APIBaseURL string

	HTTPClient *http.Client
	caller     *Caller
}

type TwilioCall struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
	Duration  string `json:"duration"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// NewTwilioClientFromEnv builds the telephony client from env configuration.
func NewTwilioClientFromEnv(caller *Caller) *TwilioClient {
	return &TwilioClient{
		AccountSID: strings.TrimSpace(env.GetEnv("TWILIO_ACCOUNT_SID", "")),
		AuthToken:  strings.TrimSpace(env.GetEnv("TWILIO_AUTH_TOKEN", "")),
		APIBaseURL: strings.TrimSpace(env.GetEnv("TWILIO_API_BASE_URL", defaultTwilioAPIBaseURL)),
		HTTPClient: &http.Client{
			Timeout: defaultHTTPTimeout,
		},
		caller: caller,
	}
}

// GetCall retrieves call details by SID.
func (c *TwilioClient) GetCall(ctx context.Context, callSID string) (*TwilioCall, error) {
	var call TwilioCall
	path := fmt.Sprintf("/Accounts/%s/Calls/%s.json", url.PathEscape(c.AccountSID), url.PathEscape(callSID))
	err := c.caller.Call(OpTwilioGetCall, func() error {
		return c.do(ctx, OpTwilioGetCall, http.MethodGet, path, nil, &call)
	})
	if err != nil {
		return nil, err
	}
	return &call, nil
}

// UpdatePhoneNumber repoints a provisioned number's voice webhook, used when
// a trial converts and its assistant moves to the business tenant.
func (c *TwilioClient) UpdatePhoneNumber(ctx context.Context, phoneNumberSID, voiceURL string) error {
	form := url.Values{}
	form.Set("VoiceUrl", voiceURL)
	path := fmt.Sprintf("/Accounts/%s/IncomingPhoneNumbers/%s.json", url.PathEscape(c.AccountSID), url.PathEscape(phoneNumberSID))
	return c.caller.Call(OpTwilioUpdatePhoneNumber, func() error {
		return c.do(ctx, OpTwilioUpdatePhoneNumber, http.MethodPost, path, form, nil)
	})
}

// ReleasePhoneNumber releases a provisioned number back to Twilio.
func (c *TwilioClient) ReleasePhoneNumber(ctx context.Context, phoneNumberSID string) error {
	path := fmt.Sprintf("/Accounts/%s/IncomingPhoneNumbers/%s.json", url.PathEscape(c.AccountSID), url.PathEscape(phoneNumberSID))
	return c.caller.Call(OpTwilioReleasePhoneNumber, func() error {
		return c.do(ctx, OpTwilioReleasePhoneNumber, http.MethodDelete, path, nil, nil)
	})
}

func (c *TwilioClient) do(ctx context.Context, operation, method, path string, form url.Values, out interface{}) error {
	var reader *strings.Reader
	if form != nil {
		reader = strings.NewReader(form.Encode())
	} else {
		reader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reader)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.AccountSID, c.AuthToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(operation, resp, out)
}
