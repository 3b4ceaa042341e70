// Package webhook authenticates inbound provider notifications. Every scheme
// operates over the exact request bytes, so callers must capture the raw body
// before any structured parsing.
package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ringlinehq/ringline/app/models"
	"github.com/ringlinehq/ringline/internal/pkg/env"
)

var (
	// ErrUnknownProvider maps to 404 at the HTTP boundary.
	ErrUnknownProvider = errors.New("unknown webhook provider")
	// ErrInvalidSignature maps to 401; no event is recorded.
	ErrInvalidSignature = errors.New("invalid webhook signature")
)

// Signature header names per provider.
const (
	StripeSignatureHeader = "Stripe-Signature"
	TwilioSignatureHeader = "X-Twilio-Signature"
	VapiSignatureHeader   = "X-Vapi-Signature"
)

// stripeTimestampTolerance bounds replay of captured Stripe signatures.
const stripeTimestampTolerance = 5 * time.Minute

// HeaderGetter reads one request header; fiber's c.Get satisfies it.
type HeaderGetter func(key string) string

// Verifier checks inbound payload authenticity per provider scheme:
// Stripe's structured timestamp+signature header, Twilio's base64 HMAC-SHA1
// over URL+body, and Vapi's plain HMAC-SHA256 hex digest of the body.
type Verifier struct {
	StripeWebhookSecret string
	TwilioAuthToken     string
	TwilioWebhookURL    string
	VapiWebhookSecret   string

	now func() time.Time // injectable clock for tests
}

// NewVerifierFromEnv builds a Verifier from env configuration.
func NewVerifierFromEnv() *Verifier {
	return &Verifier{
		StripeWebhookSecret: strings.TrimSpace(env.GetEnv("STRIPE_WEBHOOK_SECRET", "")),
		TwilioAuthToken:     strings.TrimSpace(env.GetEnv("TWILIO_AUTH_TOKEN", "")),
		TwilioWebhookURL:    strings.TrimSpace(env.GetEnv("TWILIO_WEBHOOK_URL", "")),
		VapiWebhookSecret:   strings.TrimSpace(env.GetEnv("VAPI_WEBHOOK_SECRET", "")),
		now:                 time.Now,
	}
}

func (v *Verifier) clock() time.Time {
	if v.now != nil {
		return v.now()
	}
	return time.Now()
}

// Verify authenticates rawBody for the given provider. A nil return means
// the payload may be recorded; any error means it must not be.
func (v *Verifier) Verify(provider string, rawBody []byte, header HeaderGetter) error {
	switch provider {
	case models.ProviderStripe:
		return v.verifyStripe(rawBody, header(StripeSignatureHeader))
	case models.ProviderTwilio:
		return v.verifyTwilio(rawBody, header(TwilioSignatureHeader))
	case models.ProviderVapi:
		return v.verifyVapi(rawBody, header(VapiSignatureHeader))
	default:
		return ErrUnknownProvider
	}
}

// verifyStripe checks the structured "t=<unix>,v1=<hexsig>" header: the
// signature is HMAC-SHA256 over "<timestamp>.<body>" and the timestamp must
// be within tolerance.
func (v *Verifier) verifyStripe(rawBody []byte, signatureHeader string) error {
	if v.StripeWebhookSecret == "" || strings.TrimSpace(signatureHeader) == "" {
		return ErrInvalidSignature
	}

	var timestamp string
	var candidates [][]byte
	for _, part := range strings.Split(signatureHeader, ",") {
		k, val, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch k {
		case "t":
			timestamp = val
		case "v1":
			if sig, err := hex.DecodeString(val); err == nil {
				candidates = append(candidates, sig)
			}
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if age := v.clock().Sub(time.Unix(ts, 0)); age > stripeTimestampTolerance || age < -stripeTimestampTolerance {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(v.StripeWebhookSecret))
	fmt.Fprintf(mac, "%s.%s", timestamp, rawBody)
	expected := mac.Sum(nil)

	for _, sig := range candidates {
		if hmac.Equal(expected, sig) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// verifyTwilio checks the base64 HMAC-SHA1 computed over the configured
// public webhook URL followed by the raw body.
func (v *Verifier) verifyTwilio(rawBody []byte, signatureHeader string) error {
	sig := strings.TrimSpace(signatureHeader)
	if v.TwilioAuthToken == "" || v.TwilioWebhookURL == "" || sig == "" {
		return ErrInvalidSignature
	}

	expectedSig, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha1.New, []byte(v.TwilioAuthToken))
	mac.Write([]byte(v.TwilioWebhookURL))
	mac.Write(rawBody)
	if !hmac.Equal(mac.Sum(nil), expectedSig) {
		return ErrInvalidSignature
	}
	return nil
}

// verifyVapi checks the plain HMAC-SHA256 hex digest of the body with a
// timing-safe comparison.
func (v *Verifier) verifyVapi(rawBody []byte, signatureHeader string) error {
	sig := strings.ToLower(strings.TrimSpace(signatureHeader))
	if v.VapiWebhookSecret == "" || sig == "" {
		return ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, []byte(v.VapiWebhookSecret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))

	if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}
