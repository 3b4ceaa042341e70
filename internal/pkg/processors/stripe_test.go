package processors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ringlinehq/ringline/app/models"
	"github.com/ringlinehq/ringline/internal/pkg/apiclient"
)

func TestBuildBusinessCarriesTrialAndSessionFields(t *testing.T) {
	trial := &models.Trial{
		ID:                7,
		BusinessName:      "Kim Plumbing",
		Email:             "kim@example.com",
		VapiAssistantID:   "asst_1",
		TwilioPhoneNumber: "+15550001111",
		TwilioPhoneSID:    "PN123",
	}
	session := checkoutSession{
		ID:           "cs_1",
		Customer:     "cus_1",
		Subscription: "sub_1",
	}
	sub := &apiclient.StripeSubscription{ID: "sub_1", Status: "active", CurrentPeriodEnd: 1767225600}

	business, err := buildBusiness(trial, session, models.SubscriptionStatusActive, sub)
	assert.NoError(t, err)
	assert.Equal(t, "Kim Plumbing", business.Name)
	assert.Equal(t, "kim@example.com", business.Email)
	assert.Equal(t, "cus_1", business.StripeCustomerID)
	assert.Equal(t, "sub_1", business.StripeSubscriptionID)
	assert.Equal(t, models.SubscriptionStatusActive, business.SubscriptionStatus)
	assert.Equal(t, "asst_1", business.VapiAssistantID)
	assert.Equal(t, "PN123", business.TwilioPhoneSID)
	assert.NotNil(t, business.CurrentPeriodEnd)
}

func TestBuildBusinessPrefersSessionEmail(t *testing.T) {
	trial := &models.Trial{ID: 7, BusinessName: "Kim Plumbing", Email: "kim@example.com"}
	session := checkoutSession{ID: "cs_1", Customer: "cus_1", CustomerEmail: "billing@example.com"}

	business, err := buildBusiness(trial, session, models.SubscriptionStatusActive, nil)
	assert.NoError(t, err)
	assert.Equal(t, "billing@example.com", business.Email)
	assert.Nil(t, business.CurrentPeriodEnd)
}

func TestBuildBusinessRejectsInvalidRows(t *testing.T) {
	// A trial with no business name falls back to its email as the name; a
	// single-character value fails the name length rule.
	_, err := buildBusiness(
		&models.Trial{ID: 7, Email: "x"},
		checkoutSession{ID: "cs_1", Customer: "cus_1"},
		models.SubscriptionStatusActive,
		nil,
	)
	assert.Error(t, err)

	_, err = buildBusiness(
		&models.Trial{ID: 7, BusinessName: "Kim Plumbing", Email: "kim@example.com"},
		checkoutSession{ID: "cs_1", Customer: "cus_1", CustomerEmail: "not-an-email"},
		models.SubscriptionStatusActive,
		nil,
	)
	assert.Error(t, err)
}

func TestNormalizeSubscriptionStatus(t *testing.T) {
	tests := []struct {
		stripeStatus string
		want         string
	}{
		{"active", models.SubscriptionStatusActive},
		{"ACTIVE", models.SubscriptionStatusActive},
		{"past_due", models.SubscriptionStatusPastDue},
		{"unpaid", models.SubscriptionStatusPastDue},
		{"incomplete", models.SubscriptionStatusPastDue},
		{"canceled", models.SubscriptionStatusCanceled},
		{"incomplete_expired", models.SubscriptionStatusCanceled},
		{"trialing", models.SubscriptionStatusTrialing},
		{" trialing ", models.SubscriptionStatusTrialing},
		{"something_new", models.SubscriptionStatusActive},
	}
	for _, tt := range tests {
		if got := normalizeSubscriptionStatus(tt.stripeStatus); got != tt.want {
			t.Errorf("normalizeSubscriptionStatus(%q) = %q, want %q", tt.stripeStatus, got, tt.want)
		}
	}
}

func TestBusinessName(t *testing.T) {
	if got := businessName(&models.Trial{BusinessName: "Kim Plumbing", Email: "kim@example.com"}); got != "Kim Plumbing" {
		t.Errorf("expected business name, got %q", got)
	}
	if got := businessName(&models.Trial{BusinessName: "  ", Email: "kim@example.com"}); got != "kim@example.com" {
		t.Errorf("expected email fallback, got %q", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "third"); got != "third" {
		t.Errorf("expected %q, got %q", "third", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}
