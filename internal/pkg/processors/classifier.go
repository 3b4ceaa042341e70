package processors

import "strings"

// Call intents produced by the classifier.
const (
	IntentBooking        = "booking"
	IntentQuoteRequest   = "quote_request"
	IntentCancellation   = "cancellation"
	IntentEmergency      = "emergency"
	IntentGeneralInquiry = "general_inquiry"
)

// Tool-call name fragments mapped to intents. Checked before any transcript
// heuristic: an assistant that invoked a booking tool booked, whatever the
// transcript says.
var toolCallIntents = []struct {
	fragment string
	intent   string
}{
	{"book", IntentBooking},
	{"schedule", IntentBooking},
	{"appointment", IntentBooking},
	{"quote", IntentQuoteRequest},
	{"estimate", IntentQuoteRequest},
	{"cancel", IntentCancellation},
}

// Transcript keyword heuristics, second tier.
var transcriptIntents = []struct {
	keyword string
	intent  string
}{
	{"emergency", IntentEmergency},
	{"urgent", IntentEmergency},
	{"cancel my", IntentCancellation},
	{"reschedule", IntentBooking},
	{"appointment", IntentBooking},
	{"book", IntentBooking},
	{"schedule", IntentBooking},
	{"how much", IntentQuoteRequest},
	{"quote", IntentQuoteRequest},
	{"estimate", IntentQuoteRequest},
	{"price", IntentQuoteRequest},
}

// ClassifyIntent applies the three-tier precedence: function-call evidence
// first, transcript keywords second, the payload's explicit intent (or the
// default) last. The rules are deliberately simple pattern matches; swapping
// in a smarter classifier only means replacing this function.
func ClassifyIntent(toolCallNames []string, transcript, explicit string) string {
	for _, name := range toolCallNames {
		lowered := strings.ToLower(name)
		for _, rule := range toolCallIntents {
			if strings.Contains(lowered, rule.fragment) {
				return rule.intent
			}
		}
	}

	lowered := strings.ToLower(transcript)
	for _, rule := range transcriptIntents {
		if strings.Contains(lowered, rule.keyword) {
			return rule.intent
		}
	}

	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return explicit
	}
	return IntentGeneralInquiry
}
