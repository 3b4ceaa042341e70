package processors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ringlinehq/ringline/app/models"
	"github.com/ringlinehq/ringline/internal/pkg/apiclient"
	"github.com/ringlinehq/ringline/internal/pkg/observability"
	"github.com/ringlinehq/ringline/internal/pkg/realtime"
	"github.com/ringlinehq/ringline/internal/pkg/tenant"
)

// AssistantAPI is the slice of the Vapi client the reconciler calls outbound
// to backfill reports that arrived without transcript or recording.
type AssistantAPI interface {
	GetCall(ctx context.Context, callID string) (*apiclient.VapiCall, error)
}

// EndOfCallReportType is the terminal Vapi event the reconciler acts on.
const EndOfCallReportType = "end-of-call-report"

// DefaultSLOThreshold bounds receipt-to-completion latency before a warning
// is raised to the observability sink.
const DefaultSLOThreshold = 3 * time.Second

// ToolCall is one function invocation the assistant made during the call.
type ToolCall struct {
	Name      string
	Arguments string
}

// callReport is the subset of the Vapi end-of-call-report envelope the
// reconciler reads.
type callReport struct {
	Message struct {
		Type string `json:"type"`
		Call struct {
			ID string `json:"id"`
		} `json:"call"`
		Assistant struct {
			ID string `json:"id"`
		} `json:"assistant"`
		StartedAt       time.Time          `json:"startedAt"`
		EndedAt         time.Time          `json:"endedAt"`
		DurationSeconds float64            `json:"durationSeconds"`
		RecordingURL    string             `json:"recordingUrl"`
		Transcript      string             `json:"transcript"`
		Cost            float64            `json:"cost"`
		CostBreakdown   map[string]float64 `json:"costBreakdown"`
		Analysis        struct {
			Intent         string                 `json:"intent"`
			StructuredData map[string]interface{} `json:"structuredData"`
		} `json:"analysis"`
		Artifact struct {
			Messages []struct {
				Role      string `json:"role"`
				ToolCalls []struct {
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"toolCalls"`
			} `json:"messages"`
		} `json:"artifact"`
	} `json:"message"`
}

func (r *callReport) toolCalls() []ToolCall {
	var calls []ToolCall
	for _, msg := range r.Message.Artifact.Messages {
		for _, tc := range msg.ToolCalls {
			calls = append(calls, ToolCall{Name: tc.Function.Name, Arguments: tc.Function.Arguments})
		}
	}
	return calls
}

// CallCompletionProcessor reconciles Vapi end-of-call reports into Call rows.
// It is the most intricate processor: it must be safe under duplicate
// delivery and under two workers racing on the same external call id.
type CallCompletionProcessor struct {
	calls        CallRepository
	owners       OwnerResolver
	publisher    realtime.Publisher
	sink         observability.Sink
	assistants   AssistantAPI
	sloThreshold time.Duration

	now func() time.Time // injectable clock for tests
}

// NewCallCompletionProcessor wires the reconciler's collaborators. A nil
// assistants client disables backfill fetches.
func NewCallCompletionProcessor(db *gorm.DB, publisher realtime.Publisher, assistants AssistantAPI, sink observability.Sink) *CallCompletionProcessor {
	return &CallCompletionProcessor{
		calls:        NewCallRepository(db),
		owners:       tenant.NewResolver(db),
		publisher:    publisher,
		sink:         sink,
		assistants:   assistants,
		sloThreshold: DefaultSLOThreshold,
		now:          time.Now,
	}
}

// Process applies one call-completion event. Duplicate deliveries and lost
// create races resolve to a logged no-op; unexpected errors are reported and
// re-raised so the job queue's retry policy governs them.
func (p *CallCompletionProcessor) Process(ctx context.Context, event *models.WebhookEvent) (err error) {
	defer func() {
		if err != nil {
			p.sink.CaptureException(err, map[string]interface{}{
				"event_id": event.ID,
				"provider": event.Provider,
			})
		}
	}()

	var report callReport
	if parseErr := json.Unmarshal([]byte(event.PayloadJSON), &report); parseErr != nil {
		return fmt.Errorf("failed to parse call report for event %d: %w", event.ID, parseErr)
	}

	// Non-terminal messages and reports without a call id are no-op successes.
	if report.Message.Type != EndOfCallReportType {
		log.Debugf("[Reconcile] Ignoring non-terminal message type %q (event %d)", report.Message.Type, event.ID)
		return nil
	}
	externalCallID := report.Message.Call.ID
	if externalCallID == "" {
		log.Warnf("[Reconcile] Call report without call id (event %d), skipping", event.ID)
		return nil
	}

	owner, resolveErr := p.owners.ResolveByAssistantID(ctx, report.Message.Assistant.ID)
	if errors.Is(resolveErr, tenant.ErrNoOwner) {
		// The assistant may belong to a deleted or expired tenant.
		log.Infof("[Reconcile] No tenant for assistant %q (event %d), skipping", report.Message.Assistant.ID, event.ID)
		return nil
	}
	if resolveErr != nil {
		return fmt.Errorf("tenant lookup failed for call %s: %w", externalCallID, resolveErr)
	}

	if _, lookupErr := p.calls.FindByExternalID(ctx, externalCallID); lookupErr == nil {
		log.Infof("[Reconcile] Call %s already reconciled (event %d), duplicate delivery", externalCallID, event.ID)
		return nil
	} else if !errors.Is(lookupErr, gorm.ErrRecordNotFound) {
		return fmt.Errorf("call lookup failed for %s: %w", externalCallID, lookupErr)
	}

	p.backfillReport(ctx, externalCallID, &report)

	call := p.buildCall(owner, externalCallID, &report)
	if createErr := p.calls.Create(ctx, call); createErr != nil {
		if errors.Is(createErr, gorm.ErrDuplicatedKey) {
			// Another worker won the create race between our find and create.
			// Same outcome as the duplicate branch: no increment, no broadcast.
			log.Infof("[Reconcile] Call %s reconciled concurrently (event %d)", externalCallID, event.ID)
			return nil
		}
		return fmt.Errorf("failed to persist call %s: %w", externalCallID, createErr)
	}

	// True first-time creation: exactly one usage increment, one broadcast.
	if incErr := owner.IncrementCallUsage(ctx); incErr != nil {
		return fmt.Errorf("usage increment failed for call %s: %w", externalCallID, incErr)
	}
	p.broadcast(ctx, owner, call)

	if latency := p.now().Sub(event.CreatedAt); latency > p.sloThreshold {
		p.sink.CaptureMessage("call reconciliation exceeded latency SLO", map[string]interface{}{
			"event_id":         event.ID,
			"external_call_id": externalCallID,
			"latency_ms":       latency.Milliseconds(),
		})
	}
	return nil
}

// backfillReport fetches call details for reports that arrived without a
// transcript or recording. Fetch failures leave the report as delivered; the
// call row is still reconciled.
func (p *CallCompletionProcessor) backfillReport(ctx context.Context, externalCallID string, report *callReport) {
	if p.assistants == nil {
		return
	}
	if report.Message.Transcript != "" && report.Message.RecordingURL != "" {
		return
	}

	detail, err := p.assistants.GetCall(ctx, externalCallID)
	if err != nil {
		log.Warnf("[Reconcile] Backfill fetch failed for call %s: %v", externalCallID, err)
		return
	}
	if report.Message.Transcript == "" {
		report.Message.Transcript = detail.Transcript
	}
	if report.Message.RecordingURL == "" {
		report.Message.RecordingURL = detail.RecordingURL
	}
	if report.Message.Cost == 0 {
		report.Message.Cost = detail.Cost
	}
}

func (p *CallCompletionProcessor) buildCall(owner tenant.Owner, externalCallID string, report *callReport) *models.Call {
	toolCalls := report.toolCalls()
	toolCallNames := make([]string, 0, len(toolCalls))
	for _, tc := range toolCalls {
		toolCallNames = append(toolCallNames, tc.Name)
	}

	fields := ExtractStructuredFields(report.Message.Analysis.StructuredData, toolCalls)
	fieldsJSON, _ := json.Marshal(fields)
	breakdownJSON, _ := json.Marshal(report.Message.CostBreakdown)

	call := &models.Call{
		ExternalID:          &externalCallID,
		OwnerType:           owner.Kind(),
		OwnerID:             owner.OwnerID(),
		Direction:           models.CallDirectionInbound,
		Status:              models.CallStatusCompleted,
		DurationSeconds:     int(report.Message.DurationSeconds),
		RecordingURL:        report.Message.RecordingURL,
		Transcript:          report.Message.Transcript,
		Intent:              ClassifyIntent(toolCallNames, report.Message.Transcript, report.Message.Analysis.Intent),
		ExtractedFieldsJSON: string(fieldsJSON),
		CostCents:           int(math.Round(report.Message.Cost * 100)),
		CostBreakdownJSON:   string(breakdownJSON),
	}
	if !report.Message.StartedAt.IsZero() {
		started := report.Message.StartedAt
		call.StartedAt = &started
	}
	if !report.Message.EndedAt.IsZero() {
		ended := report.Message.EndedAt
		call.EndedAt = &ended
	}
	return call
}

// broadcast publishes the new call and refreshed usage stats to the owning
// tenant's channel. Broadcast failures never fail reconciliation.
func (p *CallCompletionProcessor) broadcast(ctx context.Context, owner tenant.Owner, call *models.Call) {
	stats, err := owner.Stats(ctx)
	if err != nil {
		log.Errorf("[Reconcile] Failed to refresh usage stats for %s: %v", owner.ChannelKey(), err)
		return
	}

	fragment, err := json.Marshal(map[string]interface{}{
		"type":  "call.reconciled",
		"call":  call,
		"usage": stats,
	})
	if err != nil {
		log.Errorf("[Reconcile] Failed to render update fragment for %s: %v", owner.ChannelKey(), err)
		return
	}
	if err := p.publisher.Publish(ctx, owner.ChannelKey(), fragment); err != nil {
		log.Errorf("[Reconcile] Broadcast failed for %s: %v", owner.ChannelKey(), err)
	}
}
