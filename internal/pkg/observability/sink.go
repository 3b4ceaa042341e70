// Package observability defines the error/alert sink collaborator. The core
// reports exceptions and threshold breaches here; wiring a hosted error
// tracker is a deployment concern behind the same interface.
package observability

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2/log"
)

// Sink receives processing errors and warning-level messages with structured
// extra context (event ids, external call ids, latencies).
type Sink interface {
	CaptureException(err error, extras map[string]interface{})
	CaptureMessage(msg string, extras map[string]interface{})
}

// LogSink writes captures to the application log.
type LogSink struct{}

func NewLogSink() *LogSink {
	return &LogSink{}
}

func (s *LogSink) CaptureException(err error, extras map[string]interface{}) {
	log.Errorf("[Observability] exception: %v%s", err, formatExtras(extras))
}

func (s *LogSink) CaptureMessage(msg string, extras map[string]interface{}) {
	log.Warnf("[Observability] %s%s", msg, formatExtras(extras))
}

func formatExtras(extras map[string]interface{}) string {
	if len(extras) == 0 {
		return ""
	}
	keys := make([]string, 0, len(extras))
	for k := range extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, extras[k]))
	}
	return " (" + strings.Join(parts, " ") + ")"
}
