package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/codereef/reef/internal/debug"
)

// Recorder counts resolution changes. Fire-and-forget: recording never blocks
// and never fails the caller; a nil *Recorder is a no-op.
type Recorder struct {
	changes metric.Int64Counter
}

// NewRecorder creates a recorder against the installed meter provider.
func NewRecorder() *Recorder {
	counter, err := Meter().Int64Counter("reef.resolution.changes",
		metric.WithDescription("Number of finding resolution changes"))
	if err != nil {
		debug.Logf("telemetry: counter: %v\n", err)
		return &Recorder{}
	}
	return &Recorder{changes: counter}
}

// ResolutionChanged records one status change for the given rule.
func (r *Recorder) ResolutionChanged(ruleKey string) {
	if r == nil || r.changes == nil {
		return
	}
	r.changes.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("rule.key", ruleKey)))
}
