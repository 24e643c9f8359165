package correlation

import (
	"fmt"
	"time"
)

// Span is the OpenTelemetry-shaped export form of one correlation context:
// ids in the OTel hex shapes, parent linkage by span id, and a status folded
// down from the recorded events.
type Span struct {
	TraceID      string         `json:"traceId"`
	SpanID       string         `json:"spanId"`
	ParentSpanID string         `json:"parentSpanId,omitempty"`
	Name         string         `json:"name"`
	StartTime    time.Time      `json:"startTime"`
	EndTime      time.Time      `json:"endTime"`
	Status       string         `json:"status"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

// ExportTrace renders the correlation and every descendant reachable from it
// as spans, parents before children.
func (s *Store) ExportTrace(correlationID string) ([]Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	root, ok := s.entries[correlationID]
	if !ok {
		return nil, fmt.Errorf("correlation %s not found", correlationID)
	}

	var spans []Span
	queue := []*entry{root}
	for len(queue) > 0 {
		e := queue[0]
		queue = queue[1:]

		spans = append(spans, s.spanFor(e))
		for _, childID := range s.children[e.ctx.CorrelationID] {
			if child, ok := s.entries[childID]; ok {
				queue = append(queue, child)
			}
		}
	}
	return spans, nil
}

// spanFor assumes the store lock is held.
func (s *Store) spanFor(e *entry) Span {
	span := Span{
		TraceID:   e.ctx.TraceID,
		SpanID:    e.ctx.SpanID,
		Name:      "correlation",
		StartTime: e.ctx.CreatedAt,
		EndTime:   e.lastActivity,
		Status:    "ok",
		Attributes: map[string]any{
			"correlation.id": e.ctx.CorrelationID,
		},
	}
	if e.ctx.OrganizationID != "" {
		span.Attributes["organization.id"] = e.ctx.OrganizationID
	}
	if e.ctx.EmployeeID != "" {
		span.Attributes["employee.id"] = e.ctx.EmployeeID
	}
	if e.ctx.WorkflowID != "" {
		span.Attributes["workflow.id"] = e.ctx.WorkflowID
	}

	if e.ctx.ParentID != "" {
		if parent, ok := s.entries[e.ctx.ParentID]; ok {
			span.ParentSpanID = parent.ctx.SpanID
		}
	}

	if len(e.events) > 0 {
		span.Name = e.events[0].Service + ":" + e.events[0].Operation
		span.StartTime = e.events[0].Timestamp
		span.EndTime = e.events[len(e.events)-1].Timestamp
		for _, ev := range e.events {
			if ev.Status == EventFailed {
				span.Status = "error"
				break
			}
		}
	}
	return span
}
