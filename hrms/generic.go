package hrms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/c360studio/lifebus/envelope"
)

// ErrPollNotConfigured is returned when a webhook-only generic adapter
// is asked to poll.
var ErrPollNotConfigured = errors.New("no poll endpoint configured")

// genericAdapter accepts the platform's own event shapes, for providers
// without a dedicated adapter. Webhook-only tenants leave TenantURL
// empty; tenants with a pull API expose /events in the platform shape.
type genericAdapter struct {
	cfg    Config
	api    *apiClient
	logger *slog.Logger
}

func newGeneric(cfg Config, logger *slog.Logger) *genericAdapter {
	a := &genericAdapter{cfg: cfg, logger: logger}
	if cfg.TenantURL != "" {
		a.api = newAPIClient(cfg)
	}
	return a
}

func (a *genericAdapter) Source() string { return SourceGeneric }

func (a *genericAdapter) ValidateSignature(rawBody []byte, signature string) error {
	if a.cfg.WebhookSecret == "" {
		return nil
	}
	return VerifySignature(SourceGeneric, rawBody, signature, a.cfg.WebhookSecret)
}

func (a *genericAdapter) ProcessWebhook(ctx context.Context, payload WebhookPayload) (*WebhookResult, error) {
	return processItems(payload, func(item map[string]any) (*envelope.LifecycleEvent, error) {
		return a.normalizeItem(payload.OrganizationID, payload.EventType, item)
	}), nil
}

func (a *genericAdapter) normalizeItem(orgID, fallbackType string, item map[string]any) (*envelope.LifecycleEvent, error) {
	rawType := stringField(item, "type", "eventType", "event")
	if rawType == "" {
		rawType = fallbackType
	}

	typ, ok := MapEventType(SourceGeneric, rawType)
	if !ok {
		a.logger.Warn("dropping unrecognized event type", "event_type", rawType)
		return nil, nil
	}

	data := nestedObject(item, "data", "employee")
	emp := employeeFrom(data, "employeeId", "id", "workerId")
	if emp.ID == "" {
		return nil, fmt.Errorf("%s event missing employee id", rawType)
	}

	ev := lifecycleEvent(SourceGeneric, typ, orgID, stringField(item, "id", "eventId"), rawType, emp)
	return &ev, nil
}

// genericEventsPage mirrors the platform's own feed shape.
type genericEventsPage struct {
	Events     []map[string]any `json:"events"`
	HasMore    bool             `json:"hasMore"`
	NextCursor string           `json:"nextCursor,omitempty"`
}

// Poll fetches one page per cycle from the platform-shaped /events feed.
// A full page hands its cursor to the next cycle rather than looping, so
// a single misbehaving tenant cannot monopolize the poller.
func (a *genericAdapter) Poll(ctx context.Context, cursor Cursor) (*PollResult, error) {
	if a.api == nil {
		return nil, ErrPollNotConfigured
	}
	start := time.Now().UTC()

	query := url.Values{}
	query.Set("limit", strconv.Itoa(MaxEventsPerPoll))
	if cursor.PageCursor != "" {
		query.Set("cursor", cursor.PageCursor)
	} else if !cursor.LastPolledAt.IsZero() {
		query.Set("since", cursor.LastPolledAt.Format(time.RFC3339))
	}

	var page genericEventsPage
	if err := a.api.getJSON(ctx, "/events", query, &page); err != nil {
		return nil, fmt.Errorf("fetching events: %w", err)
	}

	result := &PollResult{Cursor: cursor}
	for _, item := range page.Events {
		ev, err := a.normalizeItem(a.cfg.OrganizationID, "", item)
		if err != nil {
			a.logger.Warn("skipping unnormalizable polled event", "error", err)
			continue
		}
		if ev == nil {
			continue
		}
		result.Events = append(result.Events, *ev)
		result.Cursor.LastEventID = ev.Metadata.SourceEventID
		if ts := ParseTime(firstValue(item, "timestamp")); ts != nil {
			result.Cursor.LastEventTimestamp = *ts
		}
	}

	if page.HasMore {
		result.Cursor.PageCursor = page.NextCursor
		result.HasMore = true
	} else {
		result.Cursor.PageCursor = ""
		result.Cursor.LastPolledAt = start
	}
	return result, nil
}

func (a *genericAdapter) HealthCheck(ctx context.Context) error {
	if a.api == nil {
		return nil
	}
	return a.api.getJSON(ctx, "/health", nil, nil)
}
