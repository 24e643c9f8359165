package hrms

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/lifebus/envelope"
)

// workdayPageSize is how many events one Workday API request returns.
// It divides MaxEventsPerPoll evenly so a capped poll never overshoots.
const workdayPageSize = 200

// workdayAdapter speaks the Workday change-events API. Polling walks an
// event-id cursor through paged results; webhooks arrive singly or as
// batches under an "events" array.
type workdayAdapter struct {
	cfg    Config
	api    *apiClient
	logger *slog.Logger
}

func newWorkday(cfg Config, logger *slog.Logger) *workdayAdapter {
	return &workdayAdapter{
		cfg:    cfg,
		api:    newAPIClient(cfg),
		logger: logger,
	}
}

func (a *workdayAdapter) Source() string { return SourceWorkday }

func (a *workdayAdapter) ValidateSignature(rawBody []byte, signature string) error {
	if a.cfg.WebhookSecret == "" {
		return nil
	}
	return VerifySignature(SourceWorkday, rawBody, signature, a.cfg.WebhookSecret)
}

func (a *workdayAdapter) ProcessWebhook(ctx context.Context, payload WebhookPayload) (*WebhookResult, error) {
	return processItems(payload, func(item map[string]any) (*envelope.LifecycleEvent, error) {
		return a.normalizeItem(payload.OrganizationID, payload.EventType, item)
	}), nil
}

// normalizeItem turns one Workday event body into a lifecycle event. The
// worker record nests under "worker" in native payloads and "data" in
// replayed ones.
func (a *workdayAdapter) normalizeItem(orgID, fallbackType string, item map[string]any) (*envelope.LifecycleEvent, error) {
	rawType := stringField(item, "type", "eventType")
	if rawType == "" {
		rawType = fallbackType
	}

	typ, ok := MapEventType(SourceWorkday, rawType)
	if !ok {
		a.logger.Warn("dropping unrecognized event type", "event_type", rawType)
		return nil, nil
	}

	data := nestedObject(item, "worker", "data")
	emp := employeeFrom(data, "workerId", "employeeId", "id")
	if emp.ID == "" {
		return nil, fmt.Errorf("%s event missing worker id", rawType)
	}

	ev := lifecycleEvent(SourceWorkday, typ, orgID, stringField(item, "id", "eventId"), rawType, emp)
	return &ev, nil
}

// workdayEventsPage is one page of the change-events feed.
type workdayEventsPage struct {
	Events     []map[string]any `json:"events"`
	HasMore    bool             `json:"hasMore"`
	NextCursor string           `json:"nextCursor"`
}

// Poll walks the change-events feed from the cursor position. Pages chain
// through nextCursor until hasMore goes false or MaxEventsPerPoll trips;
// a capped poll keeps the page cursor so the next cycle resumes
// mid-stream instead of re-reading from the since filter.
func (a *workdayAdapter) Poll(ctx context.Context, cursor Cursor) (*PollResult, error) {
	start := time.Now().UTC()
	result := &PollResult{Cursor: cursor}
	pageCursor := cursor.PageCursor

	for {
		page, err := a.fetchEvents(ctx, cursor, pageCursor)
		if err != nil {
			return nil, err
		}

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
			if ts := ParseTime(firstValue(item, "timestamp", "effectiveDate")); ts != nil {
				result.Cursor.LastEventTimestamp = *ts
			}
		}

		if !page.HasMore {
			result.Cursor.PageCursor = ""
			result.Cursor.LastPolledAt = start
			return result, nil
		}
		if len(result.Events) >= MaxEventsPerPoll {
			// LastPolledAt stays put until the stream drains so the
			// since filter cannot skip the unfetched remainder.
			result.Cursor.PageCursor = page.NextCursor
			result.HasMore = true
			a.logger.Info("poll cap reached, resuming next cycle",
				"events", len(result.Events), "cap", MaxEventsPerPoll)
			return result, nil
		}
		pageCursor = page.NextCursor
	}
}

func (a *workdayAdapter) fetchEvents(ctx context.Context, cursor Cursor, pageCursor string) (*workdayEventsPage, error) {
	query := url.Values{}
	query.Set("limit", strconv.Itoa(workdayPageSize))
	if pageCursor != "" {
		query.Set("cursor", pageCursor)
	} else if !cursor.LastPolledAt.IsZero() {
		query.Set("since", cursor.LastPolledAt.Format(time.RFC3339))
	}
	if len(a.cfg.EventTypes) > 0 {
		query.Set("types", strings.Join(a.cfg.EventTypes, ","))
	}

	var page workdayEventsPage
	if err := a.api.getJSON(ctx, "/events", query, &page); err != nil {
		return nil, fmt.Errorf("fetching workday events: %w", err)
	}
	return &page, nil
}

func (a *workdayAdapter) HealthCheck(ctx context.Context) error {
	query := url.Values{}
	query.Set("limit", "1")
	return a.api.getJSON(ctx, "/events", query, nil)
}
