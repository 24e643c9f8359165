package hrms

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/c360studio/lifebus/envelope"
)

// sfMaxTop is the $top value for one poll request. It doubles as the
// page cap: a full page means more rows are waiting.
const sfMaxTop = MaxEventsPerPoll

// successFactorsAdapter speaks the SuccessFactors OData v2 API. Polling
// filters on lastModifiedDateTime and advances a timestamp cursor, so no
// page cursor survives between cycles.
type successFactorsAdapter struct {
	cfg    Config
	api    *apiClient
	logger *slog.Logger
}

func newSuccessFactors(cfg Config, logger *slog.Logger) *successFactorsAdapter {
	return &successFactorsAdapter{
		cfg:    cfg,
		api:    newAPIClient(cfg),
		logger: logger,
	}
}

func (a *successFactorsAdapter) Source() string { return SourceSuccessFactors }

func (a *successFactorsAdapter) ValidateSignature(rawBody []byte, signature string) error {
	if a.cfg.WebhookSecret == "" {
		return nil
	}
	return VerifySignature(SourceSuccessFactors, rawBody, signature, a.cfg.WebhookSecret)
}

func (a *successFactorsAdapter) ProcessWebhook(ctx context.Context, payload WebhookPayload) (*WebhookResult, error) {
	return processItems(payload, func(item map[string]any) (*envelope.LifecycleEvent, error) {
		return a.normalizeItem(payload.OrganizationID, payload.EventType, item)
	}), nil
}

func (a *successFactorsAdapter) normalizeItem(orgID, fallbackType string, item map[string]any) (*envelope.LifecycleEvent, error) {
	rawType := stringField(item, "eventType", "type")
	if rawType == "" {
		rawType = fallbackType
	}

	typ, ok := MapEventType(SourceSuccessFactors, rawType)
	if !ok {
		a.logger.Warn("dropping unrecognized event type", "event_type", rawType)
		return nil, nil
	}

	data := nestedObject(item, "employee", "data")
	emp := employeeFrom(data, "userId", "employeeId", "personIdExternal", "id")
	if emp.ID == "" {
		return nil, fmt.Errorf("%s event missing user id", rawType)
	}

	ev := lifecycleEvent(SourceSuccessFactors, typ, orgID, stringField(item, "eventId", "id"), rawType, emp)
	return &ev, nil
}

// sfEventsResponse is the OData v2 envelope around event rows.
type sfEventsResponse struct {
	D struct {
		Results []map[string]any `json:"results"`
	} `json:"d"`
}

// Poll fetches rows modified strictly after the cursor timestamp, oldest
// first. The cursor advances to the newest modification time seen, so a
// full page simply continues from there next cycle.
func (a *successFactorsAdapter) Poll(ctx context.Context, cursor Cursor) (*PollResult, error) {
	start := time.Now().UTC()

	query := url.Values{}
	query.Set("$orderby", "lastModifiedDateTime asc")
	query.Set("$top", strconv.Itoa(sfMaxTop))
	query.Set("$format", "json")
	if since := cursor.LastEventTimestamp; !since.IsZero() {
		query.Set("$filter", fmt.Sprintf("lastModifiedDateTime gt datetimeoffset'%s'", since.Format(time.RFC3339)))
	}

	var resp sfEventsResponse
	if err := a.api.getJSON(ctx, "/odata/v2/EmployeeEvents", query, &resp); err != nil {
		return nil, fmt.Errorf("fetching successfactors events: %w", err)
	}

	result := &PollResult{Cursor: cursor}
	for _, item := range resp.D.Results {
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
		if ts := parseSFTime(firstValue(item, "lastModifiedDateTime", "timestamp")); ts != nil {
			result.Cursor.LastEventTimestamp = *ts
		}
	}

	result.Cursor.LastPolledAt = start
	result.HasMore = len(resp.D.Results) == sfMaxTop
	return result, nil
}

// sfLegacyDate matches the OData v2 JSON date form /Date(1714521600000)/.
var sfLegacyDate = regexp.MustCompile(`^/Date\((\d+)([+-]\d{4})?\)/$`)

// parseSFTime handles SuccessFactors timestamps, which arrive either as
// RFC3339 strings or as the legacy /Date(millis)/ form.
func parseSFTime(v any) *time.Time {
	if s, ok := v.(string); ok {
		if m := sfLegacyDate.FindStringSubmatch(s); m != nil {
			millis, err := strconv.ParseInt(m[1], 10, 64)
			if err != nil {
				return nil
			}
			ts := time.UnixMilli(millis).UTC()
			return &ts
		}
	}
	return ParseTime(v)
}

func (a *successFactorsAdapter) HealthCheck(ctx context.Context) error {
	query := url.Values{}
	query.Set("$top", "1")
	query.Set("$format", "json")
	return a.api.getJSON(ctx, "/odata/v2/EmployeeEvents", query, nil)
}
