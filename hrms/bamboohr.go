package hrms

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/c360studio/lifebus/envelope"
)

// bambooHireWindow is how recent a hire date must be for a changed
// directory row to count as an onboarding rather than an update.
const bambooHireWindow = 7 * 24 * time.Hour

// bambooHRAdapter speaks the BambooHR API. BambooHR has no change feed,
// so polling diffs the employee directory on lastChanged and derives the
// event type from what changed.
type bambooHRAdapter struct {
	cfg    Config
	api    *apiClient
	logger *slog.Logger
}

func newBambooHR(cfg Config, logger *slog.Logger) *bambooHRAdapter {
	return &bambooHRAdapter{
		cfg:    cfg,
		api:    newAPIClient(cfg),
		logger: logger,
	}
}

func (a *bambooHRAdapter) Source() string { return SourceBambooHR }

func (a *bambooHRAdapter) ValidateSignature(rawBody []byte, signature string) error {
	if a.cfg.WebhookSecret == "" {
		return nil
	}
	return VerifySignature(SourceBambooHR, rawBody, signature, a.cfg.WebhookSecret)
}

func (a *bambooHRAdapter) ProcessWebhook(ctx context.Context, payload WebhookPayload) (*WebhookResult, error) {
	return processItems(payload, func(item map[string]any) (*envelope.LifecycleEvent, error) {
		return a.normalizeItem(payload.OrganizationID, payload.EventType, item)
	}), nil
}

func (a *bambooHRAdapter) normalizeItem(orgID, fallbackType string, item map[string]any) (*envelope.LifecycleEvent, error) {
	rawType := stringField(item, "type", "eventType", "action")
	if rawType == "" {
		rawType = fallbackType
	}

	typ, ok := MapEventType(SourceBambooHR, rawType)
	if !ok {
		a.logger.Warn("dropping unrecognized event type", "event_type", rawType)
		return nil, nil
	}

	data := nestedObject(item, "employee", "data")
	emp := employeeFrom(data, "id", "employeeId", "employeeNumber")
	if emp.ID == "" {
		return nil, fmt.Errorf("%s event missing employee id", rawType)
	}

	ev := lifecycleEvent(SourceBambooHR, typ, orgID, stringField(item, "id", "eventId"), rawType, emp)
	return &ev, nil
}

// bambooDirectory is the employee directory response.
type bambooDirectory struct {
	Employees []map[string]any `json:"employees"`
}

// directoryChange pairs a changed row with its change time for ordering.
type directoryChange struct {
	emp         envelope.Employee
	lastChanged time.Time
}

// Poll diffs the directory against the cursor. Rows whose lastChanged
// passed the cursor become events: a fresh hire date on an active row is
// an onboarding, a termination date on an inactive row is an exit, and
// anything else is an update. The first poll only establishes a baseline
// so a new tenant does not replay its entire directory.
func (a *bambooHRAdapter) Poll(ctx context.Context, cursor Cursor) (*PollResult, error) {
	start := time.Now().UTC()

	var dir bambooDirectory
	if err := a.api.getJSON(ctx, "/v1/employees/directory", nil, &dir); err != nil {
		return nil, fmt.Errorf("fetching bamboohr directory: %w", err)
	}

	result := &PollResult{Cursor: cursor}
	if cursor.IsZero() {
		result.Cursor.LastPolledAt = start
		a.logger.Info("first poll established directory baseline", "employees", len(dir.Employees))
		return result, nil
	}

	changes := a.changedSince(dir.Employees, cursor.LastPolledAt)
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].lastChanged.Before(changes[j].lastChanged)
	})

	capped := len(changes) > MaxEventsPerPoll
	if capped {
		changes = changes[:MaxEventsPerPoll]
	}

	seen := make(map[string]struct{}, len(changes))
	for _, ch := range changes {
		typ, rawType := a.classify(ch.emp, start)

		key := ch.emp.ID + "|" + string(typ)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		sourceEventID := ch.emp.ID + "-" + strconv.FormatInt(ch.lastChanged.UnixMilli(), 10)
		result.Events = append(result.Events,
			lifecycleEvent(SourceBambooHR, typ, a.cfg.OrganizationID, sourceEventID, rawType, ch.emp))
		result.Cursor.LastEventTimestamp = ch.lastChanged
	}

	if capped {
		// Resume strictly after the newest emitted change, backed off a
		// millisecond so boundary ties replay instead of dropping.
		result.Cursor.LastPolledAt = result.Cursor.LastEventTimestamp.Add(-time.Millisecond)
		result.HasMore = true
		a.logger.Info("poll cap reached, resuming next cycle",
			"events", len(result.Events), "cap", MaxEventsPerPoll)
	} else {
		result.Cursor.LastPolledAt = start
	}
	return result, nil
}

// changedSince picks the directory rows whose lastChanged passed since.
// Rows without an id or a change time are skipped.
func (a *bambooHRAdapter) changedSince(rows []map[string]any, since time.Time) []directoryChange {
	var changes []directoryChange
	for _, row := range rows {
		emp := employeeFrom(row, "id", "employeeId", "employeeNumber")
		if emp.ID == "" {
			a.logger.Warn("skipping directory row without employee id")
			continue
		}
		ts := ParseTime(firstValue(row, "lastChanged", "lastModified"))
		if ts == nil || !ts.After(since) {
			continue
		}
		changes = append(changes, directoryChange{emp: emp, lastChanged: *ts})
	}
	return changes
}

// classify derives the lifecycle type for a changed directory row.
func (a *bambooHRAdapter) classify(emp envelope.Employee, now time.Time) (envelope.LifecycleType, string) {
	switch {
	case emp.Status == envelope.StatusActive && emp.StartDate != nil &&
		emp.StartDate.After(now.Add(-bambooHireWindow)):
		return envelope.LifecycleOnboard, "employee.new"
	case emp.Status != envelope.StatusActive && emp.EndDate != nil:
		return envelope.LifecycleExit, "employee.terminated"
	default:
		return envelope.LifecycleUpdate, "employee.updated"
	}
}

func (a *bambooHRAdapter) HealthCheck(ctx context.Context) error {
	return a.api.getJSON(ctx, "/v1/meta/fields", nil, nil)
}
