package hrms

import (
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/lifebus/envelope"
)

// eventTypeMap is the canonical event-type vocabulary per source. Raw types
// outside these tables are dropped with a warning, never forwarded.
var eventTypeMap = map[string]map[string]envelope.LifecycleType{
	SourceWorkday: {
		"worker.hire":      envelope.LifecycleOnboard,
		"worker.onboard":   envelope.LifecycleOnboard,
		"worker.terminate": envelope.LifecycleExit,
		"worker.transfer":  envelope.LifecycleTransfer,
		"worker.update":    envelope.LifecycleUpdate,
		"worker.change":    envelope.LifecycleUpdate,
	},
	SourceSuccessFactors: {
		"employee.hired":       envelope.LifecycleOnboard,
		"employee.terminated":  envelope.LifecycleExit,
		"employee.transferred": envelope.LifecycleTransfer,
		"employee.updated":     envelope.LifecycleUpdate,
	},
	SourceBambooHR: {
		"employee.new":         envelope.LifecycleOnboard,
		"employee.hired":       envelope.LifecycleOnboard,
		"employee.terminated":  envelope.LifecycleExit,
		"employee.transferred": envelope.LifecycleTransfer,
		"employee.updated":     envelope.LifecycleUpdate,
	},
	SourceGeneric: {
		"onboard":   envelope.LifecycleOnboard,
		"hire":      envelope.LifecycleOnboard,
		"exit":      envelope.LifecycleExit,
		"terminate": envelope.LifecycleExit,
		"transfer":  envelope.LifecycleTransfer,
		"update":    envelope.LifecycleUpdate,
	},
}

// MapEventType translates a source event type into the canonical lifecycle
// type. The second return is false for unrecognized types.
func MapEventType(source, raw string) (envelope.LifecycleType, bool) {
	table, ok := eventTypeMap[source]
	if !ok {
		return "", false
	}
	t, ok := table[strings.ToLower(strings.TrimSpace(raw))]
	return t, ok
}

// MapStatus folds a source employment status into the canonical set.
// Unknown statuses default to active rather than inventing a terminal
// state for an employee the source still reports.
func MapStatus(raw string) envelope.EmployeeStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "employed", "current":
		return envelope.StatusActive
	case "inactive", "suspended", "leave":
		return envelope.StatusInactive
	case "terminated", "ended", "exit", "quit":
		return envelope.StatusTerminated
	default:
		return envelope.StatusActive
	}
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ParseTime interprets the date shapes HRMS payloads carry: RFC3339 and
// date-only strings, or numeric epochs (seconds, or milliseconds when the
// magnitude says so). Values that do not parse come back nil; a bad date
// never blocks normalization.
func ParseTime(v any) *time.Time {
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				utc := ts.UTC()
				return &utc
			}
		}
		return nil
	case float64:
		if val <= 0 {
			return nil
		}
		var ts time.Time
		if val >= 1e12 {
			ts = time.UnixMilli(int64(val))
		} else {
			ts = time.Unix(int64(val), 0)
		}
		utc := ts.UTC()
		return &utc
	case time.Time:
		utc := val.UTC()
		return &utc
	default:
		return nil
	}
}

// stringField returns the first non-empty string among the keys.
func stringField(data map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := data[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// firstValue returns the first present non-nil value among the keys.
func firstValue(data map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// nestedObject returns the first nested object among the keys, falling
// back to the item itself when the employee record is not nested.
func nestedObject(item map[string]any, keys ...string) map[string]any {
	for _, k := range keys {
		if obj, ok := item[k].(map[string]any); ok {
			return obj
		}
	}
	return item
}

// employeeFrom maps a raw employee object into the canonical record.
// idKeys is the source's preference order for the employee identifier, the
// source-specific key first.
func employeeFrom(data map[string]any, idKeys ...string) envelope.Employee {
	return envelope.Employee{
		ID:           stringField(data, idKeys...),
		Email:        stringField(data, "email", "workEmail", "primaryWorkEmail"),
		FirstName:    stringField(data, "firstName", "givenName", "first_name"),
		LastName:     stringField(data, "lastName", "familyName", "last_name"),
		Department:   stringField(data, "department", "division", "org"),
		JobTitle:     stringField(data, "jobTitle", "title", "position"),
		ManagerID:    stringField(data, "managerId", "supervisorId", "manager"),
		StartDate:    ParseTime(firstValue(data, "startDate", "hireDate")),
		EndDate:      ParseTime(firstValue(data, "endDate", "terminationDate")),
		Location:     stringField(data, "location", "office", "site"),
		EmployeeType: stringField(data, "employeeType", "workerType", "employmentType"),
		Status:       MapStatus(stringField(data, "status", "employmentStatus", "workerStatus")),
	}
}

// processItems runs normalize over each event body of a delivery,
// collecting per-item failures so one bad event cannot sink the batch.
// A nil event with a nil error means the item was deliberately dropped.
func processItems(payload WebhookPayload, normalize func(item map[string]any) (*envelope.LifecycleEvent, error)) *WebhookResult {
	result := &WebhookResult{}
	for i, item := range payload.items() {
		ev, err := normalize(item)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("event %d: %v", i, err))
			continue
		}
		if ev == nil {
			continue
		}
		result.Events = append(result.Events, *ev)
	}
	return result
}

// lifecycleEvent assembles the canonical event around a normalized employee.
func lifecycleEvent(source string, eventType envelope.LifecycleType, organizationID, sourceEventID, sourceEventType string, emp envelope.Employee) envelope.LifecycleEvent {
	return envelope.LifecycleEvent{
		Type:           eventType,
		OrganizationID: organizationID,
		EmployeeID:     emp.ID,
		Employee:       emp,
		Metadata: envelope.EventMetadata{
			Source:          source,
			SourceEventID:   sourceEventID,
			SourceEventType: sourceEventType,
			ProcessedAt:     time.Now().UTC(),
			Version:         envelope.Version,
		},
	}
}
