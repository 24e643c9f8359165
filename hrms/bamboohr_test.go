package hrms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/c360studio/lifebus/envelope"
)

func newBambooForTest(t *testing.T, employees []map[string]any) *bambooHRAdapter {
	t.Helper()
	cfg := Config{
		Source:         SourceBambooHR,
		OrganizationID: "org-1",
		TenantURL:      "https://unused.example.com",
		Credentials:    Credentials{Token: "key"},
	}
	if employees != nil {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(bambooDirectory{Employees: employees})
		}))
		t.Cleanup(server.Close)
		cfg.TenantURL = server.URL
	}
	return newBambooHR(cfg, discardLogger())
}

func TestBambooPollDerivesEventTypes(t *testing.T) {
	now := time.Now().UTC()
	recentHire := now.Add(-2 * 24 * time.Hour).Format("2006-01-02")
	oldHire := now.Add(-90 * 24 * time.Hour).Format("2006-01-02")
	changed := now.Add(-time.Hour).Format(time.RFC3339)

	adapter := newBambooForTest(t, []map[string]any{
		{
			"id": "E-1", "firstName": "Grace", "lastName": "Hopper",
			"hireDate": recentHire, "status": "Active",
			"lastChanged": changed,
		},
		{
			"id": "E-2", "firstName": "Alan", "lastName": "Turing",
			"hireDate": oldHire, "terminationDate": now.Format("2006-01-02"),
			"status": "Inactive", "lastChanged": changed,
		},
		{
			"id": "E-3", "firstName": "Edsger", "lastName": "Dijkstra",
			"hireDate": oldHire, "status": "Active",
			"lastChanged": changed,
		},
		{
			// Unchanged since the cursor, must not produce an event.
			"id": "E-4", "status": "Active",
			"lastChanged": now.Add(-48 * time.Hour).Format(time.RFC3339),
		},
	})

	result, err := adapter.Poll(context.Background(), Cursor{LastPolledAt: now.Add(-24 * time.Hour)})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(result.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(result.Events))
	}

	byEmployee := make(map[string]envelope.LifecycleEvent, len(result.Events))
	for _, ev := range result.Events {
		byEmployee[ev.EmployeeID] = ev
	}

	if ev := byEmployee["E-1"]; ev.Type != envelope.LifecycleOnboard {
		t.Errorf("E-1 type = %q, want onboard for a fresh active hire", ev.Type)
	}
	if ev := byEmployee["E-1"]; ev.Metadata.SourceEventType != "employee.new" {
		t.Errorf("E-1 source event type = %q", ev.Metadata.SourceEventType)
	}
	if ev := byEmployee["E-2"]; ev.Type != envelope.LifecycleExit {
		t.Errorf("E-2 type = %q, want exit for a terminated inactive row", ev.Type)
	}
	if ev := byEmployee["E-3"]; ev.Type != envelope.LifecycleUpdate {
		t.Errorf("E-3 type = %q, want update for an old hire still active", ev.Type)
	}
	if _, ok := byEmployee["E-4"]; ok {
		t.Error("E-4 produced an event despite an unchanged row")
	}
	if result.Cursor.LastPolledAt.Before(now) {
		t.Errorf("LastPolledAt = %s, want advanced to the poll start", result.Cursor.LastPolledAt)
	}
}

func TestBambooFirstPollEstablishesBaseline(t *testing.T) {
	changed := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	adapter := newBambooForTest(t, []map[string]any{
		{"id": "E-1", "status": "Active", "lastChanged": changed},
		{"id": "E-2", "status": "Active", "lastChanged": changed},
	})

	result, err := adapter.Poll(context.Background(), Cursor{})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(result.Events) != 0 {
		t.Fatalf("first poll replayed %d directory rows", len(result.Events))
	}
	if result.Cursor.LastPolledAt.IsZero() {
		t.Error("baseline cursor not established")
	}
}

func TestBambooPollDedupsWithinWindow(t *testing.T) {
	now := time.Now().UTC()
	adapter := newBambooForTest(t, []map[string]any{
		{"id": "E-1", "status": "Active", "lastChanged": now.Add(-2 * time.Hour).Format(time.RFC3339)},
		{"id": "E-1", "status": "Active", "lastChanged": now.Add(-time.Hour).Format(time.RFC3339)},
	})

	result, err := adapter.Poll(context.Background(), Cursor{LastPolledAt: now.Add(-24 * time.Hour)})
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("events = %d, want 1 after dedup by (employee, type)", len(result.Events))
	}
}

func TestBambooProcessWebhookNewEmployee(t *testing.T) {
	adapter := newBambooForTest(t, nil)

	result, err := adapter.ProcessWebhook(context.Background(), WebhookPayload{
		Source:         SourceBambooHR,
		OrganizationID: "org-1",
		EventType:      "employee.new",
		Data: map[string]any{
			"id": "evt-7",
			"employee": map[string]any{
				"id":        "E-9",
				"firstName": "Barbara",
				"lastName":  "Liskov",
				"hireDate":  "2025-08-20",
				"status":    "Active",
			},
		},
	})
	if err != nil {
		t.Fatalf("ProcessWebhook: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(result.Events))
	}
	ev := result.Events[0]
	if ev.Type != envelope.LifecycleOnboard {
		t.Errorf("Type = %q, want onboard", ev.Type)
	}
	if ev.Employee.ID != "E-9" || ev.Employee.StartDate == nil {
		t.Errorf("employee = %+v", ev.Employee)
	}
	if ev.Metadata.SourceEventID != "evt-7" {
		t.Errorf("source event id = %q", ev.Metadata.SourceEventID)
	}
}
