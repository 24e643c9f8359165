package envelope

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type testPayload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestNewFillsDefaults(t *testing.T) {
	before := time.Now().UTC()
	env, err := New("employee.onboard", testPayload{Name: "a", Count: 1})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if env.ID == "" {
		t.Error("expected generated id")
	}
	if env.Metadata.CorrelationID == "" {
		t.Error("expected generated correlationId")
	}
	if env.Metadata.Version != Version {
		t.Errorf("version = %q, want %q", env.Metadata.Version, Version)
	}
	if env.Metadata.Timestamp.Before(before) {
		t.Errorf("timestamp %v predates construction", env.Metadata.Timestamp)
	}
	if env.Metadata.Timestamp.Location() != time.UTC {
		t.Error("timestamp not UTC")
	}
}

func TestNewOptions(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	env, err := New("employee.update", testPayload{},
		WithID("id-1"),
		WithCorrelationID("corr-1"),
		WithSource("webhook-gateway"),
		WithOrganizationID("org-1"),
		WithEmployeeID("emp-1"),
		WithTimestamp(ts),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if env.ID != "id-1" {
		t.Errorf("id = %q", env.ID)
	}
	if env.Metadata.CorrelationID != "corr-1" {
		t.Errorf("correlationId = %q", env.Metadata.CorrelationID)
	}
	if env.Metadata.Source != "webhook-gateway" {
		t.Errorf("source = %q", env.Metadata.Source)
	}
	if !env.Metadata.Timestamp.Equal(ts) {
		t.Errorf("timestamp = %v, want %v", env.Metadata.Timestamp, ts)
	}
}

func TestNewMarshalFailure(t *testing.T) {
	_, err := New("employee.update", make(chan int))
	if err == nil {
		t.Fatal("expected marshal error for unmarshalable payload")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Envelope {
		env, err := New("employee.onboard", testPayload{}, WithSource("test"))
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		return env
	}

	tests := []struct {
		name    string
		modify  func(*Envelope)
		wantErr bool
	}{
		{
			name:    "valid envelope",
			modify:  func(*Envelope) {},
			wantErr: false,
		},
		{
			name:    "missing id",
			modify:  func(e *Envelope) { e.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing type",
			modify:  func(e *Envelope) { e.Type = "" },
			wantErr: true,
		},
		{
			name:    "missing correlation id",
			modify:  func(e *Envelope) { e.Metadata.CorrelationID = "" },
			wantErr: true,
		},
		{
			name:    "zero timestamp",
			modify:  func(e *Envelope) { e.Metadata.Timestamp = time.Time{} },
			wantErr: true,
		},
		{
			name:    "missing version",
			modify:  func(e *Envelope) { e.Metadata.Version = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid()
			tt.modify(env)
			err := env.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestKey(t *testing.T) {
	withOrg, _ := New("employee.exit", testPayload{}, WithOrganizationID("org-9"))
	if got := withOrg.Key(); got != "org-9" {
		t.Errorf("Key() = %q, want organization id", got)
	}

	noOrg, _ := New("employee.exit", testPayload{})
	if got := noOrg.Key(); got != noOrg.ID {
		t.Errorf("Key() = %q, want envelope id %q", got, noOrg.ID)
	}
}

func TestTimestampWireFormat(t *testing.T) {
	env, _ := New("employee.onboard", testPayload{},
		WithTimestamp(time.Date(2025, 6, 15, 9, 30, 0, 0, time.FixedZone("PST", -8*3600))))
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"timestamp":"2025-06-15T17:30:00Z"`) {
		t.Errorf("timestamp not serialized as UTC ISO-8601: %s", data)
	}
}

func TestProperty_WireRoundTrip(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		msgType := rapid.SampledFrom([]string{
			"employee.onboard", "employee.exit", "audit.events", "custom.type",
		}).Draw(rt, "type")
		orgID := rapid.SampledFrom([]string{"", "org-1", "org-2"}).Draw(rt, "org")
		payload := testPayload{
			Name:  rapid.StringMatching(`[a-zA-Z0-9 ]{0,32}`).Draw(rt, "name"),
			Count: rapid.IntRange(-1000, 1000).Draw(rt, "count"),
		}

		opts := []Option{WithSource("round-trip")}
		if orgID != "" {
			opts = append(opts, WithOrganizationID(orgID))
		}
		env, err := New(msgType, payload, opts...)
		require.NoError(rt, err)

		data, err := env.Marshal()
		require.NoError(rt, err)
		back, err := Unmarshal(data)
		require.NoError(rt, err)

		require.Equal(rt, env.ID, back.ID)
		require.Equal(rt, env.Type, back.Type)
		require.Equal(rt, env.Metadata.CorrelationID, back.Metadata.CorrelationID)
		require.Equal(rt, env.Metadata.OrganizationID, back.Metadata.OrganizationID)

		var got testPayload
		require.NoError(rt, json.Unmarshal(back.Payload, &got))
		require.Equal(rt, payload, got)
	})
}

func TestProperty_HeadersMirrorMetadata(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		orgID := rapid.SampledFrom([]string{"", "org-a"}).Draw(rt, "org")
		empID := rapid.SampledFrom([]string{"", "emp-a"}).Draw(rt, "emp")

		opts := []Option{WithSource("hdr"), WithCorrelationID("corr-hdr")}
		if orgID != "" {
			opts = append(opts, WithOrganizationID(orgID))
		}
		if empID != "" {
			opts = append(opts, WithEmployeeID(empID))
		}
		env, err := New("employee.update", testPayload{}, opts...)
		require.NoError(rt, err)

		h := env.Headers()
		require.Equal(rt, env.Metadata.CorrelationID, h[HeaderCorrelationID])
		require.Equal(rt, env.Type, h[HeaderMessageType])
		require.Equal(rt, env.Metadata.Source, h[HeaderSource])
		require.Equal(rt, env.Metadata.Version, h[HeaderVersion])

		if orgID == "" {
			require.NotContains(rt, h, HeaderOrganizationID)
		} else {
			require.Equal(rt, orgID, h[HeaderOrganizationID])
		}
		if empID == "" {
			require.NotContains(rt, h, HeaderEmployeeID)
		} else {
			require.Equal(rt, empID, h[HeaderEmployeeID])
		}
	})
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not json", "{nope"},
		{"missing id", `{"type":"employee.onboard","metadata":{"correlationId":"c","timestamp":"2025-01-01T00:00:00Z","source":"s","version":"1.0"},"payload":{}}`},
		{"missing correlation", `{"id":"a","type":"employee.onboard","metadata":{"timestamp":"2025-01-01T00:00:00Z","source":"s","version":"1.0"},"payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal([]byte(tt.data)); err == nil {
				t.Error("expected error")
			}
		})
	}
}
