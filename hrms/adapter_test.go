package hrms

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func validConfig() Config {
	return Config{
		Source:         SourceWorkday,
		OrganizationID: "org-1",
		TenantURL:      "https://tenant.example.com",
		Credentials:    Credentials{Token: "tok"},
		PollInterval:   5 * time.Minute,
		Enabled:        true,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			modify: func(c *Config) {},
		},
		{
			name:    "unknown source",
			modify:  func(c *Config) { c.Source = "peoplesoft" },
			wantErr: "unknown hrms source",
		},
		{
			name:    "missing organization",
			modify:  func(c *Config) { c.OrganizationID = "" },
			wantErr: "organization id",
		},
		{
			name:    "interval below minimum",
			modify:  func(c *Config) { c.PollInterval = 30 * time.Second },
			wantErr: "below minimum",
		},
		{
			name:   "zero interval disables polling",
			modify: func(c *Config) { c.PollInterval = 0 },
		},
		{
			name:    "missing tenant url",
			modify:  func(c *Config) { c.TenantURL = "" },
			wantErr: "tenant URL",
		},
		{
			name:    "missing credentials",
			modify:  func(c *Config) { c.Credentials = Credentials{} },
			wantErr: "requires credentials",
		},
		{
			name:   "client id and secret instead of token",
			modify: func(c *Config) { c.Credentials = Credentials{ClientID: "id", ClientSecret: "sec"} },
		},
		{
			name:    "client id without secret",
			modify:  func(c *Config) { c.Credentials = Credentials{ClientID: "id"} },
			wantErr: "token or a client id",
		},
		{
			name: "generic webhook only",
			modify: func(c *Config) {
				c.Source = SourceGeneric
				c.TenantURL = ""
				c.Credentials = Credentials{}
				c.PollInterval = 0
			},
		},
		{
			name: "generic polling needs a url",
			modify: func(c *Config) {
				c.Source = SourceGeneric
				c.TenantURL = ""
				c.Credentials = Credentials{}
			},
			wantErr: "tenant URL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewBuildsEachSource(t *testing.T) {
	for _, source := range Sources() {
		cfg := validConfig()
		cfg.Source = source

		adapter, err := New(cfg, nil)
		if err != nil {
			t.Fatalf("New(%s): %v", source, err)
		}
		if adapter.Source() != source {
			t.Errorf("Source() = %q, want %q", adapter.Source(), source)
		}
	}

	cfg := validConfig()
	cfg.Source = "peoplesoft"
	if _, err := New(cfg, nil); err == nil {
		t.Fatal("New() with unknown source should fail")
	}
}

func TestKnownSource(t *testing.T) {
	for _, source := range Sources() {
		if !KnownSource(source) {
			t.Errorf("KnownSource(%q) = false", source)
		}
	}
	if KnownSource("peoplesoft") {
		t.Error("KnownSource(peoplesoft) = true")
	}
}

func TestWebhookPayloadItems(t *testing.T) {
	batch := WebhookPayload{
		Data:   map[string]any{"id": "single"},
		Events: []map[string]any{{"id": "a"}, {"id": "b"}},
	}
	items := batch.items()
	if len(items) != 2 || items[0]["id"] != "a" {
		t.Fatalf("batch items = %v, want the events array", items)
	}

	single := WebhookPayload{Data: map[string]any{"id": "single"}}
	items = single.items()
	if len(items) != 1 || items[0]["id"] != "single" {
		t.Fatalf("single items = %v", items)
	}

	if items := (WebhookPayload{}).items(); items != nil {
		t.Fatalf("empty payload items = %v, want nil", items)
	}
}

func TestCursorIsZero(t *testing.T) {
	if !(Cursor{}).IsZero() {
		t.Error("zero cursor should report IsZero")
	}
	if (Cursor{LastEventID: "e1"}).IsZero() {
		t.Error("cursor with an event id is not zero")
	}
	if (Cursor{LastPolledAt: time.Now()}).IsZero() {
		t.Error("cursor with a poll time is not zero")
	}
}
