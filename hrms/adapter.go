// Package hrms connects upstream HR systems to the event bus. Each
// supported provider gets an Adapter that verifies inbound webhooks,
// normalizes provider payloads into lifecycle events, and polls the
// provider API for changes the webhooks missed.
package hrms

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/lifebus/envelope"
)

// Supported HRMS sources. The source string travels on every envelope
// this package emits and selects the normalization tables.
const (
	// SourceWorkday is the Workday HCM adapter.
	SourceWorkday = "workday"

	// SourceSuccessFactors is the SAP SuccessFactors adapter.
	SourceSuccessFactors = "successfactors"

	// SourceBambooHR is the BambooHR adapter.
	SourceBambooHR = "bamboohr"

	// SourceGeneric accepts the platform's own webhook and poll shapes
	// for providers without a dedicated adapter.
	SourceGeneric = "generic"
)

const (
	// MinPollInterval is the floor for poll scheduling. Providers
	// rate-limit aggressively, so anything faster is a config error.
	MinPollInterval = 60 * time.Second

	// MaxEventsPerPoll caps how many events a single poll cycle may
	// emit. When the cap trips, the cursor keeps the page position so
	// the next cycle resumes where this one stopped.
	MaxEventsPerPoll = 1000

	// DefaultHTTPTimeout bounds each upstream request.
	DefaultHTTPTimeout = 30 * time.Second
)

// Sources lists every supported source identifier.
func Sources() []string {
	return []string{SourceWorkday, SourceSuccessFactors, SourceBambooHR, SourceGeneric}
}

// KnownSource reports whether s names a supported source.
func KnownSource(s string) bool {
	switch s {
	case SourceWorkday, SourceSuccessFactors, SourceBambooHR, SourceGeneric:
		return true
	}
	return false
}

// Credentials holds provider authentication material. Which fields are
// required depends on the source.
type Credentials struct {
	// Token is a bearer token (Workday, SuccessFactors) or API key
	// (BambooHR, which sends it as the basic-auth username).
	Token string `json:"token,omitempty" yaml:"token,omitempty"`

	// ClientID and ClientSecret support basic-auth style access for
	// tenants that do not issue long-lived tokens.
	ClientID     string `json:"clientId,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty" yaml:"client_secret,omitempty"`
}

func (c Credentials) empty() bool {
	return c.Token == "" && c.ClientID == "" && c.ClientSecret == ""
}

// Config describes one adapter instance, scoped to a single tenant.
type Config struct {
	// Source selects the provider implementation.
	Source string `json:"source" yaml:"source"`

	// OrganizationID is the tenant the adapter serves. Polled events
	// are stamped with it; webhook events take it from the request path.
	OrganizationID string `json:"organizationId" yaml:"organization_id"`

	// TenantURL is the base URL of the provider API for this tenant.
	TenantURL string `json:"tenantUrl" yaml:"tenant_url"`

	// Credentials authenticate API calls.
	Credentials Credentials `json:"credentials" yaml:"credentials"`

	// WebhookSecret is the shared HMAC secret for inbound webhooks.
	// Empty disables signature verification for this tenant.
	WebhookSecret string `json:"webhookSecret,omitempty" yaml:"webhook_secret,omitempty"`

	// PollInterval is the gap between poll cycles. Zero disables
	// polling; non-zero values below MinPollInterval are rejected.
	PollInterval time.Duration `json:"pollInterval,omitempty" yaml:"poll_interval,omitempty"`

	// EventTypes optionally narrows polling to the listed provider
	// event types. Empty means everything the provider reports.
	EventTypes []string `json:"eventTypes,omitempty" yaml:"event_types,omitempty"`

	// HTTPTimeout bounds each upstream request. Zero means
	// DefaultHTTPTimeout.
	HTTPTimeout time.Duration `json:"httpTimeout,omitempty" yaml:"http_timeout,omitempty"`

	// Enabled gates the poller. Webhooks are accepted either way as
	// long as the tenant is registered.
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// Validate checks that the config can drive its adapter.
func (c Config) Validate() error {
	if !KnownSource(c.Source) {
		return fmt.Errorf("unknown hrms source %q", c.Source)
	}
	if c.OrganizationID == "" {
		return fmt.Errorf("%s adapter requires an organization id", c.Source)
	}
	if c.PollInterval != 0 && c.PollInterval < MinPollInterval {
		return fmt.Errorf("poll interval %s below minimum %s", c.PollInterval, MinPollInterval)
	}

	// The generic adapter may run webhook-only with no upstream API.
	if c.Source == SourceGeneric && c.TenantURL == "" && c.PollInterval == 0 {
		return nil
	}
	if c.TenantURL == "" {
		return fmt.Errorf("%s adapter requires a tenant URL", c.Source)
	}
	if c.Credentials.empty() {
		return fmt.Errorf("%s adapter requires credentials", c.Source)
	}
	if c.Credentials.Token == "" && (c.Credentials.ClientID == "" || c.Credentials.ClientSecret == "") {
		return fmt.Errorf("%s adapter requires a token or a client id and secret pair", c.Source)
	}
	return nil
}

func (c Config) httpTimeout() time.Duration {
	if c.HTTPTimeout > 0 {
		return c.HTTPTimeout
	}
	return DefaultHTTPTimeout
}

// Cursor is the persisted position of incremental polling. Which fields
// a source maintains varies: Workday tracks event ids and an in-flight
// page cursor, SuccessFactors and BambooHR track timestamps.
type Cursor struct {
	// LastPolledAt is when the last clean (uncapped) poll started.
	LastPolledAt time.Time `json:"lastPolledAt,omitempty"`

	// LastEventID is the id of the newest event already emitted.
	LastEventID string `json:"lastEventId,omitempty"`

	// LastEventTimestamp is the newest provider-side modification time
	// already emitted.
	LastEventTimestamp time.Time `json:"lastEventTimestamp,omitempty"`

	// PageCursor resumes a poll that stopped at MaxEventsPerPoll
	// mid-stream. Empty between clean polls.
	PageCursor string `json:"pageCursor,omitempty"`
}

// IsZero reports whether the cursor has never advanced.
func (c Cursor) IsZero() bool {
	return c.LastPolledAt.IsZero() && c.LastEventID == "" &&
		c.LastEventTimestamp.IsZero() && c.PageCursor == ""
}

// PollResult is one poll cycle's output. The caller publishes Events and
// persists Cursor only after every publish succeeded, so a crash between
// the two replays the window instead of dropping it.
type PollResult struct {
	// Events are the normalized lifecycle events, oldest first.
	Events []envelope.LifecycleEvent

	// Cursor is the advanced position to persist after publishing.
	Cursor Cursor

	// HasMore is true when MaxEventsPerPoll tripped with events still
	// waiting upstream. The poller runs the next cycle immediately
	// instead of waiting a full interval.
	HasMore bool
}

// WebhookPayload is the parsed form of one inbound webhook request.
type WebhookPayload struct {
	// Source is the provider the request claims to come from, taken
	// from the request path.
	Source string `json:"source"`

	// EventType is the provider's event type string, when the body
	// carried one at the top level.
	EventType string `json:"eventType,omitempty"`

	// Timestamp is the provider's event time, unparsed.
	Timestamp string `json:"timestamp,omitempty"`

	// OrganizationID is the tenant from the request path.
	OrganizationID string `json:"organizationId"`

	// EmployeeID is the subject employee, when the body named one at
	// the top level.
	EmployeeID string `json:"employeeId,omitempty"`

	// Data is the event body for a single-event delivery.
	Data map[string]any `json:"data,omitempty"`

	// Events holds the items of a batched delivery. When non-empty it
	// takes precedence over Data.
	Events []map[string]any `json:"events,omitempty"`

	// Headers carries the original request headers for adapters that
	// read provider-specific ones.
	Headers map[string]string `json:"-"`
}

// items returns the event bodies to normalize, one per event.
func (p WebhookPayload) items() []map[string]any {
	if len(p.Events) > 0 {
		return p.Events
	}
	if p.Data != nil {
		return []map[string]any{p.Data}
	}
	return nil
}

// WebhookResult reports what a webhook delivery produced. Errors holds
// per-event normalization failures; a delivery can partially succeed.
type WebhookResult struct {
	Events []envelope.LifecycleEvent `json:"events"`
	Errors []string                  `json:"errors,omitempty"`
}

// Adapter is the per-provider contract. Implementations are safe for
// concurrent use.
type Adapter interface {
	// Source returns the provider identifier.
	Source() string

	// ValidateSignature checks an inbound webhook signature against the
	// configured secret. Returns nil when no secret is configured.
	ValidateSignature(rawBody []byte, signature string) error

	// ProcessWebhook normalizes one webhook delivery into lifecycle
	// events. Unrecognized event types are dropped with a warning, not
	// errored, so unknown provider traffic never fails a delivery.
	ProcessWebhook(ctx context.Context, payload WebhookPayload) (*WebhookResult, error)

	// Poll fetches changes since the cursor position and returns them
	// with the advanced cursor. Implementations never emit more than
	// MaxEventsPerPoll events per call.
	Poll(ctx context.Context, cursor Cursor) (*PollResult, error)

	// HealthCheck makes a cheap authenticated request to verify the
	// provider is reachable.
	HealthCheck(ctx context.Context) error
}

// New builds the adapter for cfg.Source.
func New(cfg Config, logger *slog.Logger) (Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return construct(cfg, logger)
}

// NewWebhookProcessor builds an adapter for webhook handling only. No
// upstream API is configured, so Poll and HealthCheck fail; ProcessWebhook
// and ValidateSignature work from the source tables and secret alone. The
// gateway uses this for tenants registered through the webhook config API
// without a full adapter entry.
func NewWebhookProcessor(source, organizationID, secret string, logger *slog.Logger) (Adapter, error) {
	if !KnownSource(source) {
		return nil, fmt.Errorf("unknown hrms source %q", source)
	}
	if organizationID == "" {
		return nil, fmt.Errorf("%s webhook processor requires an organization id", source)
	}
	return construct(Config{
		Source:         source,
		OrganizationID: organizationID,
		WebhookSecret:  secret,
	}, logger)
}

func construct(cfg Config, logger *slog.Logger) (Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("source", cfg.Source, "organization_id", cfg.OrganizationID)

	switch cfg.Source {
	case SourceWorkday:
		return newWorkday(cfg, logger), nil
	case SourceSuccessFactors:
		return newSuccessFactors(cfg, logger), nil
	case SourceBambooHR:
		return newBambooHR(cfg, logger), nil
	case SourceGeneric:
		return newGeneric(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown hrms source %q", cfg.Source)
}
