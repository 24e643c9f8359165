package bus

import "time"

// GroupConfig describes a consumer group: its identity, subscriptions and
// session tuning. Subscriptions are topic names or glob patterns.
type GroupConfig struct {
	Name              string
	Subscriptions     []string
	SessionTimeout    time.Duration
	HeartbeatInterval time.Duration
	RebalanceTimeout  time.Duration
	FetchMaxBytes     int32
	Retry             RetryConfig
}

// DefaultGroupConfig returns a group config with the standard session
// tuning and retry policy.
func DefaultGroupConfig(name string, subscriptions ...string) GroupConfig {
	return GroupConfig{
		Name:              name,
		Subscriptions:     subscriptions,
		SessionTimeout:    30 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		RebalanceTimeout:  60 * time.Second,
		Retry:             DefaultRetryConfig(),
	}
}

// groupRegistry is the authoritative set of consumer groups. Group names
// are contracts with the services that run them; subscriptions here are the
// platform defaults.
var groupRegistry = []GroupConfig{
	DefaultGroupConfig("workflow-engine", "employee.*", "workflow.run.*"),
	DefaultGroupConfig("identity-service", "identity.provision.request"),
	DefaultGroupConfig("email-service", "email.send.request"),
	DefaultGroupConfig("calendar-service", "calendar.schedule.request"),
	DefaultGroupConfig("slack-service", "employee.*"),
	DefaultGroupConfig("document-service", "employee.onboard", "employee.exit"),
	DefaultGroupConfig("ai-service", "node.execute.request"),
	DefaultGroupConfig("audit-service", "audit.events"),
	DefaultGroupConfig("webhook-gateway", "node.execute.result"),
	DefaultGroupConfig("scheduler-service", "workflow.run.request"),
	DefaultGroupConfig("dlq-handler", "dlq.*"),
}

// Groups returns a copy of the registered consumer groups.
func Groups() []GroupConfig {
	out := make([]GroupConfig, len(groupRegistry))
	copy(out, groupRegistry)
	return out
}

// LookupGroup resolves a consumer group by name.
func LookupGroup(name string) (GroupConfig, bool) {
	for _, gc := range groupRegistry {
		if gc.Name == name {
			return gc, true
		}
	}
	return GroupConfig{}, false
}
