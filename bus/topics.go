// Package bus is the Kafka-backed event backbone: topic and group
// registries, the typed producer and the typed consumer with in-process
// retry and dead-letter emission. The topic topology is static and owned
// by this package; dynamic names follow the tenant ({base}.{orgID}) and
// dead-letter (dlq.{topic}) conventions.
package bus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/lifebus/envelope"
)

// Compression names accepted by topic configs.
const (
	CompressionSnappy = "snappy"
	CompressionGzip   = "gzip"
)

const day = 24 * time.Hour

// TopicConfig describes one topic in the static topology.
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Retention         time.Duration
	Compression       string
	MinInSyncReplicas int
}

// topicRegistry is the authoritative topology. Every topic keeps
// min.insync.replicas at 2 so a single broker loss never blocks acks.
var topicRegistry = []TopicConfig{
	{Name: "employee.onboard", Partitions: 12, ReplicationFactor: 3, Retention: 7 * day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "employee.exit", Partitions: 12, ReplicationFactor: 3, Retention: 30 * day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "employee.transfer", Partitions: 12, ReplicationFactor: 3, Retention: 7 * day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "employee.update", Partitions: 12, ReplicationFactor: 3, Retention: 3 * day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "workflow.run.request", Partitions: 24, ReplicationFactor: 3, Retention: day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "workflow.run.pause", Partitions: 12, ReplicationFactor: 3, Retention: day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "workflow.run.resume", Partitions: 12, ReplicationFactor: 3, Retention: day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "workflow.run.cancel", Partitions: 12, ReplicationFactor: 3, Retention: day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "node.execute.request", Partitions: 24, ReplicationFactor: 3, Retention: day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "node.execute.result", Partitions: 24, ReplicationFactor: 3, Retention: 3 * day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "node.execute.retry", Partitions: 12, ReplicationFactor: 3, Retention: day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "identity.provision.request", Partitions: 12, ReplicationFactor: 3, Retention: day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "identity.provision.result", Partitions: 12, ReplicationFactor: 3, Retention: 7 * day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "email.send.request", Partitions: 12, ReplicationFactor: 3, Retention: day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "email.send.result", Partitions: 12, ReplicationFactor: 3, Retention: 3 * day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "calendar.schedule.request", Partitions: 12, ReplicationFactor: 3, Retention: day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "calendar.schedule.result", Partitions: 12, ReplicationFactor: 3, Retention: 3 * day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "audit.events", Partitions: 12, ReplicationFactor: 3, Retention: 90 * day, Compression: CompressionGzip, MinInSyncReplicas: 2},
	{Name: "metrics.events", Partitions: 6, ReplicationFactor: 3, Retention: 7 * day, Compression: CompressionSnappy, MinInSyncReplicas: 2},
	{Name: "quarantine.queue", Partitions: 3, ReplicationFactor: 3, Retention: 30 * day, Compression: CompressionGzip, MinInSyncReplicas: 2},
	{Name: "manual.review.queue", Partitions: 3, ReplicationFactor: 3, Retention: 30 * day, Compression: CompressionGzip, MinInSyncReplicas: 2},
}

// Topics returns a copy of the static topology.
func Topics() []TopicConfig {
	out := make([]TopicConfig, len(topicRegistry))
	copy(out, topicRegistry)
	return out
}

// DLQTopic names the dead-letter topic for a topic.
func DLQTopic(topic string) string {
	return "dlq." + topic
}

// DLQTopicConfig returns the config for a dead-letter topic. Dead-letter
// topics are small and long-lived relative to their originals.
func DLQTopicConfig(name string) TopicConfig {
	return TopicConfig{
		Name:              name,
		Partitions:        6,
		ReplicationFactor: 3,
		Retention:         30 * day,
		Compression:       CompressionGzip,
		MinInSyncReplicas: 2,
	}
}

// OrgTopic names the tenant-scoped variant of a base topic.
func OrgTopic(base, organizationID string) string {
	return base + "." + organizationID
}

// LookupTopic resolves a name to its config. Tenant-suffixed names inherit
// the base topic config; dlq.* names resolve to the dead-letter config.
func LookupTopic(name string) (TopicConfig, bool) {
	for _, tc := range topicRegistry {
		if tc.Name == name {
			return tc, true
		}
	}
	if strings.HasPrefix(name, "dlq.") {
		return DLQTopicConfig(name), true
	}
	for _, tc := range topicRegistry {
		if strings.HasPrefix(name, tc.Name+".") {
			inherited := tc
			inherited.Name = name
			return inherited, true
		}
	}
	return TopicConfig{}, false
}

// TopicsMatching returns the registered topic names matching a glob
// pattern, e.g. "employee.*" or "workflow.run.*".
func TopicsMatching(pattern string) []string {
	var out []string
	for _, tc := range topicRegistry {
		ok, err := doublestar.Match(pattern, tc.Name)
		if err != nil {
			return nil
		}
		if ok {
			out = append(out, tc.Name)
		}
	}
	return out
}

// GlobToRegex compiles a subscription glob into the anchored regular
// expression form the broker consumes for pattern subscriptions.
func GlobToRegex(pattern string) (*regexp.Regexp, error) {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			sb.WriteString(".*")
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\', '?':
			sb.WriteString("\\")
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return nil, fmt.Errorf("compile subscription pattern %q: %w", pattern, err)
	}
	return re, nil
}

// Topic is a typed handle on a named topic: payloads publish and decode as
// T without callers touching raw envelopes.
type Topic[T any] struct {
	Name string
}

// NewTopic creates a typed handle for a topic name.
func NewTopic[T any](name string) Topic[T] {
	return Topic[T]{Name: name}
}

// Publish wraps payload in an envelope and produces it on this topic.
func (t Topic[T]) Publish(ctx context.Context, p *Producer, payload T, opts ...envelope.Option) ([]Ack, error) {
	return p.SendOne(ctx, t.Name, payload, opts...)
}

// On registers a typed handler for this topic's message type. Payloads that
// fail to decode are skipped, never retried.
func (t Topic[T]) On(c *Consumer, handler func(context.Context, T, MessageContext) error) error {
	return c.RegisterHandler(t.Name, func(ctx context.Context, env *envelope.Envelope, mc MessageContext) error {
		payload, err := envelope.Decode[T](env)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrSkip, err)
		}
		return handler(ctx, payload, mc)
	})
}

// Typed handles for the canonical lifecycle topics.
var (
	EmployeeOnboard  = NewTopic[envelope.LifecycleEvent]("employee.onboard")
	EmployeeExit     = NewTopic[envelope.LifecycleEvent]("employee.exit")
	EmployeeTransfer = NewTopic[envelope.LifecycleEvent]("employee.transfer")
	EmployeeUpdate   = NewTopic[envelope.LifecycleEvent]("employee.update")
)

// TopicForLifecycle returns the typed handle for a canonical event type.
func TopicForLifecycle(t envelope.LifecycleType) (Topic[envelope.LifecycleEvent], error) {
	switch t {
	case envelope.LifecycleOnboard:
		return EmployeeOnboard, nil
	case envelope.LifecycleExit:
		return EmployeeExit, nil
	case envelope.LifecycleTransfer:
		return EmployeeTransfer, nil
	case envelope.LifecycleUpdate:
		return EmployeeUpdate, nil
	}
	return Topic[envelope.LifecycleEvent]{}, fmt.Errorf("no topic for lifecycle type %q", t)
}
