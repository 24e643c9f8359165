package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/c360studio/lifebus/envelope"
	"github.com/c360studio/lifebus/metrics"
)

// Ack reports where a produced envelope landed.
type Ack struct {
	Topic     string
	Partition int32
	Offset    int64
}

// DLQSink is the dead-letter surface the consumer depends on. The producer
// implements it; tests substitute fakes.
type DLQSink interface {
	SendToDLQ(ctx context.Context, originalTopic string, env *envelope.Envelope, cause error, attemptCount int) error
}

// Producer publishes envelopes. It is safe for concurrent use and shares
// one broker connection through the client; ordering per partition survives
// client retries because produce requests stay serialized per broker.
type Producer struct {
	client  *Client
	source  string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProducer wraps the shared client. source names the producing component
// in envelope metadata.
func NewProducer(client *Client, source string, m *metrics.Metrics, logger *slog.Logger) *Producer {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{client: client, source: source, logger: logger, metrics: m}
}

// Source returns the component name stamped on produced envelopes.
func (p *Producer) Source() string {
	return p.source
}

// SendOne wraps msg in an envelope and produces it. Passing an
// *envelope.Envelope publishes it as-is; anything else becomes the payload
// of a fresh envelope whose type is the topic's base name.
func (p *Producer) SendOne(ctx context.Context, topic string, msg any, opts ...envelope.Option) ([]Ack, error) {
	env, err := p.envelopeFor(topic, msg, opts...)
	if err != nil {
		return nil, err
	}
	ack, err := p.SendEnvelope(ctx, topic, env, nil)
	if err != nil {
		return nil, err
	}
	return []Ack{ack}, nil
}

// SendKeyed is SendOne with an explicit partition key overriding the
// organization-id-else-envelope-id default.
func (p *Producer) SendKeyed(ctx context.Context, topic, key string, msg any, opts ...envelope.Option) ([]Ack, error) {
	env, err := p.envelopeFor(topic, msg, opts...)
	if err != nil {
		return nil, err
	}
	ack, err := p.produce(ctx, topic, env, key, nil)
	if err != nil {
		return nil, err
	}
	return []Ack{ack}, nil
}

// SendBatch produces msgs in order. Every message is marshaled before any
// is sent, so a bad message fails the batch without publishing anything;
// a broker failure aborts the remainder of the batch.
func (p *Producer) SendBatch(ctx context.Context, topic string, msgs []any, opts ...envelope.Option) ([]Ack, error) {
	if len(msgs) == 0 {
		return nil, nil
	}

	records := make([]*kgo.Record, len(msgs))
	for i, msg := range msgs {
		env, err := p.envelopeFor(topic, msg, opts...)
		if err != nil {
			return nil, fmt.Errorf("batch message %d: %w", i, err)
		}
		rec, err := recordFor(topic, env, env.Key(), nil)
		if err != nil {
			return nil, fmt.Errorf("batch message %d: %w", i, err)
		}
		records[i] = rec
	}

	kc, err := p.client.Connect(ctx)
	if err != nil {
		return nil, err
	}

	acks := make([]Ack, len(records))
	abort := kgo.AbortingFirstErrPromise(kc)
	for i := range records {
		i := i
		done := abort.Promise()
		kc.Produce(ctx, records[i], func(r *kgo.Record, err error) {
			if err == nil {
				acks[i] = Ack{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}
			}
			done(r, err)
		})
	}
	if err := abort.Err(); err != nil {
		p.metrics.ProduceErrors.WithLabelValues(topic).Inc()
		return nil, fmt.Errorf("produce batch to %s: %w", topic, err)
	}

	p.metrics.ProducedTotal.WithLabelValues(topic).Add(float64(len(records)))
	return acks, nil
}

// SendToOrganizationTopic produces to the tenant-scoped variant of base.
func (p *Producer) SendToOrganizationTopic(ctx context.Context, base, organizationID string, msg any, opts ...envelope.Option) ([]Ack, error) {
	opts = append(opts, envelope.WithOrganizationID(organizationID))
	return p.SendOne(ctx, OrgTopic(base, organizationID), msg, opts...)
}

// SendToDLQ wraps env in a dead-letter record on dlq.<originalTopic>.
// attemptCount is the completed delivery round including this failure; this
// is the only place in the pipeline that increments it. The record keeps
// the original partition key so tenant ordering holds in the DLQ.
func (p *Producer) SendToDLQ(ctx context.Context, originalTopic string, env *envelope.Envelope, cause error, attemptCount int) error {
	msg := envelope.NewDLQMessage(originalTopic, env, cause, attemptCount)
	dlqEnv, err := envelope.New(envelope.TypeDLQMessage, msg,
		envelope.WithCorrelationID(env.Metadata.CorrelationID),
		envelope.WithSource(p.source),
		envelope.WithOrganizationID(env.Metadata.OrganizationID),
		envelope.WithEmployeeID(env.Metadata.EmployeeID),
	)
	if err != nil {
		return err
	}

	if _, err := p.produce(ctx, DLQTopic(originalTopic), dlqEnv, env.Key(), nil); err != nil {
		return err
	}

	p.metrics.DLQTotal.WithLabelValues(originalTopic).Inc()
	p.logger.Warn("dead-lettered envelope",
		"envelope_id", env.ID,
		"topic", originalTopic,
		"attempt_count", attemptCount,
		"correlation_id", env.Metadata.CorrelationID,
		"error", cause)
	return nil
}

// SendEnvelope produces a prepared envelope with optional extra headers.
// Republishers use the headers to carry the retry-attempt count.
func (p *Producer) SendEnvelope(ctx context.Context, topic string, env *envelope.Envelope, headers map[string]string) (Ack, error) {
	return p.produce(ctx, topic, env, env.Key(), headers)
}

func (p *Producer) envelopeFor(topic string, msg any, opts ...envelope.Option) (*envelope.Envelope, error) {
	if env, ok := msg.(*envelope.Envelope); ok {
		if err := env.Validate(); err != nil {
			return nil, err
		}
		return env, nil
	}
	opts = append([]envelope.Option{envelope.WithSource(p.source)}, opts...)
	return envelope.New(messageType(topic), msg, opts...)
}

func (p *Producer) produce(ctx context.Context, topic string, env *envelope.Envelope, key string, extra map[string]string) (Ack, error) {
	kc, err := p.client.Connect(ctx)
	if err != nil {
		return Ack{}, err
	}

	rec, err := recordFor(topic, env, key, extra)
	if err != nil {
		return Ack{}, err
	}

	res := kc.ProduceSync(ctx, rec)
	if err := res.FirstErr(); err != nil {
		p.metrics.ProduceErrors.WithLabelValues(topic).Inc()
		return Ack{}, fmt.Errorf("produce to %s: %w", topic, err)
	}
	r, err := res.First()
	if err != nil {
		return Ack{}, fmt.Errorf("produce to %s: %w", topic, err)
	}

	p.metrics.ProducedTotal.WithLabelValues(topic).Inc()
	return Ack{Topic: r.Topic, Partition: r.Partition, Offset: r.Offset}, nil
}

// recordFor renders an envelope as a broker record. Headers come out sorted
// so record bytes are deterministic.
func recordFor(topic string, env *envelope.Envelope, key string, extra map[string]string) (*kgo.Record, error) {
	value, err := env.Marshal()
	if err != nil {
		return nil, err
	}

	headers := env.Headers()
	for k, v := range extra {
		headers[k] = v
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	kh := make([]kgo.RecordHeader, 0, len(keys))
	for _, k := range keys {
		kh = append(kh, kgo.RecordHeader{Key: k, Value: []byte(headers[k])})
	}

	return &kgo.Record{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: kh,
	}, nil
}

// messageType maps a topic to the envelope type for payloads produced on
// it: the registered base name for tenant-suffixed topics, else the topic
// itself.
func messageType(topic string) string {
	for _, tc := range topicRegistry {
		if tc.Name == topic {
			return topic
		}
	}
	for _, tc := range topicRegistry {
		if strings.HasPrefix(topic, tc.Name+".") {
			return tc.Name
		}
	}
	return topic
}
