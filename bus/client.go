package bus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"
)

// ClientConfig holds the broker connection settings shared by producers,
// consumers and the admin bootstrap.
type ClientConfig struct {
	Brokers        []string
	ClientID       string
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	TLS            bool
	SASLMechanism  string
	SASLUsername   string
	SASLPassword   string
}

// DefaultClientConfig returns the standard connection tuning.
func DefaultClientConfig(brokers ...string) ClientConfig {
	return ClientConfig{
		Brokers:        brokers,
		ClientID:       "lifebus",
		ConnectTimeout: 30 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Validate checks the connection settings.
func (c ClientConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("client config: at least one broker is required")
	}
	switch strings.ToLower(c.SASLMechanism) {
	case "", "plain", "scram-sha-256", "scram-sha-512":
	default:
		return fmt.Errorf("client config: unknown sasl mechanism %q", c.SASLMechanism)
	}
	return nil
}

// baseOpts renders the connection settings every client shares, including
// the OpenTelemetry hooks so produce and fetch spans join the active trace.
func baseOpts(cfg ClientConfig) ([]kgo.Opt, error) {
	tracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	instrumented := kotel.NewKotel(kotel.WithTracer(tracer))

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DialTimeout(cfg.ConnectTimeout),
		kgo.RequestTimeoutOverhead(cfg.RequestTimeout),
		kgo.WithHooks(instrumented.Hooks()...),
	}

	if cfg.TLS {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}

	switch strings.ToLower(cfg.SASLMechanism) {
	case "":
	case "plain":
		opts = append(opts, kgo.SASL(plain.Auth{
			User: cfg.SASLUsername,
			Pass: cfg.SASLPassword,
		}.AsMechanism()))
	case "scram-sha-256":
		opts = append(opts, kgo.SASL(scram.Auth{
			User: cfg.SASLUsername,
			Pass: cfg.SASLPassword,
		}.AsSha256Mechanism()))
	case "scram-sha-512":
		opts = append(opts, kgo.SASL(scram.Auth{
			User: cfg.SASLUsername,
			Pass: cfg.SASLPassword,
		}.AsSha512Mechanism()))
	default:
		return nil, fmt.Errorf("unknown sasl mechanism %q", cfg.SASLMechanism)
	}

	return opts, nil
}

// Client owns the shared produce and admin connection. Connect is lazy and
// idempotent; Close is safe to call repeatedly.
type Client struct {
	cfg    ClientConfig
	logger *slog.Logger

	mu sync.Mutex
	kc *kgo.Client
}

// NewClient prepares a client without dialing the brokers.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Connect dials the brokers on first use and verifies they answer.
func (c *Client) Connect(ctx context.Context) (*kgo.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kc != nil {
		return c.kc, nil
	}

	opts, err := baseOpts(c.cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		// One in-flight request per broker keeps partition order intact
		// across produce retries.
		kgo.MaxProduceRequestsInflightPerBroker(1),
		kgo.ProduceRequestTimeout(c.cfg.RequestTimeout),
	)

	kc, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create broker client: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()
	if err := kc.Ping(pingCtx); err != nil {
		kc.Close()
		return nil, fmt.Errorf("brokers unreachable at %s: %w", strings.Join(c.cfg.Brokers, ","), err)
	}

	c.logger.Info("connected to brokers", "brokers", c.cfg.Brokers, "client_id", c.cfg.ClientID)
	c.kc = kc
	return kc, nil
}

// Close releases the broker connection. Safe when never connected.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kc != nil {
		c.kc.Close()
		c.kc = nil
	}
}

// Config returns the connection settings, for consumers that dial their own
// group clients.
func (c *Client) Config() ClientConfig {
	return c.cfg
}

// FullTopology is the static registry plus a dead-letter topic per
// non-terminal topic.
func FullTopology() []TopicConfig {
	topics := Topics()
	for _, tc := range Topics() {
		if tc.Name == "quarantine.queue" || tc.Name == "manual.review.queue" {
			continue
		}
		topics = append(topics, DLQTopicConfig(DLQTopic(tc.Name)))
	}
	return topics
}

// EnsureTopics creates any missing topics with their partitions, replication
// and per-topic configs. Existing topics are left untouched, so the call is
// safe on every startup and races between instances resolve to first-wins.
func (c *Client) EnsureTopics(ctx context.Context, topics []TopicConfig) error {
	kc, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	adm := kadm.NewClient(kc)

	existing, err := adm.ListTopics(ctx)
	if err != nil {
		return fmt.Errorf("list topics: %w", err)
	}

	created := 0
	for _, tc := range topics {
		if existing.Has(tc.Name) {
			continue
		}
		configs := map[string]*string{
			"retention.ms":        strPtr(strconv.FormatInt(tc.Retention.Milliseconds(), 10)),
			"compression.type":    strPtr(tc.Compression),
			"min.insync.replicas": strPtr(strconv.Itoa(tc.MinInSyncReplicas)),
		}
		if _, err := adm.CreateTopic(ctx, tc.Partitions, tc.ReplicationFactor, configs, tc.Name); err != nil {
			if errors.Is(err, kerr.TopicAlreadyExists) {
				continue
			}
			return fmt.Errorf("create topic %s: %w", tc.Name, err)
		}
		created++
		c.logger.Info("created topic",
			"topic", tc.Name,
			"partitions", tc.Partitions,
			"replication", tc.ReplicationFactor,
			"retention", tc.Retention)
	}

	if created > 0 {
		c.logger.Info("topic bootstrap complete", "created", created, "total", len(topics))
	}
	return nil
}

func strPtr(s string) *string { return &s }
