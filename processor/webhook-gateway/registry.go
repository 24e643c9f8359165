package webhookgateway

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/lifebus/hrms"
)

// RetryPolicy is the delivery retry advice stored with a webhook
// registration. The gateway itself does not retry inbound deliveries; the
// policy is carried for the provider-side configuration tooling.
type RetryPolicy struct {
	MaxRetries int    `json:"maxRetries" yaml:"max_retries"`
	Backoff    string `json:"backoff,omitempty" yaml:"backoff,omitempty"`
}

// WebhookConfig is one tenant-and-source webhook registration.
type WebhookConfig struct {
	OrganizationID string `json:"organizationId" yaml:"organization_id"`
	Source         string `json:"source" yaml:"source"`

	// Endpoint is the provider-side delivery URL, recorded so operators
	// can audit what the provider was configured with.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`

	// SecretKey is the shared HMAC secret. When set, deliveries without a
	// valid signature are rejected.
	SecretKey string `json:"secretKey,omitempty" yaml:"secret_key,omitempty"`

	IsActive bool `json:"isActive" yaml:"is_active"`

	RetryPolicy *RetryPolicy `json:"retryPolicy,omitempty" yaml:"retry_policy,omitempty"`

	// TransformationRules renames top-level payload fields before
	// normalization, for providers with customized field names.
	TransformationRules map[string]string `json:"transformationRules,omitempty" yaml:"transformation_rules,omitempty"`
}

// Validate checks a registration.
func (w WebhookConfig) Validate() error {
	if w.OrganizationID == "" {
		return fmt.Errorf("webhook config requires an organizationId")
	}
	if !hrms.KnownSource(w.Source) {
		return fmt.Errorf("webhook config has unknown source %q", w.Source)
	}
	return nil
}

func registryKey(organizationID, source string) string {
	return source + "/" + organizationID
}

// Registry holds webhook registrations, persisted to one YAML file. Admin
// CRUD writes through to the file; external edits to the file hot-reload
// via fsnotify, so a config push does not need a gateway restart.
type Registry struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	entries map[string]WebhookConfig

	watchOnce sync.Once
	done      chan struct{}
}

// NewRegistry opens the registry file at path, creating an empty registry
// when the file does not exist yet.
func NewRegistry(path string, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		path:    path,
		logger:  logger,
		entries: make(map[string]WebhookConfig),
		done:    make(chan struct{}),
	}
	if err := r.reload(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return r, nil
}

// Lookup returns the registration for a tenant and source.
func (r *Registry) Lookup(organizationID, source string) (WebhookConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.entries[registryKey(organizationID, source)]
	return cfg, ok
}

// All returns every registration, ordered by source then organization.
func (r *Registry) All() []WebhookConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]WebhookConfig, 0, len(r.entries))
	for _, cfg := range r.entries {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].OrganizationID < out[j].OrganizationID
	})
	return out
}

// Register upserts a registration and writes through to the file.
func (r *Registry) Register(cfg WebhookConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[registryKey(cfg.OrganizationID, cfg.Source)] = cfg
	return r.saveLocked()
}

// Remove deletes a registration and writes through to the file.
func (r *Registry) Remove(organizationID, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(organizationID, source)
	if _, ok := r.entries[key]; !ok {
		return fmt.Errorf("no webhook config for %s/%s", source, organizationID)
	}
	delete(r.entries, key)
	return r.saveLocked()
}

// Watch starts the hot-reload watcher. Safe to call once; returns when the
// watcher is installed, not when it finishes.
func (r *Registry) Watch() error {
	var err error
	r.watchOnce.Do(func() {
		var watcher *fsnotify.Watcher
		watcher, err = fsnotify.NewWatcher()
		if err != nil {
			return
		}
		// Watch the directory: editors and config pushers typically
		// replace the file, which drops a watch on the file itself.
		if err = watcher.Add(filepath.Dir(r.path)); err != nil {
			watcher.Close()
			return
		}
		go r.watchLoop(watcher)
	})
	return err
}

// Close stops the watcher.
func (r *Registry) Close() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func (r *Registry) watchLoop(watcher *fsnotify.Watcher) {
	defer watcher.Close()

	// Debounce bursts: a file replace arrives as several events.
	var pending <-chan time.Time

	for {
		select {
		case <-r.done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(r.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(200 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.Warn("webhook registry watcher error", "error", err)
		case <-pending:
			pending = nil
			if err := r.reload(); err != nil {
				r.logger.Error("webhook registry reload failed", "error", err)
				continue
			}
			r.logger.Info("webhook registry reloaded", "entries", r.count())
		}
	}
}

func (r *Registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// reload replaces the in-memory entries with the file contents. Invalid
// entries are dropped with a warning rather than failing the whole file.
func (r *Registry) reload() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return err
	}

	var configs []WebhookConfig
	if err := yaml.Unmarshal(data, &configs); err != nil {
		return fmt.Errorf("parse webhook registry %s: %w", r.path, err)
	}

	entries := make(map[string]WebhookConfig, len(configs))
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			r.logger.Warn("dropping invalid webhook registry entry", "error", err)
			continue
		}
		entries[registryKey(cfg.OrganizationID, cfg.Source)] = cfg
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
	return nil
}

// saveLocked writes the entries to the file. Callers hold the write lock.
func (r *Registry) saveLocked() error {
	configs := make([]WebhookConfig, 0, len(r.entries))
	for _, cfg := range r.entries {
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool {
		if configs[i].Source != configs[j].Source {
			return configs[i].Source < configs[j].Source
		}
		return configs[i].OrganizationID < configs[j].OrganizationID
	})

	data, err := yaml.Marshal(configs)
	if err != nil {
		return fmt.Errorf("marshal webhook registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry directory: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o600); err != nil {
		return fmt.Errorf("write webhook registry %s: %w", r.path, err)
	}
	return nil
}
