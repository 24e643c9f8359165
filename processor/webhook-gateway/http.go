package webhookgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/c360studio/lifebus/bus"
	"github.com/c360studio/lifebus/correlation"
	"github.com/c360studio/lifebus/envelope"
	"github.com/c360studio/lifebus/hrms"
)

// Signature header names accepted on inbound webhooks, in precedence
// order. Providers disagree on the name; the first non-empty one wins.
var signatureHeaders = []string{"x-signature", "x-hub-signature", "x-webhook-signature"}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func (c *Component) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/webhook/{source}/{organizationId}", c.handleWebhook)
	mux.HandleFunc("GET /api/health", c.handleHealth)
	mux.HandleFunc("POST /api/config/webhook", c.handleRegisterWebhook)
	mux.HandleFunc("DELETE /api/config/webhook/{organizationId}/{source}", c.handleRemoveWebhook)
	mux.HandleFunc("POST /api/admin/adapters/{source}/poll", c.handleForcePoll)
	if c.config.ExposeMetrics && c.metrics != nil {
		mux.Handle("GET /metrics", c.metrics.Handler())
	}
	return http.TimeoutHandler(mux, c.config.GetRequestTimeout(), `{"error":"request timed out"}`)
}

// webhookResponse is the body returned for webhook deliveries.
type webhookResponse struct {
	Success         bool     `json:"success"`
	EventsProcessed int      `json:"eventsProcessed"`
	Errors          []string `json:"errors,omitempty"`
	RetryAfter      int      `json:"retryAfter,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// ---------------------------------------------------------------------------
// Webhook ingress
// ---------------------------------------------------------------------------

// handleWebhook is the ingress path: rate limit, size bound, signature
// verification, normalization, publish. The endpoint is not idempotent;
// downstream consumers deduplicate on (source, sourceEventId).
func (c *Component) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	orgID := r.PathValue("organizationId")

	status, resp := c.receiveWebhook(r, source, orgID)
	if c.metrics != nil {
		c.metrics.WebhookRequests.WithLabelValues(source, strconv.Itoa(status)).Inc()
		if status == http.StatusTooManyRequests {
			c.metrics.WebhookRateLimited.Inc()
		}
	}
	if status >= http.StatusInternalServerError {
		c.errorCount.Add(1)
	}
	c.updateLastActivity()
	writeJSON(w, status, resp)
}

func (c *Component) receiveWebhook(r *http.Request, source, orgID string) (int, webhookResponse) {
	if !hrms.KnownSource(source) {
		return http.StatusNotFound, webhookResponse{Error: fmt.Sprintf("unknown source %q", source)}
	}
	if orgID == "" {
		return http.StatusNotFound, webhookResponse{Error: "missing organization id"}
	}

	// Rate limit before reading the body so abusive tenants cost nothing.
	decision := c.limiter.Check(rateKey(r, orgID))
	if !decision.Allowed {
		retryAfter := int(decision.RetryAfter.Round(time.Second).Seconds())
		c.logger.Warn("webhook rate limited", "organization_id", orgID, "source", source)
		return http.StatusTooManyRequests, webhookResponse{
			Error:      "rate limit exceeded",
			RetryAfter: retryAfter,
		}
	}
	if decision.SlowDown > 0 {
		if err := sleepCtx(r.Context(), decision.SlowDown); err != nil {
			return statusClientClosed, webhookResponse{Error: "client closed request"}
		}
	}

	r.Body = http.MaxBytesReader(nil, r.Body, c.config.MaxBodyBytes)
	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return http.StatusRequestEntityTooLarge, webhookResponse{
				Error: fmt.Sprintf("body exceeds %d bytes", c.config.MaxBodyBytes),
			}
		}
		return http.StatusBadRequest, webhookResponse{Error: "unreadable request body"}
	}

	var body map[string]any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return http.StatusBadRequest, webhookResponse{Error: "malformed JSON body"}
	}

	adapter, secret, err := c.adapterFor(source, orgID)
	if err != nil {
		return http.StatusNotFound, webhookResponse{Error: err.Error()}
	}
	if reg, ok := c.registry.Lookup(orgID, source); ok && !reg.IsActive {
		return http.StatusForbidden, webhookResponse{Error: "webhook registration is inactive"}
	}

	// A registered secret makes signatures mandatory; a missing signature
	// is the same failure as a wrong one.
	if secret != "" {
		if err := hrms.VerifySignature(source, rawBody, signatureFrom(r), secret); err != nil {
			c.logger.Warn("webhook signature rejected",
				"organization_id", orgID, "source", source, "error", err)
			return http.StatusUnauthorized, webhookResponse{Error: "signature verification failed"}
		}
	}

	payload := transportPayload(source, orgID, body, r)
	corr := c.correlationFor(payload)

	result, err := adapter.ProcessWebhook(r.Context(), payload)
	if err != nil {
		c.logger.Error("webhook processing failed",
			"organization_id", orgID, "source", source, "error", err)
		c.recordTrace(corr, correlation.EventFailed, 0, err)
		return http.StatusInternalServerError, webhookResponse{Error: "internal processing failure"}
	}

	published := 0
	var publishErrs []string
	for i := range result.Events {
		if err := c.publishLifecycle(r.Context(), &result.Events[i], corr); err != nil {
			publishErrs = append(publishErrs, fmt.Sprintf("event %d: publish failed", i))
			c.logger.Error("lifecycle publish failed",
				"organization_id", orgID, "source", source, "error", err)
			continue
		}
		published++
	}

	allErrs := append(append([]string{}, result.Errors...), publishErrs...)
	resp := webhookResponse{
		Success:         len(allErrs) == 0,
		EventsProcessed: published,
		Errors:          allErrs,
	}

	switch {
	case len(allErrs) == 0:
		c.recordTrace(corr, correlation.EventCompleted, published, nil)
		return http.StatusOK, resp
	default:
		// Partial or total normalization failure. 422 either way; the body
		// carries the per-event details.
		c.recordTrace(corr, correlation.EventFailed, published, fmt.Errorf("%d event errors", len(allErrs)))
		return http.StatusUnprocessableEntity, resp
	}
}

// statusClientClosed is nginx's convention for a client that went away.
const statusClientClosed = 499

// adapterFor resolves the adapter serving a tenant: a configured adapter
// when one exists, else a webhook-only processor for tenants known just to
// the webhook registry.
func (c *Component) adapterFor(source, orgID string) (hrms.Adapter, string, error) {
	key := source + "/" + orgID

	c.mu.RLock()
	entry, ok := c.adapters[key]
	c.mu.RUnlock()
	if ok {
		return entry.adapter, entry.secret, nil
	}

	reg, ok := c.registry.Lookup(orgID, source)
	if !ok {
		return nil, "", fmt.Errorf("no webhook configuration for %s/%s", source, orgID)
	}

	adapter, err := hrms.NewWebhookProcessor(source, orgID, reg.SecretKey, c.logger)
	if err != nil {
		return nil, "", err
	}

	c.mu.Lock()
	c.adapters[key] = adapterEntry{adapter: adapter, secret: reg.SecretKey, ephemeral: true}
	c.mu.Unlock()
	return adapter, reg.SecretKey, nil
}

// transportPayload shapes the parsed body into the adapter contract.
func transportPayload(source, orgID string, body map[string]any, r *http.Request) hrms.WebhookPayload {
	payload := hrms.WebhookPayload{
		Source:         source,
		OrganizationID: orgID,
		Headers:        flattenHeaders(r.Header),
	}
	if v, ok := body["eventType"].(string); ok {
		payload.EventType = v
	} else if v, ok := body["type"].(string); ok {
		payload.EventType = v
	}
	if v, ok := body["timestamp"].(string); ok {
		payload.Timestamp = v
	}
	if v, ok := body["employeeId"].(string); ok {
		payload.EmployeeID = v
	}

	if rawEvents, ok := body["events"].([]any); ok {
		for _, raw := range rawEvents {
			if item, ok := raw.(map[string]any); ok {
				payload.Events = append(payload.Events, item)
			}
		}
		return payload
	}
	if data, ok := body["data"].(map[string]any); ok {
		payload.Data = data
		return payload
	}
	payload.Data = body
	return payload
}

// correlationFor opens a correlation context for one delivery.
func (c *Component) correlationFor(payload hrms.WebhookPayload) correlation.CorrelationContext {
	if c.correlation == nil {
		return correlation.CorrelationContext{}
	}
	corr := c.correlation.CreateContext(
		correlation.WithOrganizationID(payload.OrganizationID),
		correlation.WithEmployeeID(payload.EmployeeID),
	)
	c.correlation.RecordEvent(corr.CorrelationID, componentName, "receive-webhook",
		correlation.EventStarted, map[string]any{"source": payload.Source})
	return corr
}

func (c *Component) recordTrace(corr correlation.CorrelationContext, status correlation.EventStatus, events int, err error) {
	if c.correlation == nil || corr.CorrelationID == "" {
		return
	}
	md := map[string]any{"events": events}
	if err != nil {
		md["error"] = err.Error()
	}
	c.correlation.RecordEvent(corr.CorrelationID, componentName, "receive-webhook", status, md)
}

// publishLifecycle routes one normalized event to its canonical topic.
func (c *Component) publishLifecycle(ctx context.Context, ev *envelope.LifecycleEvent, corr correlation.CorrelationContext) error {
	topic, err := bus.TopicForLifecycle(ev.Type)
	if err != nil {
		return err
	}
	opts := []envelope.Option{
		envelope.WithOrganizationID(ev.OrganizationID),
		envelope.WithEmployeeID(ev.EmployeeID),
	}
	if corr.CorrelationID != "" {
		opts = append(opts, envelope.WithCorrelationID(corr.CorrelationID))
	}
	_, err = topic.Publish(ctx, c.producer, *ev, opts...)
	return err
}

// ---------------------------------------------------------------------------
// Health and admin
// ---------------------------------------------------------------------------

func (c *Component) handleHealth(w http.ResponseWriter, r *http.Request) {
	details := map[string]any{
		"gateway": map[string]any{
			"running":        c.IsRunning(),
			"uptime":         time.Since(c.startTime()).String(),
			"registeredHooks": len(c.registry.All()),
		},
	}

	healthy := c.IsRunning()
	if c.pollers != nil {
		statuses := c.pollers.PollerStatuses()
		details["pollers"] = statuses
		for _, s := range statuses {
			if s.Health != nil && !s.Health.Available {
				healthy = false
			}
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "details": details})
}

func (c *Component) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var cfg WebhookConfig
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed JSON body"})
		return
	}
	if err := c.registry.Register(cfg); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		return
	}

	// Drop any cached webhook-only adapter so the next delivery picks up
	// the new secret.
	c.evictEphemeral(cfg.Source, cfg.OrganizationID)

	c.logger.Info("webhook registered",
		"organization_id", cfg.OrganizationID, "source", cfg.Source, "active", cfg.IsActive)
	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

func (c *Component) handleRemoveWebhook(w http.ResponseWriter, r *http.Request) {
	orgID := r.PathValue("organizationId")
	source := r.PathValue("source")

	if err := c.registry.Remove(orgID, source); err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	c.evictEphemeral(source, orgID)

	c.logger.Info("webhook removed", "organization_id", orgID, "source", source)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (c *Component) handleForcePoll(w http.ResponseWriter, r *http.Request) {
	source := r.PathValue("source")
	if !hrms.KnownSource(source) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown source %q", source)})
		return
	}
	if c.pollers == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "no pollers attached"})
		return
	}

	triggered, err := c.pollers.ForcePoll(source)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.logger.Info("forced poll", "source", source, "pollers", triggered)
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "pollersTriggered": triggered})
}

func (c *Component) evictEphemeral(source, orgID string) {
	key := source + "/" + orgID
	c.mu.Lock()
	if entry, ok := c.adapters[key]; ok && entry.ephemeral {
		delete(c.adapters, key)
	}
	c.mu.Unlock()
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// rateKey picks the limiter key: the tenant when known, else the caller's
// address so anonymous traffic cannot starve tenants.
func rateKey(r *http.Request, orgID string) string {
	if orgID != "" {
		return "org:" + orgID
	}
	if v := r.Header.Get("x-organization-id"); v != "" {
		return "org:" + v
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func signatureFrom(r *http.Request) string {
	for _, name := range signatureHeaders {
		if v := r.Header.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name := range h {
		out[strings.ToLower(name)] = h.Get(name)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
