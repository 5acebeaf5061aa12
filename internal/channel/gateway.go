// Package channel talks to the notification gateway that delivers member
// messages. Deliveries are deferred through the pending queue so an offline
// or unhealthy gateway never blocks the front desk.
package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gymdesk/gymsync/internal/config"
	apperrors "github.com/gymdesk/gymsync/internal/errors"
	"github.com/gymdesk/gymsync/internal/logging"
	"github.com/gymdesk/gymsync/internal/queue"
	"github.com/gymdesk/gymsync/internal/replay"
)

// KindSendMessage identifies a deferred gateway delivery.
const KindSendMessage = "send_message"

// healthCacheTTL bounds how often Ready hits the gateway health endpoint.
const healthCacheTTL = 5 * time.Second

// Message is the delivery request captured at enqueue time.
type Message struct {
	To       string `json:"to"`
	Template string `json:"template,omitempty"`
	Body     string `json:"body"`
}

// Gateway is an HTTP client for the notification service.
type Gateway struct {
	baseURL string
	token   string
	client  *http.Client

	mu          sync.Mutex
	lastChecked time.Time
	lastHealthy bool
}

// NewGateway creates a Gateway from configuration. A Gateway with no base URL
// is valid but never ready, so channel operations simply stay queued.
func NewGateway(cfg config.ChannelConfig) *Gateway {
	timeout := cfg.Timeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Ready reports whether the gateway health endpoint answered recently. The
// result is cached briefly so frequent probes do not hammer the service.
func (g *Gateway) Ready() bool {
	if g == nil || g.baseURL == "" {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if time.Since(g.lastChecked) < healthCacheTTL {
		return g.lastHealthy
	}

	g.lastChecked = time.Now()
	g.lastHealthy = g.checkHealth()
	return g.lastHealthy
}

func (g *Gateway) checkHealth() bool {
	req, err := http.NewRequest(http.MethodGet, g.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Send delivers one message synchronously. Client-side rejections (4xx) are
// terminal: the gateway will refuse the same payload every time. Server and
// transport failures stay transient.
func (g *Gateway) Send(ctx context.Context, msg Message) error {
	if g.baseURL == "" {
		return apperrors.New(apperrors.ErrTransientExecution, "gateway not configured")
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTerminalExecution, "marshal message", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/messages", bytes.NewReader(body))
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTerminalExecution, "build gateway request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrTransientExecution, "gateway request failed", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperrors.New(apperrors.ErrTransientExecution, "gateway throttled request")
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return apperrors.New(apperrors.ErrTerminalExecution,
			fmt.Sprintf("gateway rejected message: %s", resp.Status))
	default:
		return apperrors.New(apperrors.ErrTransientExecution,
			fmt.Sprintf("gateway unavailable: %s", resp.Status))
	}
}

// Handler adapts the Gateway to the replay dispatcher.
type Handler struct {
	gateway *Gateway
}

// NewHandler wraps a Gateway for queued delivery.
func NewHandler(g *Gateway) *Handler {
	return &Handler{gateway: g}
}

// Kind implements replay.Handler.
func (h *Handler) Kind() string { return KindSendMessage }

// Execute implements replay.Handler.
func (h *Handler) Execute(ctx context.Context, payload json.RawMessage) error {
	msg, err := replay.Decode[Message](payload)
	if err != nil {
		return err
	}
	if msg.To == "" {
		return apperrors.New(apperrors.ErrTerminalExecution, "message has no recipient")
	}

	if err := h.gateway.Send(ctx, msg); err != nil {
		return err
	}
	logging.Debug("message delivered", logging.Fields{"to": msg.To, "template": msg.Template})
	return nil
}

// DedupKey derives the stable dedup key for a message, so re-enqueueing the
// same reminder while one is still pending collapses into a single delivery.
func DedupKey(msg Message) string {
	return fmt.Sprintf("%s|%s|%s", KindSendMessage, msg.To, msg.Template)
}

// EnqueueMessage records a delivery for the drain engine, deduplicated and
// bounded by ttl so stale reminders are dropped instead of sent late.
func EnqueueMessage(ctx context.Context, store *queue.Store, msg Message, ttl time.Duration) (int64, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrInvalid, "marshal message payload", err)
	}
	opts := &queue.EnqueueOptions{DedupKey: DedupKey(msg)}
	if ttl > 0 {
		opts.TTL = ttl
	}
	return store.Enqueue(ctx, config.CategoryNotifyChannel, KindSendMessage, payload, opts)
}
