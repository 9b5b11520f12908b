package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lead-capture/internal/lead"
	"lead-capture/internal/observability"
)

const (
	EventLeadCreated = "lead.created"
	DefaultTimeout   = 5 * time.Second

	maxResponseBytes = 64 << 10
)

type Envelope struct {
	Event     string    `json:"event"`
	Timestamp string    `json:"timestamp"`
	Lead      lead.Lead `json:"lead"`
}

type Config struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

// Dispatcher delivers lead events to a single configured endpoint. Each
// delivery is attempted once; nothing is queued or persisted.
type Dispatcher struct {
	url     string
	secret  string
	timeout time.Duration
	client  *http.Client
	logger  *observability.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
	now     func() time.Time
}

func NewDispatcher(cfg Config, logger *observability.Logger) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	d := &Dispatcher{
		url:     strings.TrimSpace(cfg.URL),
		secret:  cfg.Secret,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		now:     time.Now,
	}

	switch {
	case d.url == "":
		logger.Info("webhook_disabled", map[string]any{"reason": "WEBHOOK_URL not set"})
	case d.secret == "":
		logger.Warn("webhook_unsigned", map[string]any{
			"reason": "WEBHOOK_SECRET not set, deliveries will carry no signature",
		})
	}

	return d
}

func (d *Dispatcher) WithMetrics(metrics *observability.Metrics) *Dispatcher {
	d.metrics = metrics
	return d
}

func (d *Dispatcher) Enabled() bool {
	return d != nil && d.url != ""
}

func (d *Dispatcher) Signed() bool {
	return d.Enabled() && d.secret != ""
}

// LeadCreated returns immediately; delivery happens on its own goroutine.
func (d *Dispatcher) LeadCreated(l lead.Lead) {
	if !d.Enabled() {
		return
	}

	sentAt := d.now().UTC()
	payload, err := json.Marshal(Envelope{
		Event:     EventLeadCreated,
		Timestamp: sentAt.Format(time.RFC3339),
		Lead:      l,
	})
	if err != nil {
		d.logger.Error("webhook_encode_failed", map[string]any{"lead_id": l.ID, "error": err.Error()})
		d.metrics.WebhookDelivery("encode_error")
		return
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.Send(ctx, EventLeadCreated, payload, sentAt); err != nil {
			d.logger.Error("webhook_delivery_failed", map[string]any{
				"event":   EventLeadCreated,
				"lead_id": l.ID,
				"error":   err.Error(),
			})
			d.metrics.WebhookDelivery("failed")
			return
		}

		d.logger.Info("webhook_delivered", map[string]any{"event": EventLeadCreated, "lead_id": l.ID})
		d.metrics.WebhookDelivery("delivered")
	}()
}

// Send performs one synchronous POST of payload. The signature covers the
// exact bytes sent.
func (d *Dispatcher) Send(ctx context.Context, event string, payload []byte, sentAt time.Time) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "lead-capture-webhook/1.0")
	req.Header.Set(EventHeader, event)
	req.Header.Set(DeliveryHeader, uuid.NewString())
	if d.secret != "" {
		req.Header.Set(SignatureHeader, Sign(payload, d.secret))
		req.Header.Set(TimestampHeader, strconv.FormatInt(sentAt.Unix(), 10))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook endpoint returned status %d", resp.StatusCode)
	}

	return nil
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
