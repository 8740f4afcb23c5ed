package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/wudi/bastion/internal/config"
	"github.com/wudi/bastion/internal/logging"
)

// Dispatcher posts security events to configured webhook endpoints.
// Events are queued and delivered by a worker pool; when the queue is
// full the event is dropped and counted, never blocking the caller.
type Dispatcher struct {
	endpoints []config.WebhookEndpoint
	queue     chan *Event
	client    *http.Client
	retry     config.WebhookRetryConfig

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	retried   atomic.Int64

	mu      sync.Mutex
	history []*Event
}

const historyCap = 100

// NewDispatcher starts the worker pool. Returns a no-op-equivalent
// dispatcher with zero endpoints if cfg has none.
func NewDispatcher(cfg config.WebhooksConfig) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retry := cfg.Retry
	if retry.Backoff <= 0 {
		retry.Backoff = time.Second
	}
	if retry.MaxBackoff <= 0 {
		retry.MaxBackoff = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		endpoints: cfg.Endpoints,
		queue:     make(chan *Event, queueSize),
		client:    &http.Client{Timeout: timeout},
		retry:     retry,
		ctx:       ctx,
		cancel:    cancel,
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Publish enqueues the event for delivery. Non-blocking: a full queue
// drops the event.
func (d *Dispatcher) Publish(event *Event) {
	if len(d.endpoints) == 0 {
		return
	}
	select {
	case d.queue <- event:
	default:
		d.dropped.Add(1)
		logging.Warn("webhook queue full, event dropped",
			zap.String("code", event.Code),
			zap.String("client_identity", event.ClientIdentity))
	}
}

// Close stops the workers. Queued events that have not started
// delivery are abandoned.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case event := <-d.queue:
			d.recordHistory(event)
			for _, ep := range d.endpoints {
				d.deliverWithRetry(ep, event)
			}
		}
	}
}

func (d *Dispatcher) deliverWithRetry(ep config.WebhookEndpoint, event *Event) {
	backoff := d.retry.Backoff
	for attempt := 0; ; attempt++ {
		err := d.deliver(ep, event)
		if err == nil {
			d.delivered.Add(1)
			return
		}
		if attempt >= d.retry.MaxRetries {
			d.failed.Add(1)
			logging.Error("webhook delivery failed",
				zap.String("url", ep.URL),
				zap.Int("attempts", attempt+1),
				zap.Error(err))
			return
		}
		d.retried.Add(1)
		select {
		case <-d.ctx.Done():
			d.failed.Add(1)
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > d.retry.MaxBackoff {
			backoff = d.retry.MaxBackoff
		}
	}
}

func (d *Dispatcher) deliver(ep config.WebhookEndpoint, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event.Code)
	req.Header.Set("X-Webhook-Timestamp", event.Timestamp.UTC().Format(time.RFC3339))
	if ep.Secret != "" {
		req.Header.Set("X-Webhook-Signature", signPayload(ep.Secret, payload))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (d *Dispatcher) recordHistory(event *Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, event)
	if len(d.history) > historyCap {
		d.history = d.history[len(d.history)-historyCap:]
	}
}

// History returns a copy of the most recent events, newest last.
func (d *Dispatcher) History() []*Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Event, len(d.history))
	copy(out, d.history)
	return out
}

// Stats reports delivery counters.
type DispatcherStats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Retried   int64 `json:"retried"`
	Queued    int   `json:"queued"`
	Endpoints int   `json:"endpoints"`
}

func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
		Retried:   d.retried.Load(),
		Queued:    len(d.queue),
		Endpoints: len(d.endpoints),
	}
}
