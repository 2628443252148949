package events

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wardline/authcore/internal/domain"
	"github.com/wardline/authcore/internal/storage"
)

// Dispatcher fans a published event out to every active webhook whose
// pattern set matches it, bounded by a global worker pool and a per-webhook
// concurrency cap so one slow subscriber cannot starve the others.
type Dispatcher struct {
	webhooks   *storage.WebhookRepo
	deliveries *storage.DeliveryRepo
	events     *storage.EventRepo
	httpClient *http.Client
	logger     *slog.Logger

	sem      chan struct{}
	hookSem  map[uuid.UUID]chan struct{}
	hookSemMu sync.Mutex
	hookConcurrency int

	now func() time.Time
}

// DispatcherConfig bounds worker concurrency; zero values take the defaults.
type DispatcherConfig struct {
	WorkerPoolSize       int
	PerWebhookConcurrency int
	HTTPTimeout          time.Duration
}

const defaultWorkerPoolSize = 16
const defaultPerWebhookConcurrency = 4

func NewDispatcher(webhooks *storage.WebhookRepo, deliveries *storage.DeliveryRepo, events *storage.EventRepo, logger *slog.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = defaultWorkerPoolSize
	}
	if cfg.PerWebhookConcurrency <= 0 {
		cfg.PerWebhookConcurrency = defaultPerWebhookConcurrency
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = domain.DefaultWebhookTimeout
	}
	return &Dispatcher{
		webhooks:   webhooks,
		deliveries: deliveries,
		events:     events,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		logger:     logger,
		sem:        make(chan struct{}, cfg.WorkerPoolSize),
		hookSem:    make(map[uuid.UUID]chan struct{}),
		hookConcurrency: cfg.PerWebhookConcurrency,
		now:        time.Now,
	}
}

func (d *Dispatcher) hookSemaphore(id uuid.UUID) chan struct{} {
	d.hookSemMu.Lock()
	defer d.hookSemMu.Unlock()
	s, ok := d.hookSem[id]
	if !ok {
		s = make(chan struct{}, d.hookConcurrency)
		d.hookSem[id] = s
	}
	return s
}

// Enqueue finds every active webhook subscribed to record.Type, persists a
// first delivery attempt for each, and kicks off immediate best-effort
// delivery. Retries are picked up later by ProcessDue, so a process
// restart between attempt 1 and a scheduled retry never loses the retry.
func (d *Dispatcher) Enqueue(ctx context.Context, record *domain.EventRecord) {
	hooks, err := d.webhooks.ListActive(ctx)
	if err != nil {
		d.logger.Error("list active webhooks failed", "error", err)
		return
	}
	for _, w := range hooks {
		if !w.Matches(record.Type) {
			continue
		}
		attempt := &domain.DeliveryAttempt{
			ID:            uuid.New(),
			WebhookID:     w.ID,
			EventID:       record.ID,
			Status:        domain.DeliveryPending,
			AttemptNumber: 1,
			ScheduledFor:  d.now(),
		}
		if err := d.deliveries.Create(ctx, attempt); err != nil {
			d.logger.Error("create delivery attempt failed", "error", err, "webhook_id", w.ID)
			continue
		}
		hook := w
		go d.deliver(context.WithoutCancel(ctx), hook, *attempt, record)
	}
}

// ProcessDue drains deliveries scheduled at or before now, up to limit,
// for the background worker to call on a ticker. It re-fetches the event
// payload and the current webhook state for each, since both may have
// changed since the attempt was first scheduled.
func (d *Dispatcher) ProcessDue(ctx context.Context, limit int) (int, error) {
	due, err := d.deliveries.DuePending(ctx, d.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("list due deliveries: %w", err)
	}
	var wg sync.WaitGroup
	for _, attempt := range due {
		hook, err := d.webhooks.GetByID(ctx, attempt.WebhookID)
		if err != nil || !hook.Active {
			continue
		}
		record, err := d.events.GetByID(ctx, attempt.EventID)
		if err != nil {
			d.logger.Error("load event for due delivery failed", "error", err, "event_id", attempt.EventID)
			continue
		}
		wg.Add(1)
		a := attempt
		h := *hook
		go func() {
			defer wg.Done()
			d.deliver(ctx, h, a, record)
		}()
	}
	wg.Wait()
	return len(due), nil
}

// deliver performs one HTTP attempt, bounded by the global and per-webhook
// semaphores, and either marks the attempt complete or schedules a retry.
func (d *Dispatcher) deliver(ctx context.Context, hook domain.Webhook, attempt domain.DeliveryAttempt, record *domain.EventRecord) {
	d.sem <- struct{}{}
	defer func() { <-d.sem }()

	hookSem := d.hookSemaphore(hook.ID)
	hookSem <- struct{}{}
	defer func() { <-hookSem }()

	body, err := json.Marshal(record)
	if err != nil {
		d.logger.Error("marshal event for delivery failed", "error", err)
		return
	}

	timeout := hook.Timeout
	if timeout <= 0 || timeout > domain.MaxWebhookTimeout {
		timeout = domain.DefaultWebhookTimeout
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ts := d.now().Unix()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, hook.TargetURL, bytes.NewReader(body))
	if err != nil {
		d.logger.Error("build webhook request failed", "error", err, "webhook_id", hook.ID)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(hook.Secret, ts, body))
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Webhook-Event-Id", record.ID.String())
	req.Header.Set("X-Webhook-Event-Type", record.Type)

	resp, err := d.httpClient.Do(req)
	now := d.now()
	success := false
	httpStatus := 0
	snippet := ""
	status := domain.DeliveryFailed

	if err != nil {
		if reqCtx.Err() != nil {
			status = domain.DeliveryTimeout
		}
		snippet = err.Error()
	} else {
		defer resp.Body.Close()
		httpStatus = resp.StatusCode
		limited := io.LimitReader(resp.Body, 512)
		b, _ := io.ReadAll(limited)
		snippet = string(b)
		success = httpStatus >= 200 && httpStatus < 300
		if success {
			status = domain.DeliverySuccess
		}
	}

	if err := d.deliveries.MarkComplete(ctx, attempt.ID, status, httpStatus, snippet, now); err != nil {
		d.logger.Error("mark delivery complete failed", "error", err, "delivery_id", attempt.ID)
	}

	streak, justDisabled, err := d.webhooks.RecordDeliveryOutcome(ctx, hook.ID, success)
	if err != nil {
		d.logger.Error("record webhook outcome failed", "error", err, "webhook_id", hook.ID)
	}
	if justDisabled {
		d.logger.Warn("webhook auto-disabled", "webhook_id", hook.ID, "consecutive_failures", streak)
	}

	if success {
		return
	}

	policy := hook.Retry
	if policy.MaxAttempts <= 0 {
		policy = domain.DefaultRetryPolicy()
	}
	if !shouldRetry(attempt.AttemptNumber, policy) {
		return
	}

	next := &domain.DeliveryAttempt{
		ID:            uuid.New(),
		WebhookID:     hook.ID,
		EventID:       record.ID,
		Status:        domain.DeliveryPending,
		AttemptNumber: attempt.AttemptNumber + 1,
		ScheduledFor:  now.Add(backoff(policy, attempt.AttemptNumber)),
	}
	if err := d.deliveries.Create(ctx, next); err != nil {
		d.logger.Error("schedule delivery retry failed", "error", err, "webhook_id", hook.ID)
	}
}

// shouldRetry reports whether a delivery attempt that just failed earns
// another retry. policy.MaxAttempts counts retries after the initial
// attempt (the default of 5 means 6 total attempts, delays 1s/2s/4s/8s/16s),
// so the cutoff compares against one past it.
func shouldRetry(attemptNumber int, policy domain.RetryPolicy) bool {
	return attemptNumber <= policy.MaxAttempts
}

// backoff computes the delay before attemptNumber+1, exponential with full
// jitter, capped at policy.MaxDelay.
func backoff(policy domain.RetryPolicy, attemptNumber int) time.Duration {
	raw := float64(policy.InitialDelay) * math.Pow(policy.Multiplier, float64(attemptNumber-1))
	if raw > float64(policy.MaxDelay) {
		raw = float64(policy.MaxDelay)
	}
	if raw <= 0 {
		return policy.InitialDelay
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(raw)))
	if err != nil {
		return time.Duration(raw)
	}
	return time.Duration(n.Int64())
}
