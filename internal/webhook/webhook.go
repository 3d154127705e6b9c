// Package webhook implements the Webhook Notifier (spec.md §4.9): best-effort
// delivery of task lifecycle events to a caller-supplied URL, with retry on
// failure that never affects the task's own lifecycle. Delivery retry
// spacing comes from backoffDelay, a package-local copy of the doubling-
// plus-jitter shape of the teacher's computeBackoff (graph/policy.go, adapted
// into internal/engine/policy.go for the node runtime's intra-node retry).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/oychao1988/content-pipeline/internal/task"
)

// Payload is the JSON body posted to the callback URL (spec.md §4.9 item 2).
type Payload struct {
	Event        task.CallbackEvent `json:"event"`
	TaskID       string             `json:"taskId"`
	Status       task.Status        `json:"status"`
	Timestamp    time.Time          `json:"timestamp"`
	WorkflowType string             `json:"workflowType"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
	Result       any                `json:"result,omitempty"`
	Error        *ErrorInfo         `json:"error,omitempty"`
}

// ErrorInfo is the error shape included on a failed-event payload. Stack
// traces are never included (spec.md §7, "propagation policy").
type ErrorInfo struct {
	Message string         `json:"message"`
	Type    string         `json:"type"`
	Details map[string]any `json:"details,omitempty"`
}

// Doer is the http.Client subset the notifier depends on, for test
// substitution.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Notifier posts Payloads to task callback URLs, retrying delivery failures
// with exponential backoff. The zero value is not usable; construct with
// New.
type Notifier struct {
	client      Doer
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// New builds a Notifier with the spec's defaults: 3 retries, ~5s base
// backoff.
func New(client Doer) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{client: client, maxAttempts: 3, baseDelay: 5 * time.Second, maxDelay: 60 * time.Second}
}

// Notify checks the task's callback configuration and, if the event is
// wanted, delivers payload with retry. It never returns an error for the
// caller to act on — delivery outcome does not affect task lifecycle
// (spec.md §4.9 item 4) — but reports the final attempt's error for
// logging.
func (n *Notifier) Notify(ctx context.Context, t *task.Task, event task.CallbackEvent, payload Payload) error {
	if !t.WantsEvent(event) {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano())) // #nosec G404 -- backoff jitter only

	var lastErr error
	for attempt := 0; attempt <= n.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, n.baseDelay, n.maxDelay, rng)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := n.deliver(ctx, t.CallbackURL, event, t.TaskID, body); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

func (n *Notifier) deliver(ctx context.Context, url string, event task.CallbackEvent, taskID string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", string(event))
	req.Header.Set("X-Task-Id", taskID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook delivery transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook delivery failed with status %d", resp.StatusCode)
	}
	return nil
}

func backoffDelay(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
			break
		}
	}
	jitter := time.Duration(float64(delay) * (0.1 + rng.Float64()*0.2))
	return delay + jitter
}
