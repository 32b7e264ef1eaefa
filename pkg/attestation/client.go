// Package attestation wraps Circle's Iris v2 message attestation API.
package attestation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/stablemesh/cctp-middleware/internal/metrics"
	"github.com/stablemesh/cctp-middleware/pkg/config"
)

// Status classifies an attestation lookup result
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// pendingSentinel is the attestation value the API returns while the
// signature is still being produced.
const pendingSentinel = "PENDING"

// Result is the outcome of an attestation lookup. Message and Attestation
// are the opaque hex blobs required by the destination chain's mint call.
type Result struct {
	Status      Status
	Attestation string
	Message     string
	Error       string
}

// HealthStatus classifies attestation service availability
type HealthStatus struct {
	Status  string        `json:"status"`
	Latency time.Duration `json:"latency"`
}

// ProgressFunc is invoked once per polling round with the current attempt
// and the attempt ceiling.
type ProgressFunc func(attempt, maxAttempts int)

type messagesResponse struct {
	Messages []struct {
		Message     string `json:"message"`
		Attestation string `json:"attestation"`
		Status      string `json:"status"`
	} `json:"messages"`
}

// Client is a stateless HTTP client for the attestation API. Upstream calls
// run through a circuit breaker so a flapping endpoint fails fast instead of
// holding sockets open across every polling task.
type Client struct {
	cfg        config.AttestationConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*Result]
	logger     *zap.Logger
}

// NewClient creates an attestation API client.
func NewClient(cfg config.AttestationConfig, logger *zap.Logger) *Client {
	settings := gobreaker.Settings{
		Name:    "attestation-api",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		breaker:    gobreaker.NewCircuitBreaker[*Result](settings),
		logger:     logger,
	}
}

// GetAttestation looks up the attestation for a burn transaction hash on the
// given source domain. Transport-level failures return a non-nil error so
// the caller can treat them as transient; upstream rejections are mapped
// into a failed Result.
func (c *Client) GetAttestation(ctx context.Context, sourceDomain uint32, burnTxHash string) (*Result, error) {
	return c.fetch(ctx, sourceDomain, "transactionHash", burnTxHash)
}

// GetAttestationByMessageHash is the fast-transfer variant of GetAttestation,
// keyed by the locally computed message hash.
func (c *Client) GetAttestationByMessageHash(ctx context.Context, sourceDomain uint32, messageHash string) (*Result, error) {
	return c.fetch(ctx, sourceDomain, "messageHash", messageHash)
}

func (c *Client) fetch(ctx context.Context, sourceDomain uint32, queryKey, queryValue string) (*Result, error) {
	start := time.Now()
	result, err := c.breaker.Execute(func() (*Result, error) {
		return c.doFetch(ctx, sourceDomain, queryKey, queryValue)
	})
	metrics.AttestationLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.AttestationRequestsTotal.WithLabelValues(queryKey, "error").Inc()
		return nil, err
	}
	metrics.AttestationRequestsTotal.WithLabelValues(queryKey, string(result.Status)).Inc()
	return result, nil
}

func (c *Client) doFetch(ctx context.Context, sourceDomain uint32, queryKey, queryValue string) (*Result, error) {
	u := fmt.Sprintf("%s/v2/messages/%d?%s", c.cfg.BaseURL, sourceDomain,
		url.Values{queryKey: {queryValue}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build attestation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attestation request failed: %w", err)
	}
	defer resp.Body.Close()

	// 404 means the message has not been observed yet, not a failure.
	if resp.StatusCode == http.StatusNotFound {
		return &Result{Status: StatusPending, Error: "attestation not yet available"}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &Result{
			Status: StatusFailed,
			Error:  fmt.Sprintf("attestation service returned HTTP %d: %s", resp.StatusCode, string(body)),
		}, nil
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode attestation response: %w", err)
	}
	if len(decoded.Messages) == 0 {
		return &Result{Status: StatusPending, Error: "attestation is being processed"}, nil
	}

	msg := decoded.Messages[0]
	if msg.Attestation == "" || msg.Attestation == pendingSentinel {
		return &Result{Status: StatusPending, Error: "attestation is being processed"}, nil
	}
	return &Result{
		Status:      StatusComplete,
		Attestation: msg.Attestation,
		Message:     msg.Message,
	}, nil
}

// WaitForAttestation polls the standard (burn tx hash) path until the
// attestation is terminal or the attempt ceiling is reached. The ceiling
// guarantees termination even under a permanently pending upstream.
func (c *Client) WaitForAttestation(ctx context.Context, burnTxHash string, sourceDomain uint32, onProgress ProgressFunc) *Result {
	return c.wait(ctx, c.cfg.MaxAttempts, c.cfg.PollInterval, onProgress, func() (*Result, error) {
		return c.GetAttestation(ctx, sourceDomain, burnTxHash)
	})
}

// WaitForFastAttestation polls the fast-transfer (message hash) path with a
// tighter interval and lower ceiling.
func (c *Client) WaitForFastAttestation(ctx context.Context, messageHash string, sourceDomain uint32, onProgress ProgressFunc) *Result {
	return c.wait(ctx, c.cfg.FastMaxAttempts, c.cfg.FastPollInterval, onProgress, func() (*Result, error) {
		return c.GetAttestationByMessageHash(ctx, sourceDomain, messageHash)
	})
}

func (c *Client) wait(ctx context.Context, maxAttempts int, interval time.Duration, onProgress ProgressFunc, fetch func() (*Result, error)) *Result {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if onProgress != nil {
			onProgress(attempt, maxAttempts)
		}

		result, err := fetch()
		if err != nil {
			c.logger.Warn("Attestation fetch failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", maxAttempts),
				zap.Error(err))
		} else if result.Status != StatusPending {
			return result
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return &Result{Status: StatusFailed, Error: "attestation wait canceled"}
		case <-time.After(interval):
		}
	}
	return &Result{Status: StatusFailed, Error: "attestation timeout - max retries exceeded"}
}

// Health probes the attestation endpoint and classifies its latency.
// A non-responding probe reports healthy with unknown latency rather than
// an error: this path feeds dashboards and must never stall a caller.
func (c *Client) Health(ctx context.Context) HealthStatus {
	const probeTxHash = "0x0000000000000000000000000000000000000000000000000000000000000000"

	start := time.Now()
	_, err := c.GetAttestation(ctx, 0, probeTxHash)
	latency := time.Since(start)

	if err != nil {
		return HealthStatus{Status: "healthy"}
	}
	switch {
	case latency < time.Second:
		return HealthStatus{Status: "healthy", Latency: latency}
	case latency < 5*time.Second:
		return HealthStatus{Status: "degraded", Latency: latency}
	default:
		return HealthStatus{Status: "down", Latency: latency}
	}
}
