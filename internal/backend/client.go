// Package backend implements the HTTP client for the Ollama-native
// text-generation API: non-streaming /api/generate calls with bounded
// retries, and /api/tags for model discovery.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	gateway "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/circuitbreaker"
	"github.com/eugener/radagast/internal/telemetry"
)

const (
	defaultBaseURL       = "http://localhost:11434"
	defaultTimeout       = 30 * time.Second
	defaultMaxRetries    = 3
	defaultTotalDeadline = 2 * time.Minute

	backoffBase = 200 * time.Millisecond
	backoffCap  = 3 * time.Second
)

// Config holds backend connection and retry settings.
type Config struct {
	BaseURL       string
	Timeout       time.Duration // per-attempt
	MaxRetries    int           // retries after the first attempt
	TotalDeadline time.Duration // across all attempts

	Breaker circuitbreaker.Config // zero value uses the breaker defaults
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = defaultBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.TotalDeadline <= 0 {
		c.TotalDeadline = defaultTotalDeadline
	}
	if c.Breaker == (circuitbreaker.Config{}) {
		c.Breaker = circuitbreaker.DefaultConfig()
	}
	return c
}

// Result is one completed generation from the backend. Token counts are nil
// when the backend omits them.
type Result struct {
	Response         string
	Model            string
	PromptTokens     *int
	CompletionTokens *int
	TotalDuration    time.Duration
}

// Client talks to a single Ollama-compatible backend. A host-level circuit
// breaker turns retry storms against a dead host into immediate failures.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *circuitbreaker.Breaker
	metrics *telemetry.Metrics
}

// New creates a Client with a tuned http.Client. If resolver is non-nil, the
// transport's DialContext uses cached DNS lookups. Metrics may be nil.
func New(cfg Config, resolver *dnscache.Resolver, metrics *telemetry.Metrics) *Client {
	cfg = cfg.withDefaults()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	t := &http.Transport{
		MaxIdleConnsPerHost: 100,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   false, // Ollama is typically HTTP/1.1
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: t},
		breaker: circuitbreaker.New(cfg.Breaker),
		metrics: metrics,
	}
}

// generateOptions is the options block of an /api/generate request.
type generateOptions struct {
	Temperature   *float64 `json:"temperature,omitempty"`
	NumPredict    *int     `json:"num_predict,omitempty"`
	TopP          *float64 `json:"top_p,omitempty"`
	TopK          *int     `json:"top_k,omitempty"`
	RepeatPenalty *float64 `json:"repeat_penalty,omitempty"`
	Stop          []string `json:"stop,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateResponse struct {
	Response        string `json:"response"`
	Model           string `json:"model"`
	PromptEvalCount *int   `json:"prompt_eval_count"`
	EvalCount       *int   `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"` // nanoseconds
}

// Generate runs a single non-streaming completion. The assembled prompt is
// passed separately so callers fingerprint the raw request while the backend
// sees the persona-expanded text. Transient failures are retried up to
// MaxRetries with jittered exponential backoff; rejections are not.
func (c *Client) Generate(ctx context.Context, req *gateway.GenerationRequest, prompt string) (*Result, error) {
	body, err := json.Marshal(&generateRequest{
		Model:  req.Model,
		Prompt: prompt,
		Stream: false,
		Options: generateOptions{
			Temperature:   req.Temperature,
			NumPredict:    req.MaxTokens,
			TopP:          req.TopP,
			TopK:          req.TopK,
			RepeatPenalty: req.RepeatPenalty,
			Stop:          req.Stop,
			Seed:          req.Seed,
		},
	})
	if err != nil {
		return nil, gateway.Errorf(gateway.KindInternal, "marshal generate request: %v", err)
	}

	if !c.breaker.Allow() {
		c.countError("circuit_open")
		return nil, gateway.Errorf(gateway.KindBackendTransient, "backend circuit open")
	}
	res, err := c.generate(ctx, body)
	if err == nil {
		c.breaker.RecordSuccess()
	} else if !errors.Is(err, context.Canceled) {
		if w := circuitbreaker.Weight(err); w > 0 {
			c.breaker.RecordError(w)
		} else {
			c.breaker.RecordSuccess()
		}
	}
	return res, err
}

// generate runs the retry loop within the total deadline.
func (c *Client) generate(ctx context.Context, body []byte) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalDeadline)
	defer cancel()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt, retryAfterOf(lastErr))
			c.countRetry(lastErr)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil, timeoutErr(ctx, lastErr)
			}
		}

		res, err := c.generateOnce(ctx, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, timeoutErr(ctx, lastErr)
		}
		if gateway.KindOf(err) != gateway.KindBackendTransient {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) generateOnce(ctx context.Context, body []byte) (*Result, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(actx, http.MethodPost, c.cfg.BaseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, gateway.Errorf(gateway.KindInternal, "create generate request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classifyNetErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(resp)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&out); err != nil {
		c.countError("decode")
		return nil, gateway.Errorf(gateway.KindBackendTransient, "decode generate response: %v", err)
	}
	return &Result{
		Response:         out.Response,
		Model:            out.Model,
		PromptTokens:     out.PromptEvalCount,
		CompletionTokens: out.EvalCount,
		TotalDuration:    time.Duration(out.TotalDuration),
	}, nil
}

// Models returns the model names the backend reports via /api/tags.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	actx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(actx, http.MethodGet, c.cfg.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, gateway.Errorf(gateway.KindInternal, "create tags request: %v", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, c.classifyNetErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.classifyStatus(resp)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, gateway.Errorf(gateway.KindBackendTransient, "read tags response: %v", err)
	}

	var names []string
	gjson.ParseBytes(respBody).Get("models").ForEach(func(_, model gjson.Result) bool {
		if name := model.Get("name").String(); name != "" {
			names = append(names, name)
		}
		return true
	})
	return names, nil
}

// Health verifies connectivity to the backend.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.Models(ctx)
	return err
}

func (c *Client) classifyNetErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		c.countError("timeout")
		return gateway.Errorf(gateway.KindBackendTransient, "backend timeout: %v", err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	c.countError("conn")
	return gateway.Errorf(gateway.KindBackendTransient, "backend unreachable: %v", err)
}

func (c *Client) classifyStatus(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.countError("throttle")
		return &gateway.Error{
			Kind:       gateway.KindBackendTransient,
			Message:    fmt.Sprintf("backend throttled: HTTP 429: %s", msg),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented:
		c.countError("5xx")
		return gateway.Errorf(gateway.KindBackendTransient, "backend error: HTTP %d: %s", resp.StatusCode, msg)
	default:
		c.countError("4xx")
		return gateway.Errorf(gateway.KindBackendRejected, "backend rejected request: HTTP %d: %s", resp.StatusCode, msg)
	}
}

func (c *Client) countError(class string) {
	if c.metrics != nil {
		c.metrics.BackendErrors.WithLabelValues(class).Inc()
	}
}

func (c *Client) countRetry(err error) {
	if c.metrics == nil {
		return
	}
	cause := "server"
	var ge *gateway.Error
	if errors.As(err, &ge) && ge.RetryAfter > 0 {
		cause = "throttle"
	} else if strings.Contains(fmt.Sprint(err), "timeout") {
		cause = "timeout"
	} else if strings.Contains(fmt.Sprint(err), "unreachable") {
		cause = "conn"
	}
	c.metrics.BackendRetries.WithLabelValues(cause).Inc()
}

// backoff returns the wait before the given retry attempt (1-based), using
// jittered exponential growth capped at backoffCap. A Retry-After hint from
// the previous failure takes precedence when longer and may exceed the cap;
// the total deadline still bounds the overall wait.
func backoff(attempt int, retryAfter time.Duration) time.Duration {
	d := backoffBase << (attempt - 1)
	if d > backoffCap {
		d = backoffCap
	}
	d = d/2 + time.Duration(rand.Int64N(int64(d/2)+1))
	if retryAfter > d {
		d = retryAfter
	}
	return d
}

func retryAfterOf(err error) time.Duration {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return ge.RetryAfter
	}
	return 0
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func timeoutErr(ctx context.Context, last error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if last != nil {
		return gateway.Errorf(gateway.KindTimeout, "backend deadline exceeded, last error: %v", last)
	}
	return gateway.Errorf(gateway.KindTimeout, "backend deadline exceeded")
}
