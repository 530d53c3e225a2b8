package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/zcraft/internal/infrastructure/config"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/zcraft/internal/infrastructure/tracing"
)

// Options configures a Backend.
type Options struct {
	BaseURL      string
	Timeout      time.Duration
	Retries      int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RateLimit is requests per second; zero or less means unlimited.
	RateLimit float64
	Logger    *logging.Logger
	Metrics   *monitoring.Metrics
}

// OptionsFromConfig maps the backend section of the configuration.
func OptionsFromConfig(cfg config.BackendConfig) Options {
	return Options{
		BaseURL:   cfg.URL,
		Timeout:   cfg.Timeout,
		Retries:   cfg.Retries,
		RateLimit: cfg.RateLimit,
	}
}

// Backend is the HTTP client for the mainframe backend. It layers rate
// limiting, a circuit breaker and transport retries over resty.
type Backend struct {
	resty   *resty.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	logger  *logging.Logger
	metrics *monitoring.Metrics
	mu      sync.RWMutex
}

// New creates a Backend.
func New(opts Options) *Backend {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryWaitMin <= 0 {
		opts.RetryWaitMin = 500 * time.Millisecond
	}
	if opts.RetryWaitMax <= 0 {
		opts.RetryWaitMax = 10 * time.Second
	}
	logger := logging.OrNop(opts.Logger).Named("transport")

	// Retries happen below resty, only for requests marked idempotent.
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = opts.Retries
	retryClient.RetryWaitMin = opts.RetryWaitMin
	retryClient.RetryWaitMax = opts.RetryWaitMax
	retryClient.Logger = nil
	retryClient.CheckRetry = checkRetry
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	httpClient := retryClient.StandardClient()
	httpClient.Timeout = opts.Timeout

	restyClient := resty.NewWithClient(httpClient).
		SetBaseURL(opts.BaseURL).
		SetHeader("User-Agent", "zcraft-workspace/1.0").
		SetHeader("Accept", "application/json").
		SetJSONMarshaler(sonic.Marshal).
		SetJSONUnmarshaler(sonic.Unmarshal)

	b := &Backend{
		resty:   restyClient,
		logger:  logger,
		metrics: opts.Metrics,
	}
	b.SetRateLimit(opts.RateLimit)

	b.breaker = resilience.New("backend", resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.6)
		},
		// A rejected request still proves the backend is answering.
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.IsClientError()
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			b.metrics.SetBreakerState(name, int(to))
		},
	})

	return b
}

// SetRateLimit configures rate limiting (requests per second).
func (b *Backend) SetRateLimit(rps float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if rps <= 0 {
		b.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	b.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// BreakerState returns the current circuit breaker state.
func (b *Backend) BreakerState() resilience.State {
	return b.breaker.State()
}

// BaseURL returns the configured backend address.
func (b *Backend) BaseURL() string {
	return b.resty.BaseURL
}

type retryKey struct{}

func withRetry(ctx context.Context) context.Context {
	return context.WithValue(ctx, retryKey{}, true)
}

// checkRetry applies the default policy to requests marked idempotent and
// never retries the rest, so a submission is sent at most once.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if marked, _ := ctx.Value(retryKey{}).(bool); !marked {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// call describes one backend round trip.
type call struct {
	endpoint string
	method   string
	path     string
	params   map[string]string
	body     any
	result   any
	retry    bool
}

func (b *Backend) request(ctx context.Context, token string) (*resty.Request, error) {
	b.mu.RLock()
	limiter := b.limiter
	b.mu.RUnlock()

	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	headers := map[string]string{"X-Request-ID": uuid.NewString()}
	tracing.InjectTraceContext(ctx, headers)

	req := b.resty.R().
		SetContext(ctx).
		SetHeaders(headers)
	if token != "" {
		req.SetAuthToken(token)
	}
	return req, nil
}

func (b *Backend) do(ctx context.Context, token string, c call) error {
	if c.retry {
		ctx = withRetry(ctx)
	}

	b.logger.Debug("backend call", zap.String("endpoint", c.endpoint))
	timer := monitoring.NewTimer(b.metrics, c.endpoint)

	err := b.breaker.Call(func() error {
		req, err := b.request(ctx, token)
		if err != nil {
			return err
		}
		if c.params != nil {
			req.SetPathParams(c.params)
		}
		if c.body != nil {
			req.SetBody(c.body)
		}

		resp, err := req.Execute(c.method, c.path)
		if err != nil {
			return fmt.Errorf("%s: %w", c.endpoint, err)
		}
		if resp.IsError() {
			return decodeError(c.endpoint, resp.StatusCode(), resp.Body())
		}
		if c.result != nil && len(resp.Body()) > 0 {
			if err := sonic.Unmarshal(resp.Body(), c.result); err != nil {
				return fmt.Errorf("%s: decode response: %w", c.endpoint, err)
			}
		}
		return nil
	})

	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		err = fmt.Errorf("%s: backend unavailable: %w", c.endpoint, err)
	}
	timer.Stop(statusLabel(err))

	if err != nil {
		b.logger.Warn("backend call failed", zap.String("endpoint", c.endpoint), zap.Error(err))
		return err
	}
	b.logger.Debug("backend call finished", zap.String("endpoint", c.endpoint))
	return nil
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return strconv.Itoa(apiErr.Status)
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
