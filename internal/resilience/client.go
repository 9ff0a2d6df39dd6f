// Package resilience provides a resilient HTTP client with circuit breaker,
// timeout, and retry logic for calls made over intermittent trail networks.
package resilience

import (
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker is open and the
// upstream is not being called.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Config holds configuration for the resilient HTTP client.
type Config struct {
	// Name identifies this client in logs and breaker state changes.
	Name string

	// Timeout bounds each individual HTTP exchange, including reading the
	// response body. Size it to the largest expected payload.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts after the initial
	// request. Default: 4
	MaxRetries uint64

	// InitialInterval is the first retry backoff interval.
	// Default: 250ms
	InitialInterval time.Duration

	// MaxInterval caps the retry backoff interval.
	// Default: 10 seconds
	MaxInterval time.Duration

	// BreakerMaxRequests is the number of probe requests allowed through
	// while the breaker is half-open. Default: 1
	BreakerMaxRequests uint32

	// BreakerTimeout is the period of open state before switching to
	// half-open. Default: 45 seconds
	BreakerTimeout time.Duration

	// ReadyToTrip decides when the breaker opens.
	// If nil, uses DefaultReadyToTrip.
	ReadyToTrip func(counts gobreaker.Counts) bool

	// Logger receives breaker state changes and retry diagnostics.
	Logger zerolog.Logger
}

// DefaultConfig returns the client configuration used for the pack
// service backhaul.
func DefaultConfig(name string) Config {
	return Config{
		Name:               name,
		Timeout:            30 * time.Second,
		MaxRetries:         4,
		InitialInterval:    250 * time.Millisecond,
		MaxInterval:        10 * time.Second,
		BreakerMaxRequests: 1,
		BreakerTimeout:     45 * time.Second,
		ReadyToTrip:        DefaultReadyToTrip,
	}
}

// DefaultReadyToTrip opens the breaker once at least 5 requests have been
// made and half or more of them failed.
func DefaultReadyToTrip(counts gobreaker.Counts) bool {
	failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
	return counts.Requests >= 5 && failureRatio >= 0.5
}

// Client is an HTTP client that retries transient failures with
// exponential backoff behind a circuit breaker.
type Client struct {
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	config     Config
	logger     zerolog.Logger
}

// New creates a resilient HTTP client. Zero config fields fall back to
// the DefaultConfig values.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 4
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 250 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 10 * time.Second
	}
	if cfg.BreakerMaxRequests == 0 {
		cfg.BreakerMaxRequests = 1
	}
	if cfg.BreakerTimeout == 0 {
		cfg.BreakerTimeout = 45 * time.Second
	}
	if cfg.ReadyToTrip == nil {
		cfg.ReadyToTrip = DefaultReadyToTrip
	}

	logger := cfg.Logger.With().
		Str("component", "resilience").
		Str("client", cfg.Name).
		Logger()

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.BreakerMaxRequests,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: cfg.ReadyToTrip,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			evt := logger.Info()
			if to == gobreaker.StateOpen {
				evt = logger.Warn()
			}
			evt.Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker[*http.Response](settings),
		config:     cfg,
		logger:     logger,
	}
}

// Do executes an HTTP request with circuit breaker protection and retry
// logic. Transient failures (5xx, network errors) are retried with
// exponential backoff. When retries are exhausted on a 5xx, the last
// response is returned with a nil error so the caller can inspect the
// status. Returns ErrCircuitOpen without touching the upstream while the
// breaker is open.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var lastResp *http.Response

	// keep retains the latest response, closing the body of any
	// superseded one so retried 5xx attempts don't leak connections.
	keep := func(resp *http.Response) {
		if lastResp != nil && lastResp != resp {
			_ = lastResp.Body.Close()
		}
		lastResp = resp
	}

	operation := func() error {
		resp, err := c.breaker.Execute(func() (*http.Response, error) {
			r, reqErr := c.httpClient.Do(req.Clone(ctx))
			if reqErr != nil {
				return nil, reqErr
			}

			// 5xx responses count as breaker failures.
			if r.StatusCode >= 500 {
				return r, &ServerError{StatusCode: r.StatusCode}
			}

			return r, nil
		})

		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(ErrCircuitOpen)
			}

			if resp != nil {
				keep(resp)
			}

			c.logger.Debug().
				Err(err).
				Str("url", req.URL.Redacted()).
				Msg("request attempt failed")
			return err
		}

		keep(resp)
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if lastResp != nil {
			return lastResp, nil
		}
		return nil, err
	}

	return lastResp, nil
}

// ServerError represents an HTTP 5xx server error.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// BreakerState returns the current state of the circuit breaker.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// BreakerCounts returns the current counts of the circuit breaker.
func (c *Client) BreakerCounts() gobreaker.Counts {
	return c.breaker.Counts()
}
