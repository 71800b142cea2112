package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-dashboard/internal/common"
)

// Outcome labels reported to the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeNotFound    = "not_found"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeCircuitOpen = "circuit_open"
)

const maxBodyBytes = 4 << 20

// Observer receives one outcome per upstream call.
type Observer interface {
	ObserveUpstream(operation, outcome string)
}

var (
	errRateLimited  = errors.New("rate limited")
	errServerError  = errors.New("server error")
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// upstreamResponse is a fully read response that the breaker counted as a success.
type upstreamResponse struct {
	status int
	body   []byte
}

func newCircuitBreaker(name string, log zerolog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	})
}

// doRequest performs a single attempt under the circuit breaker. Only
// transport errors, 429 and 5xx responses count as breaker failures; other
// statuses are returned for the caller to map.
func doRequest(
	ctx context.Context,
	client *http.Client,
	cb *gobreaker.CircuitBreaker,
	req *http.Request,
) (upstreamResponse, error) {
	if client == nil {
		return upstreamResponse{}, errNoHTTPClient
	}
	if err := ctx.Err(); err != nil {
		return upstreamResponse{}, err
	}
	req = req.WithContext(ctx)

	result, err := cb.Execute(func() (interface{}, error) {
		resp, execErr := client.Do(req)
		if execErr != nil {
			return nil, execErr
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if readErr != nil {
			return nil, readErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %s", errRateLimited, upstreamMessage(body))
		}
		if resp.StatusCode >= 500 {
			return nil, fmt.Errorf("%w: %d %s", errServerError, resp.StatusCode, upstreamMessage(body))
		}
		return upstreamResponse{status: resp.StatusCode, body: body}, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return upstreamResponse{}, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		return upstreamResponse{}, err
	}

	resp, ok := result.(upstreamResponse)
	if !ok {
		return upstreamResponse{}, fmt.Errorf("unexpected result type from circuit breaker")
	}
	return resp, nil
}

// upstreamMessage extracts the provider's "message" field, falling back to
// the start of the raw body.
func upstreamMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return common.Truncate(string(body), 200)
}
