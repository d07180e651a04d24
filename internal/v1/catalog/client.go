// Package catalog is the HTTP client for the song catalog service. It is
// the room's game.Selector: one POST per round asking for a random song
// matching the game's genres, excluding everything already played.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/game"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/logging"
	"github.com/BenArtzi4/Sound-Clash-sub000/internal/v1/metrics"
)

const (
	selectPath       = "/select"
	requestTimeout   = 10 * time.Second
	retryBackoff     = 250 * time.Millisecond
	maxResponseBytes = 1 << 20
)

// Client calls the catalog behind a circuit breaker so a dead catalog fails
// fast instead of stalling every start_round for the full timeout.
type Client struct {
	baseURL string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker
}

func New(baseURL string) *Client {
	st := gobreaker.Settings{
		Name:        "catalog",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateVal)
		},
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		cb:      gobreaker.NewCircuitBreaker(st),
	}
}

// BreakerState exposes the circuit state for readiness checks.
func (c *Client) BreakerState() gobreaker.State {
	return c.cb.State()
}

type selectRequest struct {
	Genres     []string `json:"genres"`
	ExcludeIDs []int    `json:"exclude_ids"`
	Count      int      `json:"count"`
}

type selectResponse struct {
	Songs []game.SongInfo `json:"songs"`
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("catalog responded %d", e.code)
}

// SelectSong implements game.Selector. A 2xx response with an empty song
// list is the catalog's way of saying the filters exhausted its universe,
// which maps to NoSongAvailable rather than an upstream failure. Transport
// errors and 5xx responses are retried once.
func (c *Client) SelectSong(ctx context.Context, genres []string, excludeIDs []int) (game.SongInfo, error) {
	body, err := json.Marshal(selectRequest{Genres: genres, ExcludeIDs: excludeIDs, Count: 1})
	if err != nil {
		return game.SongInfo{}, game.WrapError(game.KindUpstreamUnavailable, err, "encode select request")
	}

	resp, err := c.trySelect(ctx, body)
	if err != nil && retryable(err) {
		logging.Warn(ctx, "song catalog retry", zap.Error(err))
		select {
		case <-time.After(retryBackoff):
		case <-ctx.Done():
			return game.SongInfo{}, game.WrapError(game.KindUpstreamUnavailable, ctx.Err(), "song catalog timed out")
		}
		resp, err = c.trySelect(ctx, body)
	}
	if err != nil {
		var se *statusError
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return game.SongInfo{}, game.WrapError(game.KindUpstreamUnavailable, err, "song catalog circuit open")
		case errors.As(err, &se):
			return game.SongInfo{}, game.WrapError(game.KindUpstreamUnavailable, err, fmt.Sprintf("song catalog returned %d", se.code))
		default:
			return game.SongInfo{}, game.WrapError(game.KindUpstreamUnavailable, err, "song catalog unreachable")
		}
	}

	if len(resp.Songs) == 0 {
		return game.SongInfo{}, game.NewError(game.KindNoSongAvailable, "no song matches the requested genres")
	}
	return resp.Songs[0], nil
}

// trySelect is one attempt through the breaker. Attempts are what the
// request metrics count.
func (c *Client) trySelect(ctx context.Context, body []byte) (*selectResponse, error) {
	start := time.Now()
	res, err := c.cb.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+selectPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, &statusError{code: resp.StatusCode}
		}
		var out selectResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode select response: %w", err)
		}
		return &out, nil
	})
	metrics.CatalogRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "open"
		}
		metrics.CatalogRequests.WithLabelValues(status).Inc()
		return nil, err
	}
	metrics.CatalogRequests.WithLabelValues("ok").Inc()
	return res.(*selectResponse), nil
}

// retryable reports whether a second attempt could plausibly succeed. An
// open breaker, a cancelled context and 4xx responses cannot.
func retryable(err error) bool {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}
