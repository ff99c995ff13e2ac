// Package resolver implements the ordered fallback chain over the tweet
// data sources. Sources are tried from highest fidelity/cost (authenticated
// API) to lowest (public syndication endpoint); each attempt runs under the
// source's circuit breaker and a per-source timeout, and every outcome is
// recorded in a trail that survives into the final error when the whole
// chain is exhausted.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgequest/edgequest/internal/circuitbreaker"
	"github.com/edgequest/edgequest/internal/logging"
	"github.com/edgequest/edgequest/internal/metrics"
	"github.com/edgequest/edgequest/internal/observability"
	"github.com/edgequest/edgequest/internal/twitter"
)

// Outcome classifies a single source attempt.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeRateLimited  Outcome = "rate_limited"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeTimeout      Outcome = "timeout"
	OutcomeError        Outcome = "error"
	OutcomeCircuitOpen  Outcome = "circuit_open"
	OutcomeDisabled     Outcome = "auth_disabled"
)

// Fetcher is the capability every data source exposes.
type Fetcher interface {
	FetchByID(ctx context.Context, id string) (*twitter.Tweet, error)
}

// Source is one named entry in the fallback chain.
type Source struct {
	Name    string
	Fetcher Fetcher
}

// Attempt is one entry in a resolution trail.
type Attempt struct {
	Source  string  `json:"source"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// ResolutionError reports a resolution that did not produce data. NotFound
// marks the authoritative "this tweet does not exist" case; everything else
// means every source was down, limited, or broken, and the trail says how.
type ResolutionError struct {
	Key      string    `json:"key"`
	NotFound bool      `json:"not_found"`
	Attempts []Attempt `json:"attempts"`
}

func (e *ResolutionError) Error() string {
	if e.NotFound {
		return fmt.Sprintf("resolver: tweet %s not found", e.Key)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s=%s", a.Source, a.Outcome)
	}
	return fmt.Sprintf("resolver: all sources exhausted for %s: %s", e.Key, strings.Join(parts, ", "))
}

// IsNotFound reports whether err is an authoritative not-found resolution.
func IsNotFound(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re) && re.NotFound
}

// Resolver runs the fallback chain.
type Resolver struct {
	sources  []Source
	breakers *circuitbreaker.Registry
	timeout  time.Duration

	mu       sync.Mutex
	disabled map[string]bool // sources latched off after an auth failure
}

// New creates a resolver over the given chain. sourceTimeout bounds each
// individual source attempt (default 10s).
func New(breakers *circuitbreaker.Registry, sourceTimeout time.Duration, sources ...Source) *Resolver {
	if sourceTimeout <= 0 {
		sourceTimeout = 10 * time.Second
	}
	return &Resolver{
		sources:  sources,
		breakers: breakers,
		timeout:  sourceTimeout,
		disabled: make(map[string]bool),
	}
}

// Resolve walks the source chain for the given tweet ID and returns the
// first successful result. A not-found answer from any source is
// authoritative and stops the chain: falling through would let a weaker
// source return an unverifiable answer for a tweet a stronger source says
// does not exist.
func (r *Resolver) Resolve(ctx context.Context, id string) (*twitter.Tweet, error) {
	requestID := uuid.NewString()
	ctx, span := observability.StartSpan(ctx, "resolver.resolve",
		observability.AttrTweetID.String(id),
		observability.AttrRequestID.String(requestID),
	)
	defer span.End()

	log := logging.Op().With("tweet_id", id, "request_id", requestID)
	trail := make([]Attempt, 0, len(r.sources))

	for _, src := range r.sources {
		if r.isDisabled(src.Name) {
			trail = append(trail, Attempt{Source: src.Name, Outcome: OutcomeDisabled})
			metrics.RecordResolution(src.Name, string(OutcomeDisabled))
			continue
		}

		b := r.breakers.Get(src.Name)
		if !b.Allow(ctx) {
			trail = append(trail, Attempt{Source: src.Name, Outcome: OutcomeCircuitOpen})
			metrics.RecordResolution(src.Name, string(OutcomeCircuitOpen))
			log.Debug("resolver: skipping source, circuit open", "source", src.Name)
			continue
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
		start := time.Now()
		tweet, err := src.Fetcher.FetchByID(attemptCtx, id)
		cancel()
		metrics.ObserveResolutionDuration(src.Name, time.Since(start))

		outcome := classify(err)
		metrics.RecordResolution(src.Name, string(outcome))

		switch outcome {
		case OutcomeSuccess:
			b.RecordSuccess(ctx)
			span.SetAttributes(observability.AttrSource.String(src.Name))
			log.Debug("resolver: resolved", "source", src.Name,
				"attempts", len(trail)+1, "duration_ms", time.Since(start).Milliseconds())
			return tweet, nil

		case OutcomeNotFound:
			// The source answered; the tweet genuinely does not exist.
			b.RecordSuccess(ctx)
			trail = append(trail, Attempt{Source: src.Name, Outcome: outcome, Error: err.Error()})
			return nil, &ResolutionError{Key: id, NotFound: true, Attempts: trail}

		case OutcomeUnauthorized:
			// Bad credentials fail on every request; stop asking this
			// source until the process restarts or config is reloaded.
			r.disable(src.Name)
			b.RecordFailure(ctx)
			trail = append(trail, Attempt{Source: src.Name, Outcome: outcome, Error: err.Error()})
			log.Warn("resolver: source disabled after auth failure", "source", src.Name)

		default:
			b.RecordFailure(ctx)
			trail = append(trail, Attempt{Source: src.Name, Outcome: outcome, Error: err.Error()})
			log.Debug("resolver: source failed, trying next",
				"source", src.Name, "outcome", string(outcome), "error", err)
		}
	}

	resErr := &ResolutionError{Key: id, Attempts: trail}
	observability.SetSpanError(span, resErr)
	log.Warn("resolver: all sources exhausted", "attempts", len(trail))
	return nil, resErr
}

// ReenableAll clears the auth-failure latches, used after a credential
// rotation without restarting the process.
func (r *Resolver) ReenableAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled = make(map[string]bool)
}

// Sources returns the chain's source names in priority order.
func (r *Resolver) Sources() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name
	}
	return names
}

func (r *Resolver) isDisabled(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabled[name]
}

func (r *Resolver) disable(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[name] = true
}

// classify maps a source error to its outcome. Timeouts are transient
// failures; anything unrecognized is treated the same so the chain can
// keep going.
func classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, twitter.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, twitter.ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, twitter.ErrUnauthorized):
		return OutcomeUnauthorized
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeError
}
