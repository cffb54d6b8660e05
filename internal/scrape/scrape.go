// Package scrape resolves a product page URL into a product name.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/countly-etl/internal/extract"
	"github.com/JakeFAU/countly-etl/internal/fetcher"
	"github.com/JakeFAU/countly-etl/internal/retry"
)

// Result describes one resolved (or failed) URL.
type Result struct {
	Name     string
	Rule     string
	Attempts int
	Err      error
}

// OK reports whether a non-empty name was resolved.
func (r Result) OK() bool {
	return r.Err == nil && r.Name != ""
}

// Resolver composes the fetcher and extractor under a retry policy.
type Resolver struct {
	fetcher   fetcher.Fetcher
	extractor *extract.Extractor
	policy    retry.Policy
}

// NewResolver builds a Resolver. The policy's Retryable predicate defaults to
// fetcher.Retryable when unset.
func NewResolver(f fetcher.Fetcher, e *extract.Extractor, policy retry.Policy) *Resolver {
	if e == nil {
		e = extract.New()
	}
	if policy.Retryable == nil {
		policy.Retryable = fetcher.Retryable
	}
	return &Resolver{fetcher: f, extractor: e, policy: policy}
}

// Resolve fetches rawURL and extracts the product name.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) Result {
	var res Result
	attempts, err := r.policy.Do(ctx, func(ctx context.Context, _ int) error {
		value, rule, err := r.attempt(ctx, rawURL)
		if err != nil {
			return err
		}
		res.Name, res.Rule = value, rule
		return nil
	})
	res.Attempts = attempts
	res.Err = err
	return res
}

func (r *Resolver) attempt(ctx context.Context, rawURL string) (string, string, error) {
	resp, err := r.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return "", "", err
	}
	value, rule, err := r.extractor.Extract(resp.Body)
	if err != nil {
		return "", "", fmt.Errorf("extract %s: %w", rawURL, err)
	}
	return value, rule, nil
}

// Error types written to the failed-record report.
const (
	DiagnosisOK         = "No error"
	DiagnosisNoMatch    = "No selectors matched"
	DiagnosisRendered   = "No selectors matched (client-rendered page)"
	DiagnosisTimeout    = "Timeout"
	DiagnosisConnection = "Connection error"
	DiagnosisMissingURL = "Missing URL"
)

// Diagnose makes a single attempt at rawURL and describes its outcome.
func (r *Resolver) Diagnose(ctx context.Context, rawURL string) string {
	if strings.TrimSpace(rawURL) == "" {
		return DiagnosisMissingURL
	}
	_, _, err := r.attempt(ctx, rawURL)
	return Describe(err)
}

// Describe maps an attempt error onto a report error type.
func Describe(err error) string {
	if err == nil {
		return DiagnosisOK
	}
	if errors.Is(err, extract.ErrClientRendered) {
		return DiagnosisRendered
	}
	if errors.Is(err, extract.ErrNotFound) {
		return DiagnosisNoMatch
	}
	if errors.Is(err, fetcher.ErrEmptyURL) {
		return DiagnosisMissingURL
	}
	var fe *fetcher.Error
	if !errors.As(err, &fe) {
		return fmt.Sprintf("Unexpected error: %v", err)
	}
	switch fe.Kind {
	case fetcher.KindHTTPStatus:
		return fmt.Sprintf("HTTP %d", fe.StatusCode)
	case fetcher.KindTimeout:
		return DiagnosisTimeout
	case fetcher.KindConnection:
		return DiagnosisConnection
	default:
		return fmt.Sprintf("Request error: %v", fe.Err)
	}
}
