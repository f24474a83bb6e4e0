// Package source normalizes external news providers into candidate pages.
package source

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"news_sync/internal/domain"
)

const userAgent = "NewsSync/1.0"

// Source is one provider adapter.
type Source interface {
	ID() string
	Name() string
	Languages() []domain.Language
	Fetch(ctx context.Context, q domain.SourceQuery) (*domain.CandidatePage, error)
}

// Config describes one configured provider.
type Config struct {
	ID        string            `yaml:"id"`
	Name      string            `yaml:"name"`
	Type      string            `yaml:"type"`
	BaseURL   string            `yaml:"base_url"`
	APIKey    string            `yaml:"api_key"`
	PageSize  int               `yaml:"page_size"`
	Timeout   time.Duration     `yaml:"timeout"`
	RateLimit float64           `yaml:"rate_limit"` // requests per second, 0 = unlimited
	Burst     int               `yaml:"burst"`
	Languages []domain.Language `yaml:"languages"`
	Feeds     map[string]string `yaml:"feeds"` // category -> feed URL, rss only
}

// Supports reports whether the provider serves the language.
func (c Config) Supports(lang domain.Language) bool {
	return slices.Contains(c.Languages, lang)
}

// NewHTTPClient returns the resty client shared by HTTP based adapters.
func NewHTTPClient(timeout time.Duration) *resty.Client {
	c := resty.New()
	c.SetTimeout(timeout)
	c.SetHeader("User-Agent", userAgent)
	return c
}

// NewLimiter converts the configured request rate into a token bucket.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Throttle blocks until the limiter admits one request.
func Throttle(ctx context.Context, sourceID string, l *rate.Limiter) error {
	if l == nil {
		return nil
	}
	if err := l.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: throttle: %v", domain.ErrProviderUnavailable, sourceID, err)
	}
	return nil
}

// CheckResponse classifies a provider response into the error taxonomy.
func CheckResponse(sourceID string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrProviderUnavailable, sourceID, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests:
		return &domain.RateLimitedError{
			SourceID:   sourceID,
			RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After")),
		}
	default:
		return fmt.Errorf("%w: %s: unexpected status %d: %s",
			domain.ErrProviderUnavailable, sourceID, code, snippet(resp.Body()))
	}
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(body []byte) string {
	const maxLen = 256
	s := strings.TrimSpace(string(body))
	if s == "" {
		return "<empty>"
	}
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
