// Package rss adapts RSS/Atom feeds, one feed URL per category.
package rss

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"

	"news_sync/internal/domain"
	"news_sync/internal/fingerprint"
	"news_sync/internal/source"
)

const TypeName = "rss"

type Source struct {
	id        string
	name      string
	feeds     map[string]string
	languages []domain.Language
	client    *resty.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

func New(cfg source.Config, logger *slog.Logger) *Source {
	feeds := make(map[string]string, len(cfg.Feeds))
	for category, url := range cfg.Feeds {
		feeds[strings.ToLower(strings.TrimSpace(category))] = strings.TrimSpace(url)
	}
	return &Source{
		id:        cfg.ID,
		name:      cfg.Name,
		feeds:     feeds,
		languages: cfg.Languages,
		client:    source.NewHTTPClient(cfg.Timeout),
		limiter:   source.NewLimiter(cfg.RateLimit, cfg.Burst),
		logger:    logger.With("source", cfg.ID),
	}
}

func (s *Source) ID() string                   { return s.id }
func (s *Source) Name() string                 { return s.name }
func (s *Source) Languages() []domain.Language { return s.languages }

// Fetch downloads the category feed. Feeds are not paginated, so the page is
// always final.
func (s *Source) Fetch(ctx context.Context, q domain.SourceQuery) (*domain.CandidatePage, error) {
	url, ok := s.feeds[strings.ToLower(q.Category)]
	if !ok {
		s.logger.Debug("no feed for category", "category", q.Category)
		return &domain.CandidatePage{Done: true}, nil
	}

	if err := source.Throttle(ctx, s.id, s.limiter); err != nil {
		return nil, err
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9").
		Get(url)
	if err := source.CheckResponse(s.id, resp, err); err != nil {
		return nil, err
	}

	feed, err := gofeed.NewParser().ParseString(string(resp.Body()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: parse feed: %v", domain.ErrProviderUnavailable, s.id, err)
	}

	page := s.transform(feed.Items, q)
	page.Done = true

	s.logger.Debug("fetched feed",
		"category", q.Category,
		"items", len(feed.Items),
		"candidates", len(page.Candidates),
	)
	return page, nil
}

func (s *Source) transform(items []*gofeed.Item, q domain.SourceQuery) *domain.CandidatePage {
	page := &domain.CandidatePage{
		Candidates: make([]domain.ArticleCandidate, 0, len(items)),
	}

	for i, item := range items {
		if q.Limit > 0 && len(page.Candidates) >= q.Limit {
			break
		}
		if item == nil {
			continue
		}

		title := strings.TrimSpace(item.Title)
		if title == "" {
			page.ItemErrors = append(page.ItemErrors, fmt.Sprintf("%s: item %d: missing title", s.id, i))
			continue
		}

		publishedAt, ok := itemTime(item)
		if !ok {
			page.ItemErrors = append(page.ItemErrors, fmt.Sprintf("%s: item %q: missing publication date", s.id, title))
			continue
		}

		body := strings.TrimSpace(item.Content)
		if body == "" {
			body = strings.TrimSpace(item.Description)
		}

		externalID := strings.TrimSpace(item.GUID)
		if externalID == "" {
			externalID = item.Link
		}

		page.Candidates = append(page.Candidates, domain.ArticleCandidate{
			SourceID:    s.id,
			ExternalID:  externalID,
			Language:    q.Language,
			Category:    q.Category,
			Title:       title,
			Body:        body,
			URL:         item.Link,
			Tags:        item.Categories,
			PublishedAt: publishedAt,
			Fingerprint: fingerprint.Compute(title, body),
		})
	}

	return page
}

func itemTime(item *gofeed.Item) (time.Time, bool) {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC(), true
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC(), true
	default:
		return time.Time{}, false
	}
}
