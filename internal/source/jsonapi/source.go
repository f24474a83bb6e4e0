// Package jsonapi adapts paginated JSON article APIs
// (`?page=N&pageSize=M`, `{pageInfo, content}`) to candidate pages.
package jsonapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"news_sync/internal/domain"
	"news_sync/internal/fingerprint"
	"news_sync/internal/source"
)

const TypeName = "jsonapi"

// Source implements source.Source for a paginated JSON API.
type Source struct {
	id        string
	name      string
	baseURL   string
	apiKey    string
	pageSize  int
	languages []domain.Language
	client    *resty.Client
	limiter   *rate.Limiter
	logger    *slog.Logger
}

// New creates a JSON API source.
func New(cfg source.Config, logger *slog.Logger) *Source {
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return &Source{
		id:        cfg.ID,
		name:      cfg.Name,
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		pageSize:  pageSize,
		languages: cfg.Languages,
		client:    source.NewHTTPClient(cfg.Timeout),
		limiter:   source.NewLimiter(cfg.RateLimit, cfg.Burst),
		logger:    logger.With("source", cfg.ID),
	}
}

func (s *Source) ID() string                   { return s.id }
func (s *Source) Name() string                 { return s.name }
func (s *Source) Languages() []domain.Language { return s.languages }

// Fetch requests one page. The cursor is the zero-based page number, so the
// page size never changes within a job; q.Limit only trims the result.
func (s *Source) Fetch(ctx context.Context, q domain.SourceQuery) (*domain.CandidatePage, error) {
	page := 0
	if q.Cursor != "" {
		p, err := strconv.Atoi(q.Cursor)
		if err != nil || p < 0 {
			return nil, fmt.Errorf("%w: %s: bad cursor %q", domain.ErrProviderUnavailable, s.id, q.Cursor)
		}
		page = p
	}

	if err := source.Throttle(ctx, s.id, s.limiter); err != nil {
		return nil, err
	}

	req := s.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{
			"page":     strconv.Itoa(page),
			"pageSize": strconv.Itoa(s.pageSize),
			"category": q.Category,
			"language": q.Language.Code(),
		})
	if s.apiKey != "" {
		req.SetHeader("X-Api-Key", s.apiKey)
	}

	resp, err := req.Get(s.baseURL)
	if err := source.CheckResponse(s.id, resp, err); err != nil {
		return nil, err
	}

	var apiResp APIResponse
	if err := json.Unmarshal(resp.Body(), &apiResp); err != nil {
		return nil, fmt.Errorf("%w: %s: decode response: %v", domain.ErrProviderUnavailable, s.id, err)
	}

	out := s.transform(apiResp.Content, q)
	out.Done = len(apiResp.Content) == 0 || page >= apiResp.PageInfo.NumPages-1
	if !out.Done {
		out.NextCursor = strconv.Itoa(page + 1)
	}

	s.logger.Debug("fetched page",
		"category", q.Category,
		"page", page,
		"candidates", len(out.Candidates),
		"skipped", len(out.ItemErrors),
	)

	return out, nil
}

func (s *Source) transform(raw []json.RawMessage, q domain.SourceQuery) *domain.CandidatePage {
	page := &domain.CandidatePage{
		Candidates: make([]domain.ArticleCandidate, 0, len(raw)),
	}

	for i, item := range raw {
		if q.Limit > 0 && len(page.Candidates) >= q.Limit {
			break
		}
		var c Content
		if err := json.Unmarshal(item, &c); err != nil {
			page.ItemErrors = append(page.ItemErrors, fmt.Sprintf("%s: item %d: malformed: %v", s.id, i, err))
			continue
		}

		title := strings.TrimSpace(c.Title)
		if title == "" {
			page.ItemErrors = append(page.ItemErrors, fmt.Sprintf("%s: item %s: missing title", s.id, c.ID))
			continue
		}

		publishedAt, err := time.Parse(time.RFC3339, c.Date)
		if err != nil {
			page.ItemErrors = append(page.ItemErrors, fmt.Sprintf("%s: item %s: bad date %q", s.id, c.ID, c.Date))
			continue
		}

		body := deref(c.Body)
		if body == "" {
			body = deref(c.Description)
		}

		tags := make([]string, 0, len(c.Tags))
		for _, t := range c.Tags {
			if label := strings.TrimSpace(t.Label); label != "" {
				tags = append(tags, label)
			}
		}

		page.Candidates = append(page.Candidates, domain.ArticleCandidate{
			SourceID:    s.id,
			ExternalID:  string(c.ID),
			Language:    q.Language,
			Category:    q.Category,
			Title:       title,
			Body:        body,
			URL:         c.CanonicalURL,
			Tags:        tags,
			PublishedAt: publishedAt,
			Fingerprint: fingerprint.Compute(title, body),
		})
	}

	return page
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
