package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"news_sync/internal/domain"
)

// ArticleStore enforces the same uniqueness on fingerprint as the
// Postgres schema.
type ArticleStore struct {
	mu            sync.RWMutex
	nextID        int64
	articles      map[int64]domain.Article
	byFingerprint map[string]int64
}

func NewArticleStore() *ArticleStore {
	return &ArticleStore{
		articles:      make(map[int64]domain.Article),
		byFingerprint: make(map[string]int64),
	}
}

func (s *ArticleStore) Insert(_ context.Context, article *domain.Article) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byFingerprint[article.Fingerprint]; exists {
		return 0, fmt.Errorf("fingerprint %s: %w", article.Fingerprint, domain.ErrDuplicateArticle)
	}

	s.nextID++
	stored := *article
	stored.ID = s.nextID
	stored.Tags = append([]string(nil), article.Tags...)
	stored.CreatedAt = time.Now().UTC()

	s.articles[stored.ID] = stored
	s.byFingerprint[stored.Fingerprint] = stored.ID
	return stored.ID, nil
}

func (s *ArticleStore) ExistsFingerprint(_ context.Context, fingerprint string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byFingerprint[fingerprint]
	return ok, nil
}

// Count returns how many articles are stored.
func (s *ArticleStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.articles)
}

// TagStore assigns ids to labels and keeps article links.
type TagStore struct {
	mu     sync.Mutex
	nextID int64
	ids    map[string]int64
	links  map[int64][]int64
}

func NewTagStore() *TagStore {
	return &TagStore{
		ids:   make(map[string]int64),
		links: make(map[int64][]int64),
	}
}

func (s *TagStore) Ensure(_ context.Context, labels []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]int64, 0, len(labels))
	for _, label := range labels {
		key := strings.ToLower(strings.TrimSpace(label))
		if key == "" {
			continue
		}
		id, ok := s.ids[key]
		if !ok {
			s.nextID++
			id = s.nextID
			s.ids[key] = id
		}
		out = append(out, id)
	}
	return out, nil
}

func (s *TagStore) LinkToArticle(_ context.Context, articleID int64, tagIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[articleID] = append([]int64(nil), tagIDs...)
	return nil
}

// SourceStateStore tracks per-source totals.
type SourceStateStore struct {
	mu     sync.Mutex
	states map[string]domain.SourceState
}

func NewSourceStateStore() *SourceStateStore {
	return &SourceStateStore{states: make(map[string]domain.SourceState)}
}

func (s *SourceStateStore) Get(_ context.Context, sourceID string) (*domain.SourceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.states[sourceID]
	if !ok {
		return &domain.SourceState{SourceID: sourceID}, nil
	}
	return &state, nil
}

func (s *SourceStateStore) Update(_ context.Context, state *domain.SourceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SourceID] = *state
	return nil
}

// TransactionManager runs fn directly; memory stores are individually atomic.
type TransactionManager struct{}

func (TransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
