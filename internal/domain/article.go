package domain

import (
	"fmt"
	"strings"
	"time"
)

type Language string

const (
	LanguageEnglish    Language = "ENGLISH"
	LanguageIndonesian Language = "INDONESIAN"
)

// ParseLanguage accepts the wire names case-insensitively.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToUpper(strings.TrimSpace(s))) {
	case LanguageEnglish:
		return LanguageEnglish, nil
	case LanguageIndonesian:
		return LanguageIndonesian, nil
	default:
		return "", fmt.Errorf("%w: unsupported language %q", ErrInvalidRequest, s)
	}
}

// Code returns the ISO 639-1 code providers expect.
func (l Language) Code() string {
	switch l {
	case LanguageEnglish:
		return "en"
	case LanguageIndonesian:
		return "id"
	default:
		return ""
	}
}

func (l Language) Valid() bool {
	return l == LanguageEnglish || l == LanguageIndonesian
}

// ArticleCandidate is a provider-normalized article that has not been
// deduplicated or stored yet.
type ArticleCandidate struct {
	SourceID    string
	ExternalID  string
	Language    Language
	Category    string
	Title       string
	Body        string
	URL         string
	Tags        []string
	PublishedAt time.Time
	Fingerprint string
}

// ToArticle converts the candidate into the stored representation.
func (c ArticleCandidate) ToArticle() *Article {
	return &Article{
		SourceID:    c.SourceID,
		ExternalID:  c.ExternalID,
		Language:    c.Language,
		Category:    c.Category,
		Title:       c.Title,
		Body:        c.Body,
		URL:         c.URL,
		Tags:        c.Tags,
		PublishedAt: c.PublishedAt,
		Fingerprint: c.Fingerprint,
	}
}

type Article struct {
	ID          int64     `db:"id" json:"id"`
	SourceID    string    `db:"source_id" json:"source_id"` // provider that delivered the first copy
	ExternalID  string    `db:"external_id" json:"external_id"`
	Language    Language  `db:"language" json:"language"`
	Category    string    `db:"category" json:"category"`
	Title       string    `db:"title" json:"title"`
	Body        string    `db:"body" json:"body"`
	URL         string    `db:"url" json:"url"`
	Tags        []string  `db:"-" json:"tags,omitempty"`
	PublishedAt time.Time `db:"published_at" json:"published_at"`
	Fingerprint string    `db:"fingerprint" json:"fingerprint"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// SourceState tracks cumulative ingestion per provider.
type SourceState struct {
	ID           int64     `db:"id"`
	SourceID     string    `db:"source_id"`
	LastSyncedAt time.Time `db:"last_synced_at"`
	LastJobID    string    `db:"last_job_id"`
	TotalSynced  int64     `db:"total_synced"`
}
