// Package providers builds the source registry from configuration.
package providers

import (
	"fmt"
	"log/slog"
	"strings"

	"news_sync/internal/source"
	"news_sync/internal/source/jsonapi"
	"news_sync/internal/source/rss"
)

// Build constructs one adapter per configured provider.
func Build(cfgs []source.Config, logger *slog.Logger) (*source.Registry, error) {
	sources := make([]source.Source, 0, len(cfgs))
	for i, cfg := range cfgs {
		if err := validate(cfg); err != nil {
			return nil, fmt.Errorf("source[%d]: %w", i, err)
		}

		switch strings.ToLower(cfg.Type) {
		case jsonapi.TypeName:
			sources = append(sources, jsonapi.New(cfg, logger))
		case rss.TypeName:
			sources = append(sources, rss.New(cfg, logger))
		default:
			return nil, fmt.Errorf("source %q: unsupported type %q", cfg.ID, cfg.Type)
		}
	}
	return source.NewRegistry(sources...)
}

func validate(cfg source.Config) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("id is required")
	}
	if len(cfg.Languages) == 0 {
		return fmt.Errorf("languages are required for source %q", cfg.ID)
	}
	for _, l := range cfg.Languages {
		if !l.Valid() {
			return fmt.Errorf("source %q: unsupported language %q", cfg.ID, l)
		}
	}
	switch strings.ToLower(cfg.Type) {
	case jsonapi.TypeName:
		if strings.TrimSpace(cfg.BaseURL) == "" {
			return fmt.Errorf("base_url is required for source %q", cfg.ID)
		}
	case rss.TypeName:
		if len(cfg.Feeds) == 0 {
			return fmt.Errorf("feeds are required for source %q", cfg.ID)
		}
	}
	return nil
}
