package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Cache is a Lookup that remembers fingerprints in front of a slower one.
type Cache interface {
	Lookup
	Recorder
	Close() error
}

// Options controls retention of cached fingerprints.
type Options struct {
	TTL             time.Duration
	CleanupInterval time.Duration
}

const (
	defaultTTL             = 7 * 24 * time.Hour
	defaultCleanupInterval = 12 * time.Hour
)

// NewCache builds the configured cache layer over next.
func NewCache(typ, path string, next Lookup, opts Options) (Cache, error) {
	if next == nil {
		return nil, fmt.Errorf("dedup cache requires a backing lookup")
	}
	typ = strings.TrimSpace(strings.ToLower(typ))
	opts = normalizeOptions(opts)

	switch typ {
	case "", "none", "disabled":
		return passthrough{next: next}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt dedup cache requires a path")
		}
		return openBolt(path, next, opts)
	default:
		return nil, fmt.Errorf("unsupported dedup cache type %q", typ)
	}
}

func normalizeOptions(opts Options) Options {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaultCleanupInterval
	}
	return opts
}

type passthrough struct {
	next Lookup
}

func (p passthrough) ExistsFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	return p.next.ExistsFingerprint(ctx, fingerprint)
}

func (passthrough) RecordFingerprint(context.Context, string) error { return nil }
func (passthrough) Close() error                                     { return nil }
