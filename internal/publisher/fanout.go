package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"news_sync/internal/domain"
)

type Sink interface {
	Publish(ctx context.Context, article *domain.Article) error
}

// Fanout delivers every article to all sinks. A failing sink does not keep
// the others from receiving the message.
type Fanout struct {
	sinks  []Sink
	logger *slog.Logger
}

func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	f := &Fanout{logger: logger}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) Len() int {
	return len(f.sinks)
}

func (f *Fanout) Publish(ctx context.Context, article *domain.Article) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Publish(ctx, article); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds a connection.
func (f *Fanout) Close() error {
	var errs []error
	for _, s := range f.sinks {
		c, ok := s.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			f.logger.Warn("close publisher", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
