package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/screening"
	"github.com/Aidin1998/amlscreen/pkg/errors"
	"github.com/Aidin1998/amlscreen/pkg/metrics"
)

// sourceOutcome is what one screener produced
type sourceOutcome struct {
	kind       aml.SourceKind
	candidates []aml.MatchCandidate
	degraded   []string
	failed     bool
	err        error
	took       time.Duration
}

// fanOutResult joins every outcome
type fanOutResult struct {
	candidates []aml.MatchCandidate
	screened   []aml.SourceKind
	failed     []aml.SourceKind
	degraded   []string
}

// fanOut runs every screener concurrently and waits for all of them.
// Candidates are appended in completion order.
func (s *Service) fanOut(ctx context.Context, screeners []screening.Screener, subject *normalize.Subject, opts aml.ScreeningOptions) fanOutResult {
	var (
		mu  sync.Mutex
		out fanOutResult
		g   errgroup.Group
	)

	for _, sc := range screeners {
		g.Go(func() error {
			o := s.runSource(ctx, sc, subject, opts)

			mu.Lock()
			defer mu.Unlock()
			out.candidates = append(out.candidates, o.candidates...)
			out.degraded = append(out.degraded, o.degraded...)
			if o.failed {
				out.failed = append(out.failed, o.kind)
			} else {
				out.screened = append(out.screened, o.kind)
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// runSource calls one screener under its own timeout. A screener that ignores its
// context is abandoned when the timeout fires.
func (s *Service) runSource(ctx context.Context, sc screening.Screener, subject *normalize.Subject, opts aml.ScreeningOptions) sourceOutcome {
	kind := sc.Kind()
	ctx, span := s.tracer.Start(ctx, "aml.screen."+string(kind))
	defer span.End()

	sctx, cancel := context.WithTimeout(ctx, s.config.SourceTimeout)
	defer cancel()

	start := s.now()
	done := make(chan sourceOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Screener panic recovered",
					zap.String("source", string(kind)),
					zap.Any("panic", r),
					zap.String("stack", string(debug.Stack())))
				done <- sourceOutcome{err: fmt.Errorf("screener panicked: %v", r)}
			}
		}()
		candidates, err := sc.Screen(sctx, subject, opts)
		done <- sourceOutcome{candidates: candidates, err: err}
	}()

	var o sourceOutcome
	select {
	case o = <-done:
	case <-sctx.Done():
		o = sourceOutcome{err: errors.SourceUnavailable.Explain("%s timed out", kind).Wrap(sctx.Err())}
	}
	o.kind = kind
	o.took = s.now().Sub(start)
	metrics.SourceLatency.WithLabelValues(string(kind)).Observe(o.took.Seconds())

	var partial *screening.PartialError
	switch {
	case o.err == nil:
	case errors.As(o.err, &partial):
		o.degraded = partial.DegradedNames()
		metrics.SourceFailures.WithLabelValues(string(kind)).Inc()
		s.logger.Warn("Screener partially unavailable",
			zap.String("source", string(kind)),
			zap.Strings("unavailable", partial.Unavailable))
	default:
		o.failed = true
		o.candidates = nil
		o.degraded = []string{string(kind)}
		metrics.SourceFailures.WithLabelValues(string(kind)).Inc()
		span.RecordError(o.err)
		span.SetStatus(codes.Error, "source unavailable")
		s.logger.Warn("Screener unavailable",
			zap.String("source", string(kind)),
			zap.Duration("took", o.took),
			zap.Error(o.err))
	}

	span.SetAttributes(
		attribute.Int("aml.candidates", len(o.candidates)),
		attribute.Bool("aml.degraded", len(o.degraded) > 0),
	)
	return o
}
