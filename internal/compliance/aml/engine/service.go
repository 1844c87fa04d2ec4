// Package engine runs a screening end to end: validate, normalize, fan out to the
// screeners, aggregate, decide and record.
package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/cache"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/matrix"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/recorder"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/scoring"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/screening"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/storage"
	"github.com/Aidin1998/amlscreen/pkg/errors"
	"github.com/Aidin1998/amlscreen/pkg/metrics"
	"github.com/Aidin1998/amlscreen/pkg/validation"
)

// Service is the screening pipeline
type Service struct {
	logger     *zap.Logger
	config     Config
	normalizer *normalize.Normalizer
	registry   *screening.Registry
	aggregator *scoring.Aggregator
	matrices   *matrix.Store
	recorder   *recorder.Recorder
	store      storage.Store
	cache      cache.AssessmentCache
	validator  *validation.Validator
	tracer     trace.Tracer
	now        func() time.Time
}

// Deps are the collaborators of a Service
type Deps struct {
	Normalizer *normalize.Normalizer
	Registry   *screening.Registry
	Aggregator *scoring.Aggregator
	Matrices   *matrix.Store
	Recorder   *recorder.Recorder
	Store      storage.Store
	Cache      cache.AssessmentCache
}

func NewService(logger *zap.Logger, config Config, deps Deps) *Service {
	return &Service{
		logger:     logger,
		config:     config,
		normalizer: deps.Normalizer,
		registry:   deps.Registry,
		aggregator: deps.Aggregator,
		matrices:   deps.Matrices,
		recorder:   deps.Recorder,
		store:      deps.Store,
		cache:      deps.Cache,
		validator:  validation.New("binding"),
		tracer:     otel.Tracer("amlscreen/engine"),
		now:        time.Now,
	}
}

// Screen runs one screening. Screeners keep running if the caller goes away, bounded by the
// mode ceiling, but the result of an abandoned call is discarded. A screening only fails for
// source reasons when every selected source (or a required one) is unavailable.
func (s *Service) Screen(ctx context.Context, req *aml.ScreeningRequest) (*aml.ScreeningResult, error) {
	ctx, span := s.tracer.Start(ctx, "aml.Screen")
	defer span.End()

	if err := s.validate(req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		return nil, err
	}
	if req.ScreenType == "" {
		req.ScreenType = aml.ScreenTypeManual
	}
	span.SetAttributes(
		attribute.String("aml.user_id", req.UserID),
		attribute.String("aml.screen_type", string(req.ScreenType)),
		attribute.String("aml.mode", string(req.Options.Mode)),
	)

	screeners := s.registry.Select(req.Options)
	if len(screeners) == 0 {
		return nil, errors.Validation.Explain("no enabled screening source selected").
			WithField("invalid", "options.sources", "none of the requested sources is enabled")
	}

	start := s.now()
	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ceiling(req.Options.Mode))
	defer cancel()

	m := s.matrices.Current()
	subject := s.normalizer.Normalize(req)
	previous := s.previousResultID(workCtx, req.UserID)

	fan := s.fanOut(workCtx, screeners, subject, req.Options)
	if ctx.Err() != nil {
		s.logger.Info("Caller left before screening completed, discarding result",
			zap.String("user_id", req.UserID), zap.Error(ctx.Err()))
		return nil, ctx.Err()
	}
	if err := s.checkAvailability(screeners, fan); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "sources unavailable")
		return nil, err
	}

	score, factors := s.aggregator.Aggregate(scoring.Input{
		Screened:   fan.screened,
		Candidates: fan.candidates,
		Behavior:   req.BehavioralFactors,
		Country:    subject.Country,
	}, m.CategoryWeights)
	decision := m.Decide(score)

	now := s.now().UTC()
	resultID := uuid.New()
	result := &aml.ScreeningResult{
		ID:               resultID,
		UserID:           req.UserID,
		PreviousResultID: previous,
		ScreenType:       req.ScreenType,
		Request:          *req,
		Candidates:       fan.candidates,
		Assessment: aml.RiskAssessment{
			ID:            uuid.New(),
			UserID:        req.UserID,
			ScreeningID:   &resultID,
			OverallScore:  score,
			Level:         decision.Level,
			Factors:       factors,
			Actions:       decision.Actions,
			MatrixVersion: m.Version,
			AssessedAt:    now,
			ValidUntil:    now.Add(m.Validity(decision.Level)),
		},
		Degraded:        len(fan.degraded) > 0,
		DegradedSources: sortedUnique(fan.degraded),
		Duration:        s.now().Sub(start),
		CreatedAt:       now,
	}
	if result.Candidates == nil {
		result.Candidates = []aml.MatchCandidate{}
	}

	s.recorder.Record(workCtx, result, m)

	metrics.ScreeningsTotal.WithLabelValues(string(decision.Level)).Inc()
	metrics.ScreeningLatency.Observe(result.Duration.Seconds())
	span.SetAttributes(
		attribute.Float64("aml.score", score),
		attribute.String("aml.risk_level", string(decision.Level)),
		attribute.Bool("aml.degraded", result.Degraded),
		attribute.Int("aml.candidates", len(result.Candidates)),
	)
	s.logger.Info("Screening completed",
		zap.String("screening_id", result.ID.String()),
		zap.String("user_id", result.UserID),
		zap.Float64("score", score),
		zap.String("risk_level", string(decision.Level)),
		zap.Int("candidates", len(result.Candidates)),
		zap.Strings("degraded_sources", result.DegradedSources),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// Rescreen repeats the user's latest screening request as a periodic screening.
func (s *Service) Rescreen(ctx context.Context, userID string) (*aml.ScreeningResult, error) {
	latest, err := s.store.LatestScreening(ctx, userID)
	if err != nil {
		return nil, err
	}
	req := latest.Request
	req.ScreenType = aml.ScreenTypePeriodic
	return s.Screen(ctx, &req)
}

func (s *Service) validate(req *aml.ScreeningRequest) error {
	if req == nil {
		return errors.Validation.Explain("screening request is required")
	}
	var fields []errors.FieldError
	if err := s.validator.Struct(req); err != nil {
		var e *errors.Error
		if !errors.As(err, &e) {
			return err
		}
		fields = append(fields, e.Fields...)
	}
	if strings.TrimSpace(req.UserID) == "" {
		fields = appendOnce(fields, errors.NewFieldError("required", "user_id", "is required"))
	}
	if strings.TrimSpace(req.PersonalInfo.FirstName) == "" && strings.TrimSpace(req.PersonalInfo.LastName) == "" {
		fields = appendOnce(fields, errors.NewFieldError("required", "personal_info.last_name", "is required"))
	} else if s.normalizer.Name(req.PersonalInfo.FullName()) == "" {
		// titles and punctuation alone leave nothing for the name screeners to match
		fields = appendOnce(fields, errors.NewFieldError("name", "personal_info.last_name", "must contain a name besides titles and punctuation"))
	}
	for i, w := range req.WalletAddresses {
		if err := screening.ValidateWalletAddress(w); err != nil {
			var e *errors.Error
			msg := err.Error()
			if errors.As(err, &e) {
				msg = e.Message
			}
			fields = append(fields, errors.NewFieldError("wallet_address", walletField(i), msg))
		}
	}
	if tr := req.Options.TimeRange; tr != nil && tr.From != nil && tr.To != nil && tr.From.After(*tr.To) {
		fields = append(fields, errors.NewFieldError("invalid", "options.time_range", "from must not be after to"))
	}
	if len(fields) > 0 {
		return errors.Validation.Explain("invalid screening request").WithFields(fields)
	}
	return nil
}

// checkAvailability fails the screening when nothing could be screened or a required source failed.
func (s *Service) checkAvailability(selected []screening.Screener, fan fanOutResult) error {
	if len(fan.failed) == len(selected) {
		return errors.SourceUnavailable.Explain("all screening sources unavailable: %s", joinKinds(fan.failed))
	}
	for _, kind := range s.config.RequiredSources {
		if slices.Contains(fan.failed, kind) {
			return errors.SourceUnavailable.Explain("required source %s unavailable", kind)
		}
	}
	return nil
}

func (s *Service) previousResultID(ctx context.Context, userID string) *uuid.UUID {
	latest, err := s.store.LatestScreening(ctx, userID)
	if err != nil {
		if !errors.Is(err, errors.NotFound) {
			s.logger.Warn("Could not load previous screening", zap.String("user_id", userID), zap.Error(err))
		}
		return nil
	}
	id := latest.ID
	return &id
}

// CurrentAssessment returns the newest assessment for a user, from cache when possible.
func (s *Service) CurrentAssessment(ctx context.Context, userID string) (*aml.RiskAssessment, error) {
	if s.cache != nil {
		cached, err := s.cache.Get(ctx, userID)
		if err != nil {
			s.logger.Warn("Assessment cache read failed", zap.String("user_id", userID), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	a, err := s.store.LatestAssessment(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, a); err != nil {
			s.logger.Warn("Assessment cache write failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return a, nil
}

// Override replaces the user's current score. The change is a new assessment; history is kept.
func (s *Service) Override(ctx context.Context, req aml.ScoreOverrideRequest) (*aml.RiskAssessment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, errors.Validation.Explain("override reason is required").WithField("required", "reason", "is required")
	}

	current, err := s.CurrentAssessment(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	m := s.matrices.Current()
	score := *req.Score
	decision := m.Decide(score)
	now := s.now().UTC()

	next := &aml.RiskAssessment{
		ID:            uuid.New(),
		UserID:        req.UserID,
		ScreeningID:   current.ScreeningID,
		OverallScore:  score,
		Level:         decision.Level,
		Factors:       maps.Clone(current.Factors),
		Actions:       decision.Actions,
		MatrixVersion: m.Version,
		AssessedAt:    now,
		ValidUntil:    now.Add(m.Validity(decision.Level)),
		Override: &aml.Override{
			By:            req.By,
			Reason:        reason,
			PreviousScore: current.OverallScore,
			PreviousLevel: current.Level,
			At:            now,
		},
	}
	s.recorder.RecordOverride(context.WithoutCancel(ctx), next)

	s.logger.Info("Risk score overridden",
		zap.String("user_id", req.UserID),
		zap.String("by", req.By),
		zap.Float64("previous_score", current.OverallScore),
		zap.Float64("score", score),
		zap.String("risk_level", string(decision.Level)))
	return next, nil
}

func (s *Service) ScreeningHistory(ctx context.Context, userID string, limit int) ([]aml.ScreeningResult, error) {
	return s.store.ListScreenings(ctx, userID, s.limit(limit))
}

func (s *Service) AssessmentHistory(ctx context.Context, userID string, limit int) ([]aml.RiskAssessment, error) {
	return s.store.ListAssessments(ctx, userID, s.limit(limit))
}

func (s *Service) Alerts(ctx context.Context, userID string, statuses []aml.AlertStatus, limit int) ([]aml.Alert, error) {
	return s.recorder.Alerts(ctx, userID, statuses, s.limit(limit))
}

func (s *Service) ResolveAlert(ctx context.Context, alertID uuid.UUID, req aml.ResolveAlertRequest) (*aml.Alert, error) {
	return s.recorder.ResolveAlert(ctx, alertID, req)
}

func (s *Service) Matrix() *matrix.RiskMatrix {
	return s.matrices.Current()
}

func (s *Service) UpdateMatrix(ctx context.Context, next *matrix.RiskMatrix, by string) (*matrix.RiskMatrix, error) {
	return s.matrices.Update(ctx, next, by)
}

// Sources lists the enabled screeners.
func (s *Service) Sources() []aml.SourceKind {
	return s.registry.Kinds()
}

func (s *Service) limit(n int) int {
	if n <= 0 {
		return s.config.HistoryLimit
	}
	return n
}

func sortedUnique(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}

func joinKinds(kinds []aml.SourceKind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	slices.Sort(names)
	return strings.Join(names, ",")
}

func walletField(i int) string {
	return fmt.Sprintf("wallet_addresses[%d].address", i)
}

func appendOnce(fields []errors.FieldError, f errors.FieldError) []errors.FieldError {
	for _, existing := range fields {
		if existing.Field == f.Field {
			return fields
		}
	}
	return append(fields, f)
}
