// Package recorder persists screening outcomes, raises alerts and runs the alert review lifecycle.
package recorder

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/cache"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/matrix"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/storage"
	"github.com/Aidin1998/amlscreen/internal/messaging"
	"github.com/Aidin1998/amlscreen/pkg/errors"
	"github.com/Aidin1998/amlscreen/pkg/metrics"
)

const (
	minNotesLength = 20
	maxNotesLength = 4000
)

// Recorder writes results append-only. Storage failures are queued for retry and never fail the caller.
type Recorder struct {
	logger    *zap.SugaredLogger
	store     storage.Store
	cache     cache.AssessmentCache
	publisher messaging.Publisher
	queue     *RetryQueue
	sanitizer *bluemonday.Policy
	now       func() time.Time
}

func New(logger *zap.SugaredLogger, store storage.Store, c cache.AssessmentCache, publisher messaging.Publisher, queue *RetryQueue) *Recorder {
	if publisher == nil {
		publisher = messaging.NewEventPublisher(logger.Desugar())
	}
	return &Recorder{
		logger:    logger,
		store:     store,
		cache:     c,
		publisher: publisher,
		queue:     queue,
		sanitizer: bluemonday.StrictPolicy(),
		now:       time.Now,
	}
}

// Record attaches alerts to result, persists it and announces it.
func (r *Recorder) Record(ctx context.Context, result *aml.ScreeningResult, m *matrix.RiskMatrix) {
	result.Alerts = BuildAlerts(result, m, result.CreatedAt)
	for _, a := range result.Alerts {
		metrics.AlertsCreated.WithLabelValues(string(a.Type)).Inc()
	}

	r.persist(ctx, "save_screening", result.UserID, func(ctx context.Context) error {
		return r.store.SaveScreening(ctx, result)
	})
	r.cacheAssessment(ctx, &result.Assessment)

	r.publish(ctx, messaging.TopicScreeningCompleted, result.UserID, messaging.NewScreeningCompleted(result))
	for _, a := range result.Alerts {
		r.publish(ctx, messaging.TopicAlertCreated, a.UserID, messaging.AlertEvent{EventID: uuid.New(), Alert: a, OccurredAt: a.CreatedAt})
	}

	r.logger.Infow("Screening recorded",
		"screening_id", result.ID,
		"user_id", result.UserID,
		"risk_level", result.Assessment.Level,
		"score", result.Assessment.OverallScore,
		"alerts", len(result.Alerts),
		"degraded", result.Degraded)
}

// RecordOverride stores a manually overridden assessment as a new history entry.
func (r *Recorder) RecordOverride(ctx context.Context, a *aml.RiskAssessment) {
	r.persist(ctx, "save_assessment", a.UserID, func(ctx context.Context) error {
		return r.store.SaveAssessment(ctx, a)
	})
	r.cacheAssessment(ctx, a)

	if a.Override != nil {
		r.publish(ctx, messaging.TopicRiskOverridden, a.UserID, messaging.RiskOverridden{
			EventID:      uuid.New(),
			AssessmentID: a.ID,
			UserID:       a.UserID,
			Score:        a.OverallScore,
			Level:        a.Level,
			Override:     *a.Override,
			OccurredAt:   a.AssessedAt,
		})
	}
}

// ResolveAlert applies a reviewer decision to an open or escalated alert.
func (r *Recorder) ResolveAlert(ctx context.Context, alertID uuid.UUID, req aml.ResolveAlertRequest) (*aml.Alert, error) {
	now := r.now().UTC()
	notes, err := r.validateResolution(req, now)
	if err != nil {
		return nil, err
	}

	alert, err := r.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if !alert.IsOpen() {
		return nil, errors.Conflict.Explain("alert is already %s", alert.Status)
	}

	previous := alert.Status
	alert.Resolution = req.Resolution
	alert.Notes = notes
	alert.ReviewedBy = req.ReviewedBy
	alert.ReviewedAt = &now
	alert.UpdatedAt = now
	switch req.Resolution {
	case aml.ResolutionEscalated:
		alert.Status = aml.AlertStatusEscalated
		followUp := req.FollowUpAt.UTC()
		alert.FollowUpAt = &followUp
	case aml.ResolutionFalsePositive:
		alert.Status = aml.AlertStatusDismissed
	default:
		alert.Status = aml.AlertStatusResolved
	}

	if err := r.store.UpdateAlertReview(ctx, alert, aml.AlertStatusOpen, aml.AlertStatusEscalated); err != nil {
		return nil, err
	}

	r.publish(ctx, messaging.TopicAlertResolved, alert.UserID, messaging.AlertEvent{EventID: uuid.New(), Alert: *alert, OccurredAt: now})
	r.logger.Infow("Alert reviewed",
		"alert_id", alert.ID,
		"user_id", alert.UserID,
		"from", previous,
		"to", alert.Status,
		"resolution", alert.Resolution,
		"reviewed_by", alert.ReviewedBy)
	return alert, nil
}

// Alerts lists a user's alerts newest-first, optionally filtered by status.
func (r *Recorder) Alerts(ctx context.Context, userID string, statuses []aml.AlertStatus, limit int) ([]aml.Alert, error) {
	return r.store.ListAlerts(ctx, userID, storage.AlertFilter{Status: statuses, Limit: limit})
}

func (r *Recorder) validateResolution(req aml.ResolveAlertRequest, now time.Time) (string, error) {
	verr := errors.Validation.Explain("invalid alert resolution")
	var fields []errors.FieldError

	if !req.Resolution.Valid() {
		fields = append(fields, errors.NewFieldError("invalid", "resolution",
			"must be one of false_positive, approved, rejected, requires_review, escalated"))
	}

	notes := strings.TrimSpace(r.sanitizer.Sanitize(req.Notes))
	switch n := utf8.RuneCountInString(notes); {
	case n < minNotesLength:
		fields = append(fields, errors.NewFieldError("too_short", "notes", "must be at least 20 characters"))
	case n > maxNotesLength:
		fields = append(fields, errors.NewFieldError("too_long", "notes", "must be at most 4000 characters"))
	}

	if req.Resolution == aml.ResolutionEscalated {
		if req.FollowUpAt == nil {
			fields = append(fields, errors.NewFieldError("required", "follow_up_at", "required when escalating"))
		} else if !req.FollowUpAt.After(now) {
			fields = append(fields, errors.NewFieldError("invalid", "follow_up_at", "must be in the future"))
		}
	}

	if len(fields) > 0 {
		return "", verr.WithFields(fields)
	}
	return notes, nil
}

func (r *Recorder) persist(ctx context.Context, name, key string, write func(ctx context.Context) error) {
	err := write(ctx)
	if err == nil {
		return
	}
	r.logger.Warnw("Write failed, queueing for retry", "job", name, "user_id", key, "error", err)
	if r.queue == nil || !r.queue.Enqueue(name, key, write) {
		r.logger.Errorw("Write lost", "job", name, "user_id", key, "error", err)
	}
}

func (r *Recorder) cacheAssessment(ctx context.Context, a *aml.RiskAssessment) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Set(ctx, a); err != nil {
		r.logger.Warnw("Failed to cache assessment", "user_id", a.UserID, "error", err)
	}
}

func (r *Recorder) publish(ctx context.Context, topic, key string, event interface{}) {
	if err := r.publisher.PublishEvent(ctx, topic, key, event); err != nil {
		r.logger.Warnw("Failed to publish event", "topic", topic, "user_id", key, "error", err)
	}
}
