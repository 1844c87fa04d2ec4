// Package storage persists screening history, assessments, alerts and matrix versions with gorm.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/matrix"
	"github.com/Aidin1998/amlscreen/pkg/errors"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AlertFilter narrows an alert listing
type AlertFilter struct {
	Status []aml.AlertStatus
	Limit  int
}

type Store interface {
	// SaveScreening writes a result with its assessment and alerts. Writing the same result twice is a no-op.
	SaveScreening(ctx context.Context, result *aml.ScreeningResult) error
	SaveAssessment(ctx context.Context, assessment *aml.RiskAssessment) error

	ListScreenings(ctx context.Context, userID string, limit int) ([]aml.ScreeningResult, error)
	LatestScreening(ctx context.Context, userID string) (*aml.ScreeningResult, error)
	ListAssessments(ctx context.Context, userID string, limit int) ([]aml.RiskAssessment, error)
	LatestAssessment(ctx context.Context, userID string) (*aml.RiskAssessment, error)

	GetAlert(ctx context.Context, id uuid.UUID) (*aml.Alert, error)
	ListAlerts(ctx context.Context, userID string, filter AlertFilter) ([]aml.Alert, error)
	// UpdateAlertReview records a reviewer decision if the alert is still in one of the from states.
	UpdateAlertReview(ctx context.Context, alert *aml.Alert, from ...aml.AlertStatus) error

	// ScreenedUsers returns every user with at least one screening, ordered by user ID.
	ScreenedUsers(ctx context.Context, after string, limit int) ([]string, error)

	matrix.Archive
	Ping(ctx context.Context) error
}

type StoreImp struct {
	log *zap.Logger
	db  *gorm.DB
}

var _ Store = (*StoreImp)(nil)

func New(log *zap.Logger, db *gorm.DB) *StoreImp {
	return &StoreImp{log: log, db: db}
}

func (s *StoreImp) SaveScreening(ctx context.Context, result *aml.ScreeningResult) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ignore := tx.Clauses(clause.OnConflict{DoNothing: true})
		if err := ignore.Create(screeningToRecord(result)).Error; err != nil {
			return err
		}
		if err := ignore.Create(assessmentToRecord(&result.Assessment)).Error; err != nil {
			return err
		}
		if len(result.Alerts) == 0 {
			return nil
		}
		records := make([]*AlertRecord, 0, len(result.Alerts))
		for i := range result.Alerts {
			records = append(records, alertToRecord(&result.Alerts[i]))
		}
		return ignore.Create(&records).Error
	})
	if err != nil {
		return errors.Persistence.Explain("failed to save screening").Wrap(err)
	}
	s.log.Debug("Screening stored",
		zap.String("screening_id", result.ID.String()),
		zap.String("user_id", result.UserID),
		zap.Int("alerts", len(result.Alerts)))
	return nil
}

func (s *StoreImp) SaveAssessment(ctx context.Context, assessment *aml.RiskAssessment) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(assessmentToRecord(assessment)).Error
	if err != nil {
		return errors.Persistence.Explain("failed to save assessment").Wrap(err)
	}
	return nil
}

func (s *StoreImp) ListScreenings(ctx context.Context, userID string, limit int) ([]aml.ScreeningResult, error) {
	var records []ScreeningRecord
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(clampLimit(limit)).
		Find(&records)
	if result.Error != nil {
		return nil, errors.Persistence.Explain("failed to list screenings").Wrap(result.Error)
	}

	out := make([]aml.ScreeningResult, 0, len(records))
	for _, r := range records {
		out = append(out, r.Result)
	}
	if err := s.attachAlerts(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *StoreImp) LatestScreening(ctx context.Context, userID string) (*aml.ScreeningResult, error) {
	var record ScreeningRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound.Explain("no screening for user")
		}
		return nil, errors.Persistence.Explain("failed to get screening").Wrap(err)
	}
	results := []aml.ScreeningResult{record.Result}
	if err := s.attachAlerts(ctx, results); err != nil {
		return nil, err
	}
	return &results[0], nil
}

// attachAlerts fills each result's alerts with their current review state.
func (s *StoreImp) attachAlerts(ctx context.Context, results []aml.ScreeningResult) error {
	if len(results) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(results))
	index := make(map[uuid.UUID]int, len(results))
	for i := range results {
		ids[i] = results[i].ID
		index[results[i].ID] = i
		results[i].Alerts = nil
	}

	var records []AlertRecord
	err := s.db.WithContext(ctx).
		Where("screening_id IN ?", ids).
		Order("created_at ASC, type ASC").
		Find(&records).Error
	if err != nil {
		return errors.Persistence.Explain("failed to load screening alerts").Wrap(err)
	}
	for i := range records {
		if at, ok := index[records[i].ScreeningID]; ok {
			results[at].Alerts = append(results[at].Alerts, records[i].toAlert())
		}
	}
	return nil
}

func (s *StoreImp) ListAssessments(ctx context.Context, userID string, limit int) ([]aml.RiskAssessment, error) {
	var records []AssessmentRecord
	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("assessed_at DESC").
		Limit(clampLimit(limit)).
		Find(&records)
	if result.Error != nil {
		return nil, errors.Persistence.Explain("failed to list assessments").Wrap(result.Error)
	}

	out := make([]aml.RiskAssessment, 0, len(records))
	for _, r := range records {
		out = append(out, r.Assessment)
	}
	return out, nil
}

func (s *StoreImp) LatestAssessment(ctx context.Context, userID string) (*aml.RiskAssessment, error) {
	var record AssessmentRecord
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("assessed_at DESC").
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound.Explain("no risk assessment for user")
		}
		return nil, errors.Persistence.Explain("failed to get assessment").Wrap(err)
	}
	return &record.Assessment, nil
}

func (s *StoreImp) GetAlert(ctx context.Context, id uuid.UUID) (*aml.Alert, error) {
	if id == uuid.Nil {
		return nil, errors.Validation.Explain("alert ID is required")
	}
	var record AlertRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound.Explain("alert not found")
		}
		return nil, errors.Persistence.Explain("failed to get alert").Wrap(err)
	}
	alert := record.toAlert()
	return &alert, nil
}

func (s *StoreImp) ListAlerts(ctx context.Context, userID string, filter AlertFilter) ([]aml.Alert, error) {
	query := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if len(filter.Status) > 0 {
		query = query.Where("status IN ?", statusStrings(filter.Status))
	}

	var records []AlertRecord
	result := query.Order("created_at DESC").Limit(clampLimit(filter.Limit)).Find(&records)
	if result.Error != nil {
		return nil, errors.Persistence.Explain("failed to list alerts").Wrap(result.Error)
	}

	out := make([]aml.Alert, 0, len(records))
	for i := range records {
		out = append(out, records[i].toAlert())
	}
	return out, nil
}

func (s *StoreImp) UpdateAlertReview(ctx context.Context, alert *aml.Alert, from ...aml.AlertStatus) error {
	updates := map[string]interface{}{
		"status":       string(alert.Status),
		"resolution":   string(alert.Resolution),
		"notes":        alert.Notes,
		"reviewed_by":  alert.ReviewedBy,
		"reviewed_at":  alert.ReviewedAt,
		"follow_up_at": alert.FollowUpAt,
		"updated_at":   alert.UpdatedAt,
	}

	query := s.db.WithContext(ctx).Model(&AlertRecord{}).Where("id = ?", alert.ID)
	if len(from) > 0 {
		query = query.Where("status IN ?", statusStrings(from))
	}
	result := query.Updates(updates)
	if result.Error != nil {
		return errors.Persistence.Explain("failed to update alert").Wrap(result.Error)
	}
	if result.RowsAffected == 0 {
		// either gone or already decided by someone else
		if _, err := s.GetAlert(ctx, alert.ID); err != nil {
			return err
		}
		return errors.Conflict.Explain("alert is no longer open")
	}
	return nil
}

func (s *StoreImp) ScreenedUsers(ctx context.Context, after string, limit int) ([]string, error) {
	var users []string
	result := s.db.WithContext(ctx).
		Model(&ScreeningRecord{}).
		Distinct("user_id").
		Where("user_id > ?", after).
		Order("user_id").
		Limit(clampLimit(limit)).
		Pluck("user_id", &users)
	if result.Error != nil {
		return nil, errors.Persistence.Explain("failed to list screened users").Wrap(result.Error)
	}
	return users, nil
}

func (s *StoreImp) SaveMatrix(ctx context.Context, m *matrix.RiskMatrix) error {
	updatedAt := m.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	record := &MatrixRecord{Version: m.Version, Matrix: *m, UpdatedBy: m.UpdatedBy, UpdatedAt: updatedAt}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.Persistence.Explain("failed to save risk matrix version %d", m.Version).Wrap(err)
	}
	return nil
}

func (s *StoreImp) LatestMatrix(ctx context.Context) (*matrix.RiskMatrix, error) {
	var record MatrixRecord
	err := s.db.WithContext(ctx).Order("version DESC").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound.Explain("no risk matrix stored")
		}
		return nil, errors.Persistence.Explain("failed to load risk matrix").Wrap(err)
	}
	m := record.Matrix
	m.Version = record.Version
	m.UpdatedBy = record.UpdatedBy
	m.UpdatedAt = record.UpdatedAt
	return &m, nil
}

func (s *StoreImp) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

func statusStrings(statuses []aml.AlertStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
