package storage

import (
	"time"

	"github.com/google/uuid"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/matrix"
)

// ScreeningRecord is one append-only screening run. Result holds everything but the alerts,
// which are joined back from AlertRecord on read.
type ScreeningRecord struct {
	ID               uuid.UUID           `gorm:"type:uuid;primaryKey"`
	UserID           string              `gorm:"size:128;not null;index:idx_screenings_user_created,priority:1"`
	PreviousResultID *uuid.UUID          `gorm:"type:uuid"`
	ScreenType       string              `gorm:"size:32;not null"`
	RiskLevel        string              `gorm:"size:16;not null"`
	Degraded         bool                `gorm:"not null;default:false"`
	Result           aml.ScreeningResult `gorm:"type:text;serializer:json"`
	CreatedAt        time.Time           `gorm:"not null;index:idx_screenings_user_created,priority:2"`
}

func (ScreeningRecord) TableName() string { return "aml_screenings" }

// AssessmentRecord is one append-only risk assessment
type AssessmentRecord struct {
	ID          uuid.UUID          `gorm:"type:uuid;primaryKey"`
	UserID      string             `gorm:"size:128;not null;index:idx_assessments_user_assessed,priority:1"`
	ScreeningID *uuid.UUID         `gorm:"type:uuid;index"`
	Score       float64            `gorm:"not null"`
	RiskLevel   string             `gorm:"size:16;not null"`
	Overridden  bool               `gorm:"not null;default:false"`
	Assessment  aml.RiskAssessment `gorm:"type:text;serializer:json"`
	AssessedAt  time.Time          `gorm:"not null;index:idx_assessments_user_assessed,priority:2"`
}

func (AssessmentRecord) TableName() string { return "aml_assessments" }

// AlertRecord is a reviewable alert. Unlike screenings its status changes over time.
type AlertRecord struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID      string    `gorm:"size:128;not null;index:idx_alerts_user_created,priority:1"`
	ScreeningID uuid.UUID `gorm:"type:uuid;not null;index"`
	Type        string    `gorm:"size:32;not null"`
	Status      string    `gorm:"size:16;not null;index"`
	Severity    string    `gorm:"size:16;not null"`
	Title       string    `gorm:"size:255;not null"`
	Score       float64   `gorm:"not null"`
	Resolution  string    `gorm:"size:32"`
	Notes       string    `gorm:"type:text"`
	ReviewedBy  string    `gorm:"size:128"`
	ReviewedAt  *time.Time
	FollowUpAt  *time.Time
	CreatedAt   time.Time `gorm:"not null;index:idx_alerts_user_created,priority:2"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (AlertRecord) TableName() string { return "aml_alerts" }

// MatrixRecord keeps every published risk matrix version
type MatrixRecord struct {
	Version   int               `gorm:"primaryKey;autoIncrement:false"`
	Matrix    matrix.RiskMatrix `gorm:"type:text;serializer:json"`
	UpdatedBy string            `gorm:"size:128"`
	UpdatedAt time.Time         `gorm:"not null"`
}

func (MatrixRecord) TableName() string { return "aml_risk_matrices" }

func screeningToRecord(r *aml.ScreeningResult) *ScreeningRecord {
	return &ScreeningRecord{
		ID:               r.ID,
		UserID:           r.UserID,
		PreviousResultID: r.PreviousResultID,
		ScreenType:       string(r.ScreenType),
		RiskLevel:        string(r.Assessment.Level),
		Degraded:         r.Degraded,
		Result:           withoutAlerts(*r),
		CreatedAt:        r.CreatedAt,
	}
}

// withoutAlerts drops the alerts from a result copy. Their current state lives in aml_alerts.
func withoutAlerts(r aml.ScreeningResult) aml.ScreeningResult {
	r.Alerts = nil
	return r
}

func assessmentToRecord(a *aml.RiskAssessment) *AssessmentRecord {
	return &AssessmentRecord{
		ID:          a.ID,
		UserID:      a.UserID,
		ScreeningID: a.ScreeningID,
		Score:       a.OverallScore,
		RiskLevel:   string(a.Level),
		Overridden:  a.Override != nil,
		Assessment:  *a,
		AssessedAt:  a.AssessedAt,
	}
}

func alertToRecord(a *aml.Alert) *AlertRecord {
	return &AlertRecord{
		ID:          a.ID,
		UserID:      a.UserID,
		ScreeningID: a.ScreeningID,
		Type:        string(a.Type),
		Status:      string(a.Status),
		Severity:    string(a.Severity),
		Title:       a.Title,
		Score:       a.Score,
		Resolution:  string(a.Resolution),
		Notes:       a.Notes,
		ReviewedBy:  a.ReviewedBy,
		ReviewedAt:  a.ReviewedAt,
		FollowUpAt:  a.FollowUpAt,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func (r *AlertRecord) toAlert() aml.Alert {
	return aml.Alert{
		ID:          r.ID,
		UserID:      r.UserID,
		ScreeningID: r.ScreeningID,
		Type:        aml.AlertType(r.Type),
		Status:      aml.AlertStatus(r.Status),
		Severity:    aml.RiskLevel(r.Severity),
		Title:       r.Title,
		Score:       r.Score,
		Resolution:  aml.Resolution(r.Resolution),
		Notes:       r.Notes,
		ReviewedBy:  r.ReviewedBy,
		ReviewedAt:  r.ReviewedAt,
		FollowUpAt:  r.FollowUpAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}
