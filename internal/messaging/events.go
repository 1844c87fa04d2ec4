package messaging

import (
	"time"

	"github.com/google/uuid"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
)

// Topics
const (
	TopicScreeningCompleted = "aml.screening.completed"
	TopicAlertCreated       = "aml.alert.created"
	TopicAlertResolved      = "aml.alert.resolved"
	TopicRiskOverridden     = "aml.risk.overridden"
)

// ScreeningCompleted is emitted once a screening result has been recorded
type ScreeningCompleted struct {
	EventID         uuid.UUID      `json:"event_id"`
	ScreeningID     uuid.UUID      `json:"screening_id"`
	UserID          string         `json:"user_id"`
	ScreenType      aml.ScreenType `json:"screen_type"`
	Score           float64        `json:"score"`
	Level           aml.RiskLevel  `json:"risk_level"`
	MatrixVersion   int            `json:"matrix_version"`
	Degraded        bool           `json:"degraded"`
	DegradedSources []string       `json:"degraded_sources,omitempty"`
	Candidates      int            `json:"candidates"`
	Alerts          int            `json:"alerts"`
	OccurredAt      time.Time      `json:"occurred_at"`
}

// AlertEvent is emitted when an alert is opened or reviewed
type AlertEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	Alert      aml.Alert `json:"alert"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RiskOverridden is emitted when an admin replaces a user's score
type RiskOverridden struct {
	EventID      uuid.UUID     `json:"event_id"`
	AssessmentID uuid.UUID     `json:"assessment_id"`
	UserID       string        `json:"user_id"`
	Score        float64       `json:"score"`
	Level        aml.RiskLevel `json:"risk_level"`
	Override     aml.Override  `json:"override"`
	OccurredAt   time.Time     `json:"occurred_at"`
}

// NewScreeningCompleted summarizes a result for downstream consumers.
func NewScreeningCompleted(r *aml.ScreeningResult) ScreeningCompleted {
	return ScreeningCompleted{
		EventID:         uuid.New(),
		ScreeningID:     r.ID,
		UserID:          r.UserID,
		ScreenType:      r.ScreenType,
		Score:           r.Assessment.OverallScore,
		Level:           r.Assessment.Level,
		MatrixVersion:   r.Assessment.MatrixVersion,
		Degraded:        r.Degraded,
		DegradedSources: r.DegradedSources,
		Candidates:      len(r.Candidates),
		Alerts:          len(r.Alerts),
		OccurredAt:      r.CreatedAt,
	}
}
