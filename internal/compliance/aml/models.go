// Package aml holds the domain types shared by the screening pipeline.
package aml

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RiskLevel represents the risk tier of an assessment
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// Rank orders levels so they can be compared.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLevelMedium:
		return 1
	case RiskLevelHigh:
		return 2
	case RiskLevelCritical:
		return 3
	default:
		return 0
	}
}

// SourceKind identifies one screener variant
type SourceKind string

const (
	SourceSanctions    SourceKind = "sanctions"
	SourcePEP          SourceKind = "pep"
	SourceAdverseMedia SourceKind = "adverse_media"
	SourceWalletRisk   SourceKind = "wallet_risk"
)

// AllSources lists every screener variant in its canonical order.
var AllSources = []SourceKind{SourceSanctions, SourcePEP, SourceAdverseMedia, SourceWalletRisk}

// ScreeningMode controls how deep a screening goes
type ScreeningMode string

const (
	ModeBasic         ScreeningMode = "basic"
	ModeComprehensive ScreeningMode = "comprehensive"
)

// ScreenType records what triggered a screening
type ScreenType string

const (
	ScreenTypeOnboarding ScreenType = "onboarding"
	ScreenTypeManual     ScreenType = "manual"
	ScreenTypePeriodic   ScreenType = "periodic"
)

// Address is a free-text postal address
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty" binding:"omitempty,iso3166_1_alpha2"`
}

// PersonalInfo is the identity of the screening subject as submitted
type PersonalInfo struct {
	FirstName   string   `json:"first_name" binding:"required,max=100"`
	MiddleName  string   `json:"middle_name,omitempty" binding:"max=100"`
	LastName    string   `json:"last_name" binding:"required,max=100"`
	DateOfBirth string   `json:"date_of_birth,omitempty"`
	Nationality string   `json:"nationality,omitempty" binding:"omitempty,iso3166_1_alpha2"`
	Country     string   `json:"country" binding:"required,iso3166_1_alpha2"`
	Occupation  string   `json:"occupation,omitempty" binding:"max=200"`
	Address     *Address `json:"address,omitempty"`
}

// FullName joins the name parts in display order.
func (p PersonalInfo) FullName() string {
	name := p.FirstName
	if p.MiddleName != "" {
		name += " " + p.MiddleName
	}
	if p.LastName != "" {
		name += " " + p.LastName
	}
	return name
}

// WalletAddress is a blockchain address tagged with its network
type WalletAddress struct {
	Address string `json:"address" binding:"required"`
	Network string `json:"network" binding:"required,oneof=ethereum polygon bsc arbitrum bitcoin tron"`
}

// TimeRange bounds adverse-media publication dates
type TimeRange struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// Contains reports whether t falls within the range. Open ends are unbounded.
func (r *TimeRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if r.From != nil && t.Before(*r.From) {
		return false
	}
	if r.To != nil && t.After(*r.To) {
		return false
	}
	return true
}

// ScreeningOptions narrows what a screening queries
type ScreeningOptions struct {
	Sources           []SourceKind  `json:"sources,omitempty" binding:"omitempty,dive,oneof=sanctions pep adverse_media wallet_risk"`
	Languages         []string      `json:"languages,omitempty"`
	RiskCategories    []string      `json:"risk_categories,omitempty"`
	TimeRange         *TimeRange    `json:"time_range,omitempty"`
	Mode              ScreeningMode `json:"mode,omitempty" binding:"omitempty,oneof=basic comprehensive"`
	IncludeAssociates bool          `json:"include_associates,omitempty"`
}

// WantsSource reports whether the options select the given source. No selection means all.
func (o ScreeningOptions) WantsSource(kind SourceKind) bool {
	if len(o.Sources) == 0 {
		return true
	}
	for _, s := range o.Sources {
		if s == kind {
			return true
		}
	}
	return false
}

// BehavioralFactors are caller-supplied risk signals combined with screening results
type BehavioralFactors struct {
	TransactionVolume    *decimal.Decimal `json:"transaction_volume,omitempty"`
	TransactionFrequency *float64         `json:"transaction_frequency,omitempty" binding:"omitempty,min=0,max=1"`
	GeographicRisk       *float64         `json:"geographic_risk,omitempty" binding:"omitempty,min=0,max=1"`
	IndustryRisk         *float64         `json:"industry_risk,omitempty" binding:"omitempty,min=0,max=1"`
	CustomerType         string           `json:"customer_type,omitempty" binding:"omitempty,oneof=individual business trust shell"`
	AccountAgeDays       *int             `json:"account_age_days,omitempty" binding:"omitempty,min=0"`
	KYCStatus            string           `json:"kyc_status,omitempty" binding:"omitempty,oneof=verified pending rejected none"`
}

// ScreeningRequest is the immutable input of one screening run
type ScreeningRequest struct {
	UserID            string             `json:"user_id" binding:"required,max=128"`
	PersonalInfo      PersonalInfo       `json:"personal_info" binding:"required"`
	WalletAddresses   []WalletAddress    `json:"wallet_addresses,omitempty" binding:"omitempty,max=50,dive"`
	BehavioralFactors *BehavioralFactors `json:"behavioral_factors,omitempty"`
	Options           ScreeningOptions   `json:"options,omitempty"`
	ScreenType        ScreenType         `json:"-"`
}

// Reference describes the evidence behind a candidate
type Reference struct {
	Title       string     `json:"title,omitempty"`
	URL         string     `json:"url,omitempty"`
	Publisher   string     `json:"publisher,omitempty"`
	Language    string     `json:"language,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Snippet     string     `json:"snippet,omitempty"`
}

// MatchCandidate is one piece of evidence produced by a screener
type MatchCandidate struct {
	Source      SourceKind `json:"source"`
	ListID      string     `json:"list_id"`
	EntryID     string     `json:"entry_id"`
	MatchedName string     `json:"matched_name"`
	MatchType   string     `json:"match_type"` // "exact", "fuzzy", "phonetic", "partial", "address"
	Similarity  float64    `json:"similarity"`
	Severity    float64    `json:"severity"`
	Tags        []string   `json:"tags,omitempty"`
	Reference   *Reference `json:"reference,omitempty"`
}

// FactorContribution is one line of the score breakdown
type FactorContribution struct {
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Override records a manual score change by a reviewer
type Override struct {
	By            string    `json:"by"`
	Reason        string    `json:"reason"`
	PreviousScore float64   `json:"previous_score"`
	PreviousLevel RiskLevel `json:"previous_level"`
	At            time.Time `json:"at"`
}

// RiskAssessment is the scored outcome of a screening
type RiskAssessment struct {
	ID            uuid.UUID                     `json:"id"`
	UserID        string                        `json:"user_id"`
	ScreeningID   *uuid.UUID                    `json:"screening_id,omitempty"`
	OverallScore  float64                       `json:"overall_score"`
	Level         RiskLevel                     `json:"risk_level"`
	Factors       map[string]FactorContribution `json:"factors"`
	Actions       []string                      `json:"actions"`
	MatrixVersion int                           `json:"matrix_version"`
	AssessedAt    time.Time                     `json:"assessed_at"`
	ValidUntil    time.Time                     `json:"valid_until"`
	Override      *Override                     `json:"override,omitempty"`
}

// ScreeningResult is the immutable output of one screening run
type ScreeningResult struct {
	ID               uuid.UUID        `json:"id"`
	UserID           string           `json:"user_id"`
	PreviousResultID *uuid.UUID       `json:"previous_result_id,omitempty"`
	ScreenType       ScreenType       `json:"screen_type"`
	Request          ScreeningRequest `json:"request"`
	Candidates       []MatchCandidate `json:"candidates"`
	Assessment       RiskAssessment   `json:"assessment"`
	Degraded         bool             `json:"degraded"`
	DegradedSources  []string         `json:"degraded_sources,omitempty"`
	Alerts           []Alert          `json:"alerts,omitempty"`
	Duration         time.Duration    `json:"duration_ns"`
	CreatedAt        time.Time        `json:"created_at"`
}

// AlertType classifies what tripped an alert
type AlertType string

const (
	AlertSanctionsMatch AlertType = "SANCTIONS_MATCH"
	AlertPEPMatch       AlertType = "PEP_MATCH"
	AlertHighRiskWallet AlertType = "HIGH_RISK_WALLET"
	AlertAdverseMedia   AlertType = "ADVERSE_MEDIA"
	AlertRiskThreshold  AlertType = "RISK_THRESHOLD"
)

// AlertTypeForSource maps a screener to the alert type its candidates raise.
func AlertTypeForSource(kind SourceKind) AlertType {
	switch kind {
	case SourceSanctions:
		return AlertSanctionsMatch
	case SourcePEP:
		return AlertPEPMatch
	case SourceWalletRisk:
		return AlertHighRiskWallet
	default:
		return AlertAdverseMedia
	}
}

// AlertStatus is the alert lifecycle state
type AlertStatus string

const (
	AlertStatusOpen      AlertStatus = "open"
	AlertStatusResolved  AlertStatus = "resolved"
	AlertStatusEscalated AlertStatus = "escalated"
	AlertStatusDismissed AlertStatus = "dismissed"
)

// Resolution is the reviewer's verdict on an alert
type Resolution string

const (
	ResolutionFalsePositive  Resolution = "false_positive"
	ResolutionApproved       Resolution = "approved"
	ResolutionRejected       Resolution = "rejected"
	ResolutionRequiresReview Resolution = "requires_review"
	ResolutionEscalated      Resolution = "escalated"
)

// Valid reports whether r is one of the accepted resolutions.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionFalsePositive, ResolutionApproved, ResolutionRejected, ResolutionRequiresReview, ResolutionEscalated:
		return true
	}
	return false
}

// Alert is raised for human review when a screening crosses a threshold
type Alert struct {
	ID          uuid.UUID   `json:"id"`
	UserID      string      `json:"user_id"`
	ScreeningID uuid.UUID   `json:"screening_id"`
	Type        AlertType   `json:"type"`
	Status      AlertStatus `json:"status"`
	Severity    RiskLevel   `json:"severity"`
	Title       string      `json:"title"`
	Score       float64     `json:"score"`
	Resolution  Resolution  `json:"resolution,omitempty"`
	Notes       string      `json:"notes,omitempty"`
	ReviewedBy  string      `json:"reviewed_by,omitempty"`
	ReviewedAt  *time.Time  `json:"reviewed_at,omitempty"`
	FollowUpAt  *time.Time  `json:"follow_up_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// IsOpen reports whether the alert still awaits a reviewer decision.
func (a *Alert) IsOpen() bool {
	return a.Status == AlertStatusOpen || a.Status == AlertStatusEscalated
}

// ResolveAlertRequest is a reviewer's decision on an alert
type ResolveAlertRequest struct {
	Resolution Resolution `json:"resolution" binding:"required"`
	Notes      string     `json:"notes" binding:"required"`
	FollowUpAt *time.Time `json:"follow_up_at,omitempty"`
	ReviewedBy string     `json:"-"`
}

// ScoreOverrideRequest is an admin's manual risk score change
type ScoreOverrideRequest struct {
	UserID string   `json:"user_id" binding:"required"`
	Score  *float64 `json:"score" binding:"required,min=0,max=1"`
	Reason string   `json:"reason" binding:"required,min=10,max=1000"`
	By     string   `json:"-"`
}
