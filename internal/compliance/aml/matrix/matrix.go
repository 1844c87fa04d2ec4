// Package matrix holds the versioned risk matrix: tier thresholds, factor weights and tier actions.
package matrix

import (
	"fmt"
	"maps"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/scoring"
	"github.com/Aidin1998/amlscreen/pkg/errors"
)

// Thresholds are the tier cut points
type Thresholds struct {
	Low      float64 `json:"low" yaml:"low"`
	Medium   float64 `json:"medium" yaml:"medium"`
	High     float64 `json:"high" yaml:"high"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// RiskMatrix is one immutable version of the scoring configuration.
// A matrix is never modified after it is published; updates create a new version.
type RiskMatrix struct {
	Version         int                        `json:"version" yaml:"-"`
	Thresholds      Thresholds                 `json:"thresholds" yaml:"thresholds"`
	CategoryWeights map[string]float64         `json:"category_weights" yaml:"category_weights"`
	Actions         map[aml.RiskLevel][]string `json:"actions" yaml:"actions"`
	WatchActions    []string                   `json:"watch_actions,omitempty" yaml:"watch_actions"`
	ValidityDays    map[aml.RiskLevel]int      `json:"validity_days" yaml:"validity_days"`
	UpdatedBy       string                     `json:"updated_by" yaml:"-"`
	UpdatedAt       time.Time                  `json:"updated_at" yaml:"-"`
}

// Decision is the tier and recommended actions for a score
type Decision struct {
	Level   aml.RiskLevel
	Actions []string
	Watch   bool
}

// Default returns the built-in matrix, version 1.
func Default() *RiskMatrix {
	return &RiskMatrix{
		Version:    1,
		Thresholds: Thresholds{Low: 0.3, Medium: 0.6, High: 0.8, Critical: 0.95},
		CategoryWeights: map[string]float64{
			scoring.FactorSanctions:            1.0,
			scoring.FactorPEP:                  0.4,
			scoring.FactorAdverseMedia:         0.3,
			scoring.FactorWalletRisk:           0.5,
			scoring.FactorTransactionVolume:    0.2,
			scoring.FactorTransactionFrequency: 0.15,
			scoring.FactorGeographicRisk:       0.25,
			scoring.FactorIndustryRisk:         0.15,
			scoring.FactorCustomerType:         0.1,
			scoring.FactorAccountAge:           0.05,
			scoring.FactorKYCStatus:            0.1,
		},
		Actions: map[aml.RiskLevel][]string{
			aml.RiskLevelLow:    {"Standard monitoring"},
			aml.RiskLevelMedium: {"Automated enhanced monitoring", "Consider transaction limits"},
			aml.RiskLevelHigh:   {"Manual review required", "Enhanced due diligence", "Request additional documentation"},
			aml.RiskLevelCritical: {
				"Immediately block transactions",
				"File suspicious activity report",
				"Freeze account pending investigation",
			},
		},
		WatchActions: []string{"Add to watchlist"},
		ValidityDays: map[aml.RiskLevel]int{
			aml.RiskLevelLow:      365,
			aml.RiskLevelMedium:   180,
			aml.RiskLevelHigh:     90,
			aml.RiskLevelCritical: 30,
		},
		UpdatedBy: "system",
	}
}

// LoadFile reads a matrix from YAML. Sections missing from the file keep their default values.
func LoadFile(path string) (*RiskMatrix, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Configuration.Explain("failed to read risk matrix %s", path).Wrap(err)
	}
	m := Default()
	var file RiskMatrix
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Configuration.Explain("failed to parse risk matrix %s", path).Wrap(err)
	}
	m.merge(&file)
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *RiskMatrix) merge(other *RiskMatrix) {
	if other.Thresholds != (Thresholds{}) {
		m.Thresholds = other.Thresholds
	}
	for k, v := range other.CategoryWeights {
		m.CategoryWeights[k] = v
	}
	for k, v := range other.Actions {
		m.Actions[k] = v
	}
	if other.WatchActions != nil {
		m.WatchActions = other.WatchActions
	}
	for k, v := range other.ValidityDays {
		m.ValidityDays[k] = v
	}
}

// Validate checks 0 <= low < medium < high < critical <= 1 and non-negative known weights.
func (m *RiskMatrix) Validate() error {
	t := m.Thresholds
	if !(t.Low >= 0 && t.Low < t.Medium && t.Medium < t.High && t.High < t.Critical && t.Critical <= 1) {
		return errors.Configuration.Explain("thresholds must satisfy 0 <= low < medium < high < critical <= 1").
			WithField("order", "thresholds", fmt.Sprintf("%.3f/%.3f/%.3f/%.3f", t.Low, t.Medium, t.High, t.Critical))
	}
	if len(m.CategoryWeights) == 0 {
		return errors.Configuration.Explain("category weights must not be empty").WithField("required", "category_weights", "")
	}

	var fields []errors.FieldError
	for _, name := range slices.Sorted(maps.Keys(m.CategoryWeights)) {
		w := m.CategoryWeights[name]
		if w < 0 {
			fields = append(fields, errors.NewFieldError("min", "category_weights."+name, "weight must be >= 0"))
		}
		if !slices.Contains(scoring.AllFactors, name) {
			fields = append(fields, errors.NewFieldError("oneof", "category_weights."+name, "unknown factor"))
		}
	}
	for level, days := range m.ValidityDays {
		if days <= 0 {
			fields = append(fields, errors.NewFieldError("min", "validity_days."+string(level), "must be positive"))
		}
	}
	if len(fields) > 0 {
		return errors.Configuration.Explain("invalid risk matrix").WithFields(fields)
	}
	return nil
}

// Decide maps a score onto a tier. Higher scores never map to a lower tier.
func (m *RiskMatrix) Decide(score float64) Decision {
	t := m.Thresholds
	var d Decision
	switch {
	case score >= t.Critical:
		d.Level = aml.RiskLevelCritical
	case score >= t.High:
		d.Level = aml.RiskLevelHigh
	case score >= t.Medium:
		d.Level = aml.RiskLevelMedium
	default:
		d.Level = aml.RiskLevelLow
		d.Watch = score >= t.Low
	}

	d.Actions = slices.Clone(m.Actions[d.Level])
	if d.Watch {
		d.Actions = append(d.Actions, m.WatchActions...)
	}
	if d.Actions == nil {
		d.Actions = []string{}
	}
	return d
}

// Validity returns how long an assessment at the given level stays current.
func (m *RiskMatrix) Validity(level aml.RiskLevel) time.Duration {
	days, ok := m.ValidityDays[level]
	if !ok || days <= 0 {
		days = 90
	}
	return time.Duration(days) * 24 * time.Hour
}

// Clone returns a deep copy.
func (m *RiskMatrix) Clone() *RiskMatrix {
	c := *m
	c.CategoryWeights = maps.Clone(m.CategoryWeights)
	c.Actions = make(map[aml.RiskLevel][]string, len(m.Actions))
	for k, v := range m.Actions {
		c.Actions[k] = slices.Clone(v)
	}
	c.WatchActions = slices.Clone(m.WatchActions)
	c.ValidityDays = maps.Clone(m.ValidityDays)
	return &c
}
