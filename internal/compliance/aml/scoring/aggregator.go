// Package scoring combines screening evidence and behavioral signals into one weighted risk score.
package scoring

import (
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
)

// Factor names used in the score breakdown and the matrix weights
const (
	FactorSanctions            = "sanctions_match"
	FactorPEP                  = "pep_match"
	FactorAdverseMedia         = "adverse_media"
	FactorWalletRisk           = "wallet_risk"
	FactorTransactionVolume    = "transaction_volume"
	FactorTransactionFrequency = "transaction_frequency"
	FactorGeographicRisk       = "geographic_risk"
	FactorIndustryRisk         = "industry_risk"
	FactorCustomerType         = "customer_type"
	FactorAccountAge           = "account_age"
	FactorKYCStatus            = "kyc_status"
)

// AllFactors lists every factor a matrix may weight.
var AllFactors = []string{
	FactorSanctions, FactorPEP, FactorAdverseMedia, FactorWalletRisk,
	FactorTransactionVolume, FactorTransactionFrequency, FactorGeographicRisk,
	FactorIndustryRisk, FactorCustomerType, FactorAccountAge, FactorKYCStatus,
}

var sourceFactor = map[aml.SourceKind]string{
	aml.SourceSanctions:    FactorSanctions,
	aml.SourcePEP:          FactorPEP,
	aml.SourceAdverseMedia: FactorAdverseMedia,
	aml.SourceWalletRisk:   FactorWalletRisk,
}

// VolumeBand maps volumes up to and including UpTo onto Value
type VolumeBand struct {
	UpTo  decimal.Decimal `mapstructure:"up_to"`
	Value float64         `mapstructure:"value"`
}

// AgeBand maps accounts younger than Days onto Value
type AgeBand struct {
	Days  int     `mapstructure:"days"`
	Value float64 `mapstructure:"value"`
}

// Config holds the lookup tables for behavioral factors
type Config struct {
	HighRiskCountries   []string           `mapstructure:"high_risk_countries"`
	HighRiskCountryRisk float64            `mapstructure:"high_risk_country_risk"`
	VolumeBands         []VolumeBand       `mapstructure:"volume_bands"`
	MaxVolumeRisk       float64            `mapstructure:"max_volume_risk"`
	CustomerTypeRisk    map[string]float64 `mapstructure:"customer_type_risk"`
	AgeBands            []AgeBand          `mapstructure:"age_bands"`
	MatureAccountRisk   float64            `mapstructure:"mature_account_risk"`
	KYCStatusRisk       map[string]float64 `mapstructure:"kyc_status_risk"`
}

// DefaultConfig returns the standard behavioral lookup tables.
func DefaultConfig() Config {
	return Config{
		HighRiskCountries:   []string{"KP", "IR", "MM", "SY", "YE", "AF", "SS", "CU", "VE", "RU", "BY"},
		HighRiskCountryRisk: 0.9,
		VolumeBands: []VolumeBand{
			{UpTo: decimal.NewFromInt(10_000), Value: 0.1},
			{UpTo: decimal.NewFromInt(50_000), Value: 0.3},
			{UpTo: decimal.NewFromInt(100_000), Value: 0.5},
			{UpTo: decimal.NewFromInt(500_000), Value: 0.7},
			{UpTo: decimal.NewFromInt(1_000_000), Value: 0.85},
		},
		MaxVolumeRisk: 1.0,
		CustomerTypeRisk: map[string]float64{
			"individual": 0.1,
			"business":   0.4,
			"trust":      0.6,
			"shell":      0.9,
		},
		AgeBands: []AgeBand{
			{Days: 30, Value: 1.0},
			{Days: 90, Value: 0.7},
			{Days: 180, Value: 0.5},
			{Days: 365, Value: 0.3},
		},
		MatureAccountRisk: 0.1,
		KYCStatusRisk: map[string]float64{
			"verified": 0,
			"pending":  0.5,
			"rejected": 1,
			"none":     1,
		},
	}
}

// Input is everything the aggregator reads for one assessment
type Input struct {
	Screened   []aml.SourceKind
	Candidates []aml.MatchCandidate
	Behavior   *aml.BehavioralFactors
	Country    string
}

// Aggregator computes the linear weighted risk score. It holds no mutable state.
type Aggregator struct {
	config   Config
	highRisk map[string]struct{}
}

// NewAggregator creates an aggregator over the given lookup tables.
func NewAggregator(config Config) *Aggregator {
	config.VolumeBands = slices.Clone(config.VolumeBands)
	config.AgeBands = slices.Clone(config.AgeBands)
	a := &Aggregator{config: config, highRisk: make(map[string]struct{}, len(config.HighRiskCountries))}
	for _, c := range config.HighRiskCountries {
		a.highRisk[strings.ToUpper(c)] = struct{}{}
	}
	sort.Slice(a.config.VolumeBands, func(i, j int) bool {
		return a.config.VolumeBands[i].UpTo.LessThan(a.config.VolumeBands[j].UpTo)
	})
	sort.Slice(a.config.AgeBands, func(i, j int) bool {
		return a.config.AgeBands[i].Days < a.config.AgeBands[j].Days
	})
	return a
}

// Values derives the raw [0,1] value of every applicable factor.
// Screened sources without candidates contribute an explicit zero.
func (a *Aggregator) Values(in Input) map[string]float64 {
	values := make(map[string]float64)
	for _, kind := range in.Screened {
		if f, ok := sourceFactor[kind]; ok {
			values[f] = 0
		}
	}
	for _, c := range in.Candidates {
		f, ok := sourceFactor[c.Source]
		if !ok {
			continue
		}
		if c.Severity > values[f] {
			values[f] = c.Severity
		}
	}

	b := in.Behavior
	if b == nil {
		b = &aml.BehavioralFactors{}
	}
	if b.TransactionVolume != nil {
		values[FactorTransactionVolume] = a.volumeRisk(*b.TransactionVolume)
	}
	if b.TransactionFrequency != nil {
		values[FactorTransactionFrequency] = *b.TransactionFrequency
	}
	if b.GeographicRisk != nil {
		values[FactorGeographicRisk] = *b.GeographicRisk
	} else if in.Country != "" {
		if _, ok := a.highRisk[strings.ToUpper(in.Country)]; ok {
			values[FactorGeographicRisk] = a.config.HighRiskCountryRisk
		} else {
			values[FactorGeographicRisk] = 0
		}
	}
	if b.IndustryRisk != nil {
		values[FactorIndustryRisk] = *b.IndustryRisk
	}
	if b.CustomerType != "" {
		values[FactorCustomerType] = a.config.CustomerTypeRisk[strings.ToLower(b.CustomerType)]
	}
	if b.AccountAgeDays != nil {
		values[FactorAccountAge] = a.ageRisk(*b.AccountAgeDays)
	}
	if b.KYCStatus != "" {
		if v, ok := a.config.KYCStatusRisk[strings.ToLower(b.KYCStatus)]; ok {
			values[FactorKYCStatus] = v
		}
	}

	for k, v := range values {
		values[k] = clamp01(v)
	}
	return values
}

// Score multiplies each value by its weight and sums the contributions. Weights are
// independent multipliers and are not normalized. Factors without a weight contribute zero
// but still appear in the breakdown. Exact decimal addition keeps the sum independent of order.
func Score(values map[string]float64, weights map[string]float64) (float64, map[string]aml.FactorContribution) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	total := decimal.Zero
	breakdown := make(map[string]aml.FactorContribution, len(values))
	for _, name := range names {
		v := decimal.NewFromFloat(values[name])
		w := decimal.NewFromFloat(weights[name])
		c := v.Mul(w)
		total = total.Add(c)
		breakdown[name] = aml.FactorContribution{
			Value:        values[name],
			Weight:       weights[name],
			Contribution: c.Round(6).InexactFloat64(),
		}
	}

	if total.LessThan(decimal.Zero) {
		total = decimal.Zero
	}
	if total.GreaterThan(decimal.NewFromInt(1)) {
		total = decimal.NewFromInt(1)
	}
	return total.Round(6).InexactFloat64(), breakdown
}

// Aggregate derives values and scores them in one step.
func (a *Aggregator) Aggregate(in Input, weights map[string]float64) (float64, map[string]aml.FactorContribution) {
	return Score(a.Values(in), weights)
}

func (a *Aggregator) volumeRisk(volume decimal.Decimal) float64 {
	if volume.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	for _, band := range a.config.VolumeBands {
		if volume.LessThanOrEqual(band.UpTo) {
			return band.Value
		}
	}
	return a.config.MaxVolumeRisk
}

func (a *Aggregator) ageRisk(days int) float64 {
	for _, band := range a.config.AgeBands {
		if days < band.Days {
			return band.Value
		}
	}
	return a.config.MatureAccountRisk
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
