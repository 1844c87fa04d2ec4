package screening

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/pkg/errors"
)

// PEPConfig configures the PEP screener
type PEPConfig struct {
	// Lists restricts screening to these PEP list IDs. Empty means every loaded list.
	Lists             []string      `mapstructure:"lists"`
	Threshold         float64       `mapstructure:"threshold"`
	IncludeAssociates bool          `mapstructure:"include_associates"`
	MaxListAge        time.Duration `mapstructure:"max_list_age"`
}

// DefaultPEPConfig matches at 0.7 and includes relatives and close associates.
func DefaultPEPConfig() PEPConfig {
	return PEPConfig{
		Threshold:         0.7,
		IncludeAssociates: true,
		MaxListAge:        14 * 24 * time.Hour,
	}
}

var pepLevelWeight = map[string]float64{
	"LOW":      0.4,
	"MEDIUM":   0.6,
	"HIGH":     0.8,
	"CRITICAL": 1.0,
}

// PEPScreener matches subjects against politically exposed person lists
type PEPScreener struct {
	logger  *zap.SugaredLogger
	store   *ReferenceStore
	matcher *FuzzyMatcher
	config  PEPConfig
	now     func() time.Time
}

// NewPEPScreener creates a new PEP screener.
func NewPEPScreener(logger *zap.SugaredLogger, store *ReferenceStore, matcher *FuzzyMatcher, config PEPConfig) *PEPScreener {
	return &PEPScreener{
		logger:  logger,
		store:   store,
		matcher: matcher,
		config:  config,
		now:     time.Now,
	}
}

func (ps *PEPScreener) Kind() aml.SourceKind { return aml.SourcePEP }

// Screen returns PEP entries matching the subject. Family members and associates are
// screened when either the configuration or the request asks for them.
func (ps *PEPScreener) Screen(ctx context.Context, subject *normalize.Subject, opts aml.ScreeningOptions) ([]aml.MatchCandidate, error) {
	snap := ps.store.Snapshot()
	now := ps.now()
	names := subject.Names()
	includeAssociates := ps.config.IncludeAssociates || opts.IncludeAssociates

	listIDs := ps.config.Lists
	if len(listIDs) == 0 {
		listIDs = snap.SortedPEPIDs()
	}
	if len(listIDs) == 0 {
		return nil, errors.SourceUnavailable.Explain("no PEP list is loaded")
	}

	var candidates []aml.MatchCandidate
	var unavailable []string
	for _, listID := range listIDs {
		list, ok := snap.PEP[listID]
		if !ok || !(list.Pinned || fresh(list.LoadedAt, ps.config.MaxListAge, now)) {
			unavailable = append(unavailable, listID)
			continue
		}
		for i, entry := range list.Entries {
			if i%checkEvery == 0 && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if entry.PEPType != "direct" && !includeAssociates {
				continue
			}
			match := ps.matcher.BestMatch(names, entry.names)
			if match.Score < ps.config.Threshold {
				continue
			}
			candidates = append(candidates, ps.candidate(entry, match, now))
		}
	}

	if len(unavailable) == len(listIDs) {
		return nil, errors.SourceUnavailable.Explain("no PEP list is loaded")
	}

	sortCandidates(candidates)
	ps.logger.Debugw("PEP screening completed",
		"user_id", subject.UserID,
		"is_pep", len(candidates) > 0,
		"matches", len(candidates))

	if len(unavailable) > 0 {
		return candidates, &PartialError{Kind: aml.SourcePEP, Unavailable: unavailable}
	}
	return candidates, nil
}

func (ps *PEPScreener) candidate(entry *PEPEntry, match MatchResult, now time.Time) aml.MatchCandidate {
	weight, ok := pepLevelWeight[strings.ToUpper(entry.RiskLevel)]
	if !ok {
		weight = pepLevelWeight["MEDIUM"]
	}
	tags := []string{"pep_type:" + entry.PEPType}
	if entry.Position != "" {
		tags = append(tags, "position:"+entry.Position)
	}
	if entry.Country != "" {
		tags = append(tags, "country:"+entry.Country)
	}
	if !isCurrentPEP(entry, now) {
		weight *= 0.7
		tags = append(tags, "former_pep")
	}

	return aml.MatchCandidate{
		Source:      aml.SourcePEP,
		ListID:      entry.ListID,
		EntryID:     entry.ID,
		MatchedName: entry.Name,
		MatchType:   match.MatchType,
		Similarity:  match.Score,
		Severity:    round4(match.Score * weight),
		Tags:        tags,
	}
}

func isCurrentPEP(entry *PEPEntry, now time.Time) bool {
	return entry.EndDate == nil || entry.EndDate.After(now)
}
