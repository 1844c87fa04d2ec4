package screening

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/pkg/errors"
)

// SanctionsConfig configures the sanctions screener
type SanctionsConfig struct {
	Lists     []string `mapstructure:"lists"`
	Threshold float64  `mapstructure:"threshold"`
	// MaxListAge marks feed-loaded lists unavailable once older than this. Seeded lists are exempt.
	MaxListAge time.Duration `mapstructure:"max_list_age"`
}

// DefaultSanctionsConfig screens the four standard lists at 0.8 similarity.
func DefaultSanctionsConfig() SanctionsConfig {
	return SanctionsConfig{
		Lists:      []string{"un_sc", "ofac_sdn", "fiu_ind", "eu_consolidated"},
		Threshold:  0.8,
		MaxListAge: 72 * time.Hour,
	}
}

// SanctionsScreener matches subjects against the sanctions lists in the reference store
type SanctionsScreener struct {
	logger  *zap.SugaredLogger
	store   *ReferenceStore
	matcher *FuzzyMatcher
	config  SanctionsConfig
	now     func() time.Time
}

// NewSanctionsScreener creates a sanctions screener.
func NewSanctionsScreener(logger *zap.SugaredLogger, store *ReferenceStore, matcher *FuzzyMatcher, config SanctionsConfig) *SanctionsScreener {
	return &SanctionsScreener{
		logger:  logger,
		store:   store,
		matcher: matcher,
		config:  config,
		now:     time.Now,
	}
}

func (ss *SanctionsScreener) Kind() aml.SourceKind { return aml.SourceSanctions }

// Screen returns every list entry whose best name similarity reaches the threshold.
// Lists that never loaded or went stale are reported through a PartialError.
func (ss *SanctionsScreener) Screen(ctx context.Context, subject *normalize.Subject, opts aml.ScreeningOptions) ([]aml.MatchCandidate, error) {
	snap := ss.store.Snapshot()
	now := ss.now()
	names := subject.Names()

	var candidates []aml.MatchCandidate
	var unavailable []string
	for _, listID := range ss.config.Lists {
		list, ok := snap.Sanctions[listID]
		if !ok || !(list.Pinned || fresh(list.LoadedAt, ss.config.MaxListAge, now)) {
			unavailable = append(unavailable, listID)
			continue
		}
		for i, entry := range list.Entries {
			if i%checkEvery == 0 && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !entry.IsActive {
				continue
			}
			if c, ok := ss.matchEntry(subject, names, entry, opts.Mode); ok {
				candidates = append(candidates, c)
			}
		}
	}

	if len(unavailable) == len(ss.config.Lists) && len(ss.config.Lists) > 0 {
		return nil, errors.SourceUnavailable.Explain("no sanctions list is loaded")
	}

	sortCandidates(candidates)
	ss.logger.Debugw("Sanctions screening completed",
		"user_id", subject.UserID,
		"matches", len(candidates),
		"snapshot_version", snap.Version)

	if len(unavailable) > 0 {
		return candidates, &PartialError{Kind: aml.SourceSanctions, Unavailable: unavailable}
	}
	return candidates, nil
}

func (ss *SanctionsScreener) matchEntry(subject *normalize.Subject, names []string, entry *SanctionsEntry, mode aml.ScreeningMode) (aml.MatchCandidate, bool) {
	match := ss.matcher.BestMatch(names, entry.names)
	similarity := match.Score
	var tags []string

	if subject.DateOfBirth != nil && entry.DateOfBirth != nil {
		if sameDay(*subject.DateOfBirth, *entry.DateOfBirth) {
			similarity = math.Min(1, similarity+0.05)
			tags = append(tags, "dob_match")
		} else if subject.DateOfBirth.Year() != entry.DateOfBirth.Year() {
			similarity *= 0.85
			tags = append(tags, "dob_mismatch")
		}
	}
	if mode == aml.ModeComprehensive && len(entry.Nationalities) > 0 && subject.Nationality != "" {
		for _, nat := range entry.Nationalities {
			if nat == subject.Nationality {
				tags = append(tags, "nationality_match")
				break
			}
		}
	}

	similarity = round4(similarity)
	if similarity < ss.config.Threshold {
		return aml.MatchCandidate{}, false
	}
	if entry.Program != "" {
		tags = append(tags, "program:"+entry.Program)
	}

	return aml.MatchCandidate{
		Source:      aml.SourceSanctions,
		ListID:      entry.ListID,
		EntryID:     entry.ID,
		MatchedName: entry.PrimaryName,
		MatchType:   match.MatchType,
		Similarity:  similarity,
		Severity:    round4(similarity * entry.RiskScore),
		Tags:        tags,
	}, true
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
