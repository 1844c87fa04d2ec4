package screening

import (
	"context"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/pkg/errors"
)

// WalletConfig configures the wallet-risk screener
type WalletConfig struct {
	MaxDepth   int           `mapstructure:"max_depth"`
	HopDecay   float64       `mapstructure:"hop_decay"`
	MinRisk    float64       `mapstructure:"min_risk"`
	MaxListAge time.Duration `mapstructure:"max_list_age"`
}

// DefaultWalletConfig traverses two hops and halves the risk per hop.
func DefaultWalletConfig() WalletConfig {
	return WalletConfig{
		MaxDepth:   2,
		HopDecay:   0.5,
		MinRisk:    0.1,
		MaxListAge: 7 * 24 * time.Hour,
	}
}

// WalletScreener checks wallets against known risky addresses and their transfer neighbourhood
type WalletScreener struct {
	logger *zap.SugaredLogger
	store  *ReferenceStore
	config WalletConfig
	now    func() time.Time
}

// NewWalletScreener creates a wallet-risk screener.
func NewWalletScreener(logger *zap.SugaredLogger, store *ReferenceStore, config WalletConfig) *WalletScreener {
	return &WalletScreener{logger: logger, store: store, config: config, now: time.Now}
}

func (ws *WalletScreener) Kind() aml.SourceKind { return aml.SourceWalletRisk }

type hop struct {
	address string
	depth   int
}

// Screen walks the association graph breadth-first from each subject wallet.
func (ws *WalletScreener) Screen(ctx context.Context, subject *normalize.Subject, _ aml.ScreeningOptions) ([]aml.MatchCandidate, error) {
	if len(subject.Wallets) == 0 {
		return nil, nil
	}
	snap := ws.store.Snapshot()
	if !snap.WalletsPinned && !fresh(snap.WalletsAt, ws.config.MaxListAge, ws.now()) {
		return nil, errors.SourceUnavailable.Explain("wallet risk data not loaded")
	}

	found := make(map[string]aml.MatchCandidate)
	var order []string
	for _, w := range subject.Wallets {
		origin := CanonicalAddress(w.Network, w.Address)
		visited := map[string]struct{}{origin: {}}
		queue := []hop{{address: origin}}
		steps := 0

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if steps++; steps%checkEvery == 0 && ctx.Err() != nil {
				return nil, ctx.Err()
			}

			if entry, ok := snap.Wallets[cur.address]; ok {
				severity := round4(entry.RiskScore * math.Pow(ws.config.HopDecay, float64(cur.depth)))
				if severity >= ws.config.MinRisk {
					c := walletCandidate(entry, origin, cur.depth, severity, ws.config.HopDecay)
					if prev, seen := found[entry.Address]; !seen {
						order = append(order, entry.Address)
						found[entry.Address] = c
					} else if c.Severity > prev.Severity {
						found[entry.Address] = c
					}
				}
			}

			if cur.depth >= ws.config.MaxDepth {
				continue
			}
			for _, next := range snap.Graph[cur.address] {
				if _, ok := visited[next]; ok {
					continue
				}
				visited[next] = struct{}{}
				queue = append(queue, hop{address: next, depth: cur.depth + 1})
			}
		}
	}

	candidates := make([]aml.MatchCandidate, 0, len(order))
	for _, addr := range order {
		candidates = append(candidates, found[addr])
	}
	sortCandidates(candidates)

	ws.logger.Debugw("Wallet screening completed",
		"user_id", subject.UserID,
		"wallets", len(subject.Wallets),
		"flagged", len(candidates))
	return candidates, nil
}

func walletCandidate(entry *WalletRiskEntry, origin string, depth int, severity, decay float64) aml.MatchCandidate {
	matchType := "direct"
	if depth > 0 {
		matchType = "indirect"
	}
	listID := entry.Source
	if listID == "" {
		listID = "wallet_risk"
	}
	return aml.MatchCandidate{
		Source:      aml.SourceWalletRisk,
		ListID:      listID,
		EntryID:     entry.Address,
		MatchedName: entry.Label,
		MatchType:   matchType,
		Similarity:  round4(math.Pow(decay, float64(depth))),
		Severity:    severity,
		Tags: []string{
			"category:" + entry.Category,
			"hops:" + strconv.Itoa(depth),
			"via:" + origin,
		},
	}
}
