package screening

import (
	"maps"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/pkg/metrics"
)

// SanctionsEntry is one listed individual or entity
type SanctionsEntry struct {
	ID             string     `json:"id"`
	ListID         string     `json:"list_id"`
	EntryType      string     `json:"entry_type"` // "individual", "entity", "vessel"
	PrimaryName    string     `json:"primary_name"`
	AlternateNames []string   `json:"alternate_names,omitempty"`
	DateOfBirth    *time.Time `json:"date_of_birth,omitempty"`
	Nationalities  []string   `json:"nationalities,omitempty"`
	Program        string     `json:"program,omitempty"`
	Remarks        string     `json:"remarks,omitempty"`
	RiskScore      float64    `json:"risk_score"`
	IsActive       bool       `json:"is_active"`

	names []string
}

// SanctionsList is one regulatory list
type SanctionsList struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Jurisdiction string            `json:"jurisdiction"`
	Entries      []*SanctionsEntry `json:"entries"`
	LoadedAt     time.Time         `json:"loaded_at"`
	// Pinned lists come from the startup seed file and never go stale.
	Pinned bool `json:"pinned,omitempty"`
}

// PEPEntry is a politically exposed person, or a relative or associate of one
type PEPEntry struct {
	ID             string     `json:"id"`
	ListID         string     `json:"list_id"`
	Name           string     `json:"name"`
	AlternateNames []string   `json:"alternate_names,omitempty"`
	Position       string     `json:"position"`
	Country        string     `json:"country"`
	PEPType        string     `json:"pep_type"` // "direct", "family", "associate"
	RiskLevel      string     `json:"risk_level"`
	RelatedTo      string     `json:"related_to,omitempty"`
	EndDate        *time.Time `json:"end_date,omitempty"`

	names []string
}

// PEPList is one PEP data source
type PEPList struct {
	ID       string      `json:"id"`
	Name     string      `json:"name"`
	Entries  []*PEPEntry `json:"entries"`
	LoadedAt time.Time   `json:"loaded_at"`
	Pinned   bool        `json:"pinned,omitempty"`
}

// MediaArticle is one news item in the adverse-media corpus
type MediaArticle struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	URL         string     `json:"url"`
	Publisher   string     `json:"publisher"`
	Language    string     `json:"language"`
	PublishedAt *time.Time `json:"published_at,omitempty"`

	tokens []string
}

// WalletRiskEntry flags a known risky address
type WalletRiskEntry struct {
	Address   string  `json:"address"`
	Network   string  `json:"network"`
	Category  string  `json:"category"` // "sanctions", "mixer", "ransomware", "darknet", "exchange_hack", "scam"
	Label     string  `json:"label"`
	RiskScore float64 `json:"risk_score"`
	Source    string  `json:"source"`
}

// WalletLink is an observed transfer between two addresses
type WalletLink struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Snapshot is an immutable view of all reference data. Readers never see a half-applied refresh.
type Snapshot struct {
	Version   int64
	Sanctions map[string]*SanctionsList
	PEP       map[string]*PEPList
	Media     []*MediaArticle
	Wallets   map[string]*WalletRiskEntry
	Graph     map[string][]string
	MediaAt   time.Time
	WalletsAt time.Time
	// set when the corpus or wallet data came from the seed file
	MediaPinned   bool
	WalletsPinned bool
}

// ReferenceStore holds the current Snapshot and swaps it atomically on refresh
type ReferenceStore struct {
	mu         sync.Mutex
	current    atomic.Pointer[Snapshot]
	normalizer *normalize.Normalizer
}

// NewReferenceStore creates a store with an empty snapshot.
func NewReferenceStore(n *normalize.Normalizer) *ReferenceStore {
	s := &ReferenceStore{normalizer: n}
	s.current.Store(&Snapshot{
		Sanctions: map[string]*SanctionsList{},
		PEP:       map[string]*PEPList{},
		Wallets:   map[string]*WalletRiskEntry{},
		Graph:     map[string][]string{},
	})
	return s
}

// Snapshot returns the current reference data. The returned value must not be mutated.
func (s *ReferenceStore) Snapshot() *Snapshot {
	return s.current.Load()
}

// update clones the current snapshot, applies fn and publishes the result.
func (s *ReferenceStore) update(fn func(next *Snapshot)) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.current.Load()
	next := &Snapshot{
		Version:   cur.Version + 1,
		Sanctions: maps.Clone(cur.Sanctions),
		PEP:       maps.Clone(cur.PEP),
		Media:     cur.Media,
		Wallets:   cur.Wallets,
		Graph:     cur.Graph,
		MediaAt:   cur.MediaAt,
		WalletsAt: cur.WalletsAt,

		MediaPinned:   cur.MediaPinned,
		WalletsPinned: cur.WalletsPinned,
	}
	fn(next)
	s.current.Store(next)
	return next
}

// ReplaceSanctionsList installs a freshly loaded list, replacing any previous version.
func (s *ReferenceStore) ReplaceSanctionsList(list *SanctionsList, loadedAt time.Time) {
	for _, e := range list.Entries {
		e.ListID = list.ID
		e.names = s.prepareNames(e.PrimaryName, e.AlternateNames)
		if e.RiskScore <= 0 {
			e.RiskScore = 1.0
		}
	}
	list.LoadedAt = loadedAt
	s.update(func(next *Snapshot) { next.Sanctions[list.ID] = list })
	metrics.ListEntries.WithLabelValues(list.ID).Set(float64(len(list.Entries)))
}

// ReplacePEPList installs a freshly loaded PEP list.
func (s *ReferenceStore) ReplacePEPList(list *PEPList, loadedAt time.Time) {
	for _, e := range list.Entries {
		e.ListID = list.ID
		e.names = s.prepareNames(e.Name, e.AlternateNames)
		if e.PEPType == "" {
			e.PEPType = "direct"
		}
	}
	list.LoadedAt = loadedAt
	s.update(func(next *Snapshot) { next.PEP[list.ID] = list })
	metrics.ListEntries.WithLabelValues(list.ID).Set(float64(len(list.Entries)))
}

// ReplaceMedia installs a new adverse-media corpus.
func (s *ReferenceStore) ReplaceMedia(articles []*MediaArticle, loadedAt time.Time) {
	s.replaceMedia(articles, loadedAt, false)
}

func (s *ReferenceStore) replaceMedia(articles []*MediaArticle, loadedAt time.Time, pinned bool) {
	for _, a := range articles {
		a.tokens = strings.Fields(s.normalizer.Name(a.Title + " " + a.Body))
	}
	s.update(func(next *Snapshot) {
		next.Media = articles
		next.MediaAt = loadedAt
		next.MediaPinned = pinned
	})
	metrics.ListEntries.WithLabelValues("adverse_media").Set(float64(len(articles)))
}

// ReplaceWallets installs the wallet risk list and the transfer graph.
func (s *ReferenceStore) ReplaceWallets(entries []*WalletRiskEntry, links []WalletLink, loadedAt time.Time) {
	s.replaceWallets(entries, links, loadedAt, false)
}

func (s *ReferenceStore) replaceWallets(entries []*WalletRiskEntry, links []WalletLink, loadedAt time.Time, pinned bool) {
	wallets := make(map[string]*WalletRiskEntry, len(entries))
	for _, e := range entries {
		e.Address = CanonicalAddress(e.Network, e.Address)
		wallets[e.Address] = e
	}
	graph := make(map[string][]string)
	for _, l := range links {
		from, to := CanonicalAddress("", l.From), CanonicalAddress("", l.To)
		graph[from] = append(graph[from], to)
		graph[to] = append(graph[to], from)
	}
	for k := range graph {
		sort.Strings(graph[k])
	}
	s.update(func(next *Snapshot) {
		next.Wallets = wallets
		next.Graph = graph
		next.WalletsAt = loadedAt
		next.WalletsPinned = pinned
	})
	metrics.ListEntries.WithLabelValues("wallet_risk").Set(float64(len(wallets)))
}

func (s *ReferenceStore) prepareNames(primary string, alternates []string) []string {
	names := make([]string, 0, 1+len(alternates))
	if n := s.normalizer.Name(primary); n != "" {
		names = append(names, n)
	}
	for _, alt := range alternates {
		if n := s.normalizer.Name(alt); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// SortedSanctionsIDs returns list IDs in a stable order.
func (snap *Snapshot) SortedSanctionsIDs() []string {
	ids := make([]string, 0, len(snap.Sanctions))
	for id := range snap.Sanctions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SortedPEPIDs returns PEP list IDs in a stable order.
func (snap *Snapshot) SortedPEPIDs() []string {
	ids := make([]string, 0, len(snap.PEP))
	for id := range snap.PEP {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// fresh reports whether data loaded at t is usable. A zero maxAge disables the staleness check.
func fresh(loadedAt time.Time, maxAge time.Duration, now time.Time) bool {
	if loadedAt.IsZero() {
		return false
	}
	return maxAge <= 0 || now.Sub(loadedAt) <= maxAge
}
