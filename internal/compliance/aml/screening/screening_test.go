package screening

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/pkg/errors"
)

const (
	cleanWallet  = "0x00000000000000000000000000000000000000a1"
	hopWallet    = "0x00000000000000000000000000000000000000b2"
	mixerWallet  = "0x00000000000000000000000000000000000000c3"
	farWallet    = "0x00000000000000000000000000000000000000d4"
	directWallet = "0x00000000000000000000000000000000000000e5"
)

const testSeed = `
sanctions:
  - id: ofac_sdn
    name: OFAC SDN
    jurisdiction: US
    entries:
      - id: sdn-1
        name: Viktor Bout
        aliases: ["Victor Butt"]
        date_of_birth: "1967-01-13"
        nationalities: [RU]
        program: SDGT
      - id: sdn-2
        name: Old Listing
        inactive: true
pep:
  - id: pep_global
    entries:
      - id: pep-1
        name: Maria Lopez
        position: Minister of Finance
        country: ES
        type: direct
        risk_level: HIGH
      - id: pep-2
        name: Juan Lopez
        type: family
        related_to: pep-1
        risk_level: HIGH
      - id: pep-3
        name: Carlos Ruiz
        position: Senator
        type: direct
        risk_level: MEDIUM
        end_date: "2010-01-01"
media:
  - id: art-1
    title: Arms dealer arrested
    body: Arms dealer Viktor Bout was arrested and charged with trafficking weapons.
    language: en
    publisher: Daily
    published_at: "2023-01-10"
  - id: art-2
    title: Profile
    body: Viktor Bout enjoys gardening.
    language: en
    published_at: "2023-02-10"
  - id: art-3
    title: Detenido
    body: Viktor Bout fue arrested por fraud.
    language: es
    published_at: "2021-05-01"
wallets:
  - address: "` + mixerWallet + `"
    network: ethereum
    category: mixer
    label: Tornado pool
    risk_score: 0.8
    source: mixer_list
  - address: "` + directWallet + `"
    network: ethereum
    category: sanctions
    label: Sanctioned treasury
    risk_score: 1.0
    source: ofac_crypto
  - address: "` + farWallet + `"
    network: ethereum
    category: ransomware
    risk_score: 1.0
wallet_links:
  - {from: "` + cleanWallet + `", to: "` + hopWallet + `"}
  - {from: "` + hopWallet + `", to: "` + mixerWallet + `"}
  - {from: "` + mixerWallet + `", to: "` + farWallet + `"}
`

func newTestStore(t *testing.T) (*ReferenceStore, *normalize.Normalizer) {
	t.Helper()
	n := normalize.New(normalize.DefaultConfig())
	store := NewReferenceStore(n)
	seed, err := ParseSeed([]byte(testSeed))
	require.NoError(t, err)
	seed.Apply(store, time.Now())
	return store, n
}

func subjectFor(n *normalize.Normalizer, first, last, dob string, wallets ...string) *normalize.Subject {
	req := &aml.ScreeningRequest{
		UserID: "user-1",
		PersonalInfo: aml.PersonalInfo{
			FirstName:   first,
			LastName:    last,
			DateOfBirth: dob,
			Country:     "US",
		},
	}
	for _, w := range wallets {
		req.WalletAddresses = append(req.WalletAddresses, aml.WalletAddress{Address: w, Network: "ethereum"})
	}
	return n.Normalize(req)
}

func sanctionsOnly(lists ...string) SanctionsConfig {
	cfg := DefaultSanctionsConfig()
	cfg.Lists = lists
	return cfg
}

func TestSanctionsScreenerMatch(t *testing.T) {
	store, n := newTestStore(t)
	s := NewSanctionsScreener(zap.NewNop().Sugar(), store, NewFuzzyMatcher(DefaultMatchConfig()), sanctionsOnly("ofac_sdn"))

	got, err := s.Screen(context.Background(), subjectFor(n, "Viktor", "Bout", "1967-01-13"), aml.ScreeningOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, aml.SourceSanctions, got[0].Source)
	assert.Equal(t, "ofac_sdn", got[0].ListID)
	assert.Equal(t, "sdn-1", got[0].EntryID)
	assert.Equal(t, 1.0, got[0].Similarity)
	assert.Contains(t, got[0].Tags, "dob_match")
}

const nonLatinSeed = `
sanctions:
  - id: ofac_sdn
    name: OFAC SDN
    entries:
      - id: sdn-ru
        name: Владимир Путин
        nationalities: [RU]
      - id: sdn-tr
        name: Şahin Ağaoğlu
        nationalities: [TR]
pep:
  - id: pep_global
    entries:
      - id: pep-ru
        name: Сергей Лавров
        position: Minister of Foreign Affairs
        country: RU
        type: direct
        risk_level: HIGH
`

func TestScreenersMatchNonLatinNames(t *testing.T) {
	n := normalize.New(normalize.DefaultConfig())
	store := NewReferenceStore(n)
	seed, err := ParseSeed([]byte(nonLatinSeed))
	require.NoError(t, err)
	seed.Apply(store, time.Now())
	matcher := NewFuzzyMatcher(DefaultMatchConfig())
	sanctions := NewSanctionsScreener(zap.NewNop().Sugar(), store, matcher, sanctionsOnly("ofac_sdn"))

	tests := []struct {
		name        string
		first, last string
		wantEntry   string
	}{
		{"cyrillic", "Владимир", "Путин", "sdn-ru"},
		{"turkish", "Şahin", "Ağaoğlu", "sdn-tr"},
		{"turkish typed without diacritics", "Sahin", "Agaoglu", "sdn-tr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanctions.Screen(context.Background(), subjectFor(n, tt.first, tt.last, ""), aml.ScreeningOptions{})
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.wantEntry, got[0].EntryID)
			assert.Equal(t, 1.0, got[0].Similarity)
		})
	}

	got, err := sanctions.Screen(context.Background(), subjectFor(n, "Иван", "Петров", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)

	pep := NewPEPScreener(zap.NewNop().Sugar(), store, matcher, DefaultPEPConfig())
	got, err = pep.Screen(context.Background(), subjectFor(n, "Сергей", "Лавров", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "pep-ru", got[0].EntryID)
}

func TestSanctionsScreenerNoMatch(t *testing.T) {
	store, n := newTestStore(t)
	s := NewSanctionsScreener(zap.NewNop().Sugar(), store, NewFuzzyMatcher(DefaultMatchConfig()), sanctionsOnly("ofac_sdn"))

	got, err := s.Screen(context.Background(), subjectFor(n, "John", "Doe", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSanctionsScreenerSkipsInactive(t *testing.T) {
	store, n := newTestStore(t)
	s := NewSanctionsScreener(zap.NewNop().Sugar(), store, NewFuzzyMatcher(DefaultMatchConfig()), sanctionsOnly("ofac_sdn"))

	got, err := s.Screen(context.Background(), subjectFor(n, "Old", "Listing", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSanctionsScreenerDOBMismatchLowersSimilarity(t *testing.T) {
	store, n := newTestStore(t)
	s := NewSanctionsScreener(zap.NewNop().Sugar(), store, NewFuzzyMatcher(DefaultMatchConfig()), sanctionsOnly("ofac_sdn"))

	got, err := s.Screen(context.Background(), subjectFor(n, "Viktor", "Bout", "1990-05-05"), aml.ScreeningOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.85, got[0].Similarity, 1e-9)
	assert.Contains(t, got[0].Tags, "dob_mismatch")
}

func TestSanctionsScreenerPartialLists(t *testing.T) {
	store, n := newTestStore(t)
	s := NewSanctionsScreener(zap.NewNop().Sugar(), store, NewFuzzyMatcher(DefaultMatchConfig()), DefaultSanctionsConfig())

	got, err := s.Screen(context.Background(), subjectFor(n, "Viktor", "Bout", ""), aml.ScreeningOptions{})
	require.Len(t, got, 1)

	var partial *PartialError
	require.ErrorAs(t, err, &partial)
	assert.ElementsMatch(t, []string{"un_sc", "fiu_ind", "eu_consolidated"}, partial.Unavailable)
	assert.Contains(t, partial.DegradedNames(), "sanctions:un_sc")
}

func TestSanctionsScreenerUnavailable(t *testing.T) {
	n := normalize.New(normalize.DefaultConfig())
	s := NewSanctionsScreener(zap.NewNop().Sugar(), NewReferenceStore(n), NewFuzzyMatcher(DefaultMatchConfig()), DefaultSanctionsConfig())

	_, err := s.Screen(context.Background(), subjectFor(n, "Viktor", "Bout", ""), aml.ScreeningOptions{})
	assert.ErrorIs(t, err, errors.SourceUnavailable)
}

func TestSanctionsScreenerStaleList(t *testing.T) {
	store, n := newTestStore(t)
	// a feed refresh replaces the pinned seed list
	store.ReplaceSanctionsList(&SanctionsList{ID: "ofac_sdn", Entries: []*SanctionsEntry{{ID: "sdn-1", PrimaryName: "Viktor Bout", IsActive: true}}}, time.Now())
	cfg := sanctionsOnly("ofac_sdn")
	cfg.MaxListAge = time.Hour
	s := NewSanctionsScreener(zap.NewNop().Sugar(), store, NewFuzzyMatcher(DefaultMatchConfig()), cfg)
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := s.Screen(context.Background(), subjectFor(n, "Viktor", "Bout", ""), aml.ScreeningOptions{})
	assert.ErrorIs(t, err, errors.SourceUnavailable)
}

func TestSeededDataDoesNotAge(t *testing.T) {
	store, n := newTestStore(t)
	later := func() time.Time { return time.Now().Add(30 * 24 * time.Hour) }
	matcher := NewFuzzyMatcher(DefaultMatchConfig())

	sanctions := NewSanctionsScreener(zap.NewNop().Sugar(), store, matcher, sanctionsOnly("ofac_sdn"))
	sanctions.now = later
	got, err := sanctions.Screen(context.Background(), subjectFor(n, "Viktor", "Bout", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	assert.Len(t, got, 1)

	pep := NewPEPScreener(zap.NewNop().Sugar(), store, matcher, DefaultPEPConfig())
	pep.now = later
	got, err = pep.Screen(context.Background(), subjectFor(n, "Maria", "Lopez", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, got)

	wallets := NewWalletScreener(zap.NewNop().Sugar(), store, DefaultWalletConfig())
	wallets.now = later
	got, err = wallets.Screen(context.Background(), subjectFor(n, "Jane", "Roe", "", directWallet), aml.ScreeningOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, got)

	corpus := NewCorpusProvider(store, time.Hour)
	corpus.now = later
	articles, err := corpus.Search(context.Background(), nil, aml.ScreeningOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, articles)

	// once a feed replaces seeded wallets the age limit applies again
	store.ReplaceWallets(nil, nil, time.Now())
	_, err = wallets.Screen(context.Background(), subjectFor(n, "Jane", "Roe", "", directWallet), aml.ScreeningOptions{})
	assert.ErrorIs(t, err, errors.SourceUnavailable)
}

func TestSanctionsScreenerHonoursCancel(t *testing.T) {
	store, n := newTestStore(t)
	s := NewSanctionsScreener(zap.NewNop().Sugar(), store, NewFuzzyMatcher(DefaultMatchConfig()), sanctionsOnly("ofac_sdn"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Screen(ctx, subjectFor(n, "Viktor", "Bout", ""), aml.ScreeningOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPEPScreenerAssociates(t *testing.T) {
	store, n := newTestStore(t)
	cfg := DefaultPEPConfig()
	cfg.IncludeAssociates = false
	s := NewPEPScreener(zap.NewNop().Sugar(), store, NewFuzzyMatcher(DefaultMatchConfig()), cfg)

	got, err := s.Screen(context.Background(), subjectFor(n, "Juan", "Lopez", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	for _, c := range got {
		assert.NotEqual(t, "pep-2", c.EntryID)
	}

	got, err = s.Screen(context.Background(), subjectFor(n, "Juan", "Lopez", ""), aml.ScreeningOptions{IncludeAssociates: true})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "pep-2", got[0].EntryID)
	assert.Contains(t, got[0].Tags, "pep_type:family")
}

func TestPEPScreenerDirectAndFormer(t *testing.T) {
	store, n := newTestStore(t)
	s := NewPEPScreener(zap.NewNop().Sugar(), store, NewFuzzyMatcher(DefaultMatchConfig()), DefaultPEPConfig())

	got, err := s.Screen(context.Background(), subjectFor(n, "Maria", "Lopez", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, "pep-1", got[0].EntryID)
	assert.InDelta(t, 0.8, got[0].Severity, 1e-9)

	got, err = s.Screen(context.Background(), subjectFor(n, "Carlos", "Ruiz", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Tags, "former_pep")
	assert.InDelta(t, 0.6*0.7, got[0].Severity, 1e-4)
}

func TestPEPScreenerNoLists(t *testing.T) {
	n := normalize.New(normalize.DefaultConfig())
	s := NewPEPScreener(zap.NewNop().Sugar(), NewReferenceStore(n), NewFuzzyMatcher(DefaultMatchConfig()), DefaultPEPConfig())

	_, err := s.Screen(context.Background(), subjectFor(n, "Maria", "Lopez", ""), aml.ScreeningOptions{})
	assert.ErrorIs(t, err, errors.SourceUnavailable)
}

func newMediaScreener(store *ReferenceStore, n *normalize.Normalizer, providers ...MediaProvider) *AdverseMediaScreener {
	if len(providers) == 0 {
		providers = []MediaProvider{NewCorpusProvider(store, 0)}
	}
	return NewAdverseMediaScreener(zap.NewNop().Sugar(), NewFuzzyMatcher(DefaultMatchConfig()), n, DefaultAdverseMediaConfig(), providers...)
}

func TestAdverseMediaRelevance(t *testing.T) {
	store, n := newTestStore(t)
	s := newMediaScreener(store, n)

	got, err := s.Screen(context.Background(), subjectFor(n, "Viktor", "Bout", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "art-1", got[0].EntryID)
	assert.Equal(t, 1.0, got[0].Similarity)
	assert.InDelta(t, 0.9, got[0].Severity, 1e-9)
	assert.Equal(t, "criminal", got[0].Tags[0])
	require.NotNil(t, got[0].Reference)
	assert.Equal(t, "Arms dealer arrested", got[0].Reference.Title)
}

func TestAdverseMediaFilters(t *testing.T) {
	store, n := newTestStore(t)
	s := newMediaScreener(store, n)
	subject := subjectFor(n, "Viktor", "Bout", "")

	got, err := s.Screen(context.Background(), subject, aml.ScreeningOptions{Languages: []string{"es"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "art-3", got[0].EntryID)

	from := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	got, err = s.Screen(context.Background(), subject, aml.ScreeningOptions{TimeRange: &aml.TimeRange{From: &from}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "art-1", got[0].EntryID)

	got, err = s.Screen(context.Background(), subject, aml.ScreeningOptions{RiskCategories: []string{"financial_crime"}})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "art-3", got[0].EntryID)
	assert.InDelta(t, 0.8, got[0].Severity, 1e-9)
}

func TestAdverseMediaUnrelatedSubject(t *testing.T) {
	store, n := newTestStore(t)
	s := newMediaScreener(store, n)

	got, err := s.Screen(context.Background(), subjectFor(n, "John", "Doe", ""), aml.ScreeningOptions{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestWalletScreenerTraversal(t *testing.T) {
	store, n := newTestStore(t)
	s := NewWalletScreener(zap.NewNop().Sugar(), store, DefaultWalletConfig())

	got, err := s.Screen(context.Background(), subjectFor(n, "John", "Doe", "", cleanWallet), aml.ScreeningOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1, "ransomware address at three hops is beyond the default depth")
	assert.Equal(t, mixerWallet, got[0].EntryID)
	assert.Equal(t, "indirect", got[0].MatchType)
	assert.InDelta(t, 0.8*0.25, got[0].Severity, 1e-9)
	assert.Contains(t, got[0].Tags, "hops:2")
}

func TestWalletScreenerDirectHit(t *testing.T) {
	store, n := newTestStore(t)
	s := NewWalletScreener(zap.NewNop().Sugar(), store, DefaultWalletConfig())

	got, err := s.Screen(context.Background(), subjectFor(n, "John", "Doe", "", "0x00000000000000000000000000000000000000E5"), aml.ScreeningOptions{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "direct", got[0].MatchType)
	assert.Equal(t, 1.0, got[0].Severity)
	assert.Equal(t, "ofac_crypto", got[0].ListID)
}

func TestWalletScreenerNoWallets(t *testing.T) {
	n := normalize.New(normalize.DefaultConfig())
	s := NewWalletScreener(zap.NewNop().Sugar(), NewReferenceStore(n), DefaultWalletConfig())

	got, err := s.Screen(context.Background(), subjectFor(n, "John", "Doe", ""), aml.ScreeningOptions{})
	assert.NoError(t, err)
	assert.Empty(t, got)

	_, err = s.Screen(context.Background(), subjectFor(n, "John", "Doe", "", cleanWallet), aml.ScreeningOptions{})
	assert.ErrorIs(t, err, errors.SourceUnavailable)
}

func TestSnapshotSwapKeepsOldReaders(t *testing.T) {
	store, _ := newTestStore(t)
	before := store.Snapshot()

	store.ReplaceSanctionsList(&SanctionsList{ID: "ofac_sdn", Entries: []*SanctionsEntry{{ID: "new", PrimaryName: "Someone Else", IsActive: true}}}, time.Now())

	after := store.Snapshot()
	assert.Greater(t, after.Version, before.Version)
	assert.Equal(t, "sdn-1", before.Sanctions["ofac_sdn"].Entries[0].ID)
	assert.Equal(t, "new", after.Sanctions["ofac_sdn"].Entries[0].ID)
	assert.Equal(t, before.PEP["pep_global"], after.PEP["pep_global"])
}

func TestRegistrySelect(t *testing.T) {
	store, n := newTestStore(t)
	matcher := NewFuzzyMatcher(DefaultMatchConfig())
	reg := NewRegistry(
		NewWalletScreener(zap.NewNop().Sugar(), store, DefaultWalletConfig()),
		NewSanctionsScreener(zap.NewNop().Sugar(), store, matcher, DefaultSanctionsConfig()),
		NewPEPScreener(zap.NewNop().Sugar(), store, matcher, DefaultPEPConfig()),
		newMediaScreener(store, n),
	)

	all := reg.Select(aml.ScreeningOptions{})
	require.Len(t, all, 4)
	assert.Equal(t, aml.SourceSanctions, all[0].Kind())
	assert.Equal(t, aml.SourceWalletRisk, all[3].Kind())

	some := reg.Select(aml.ScreeningOptions{Sources: []aml.SourceKind{aml.SourcePEP}})
	require.Len(t, some, 1)
	assert.Equal(t, aml.SourcePEP, some[0].Kind())
}

func TestValidateWalletAddress(t *testing.T) {
	valid := []aml.WalletAddress{
		{Address: cleanWallet, Network: "ethereum"},
		{Address: "0x52908400098527886E0F7030069857D2E4169EE7", Network: "polygon"},
		{Address: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT", Network: "bitcoin"},
		{Address: "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", Network: "bitcoin"},
		{Address: "TLa2f6VPqDgRE67v1736s7bJ8Ray5wYjU7", Network: "tron"},
	}
	for _, w := range valid {
		assert.NoError(t, ValidateWalletAddress(w), w.Address)
	}

	invalid := []aml.WalletAddress{
		{Address: "0x1234", Network: "ethereum"},
		{Address: "00000000000000000000000000000000000000a1", Network: "bsc"},
		{Address: cleanWallet, Network: "bitcoin"},
		{Address: "T123", Network: "tron"},
		{Address: cleanWallet, Network: "solana"},
	}
	for _, w := range invalid {
		assert.ErrorIs(t, ValidateWalletAddress(w), errors.Validation, w.Address)
	}
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short body", snippet("  short body  ", 200))
	assert.Equal(t, "one two...", snippet("one two three", 9))

	// no space before the cut and a two-byte rune straddling it
	body := "a" + strings.Repeat("ж", 150)
	got := snippet(body, 200)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "a"+strings.Repeat("ж", 99)+"...", got)
}
