package screening

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
	"github.com/Aidin1998/amlscreen/pkg/errors"
)

// MediaCategory is a class of negative news with its keywords and weight
type MediaCategory struct {
	Weight   float64  `mapstructure:"weight" yaml:"weight"`
	Keywords []string `mapstructure:"keywords" yaml:"keywords"`
}

// AdverseMediaConfig configures the adverse-media screener
type AdverseMediaConfig struct {
	NameThreshold float64                  `mapstructure:"name_threshold"`
	Categories    map[string]MediaCategory `mapstructure:"categories"`
}

// DefaultAdverseMediaConfig returns the standard category set.
func DefaultAdverseMediaConfig() AdverseMediaConfig {
	return AdverseMediaConfig{
		NameThreshold: 0.75,
		Categories: map[string]MediaCategory{
			"criminal": {Weight: 0.9, Keywords: []string{
				"arrested", "charged", "convicted", "indicted", "sentenced", "prison",
				"trafficking", "terrorism", "smuggling", "murder", "cartel",
			}},
			"financial_crime": {Weight: 0.8, Keywords: []string{
				"fraud", "money laundering", "laundering", "embezzlement", "bribery",
				"corruption", "ponzi", "tax evasion", "insider trading", "kickbacks",
			}},
			"regulatory_action": {Weight: 0.7, Keywords: []string{
				"fined", "penalty", "sanctioned", "enforcement action", "license revoked",
				"cease and desist", "regulator", "probe",
			}},
			"political_exposure": {Weight: 0.6, Keywords: []string{
				"minister", "senator", "parliament", "politician", "governor", "ambassador",
			}},
			"civil_litigation": {Weight: 0.4, Keywords: []string{
				"lawsuit", "sued", "litigation", "class action", "civil court",
			}},
			"negative_business": {Weight: 0.3, Keywords: []string{
				"bankruptcy", "insolvency", "scandal", "misconduct", "liquidation",
			}},
		},
	}
}

// MediaProvider supplies candidate articles for a subject
type MediaProvider interface {
	Name() string
	Search(ctx context.Context, subject *normalize.Subject, opts aml.ScreeningOptions) ([]*MediaArticle, error)
}

type category struct {
	name     string
	weight   float64
	keywords [][]string
}

// AdverseMediaScreener looks for articles that name the subject alongside negative keywords
type AdverseMediaScreener struct {
	logger     *zap.SugaredLogger
	providers  []MediaProvider
	matcher    *FuzzyMatcher
	normalizer *normalize.Normalizer
	threshold  float64
	categories []category
}

// NewAdverseMediaScreener creates the screener. Providers are queried in the given order.
func NewAdverseMediaScreener(logger *zap.SugaredLogger, matcher *FuzzyMatcher, n *normalize.Normalizer, config AdverseMediaConfig, providers ...MediaProvider) *AdverseMediaScreener {
	cats := make([]category, 0, len(config.Categories))
	for name, c := range config.Categories {
		cat := category{name: name, weight: c.Weight}
		for _, kw := range c.Keywords {
			if tokens := strings.Fields(n.Name(kw)); len(tokens) > 0 {
				cat.keywords = append(cat.keywords, tokens)
			}
		}
		cats = append(cats, cat)
	}
	// heaviest first, name breaks ties
	sort.Slice(cats, func(i, j int) bool {
		if cats[i].weight != cats[j].weight {
			return cats[i].weight > cats[j].weight
		}
		return cats[i].name < cats[j].name
	})

	return &AdverseMediaScreener{
		logger:     logger,
		providers:  providers,
		matcher:    matcher,
		normalizer: n,
		threshold:  config.NameThreshold,
		categories: cats,
	}
}

func (as *AdverseMediaScreener) Kind() aml.SourceKind { return aml.SourceAdverseMedia }

// Screen returns one candidate per relevant article.
func (as *AdverseMediaScreener) Screen(ctx context.Context, subject *normalize.Subject, opts aml.ScreeningOptions) ([]aml.MatchCandidate, error) {
	if len(as.providers) == 0 {
		return nil, errors.SourceUnavailable.Explain("no adverse-media provider configured")
	}

	var candidates []aml.MatchCandidate
	var unavailable []string
	for _, p := range as.providers {
		articles, err := p.Search(ctx, subject, opts)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			as.logger.Warnw("Adverse-media provider failed", "provider", p.Name(), "error", err)
			unavailable = append(unavailable, p.Name())
			continue
		}
		for i, a := range articles {
			if i%checkEvery == 0 && ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if c, ok := as.evaluate(subject, a, p.Name(), opts); ok {
				candidates = append(candidates, c)
			}
		}
	}

	if len(unavailable) == len(as.providers) {
		return nil, errors.SourceUnavailable.Explain("all adverse-media providers failed")
	}

	sortCandidates(candidates)
	if len(unavailable) > 0 {
		return candidates, &PartialError{Kind: aml.SourceAdverseMedia, Unavailable: unavailable}
	}
	return candidates, nil
}

func (as *AdverseMediaScreener) evaluate(subject *normalize.Subject, a *MediaArticle, provider string, opts aml.ScreeningOptions) (aml.MatchCandidate, bool) {
	if len(opts.Languages) > 0 && !containsFold(opts.Languages, a.Language) {
		return aml.MatchCandidate{}, false
	}
	if opts.TimeRange != nil {
		if a.PublishedAt == nil || !opts.TimeRange.Contains(*a.PublishedAt) {
			return aml.MatchCandidate{}, false
		}
	}

	tokens := a.tokens
	if tokens == nil {
		tokens = strings.Fields(as.normalizer.Name(a.Title + " " + a.Body))
	}

	var matched []string
	weight := 0.0
	for _, cat := range as.categories {
		if len(opts.RiskCategories) > 0 && !containsFold(opts.RiskCategories, cat.name) {
			continue
		}
		if hasKeyword(tokens, cat.keywords) {
			matched = append(matched, cat.name)
			if cat.weight > weight {
				weight = cat.weight
			}
		}
	}
	if len(matched) == 0 {
		return aml.MatchCandidate{}, false
	}

	similarity, mention := as.bestMention(subject.Names(), tokens)
	if similarity < as.threshold {
		return aml.MatchCandidate{}, false
	}

	return aml.MatchCandidate{
		Source:      aml.SourceAdverseMedia,
		ListID:      provider,
		EntryID:     a.ID,
		MatchedName: mention,
		MatchType:   MatchPartial,
		Similarity:  similarity,
		Severity:    round4(similarity * weight),
		Tags:        matched,
		Reference: &aml.Reference{
			Title:       a.Title,
			URL:         a.URL,
			Publisher:   a.Publisher,
			Language:    a.Language,
			PublishedAt: a.PublishedAt,
			Snippet:     snippet(a.Body, 200),
		},
	}, true
}

// bestMention slides a window the size of each subject name over the article tokens.
func (as *AdverseMediaScreener) bestMention(names []string, tokens []string) (float64, string) {
	best, mention := 0.0, ""
	for _, name := range names {
		k := len(strings.Fields(name))
		if k == 0 || k > len(tokens) {
			continue
		}
		for i := 0; i+k <= len(tokens); i++ {
			window := strings.Join(tokens[i:i+k], " ")
			if r := as.matcher.Compare(name, window); r.Score > best {
				best, mention = r.Score, window
				if best == 1 {
					return best, mention
				}
			}
		}
	}
	return best, mention
}

func hasKeyword(tokens []string, keywords [][]string) bool {
	for _, kw := range keywords {
		for i := 0; i+len(kw) <= len(tokens); i++ {
			hit := true
			for j, t := range kw {
				if tokens[i+j] != t {
					hit = false
					break
				}
			}
			if hit {
				return true
			}
		}
	}
	return false
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// snippet shortens body to at most n bytes, preferring a word boundary and never splitting a rune.
func snippet(body string, n int) string {
	body = strings.TrimSpace(body)
	if len(body) <= n {
		return body
	}
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	cut := strings.LastIndex(body[:n], " ")
	if cut <= 0 {
		cut = n
	}
	return body[:cut] + "..."
}

// CorpusProvider serves the adverse-media corpus held in the reference store
type CorpusProvider struct {
	store  *ReferenceStore
	maxAge time.Duration
	now    func() time.Time
}

// NewCorpusProvider creates a provider over the store's media corpus.
func NewCorpusProvider(store *ReferenceStore, maxAge time.Duration) *CorpusProvider {
	return &CorpusProvider{store: store, maxAge: maxAge, now: time.Now}
}

func (p *CorpusProvider) Name() string { return "corpus" }

func (p *CorpusProvider) Search(_ context.Context, _ *normalize.Subject, _ aml.ScreeningOptions) ([]*MediaArticle, error) {
	snap := p.store.Snapshot()
	if !snap.MediaPinned && !fresh(snap.MediaAt, p.maxAge, p.now()) {
		return nil, errors.SourceUnavailable.Explain("media corpus not loaded")
	}
	return snap.Media, nil
}

// HTTPMediaProvider queries a remote news search API
type HTTPMediaProvider struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPMediaProvider creates a provider for a search endpoint returning {"articles": [...]}.
func NewHTTPMediaProvider(name, baseURL, apiKey string, timeout time.Duration) *HTTPMediaProvider {
	return &HTTPMediaProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPMediaProvider) Name() string { return p.name }

type mediaSearchResponse struct {
	Articles []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Body        string `json:"body"`
		URL         string `json:"url"`
		Publisher   string `json:"publisher"`
		Language    string `json:"language"`
		PublishedAt string `json:"published_at"`
	} `json:"articles"`
}

func (p *HTTPMediaProvider) Search(ctx context.Context, subject *normalize.Subject, opts aml.ScreeningOptions) ([]*MediaArticle, error) {
	q := url.Values{}
	q.Set("q", subject.FullName)
	for _, lang := range opts.Languages {
		q.Add("lang", lang)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query media provider: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var body mediaSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode media response: %w", err)
	}

	out := make([]*MediaArticle, 0, len(body.Articles))
	for _, a := range body.Articles {
		out = append(out, &MediaArticle{
			ID:          a.ID,
			Title:       a.Title,
			Body:        a.Body,
			URL:         a.URL,
			Publisher:   a.Publisher,
			Language:    a.Language,
			PublishedAt: normalize.ParseDate(a.PublishedAt),
		})
	}
	return out, nil
}
