package screening

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Match types reported on candidates
const (
	MatchExact    = "exact"
	MatchFuzzy    = "fuzzy"
	MatchPhonetic = "phonetic"
	MatchPartial  = "partial"
)

// MatchConfig weights the individual similarity signals. Weights are normalized at construction.
type MatchConfig struct {
	LevenshteinWeight float64 `mapstructure:"levenshtein_weight" yaml:"levenshtein_weight"`
	JaroWinklerWeight float64 `mapstructure:"jaro_winkler_weight" yaml:"jaro_winkler_weight"`
	PhoneticWeight    float64 `mapstructure:"phonetic_weight" yaml:"phonetic_weight"`
	NGramWeight       float64 `mapstructure:"ngram_weight" yaml:"ngram_weight"`
	TokenWeight       float64 `mapstructure:"token_weight" yaml:"token_weight"`
	NGramSize         int     `mapstructure:"ngram_size" yaml:"ngram_size"`
	// TokenThreshold is the Jaro-Winkler score at which two tokens count as the same word.
	TokenThreshold float64 `mapstructure:"token_threshold" yaml:"token_threshold"`
}

// DefaultMatchConfig returns the production signal weights.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		LevenshteinWeight: 0.20,
		JaroWinklerWeight: 0.25,
		PhoneticWeight:    0.15,
		NGramWeight:       0.10,
		TokenWeight:       0.30,
		NGramSize:         3,
		TokenThreshold:    0.85,
	}
}

// MatchResult is the outcome of comparing two normalized names
type MatchResult struct {
	Score       float64            `json:"score"`
	MatchType   string             `json:"match_type"`
	QueryName   string             `json:"query_name"`
	MatchedName string             `json:"matched_name"`
	Details     map[string]float64 `json:"details,omitempty"`
}

// FuzzyMatcher scores name similarity on already-normalized input.
// Results depend only on the two inputs, never on timing or map order.
type FuzzyMatcher struct {
	config MatchConfig
}

// NewFuzzyMatcher creates a matcher. Zero weights fall back to the defaults.
func NewFuzzyMatcher(config MatchConfig) *FuzzyMatcher {
	sum := config.LevenshteinWeight + config.JaroWinklerWeight + config.PhoneticWeight + config.NGramWeight + config.TokenWeight
	if sum <= 0 {
		def := DefaultMatchConfig()
		def.NGramSize, def.TokenThreshold = config.NGramSize, config.TokenThreshold
		config = def
		sum = 1
	}
	config.LevenshteinWeight /= sum
	config.JaroWinklerWeight /= sum
	config.PhoneticWeight /= sum
	config.NGramWeight /= sum
	config.TokenWeight /= sum
	if config.NGramSize <= 0 {
		config.NGramSize = 3
	}
	if config.TokenThreshold <= 0 {
		config.TokenThreshold = 0.85
	}
	return &FuzzyMatcher{config: config}
}

// BestMatch compares every query name against every target name and keeps the highest score.
// Ties keep the earliest pair so output is stable for a given input order.
func (fm *FuzzyMatcher) BestMatch(queries, targets []string) MatchResult {
	var best MatchResult
	for _, q := range queries {
		if q == "" {
			continue
		}
		for _, t := range targets {
			if t == "" {
				continue
			}
			r := fm.Compare(q, t)
			if r.Score > best.Score {
				best = r
			}
		}
	}
	return best
}

// Compare scores two normalized names in [0,1]. Token order does not matter.
func (fm *FuzzyMatcher) Compare(query, target string) MatchResult {
	result := MatchResult{QueryName: query, MatchedName: target}
	if query == "" || target == "" {
		return result
	}
	if query == target {
		result.Score = 1.0
		result.MatchType = MatchExact
		return result
	}

	direct := fm.calculateNameScore(query, target)
	sortedQ, sortedT := sortTokens(query), sortTokens(target)
	if sortedQ == sortedT {
		result.Score = 1.0
		result.MatchType = MatchExact
		return result
	}
	reordered := fm.calculateNameScore(sortedQ, sortedT)
	details := direct
	if reordered["overall"] > direct["overall"] {
		details = reordered
	}

	result.Score = round4(details["overall"])
	result.Details = details
	result.MatchType = classify(query, target, details)
	return result
}

func (fm *FuzzyMatcher) calculateNameScore(name1, name2 string) map[string]float64 {
	lev := levenshteinSimilarity(name1, name2)
	jw := jaroWinkler(name1, name2)
	phon, phonetic := fm.phoneticSimilarity(name1, name2)
	ngram := ngramSimilarity(name1, name2, fm.config.NGramSize)
	token := fm.tokenSimilarity(name1, name2)

	overall := lev*fm.config.LevenshteinWeight +
		jw*fm.config.JaroWinklerWeight +
		phon*fm.config.PhoneticWeight +
		ngram*fm.config.NGramWeight +
		token*fm.config.TokenWeight
	if !phonetic && fm.config.PhoneticWeight < 1 {
		// neither name has a phonetic code (non-Latin script); score on the other signals
		overall /= 1 - fm.config.PhoneticWeight
	}

	return map[string]float64{
		"levenshtein":  lev,
		"jaro_winkler": jw,
		"phonetic":     phon,
		"ngram":        ngram,
		"token":        token,
		"overall":      math.Min(1, math.Max(0, overall)),
	}
}

func classify(query, target string, details map[string]float64) string {
	if isTokenSubset(query, target) || isTokenSubset(target, query) {
		return MatchPartial
	}
	if details["phonetic"] == 1 && details["jaro_winkler"] < 0.9 {
		return MatchPhonetic
	}
	return MatchFuzzy
}

func levenshteinSimilarity(s1, s2 string) float64 {
	maxLen := math.Max(float64(utf8.RuneCountInString(s1)), float64(utf8.RuneCountInString(s2)))
	if maxLen == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(s1, s2)
	return 1.0 - float64(distance)/maxLen
}

// jaroWinkler compares runes; normalized names may be in any script.
func jaroWinkler(a, b string) float64 {
	if a == b {
		return 1.0
	}
	s1, s2 := []rune(a), []rune(b)
	len1, len2 := len(s1), len(s2)
	if len1 == 0 || len2 == 0 {
		return 0.0
	}

	matchWindow := max(len1, len2)/2 - 1
	if matchWindow < 0 {
		matchWindow = 0
	}

	s1Matches := make([]bool, len1)
	s2Matches := make([]bool, len2)
	matches := 0
	for i := 0; i < len1; i++ {
		start := max(0, i-matchWindow)
		end := min(len2, i+matchWindow+1)
		for j := start; j < end; j++ {
			if s2Matches[j] || s1[i] != s2[j] {
				continue
			}
			s1Matches[i] = true
			s2Matches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	transpositions, k := 0, 0
	for i := 0; i < len1; i++ {
		if !s1Matches[i] {
			continue
		}
		for !s2Matches[k] {
			k++
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}

	m := float64(matches)
	jaro := (m/float64(len1) + m/float64(len2) + (m-float64(transpositions)/2)/m) / 3.0

	prefix := 0
	for i := 0; i < min(len1, len2) && i < 4; i++ {
		if s1[i] != s2[i] {
			break
		}
		prefix++
	}
	return jaro + 0.1*float64(prefix)*(1.0-jaro)
}

// phoneticSimilarity averages Soundex and Metaphone agreement across tokens in both directions.
// The second result is false when neither name yields any Soundex code.
func (fm *FuzzyMatcher) phoneticSimilarity(s1, s2 string) (float64, bool) {
	t1, t2 := strings.Fields(s1), strings.Fields(s2)
	if len(t1) == 0 || len(t2) == 0 {
		return 0.0, true
	}
	if !hasCode(t1, soundex) && !hasCode(t2, soundex) {
		return 0.0, false
	}
	soundexScore := (codeOverlap(t1, t2, soundex) + codeOverlap(t2, t1, soundex)) / 2
	metaphoneScore := (codeOverlap(t1, t2, metaphone) + codeOverlap(t2, t1, metaphone)) / 2
	return (soundexScore + metaphoneScore) / 2, true
}

func hasCode(tokens []string, code func(string) string) bool {
	for _, t := range tokens {
		if code(t) != "" {
			return true
		}
	}
	return false
}

// codeOverlap is the share of from tokens whose code appears among the to codes. Empty codes never match.
func codeOverlap(from, to []string, code func(string) string) float64 {
	codes := make(map[string]struct{}, len(to))
	for _, t := range to {
		if c := code(t); c != "" {
			codes[c] = struct{}{}
		}
	}
	hits := 0
	for _, f := range from {
		if _, ok := codes[code(f)]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(from))
}

var soundexCodes = map[rune]rune{
	'B': '1', 'F': '1', 'P': '1', 'V': '1',
	'C': '2', 'G': '2', 'J': '2', 'K': '2', 'Q': '2', 'S': '2', 'X': '2', 'Z': '2',
	'D': '3', 'T': '3',
	'L': '4',
	'M': '5', 'N': '5',
	'R': '6',
}

// soundex encodes words starting with a Latin letter and returns "" for anything else.
func soundex(word string) string {
	if word == "" {
		return ""
	}
	s := []rune(strings.ToUpper(word))
	if s[0] < 'A' || s[0] > 'Z' {
		return ""
	}
	result := []rune{s[0]}

	prev := soundexCodes[s[0]]
	for i := 1; i < len(s) && len(result) < 4; i++ {
		code, ok := soundexCodes[s[i]]
		if !ok {
			// H and W do not separate equal codes
			if s[i] != 'H' && s[i] != 'W' {
				prev = 0
			}
			continue
		}
		if code != prev {
			result = append(result, code)
		}
		prev = code
	}
	for len(result) < 4 {
		result = append(result, '0')
	}
	return string(result)
}

// metaphone is a simplified Metaphone encoding. Runes it has no rule for are dropped,
// so a name in another script encodes to the empty string.
func metaphone(word string) string {
	if word == "" {
		return ""
	}
	s := []rune(strings.ToUpper(word))
	n := len(s)
	at := func(i int) rune {
		if i < 0 || i >= n {
			return 0
		}
		return s[i]
	}

	var b strings.Builder
	for i := 0; i < n; i++ {
		c := s[i]
		if i > 0 && c == s[i-1] && c != 'C' {
			continue
		}
		switch c {
		case 'A', 'E', 'I', 'O', 'U':
			if i == 0 {
				b.WriteRune(c)
			}
		case 'B':
			if i == n-1 && at(i-1) == 'M' {
				continue
			}
			b.WriteByte('B')
		case 'C':
			switch {
			case at(i-1) == 'S' && (at(i+1) == 'I' || at(i+1) == 'E' || at(i+1) == 'Y'):
			case at(i+1) == 'H':
				b.WriteByte('X')
				i++
			case at(i+1) == 'I' || at(i+1) == 'E' || at(i+1) == 'Y':
				b.WriteByte('S')
			default:
				b.WriteByte('K')
			}
		case 'D':
			if at(i+1) == 'G' && (at(i+2) == 'E' || at(i+2) == 'Y' || at(i+2) == 'I') {
				b.WriteByte('J')
				i++
			} else {
				b.WriteByte('T')
			}
		case 'F', 'J', 'L', 'M', 'N', 'R':
			b.WriteRune(c)
		case 'G':
			if at(i+1) == 'H' && i > 0 {
				i++
				continue
			}
			if at(i+1) == 'N' {
				continue
			}
			if at(i+1) == 'E' || at(i+1) == 'I' || at(i+1) == 'Y' {
				b.WriteByte('J')
			} else {
				b.WriteByte('K')
			}
		case 'H':
			if i == 0 || (!isVowel(at(i-1)) && isVowel(at(i+1))) {
				b.WriteByte('H')
			}
		case 'K':
			if at(i-1) != 'C' {
				b.WriteByte('K')
			}
		case 'P':
			if at(i+1) == 'H' {
				b.WriteByte('F')
				i++
			} else {
				b.WriteByte('P')
			}
		case 'Q':
			b.WriteByte('K')
		case 'S':
			switch {
			case at(i+1) == 'H':
				b.WriteByte('X')
				i++
			case at(i+1) == 'I' && (at(i+2) == 'O' || at(i+2) == 'A'):
				b.WriteByte('X')
			default:
				b.WriteByte('S')
			}
		case 'T':
			switch {
			case at(i+1) == 'I' && (at(i+2) == 'O' || at(i+2) == 'A'):
				b.WriteByte('X')
			case at(i+1) == 'H':
				b.WriteByte('0')
				i++
			case at(i+1) == 'C' && at(i+2) == 'H':
			default:
				b.WriteByte('T')
			}
		case 'V':
			b.WriteByte('F')
		case 'W', 'Y':
			if isVowel(at(i + 1)) {
				b.WriteRune(c)
			}
		case 'X':
			b.WriteString("KS")
		case 'Z':
			b.WriteByte('S')
		}
	}
	return b.String()
}

func isVowel(c rune) bool {
	return c == 'A' || c == 'E' || c == 'I' || c == 'O' || c == 'U'
}

func ngramSimilarity(s1, s2 string, n int) float64 {
	ngrams1 := generateNGrams(s1, n)
	ngrams2 := generateNGrams(s2, n)
	if len(ngrams1) == 0 && len(ngrams2) == 0 {
		return 1.0
	}
	if len(ngrams1) == 0 || len(ngrams2) == 0 {
		return 0.0
	}
	intersection := 0
	for g := range ngrams1 {
		if _, ok := ngrams2[g]; ok {
			intersection++
		}
	}
	union := len(ngrams1) + len(ngrams2) - intersection
	return float64(intersection) / float64(union)
}

func generateNGrams(s string, n int) map[string]struct{} {
	ngrams := make(map[string]struct{})
	r := []rune(s)
	if len(r) < n {
		if s != "" {
			ngrams[s] = struct{}{}
		}
		return ngrams
	}
	for i := 0; i <= len(r)-n; i++ {
		ngrams[string(r[i:i+n])] = struct{}{}
	}
	return ngrams
}

// tokenSimilarity pairs each token with its closest counterpart. Tokens below the
// threshold count as unmatched. The result averages both directions.
func (fm *FuzzyMatcher) tokenSimilarity(s1, s2 string) float64 {
	t1, t2 := strings.Fields(s1), strings.Fields(s2)
	if len(t1) == 0 || len(t2) == 0 {
		return 0.0
	}
	return (fm.softTokenCoverage(t1, t2) + fm.softTokenCoverage(t2, t1)) / 2
}

func (fm *FuzzyMatcher) softTokenCoverage(from, to []string) float64 {
	total := 0.0
	for _, f := range from {
		best := 0.0
		for _, t := range to {
			if s := jaroWinkler(f, t); s > best {
				best = s
			}
		}
		if best >= fm.config.TokenThreshold {
			total += best
		}
	}
	return total / float64(len(from))
}

func isTokenSubset(small, large string) bool {
	st, lt := strings.Fields(small), strings.Fields(large)
	if len(st) == 0 || len(st) >= len(lt) {
		return false
	}
	set := make(map[string]struct{}, len(lt))
	for _, t := range lt {
		set[t] = struct{}{}
	}
	for _, t := range st {
		if _, ok := set[t]; !ok {
			return false
		}
	}
	return true
}

func sortTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
