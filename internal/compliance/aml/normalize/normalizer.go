// Package normalize canonicalizes free-text identity fields before matching.
package normalize

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
)

var (
	// letters and digits of any script survive; combining marks stay for scripts that need them
	nonAlnum   = regexp.MustCompile(`[^\p{L}\p{M}\p{N}\s]`)
	whitespace = regexp.MustCompile(`\s+`)
)

// fold strips nonspacing marks so "ş", "ą" and "é" compare equal to their base letters.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Config controls the normalization rules
type Config struct {
	// Character substitutions applied before marks are folded away; key is the canonical form.
	// Letters without a decomposition (ł, ø, đ) need an entry here.
	CharacterSubstitutions map[string][]string `yaml:"character_substitutions" mapstructure:"character_substitutions"`
	NamePrefixes           []string            `yaml:"name_prefixes" mapstructure:"name_prefixes"`
	NameSuffixes           []string            `yaml:"name_suffixes" mapstructure:"name_suffixes"`
	// Aliases maps a nickname to the formal names it may stand for.
	Aliases              map[string][]string `yaml:"aliases" mapstructure:"aliases"`
	AddressAbbreviations map[string]string   `yaml:"address_abbreviations" mapstructure:"address_abbreviations"`
}

// DefaultConfig returns the rule set used when none is configured.
func DefaultConfig() Config {
	return Config{
		CharacterSubstitutions: map[string][]string{
			"a":  {"á", "à", "â", "ã", "å"},
			"ae": {"ä", "æ"},
			"c":  {"ç"},
			"d":  {"đ", "ð"},
			"e":  {"é", "è", "ê", "ë"},
			"i":  {"í", "ì", "î", "ï", "ı"},
			"l":  {"ł"},
			"n":  {"ñ"},
			"o":  {"ó", "ò", "ô", "õ", "ø"},
			"oe": {"ö", "œ"},
			"u":  {"ú", "ù", "û"},
			"ue": {"ü"},
			"ss": {"ß"},
			"th": {"þ"},
		},
		NamePrefixes: []string{"mr", "mrs", "ms", "dr", "prof", "sir", "dame", "lord", "lady", "shri", "smt"},
		NameSuffixes: []string{"jr", "sr", "ii", "iii", "iv", "phd", "md", "esq"},
		Aliases: map[string][]string{
			"bill":  {"william"},
			"bob":   {"robert"},
			"jim":   {"james"},
			"mike":  {"michael"},
			"alex":  {"alexander", "alexandra"},
			"kate":  {"katherine", "catherine"},
			"mohd":  {"mohammed", "muhammad"},
			"tony":  {"anthony"},
			"liz":   {"elizabeth"},
			"sasha": {"alexander", "alexandra"},
		},
		AddressAbbreviations: map[string]string{
			"st":   "street",
			"rd":   "road",
			"ave":  "avenue",
			"blvd": "boulevard",
			"ln":   "lane",
			"apt":  "apartment",
			"flr":  "floor",
			"nr":   "near",
			"opp":  "opposite",
		},
	}
}

// Subject is the canonical identity handed to the screeners
type Subject struct {
	UserID      string
	FullName    string
	FirstName   string
	MiddleName  string
	LastName    string
	NameTokens  []string
	Aliases     []string
	DateOfBirth *time.Time
	Nationality string
	Country     string
	Occupation  string
	Address     string
	Wallets     []aml.WalletAddress
}

// Names returns the primary name followed by every alias.
func (s *Subject) Names() []string {
	out := make([]string, 0, 1+len(s.Aliases))
	if s.FullName != "" {
		out = append(out, s.FullName)
	}
	return append(out, s.Aliases...)
}

// Normalizer turns raw personal info into a Subject. It is safe for concurrent use.
type Normalizer struct {
	config   Config
	prefixes map[string]struct{}
	suffixes map[string]struct{}
}

// New creates a normalizer for the given rule set.
func New(config Config) *Normalizer {
	n := &Normalizer{
		config:   config,
		prefixes: make(map[string]struct{}, len(config.NamePrefixes)),
		suffixes: make(map[string]struct{}, len(config.NameSuffixes)),
	}
	for _, p := range config.NamePrefixes {
		n.prefixes[strings.ToLower(p)] = struct{}{}
	}
	for _, s := range config.NameSuffixes {
		n.suffixes[strings.ToLower(s)] = struct{}{}
	}
	return n
}

// Normalize canonicalizes a screening request. It never fails; missing optional fields stay empty.
func (n *Normalizer) Normalize(req *aml.ScreeningRequest) *Subject {
	info := req.PersonalInfo
	subject := &Subject{
		UserID:      req.UserID,
		FirstName:   n.Name(info.FirstName),
		MiddleName:  n.Name(info.MiddleName),
		LastName:    n.Name(info.LastName),
		DateOfBirth: ParseDate(info.DateOfBirth),
		Nationality: strings.ToUpper(strings.TrimSpace(info.Nationality)),
		Country:     strings.ToUpper(strings.TrimSpace(info.Country)),
		Occupation:  n.Name(info.Occupation),
		Wallets:     append([]aml.WalletAddress(nil), req.WalletAddresses...),
	}

	subject.FullName = n.Name(info.FullName())
	subject.NameTokens = strings.Fields(subject.FullName)
	subject.Aliases = n.expandAliases(subject)

	if info.Address != nil {
		subject.Address = n.Address(*info.Address)
	}

	return subject
}

// Name lowercases, folds diacritics, strips punctuation and honorifics, and collapses whitespace.
// Letters outside the Latin script are kept as they are.
func (n *Normalizer) Name(name string) string {
	name = norm.NFC.String(strings.ToLower(strings.TrimSpace(name)))
	if name == "" {
		return ""
	}

	for standard, alternatives := range n.config.CharacterSubstitutions {
		for _, alt := range alternatives {
			name = strings.ReplaceAll(name, alt, standard)
		}
	}
	name = fold(name)

	// Hyphens and apostrophes separate name parts rather than vanish.
	name = strings.NewReplacer("-", " ", "'", "", "’", "").Replace(name)
	name = nonAlnum.ReplaceAllString(name, "")

	tokens := strings.Fields(name)
	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if n.isCommonAffix(token) {
			continue
		}
		filtered = append(filtered, token)
	}

	return strings.Join(filtered, " ")
}

// Address flattens and canonicalizes a postal address into one line.
func (n *Normalizer) Address(addr aml.Address) string {
	parts := []string{addr.Line1, addr.Line2, addr.City, addr.State, addr.PostalCode, addr.Country}
	joined := fold(norm.NFC.String(strings.ToLower(strings.Join(parts, " "))))
	joined = strings.NewReplacer(",", " ", ".", " ", "#", " ").Replace(joined)
	joined = nonAlnum.ReplaceAllString(joined, "")

	tokens := strings.Fields(joined)
	for i, token := range tokens {
		if expanded, ok := n.config.AddressAbbreviations[token]; ok {
			tokens[i] = expanded
		}
	}
	return whitespace.ReplaceAllString(strings.Join(tokens, " "), " ")
}

func (n *Normalizer) isCommonAffix(token string) bool {
	if _, ok := n.prefixes[token]; ok {
		return true
	}
	_, ok := n.suffixes[token]
	return ok
}

// expandAliases builds alternate full names by replacing the first name with its configured expansions,
// and adds the first+last form when a middle name is present.
func (n *Normalizer) expandAliases(s *Subject) []string {
	seen := map[string]struct{}{s.FullName: {}}
	var aliases []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		aliases = append(aliases, name)
	}

	if s.MiddleName != "" {
		add(s.FirstName + " " + s.LastName)
	}
	for _, formal := range n.config.Aliases[s.FirstName] {
		add(formal + " " + s.LastName)
		if s.MiddleName != "" {
			add(formal + " " + s.MiddleName + " " + s.LastName)
		}
	}
	return aliases
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", time.RFC3339, "2006/01/02", "02-01-2006"}

// ParseDate accepts the common DOB layouts and returns nil when none matches.
func ParseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
