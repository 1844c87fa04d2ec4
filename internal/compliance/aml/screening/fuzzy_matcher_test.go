package screening

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompareExactAndReordered(t *testing.T) {
	fm := NewFuzzyMatcher(DefaultMatchConfig())

	r := fm.Compare("viktor bout", "viktor bout")
	assert.Equal(t, 1.0, r.Score)
	assert.Equal(t, MatchExact, r.MatchType)

	r = fm.Compare("bout viktor", "viktor bout")
	assert.Equal(t, 1.0, r.Score)
}

func TestCompareSpellingVariant(t *testing.T) {
	fm := NewFuzzyMatcher(DefaultMatchConfig())

	r := fm.Compare("jon smith", "john smith")
	assert.GreaterOrEqual(t, r.Score, 0.8)
	assert.Less(t, r.Score, 1.0)
}

func TestCompareDifferentPeople(t *testing.T) {
	fm := NewFuzzyMatcher(DefaultMatchConfig())

	assert.Less(t, fm.Compare("john doe", "jane doe").Score, 0.75)
	assert.Less(t, fm.Compare("john doe", "vladimir petrov").Score, 0.5)
	assert.Equal(t, 0.0, fm.Compare("", "john doe").Score)
}

func TestComparePartial(t *testing.T) {
	fm := NewFuzzyMatcher(DefaultMatchConfig())

	r := fm.Compare("john smith", "john william smith")
	assert.Equal(t, MatchPartial, r.MatchType)
	assert.Greater(t, r.Score, 0.6)
}

func TestCompareIsDeterministic(t *testing.T) {
	fm := NewFuzzyMatcher(DefaultMatchConfig())
	first := fm.Compare("mohammed al rashid", "muhammad alrashid")
	for i := 0; i < 20; i++ {
		assert.Equal(t, first.Score, fm.Compare("mohammed al rashid", "muhammad alrashid").Score)
	}
}

func TestBestMatchUsesAliases(t *testing.T) {
	fm := NewFuzzyMatcher(DefaultMatchConfig())

	r := fm.BestMatch([]string{"bill gates", "william gates"}, []string{"william henry gates", "william gates"})
	assert.Equal(t, 1.0, r.Score)
	assert.Equal(t, "william gates", r.QueryName)
	assert.Equal(t, "william gates", r.MatchedName)
}

func TestSoundex(t *testing.T) {
	cases := map[string]string{
		"robert":   "R163",
		"rupert":   "R163",
		"ashcraft": "A261",
		"tymczak":  "T522",
		"pfister":  "P236",
		"lee":      "L000",
	}
	for in, want := range cases {
		assert.Equal(t, want, soundex(in), in)
	}
}

func TestMetaphone(t *testing.T) {
	assert.Equal(t, metaphone("john"), metaphone("jon"))
	assert.Equal(t, "SM0", metaphone("smith"))
	assert.Equal(t, "B", metaphone("b"))
	assert.Equal(t, "", metaphone(""))
}

func TestZeroWeightsFallBackToDefaults(t *testing.T) {
	fm := NewFuzzyMatcher(MatchConfig{})
	def := NewFuzzyMatcher(DefaultMatchConfig())
	assert.Equal(t, def.Compare("jon smith", "john smith").Score, fm.Compare("jon smith", "john smith").Score)
}

func TestCompareNonLatin(t *testing.T) {
	fm := NewFuzzyMatcher(DefaultMatchConfig())

	exact := fm.Compare("владимир путин", "владимир путин")
	assert.Equal(t, 1.0, exact.Score)
	assert.Equal(t, MatchExact, exact.MatchType)

	near := fm.Compare("владимир путин", "владимир путен")
	assert.Greater(t, near.Score, 0.85)
	assert.Less(t, near.Score, 1.0)

	unrelated := fm.Compare("владимир путин", "иван петров")
	assert.Less(t, unrelated.Score, 0.5)
}

func TestRuneMetrics(t *testing.T) {
	assert.InDelta(t, 0.8, levenshteinSimilarity("путин", "путен"), 1e-9)
	assert.InDelta(t, jaroWinkler("putin", "puten"), jaroWinkler("путин", "путен"), 1e-9)
	assert.Len(t, generateNGrams("путин", 3), 3)
	assert.Equal(t, "", soundex("путин"))
	assert.Equal(t, "", metaphone("путин"))
}
