// Package screening holds the reference-data screeners and the list refresh machinery.
package screening

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/internal/compliance/aml/normalize"
)

// Screener queries one category of reference data for a subject.
// Implementations must respect ctx and must not mutate the subject.
type Screener interface {
	Kind() aml.SourceKind
	Screen(ctx context.Context, subject *normalize.Subject, opts aml.ScreeningOptions) ([]aml.MatchCandidate, error)
}

// PartialError reports that some of a screener's underlying sources could not be queried.
// Candidates returned with it are still valid.
type PartialError struct {
	Kind        aml.SourceKind
	Unavailable []string
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%s: unavailable sources %s", e.Kind, strings.Join(e.Unavailable, ","))
}

// DegradedNames returns "kind:source" labels for each unavailable source.
func (e *PartialError) DegradedNames() []string {
	out := make([]string, len(e.Unavailable))
	for i, u := range e.Unavailable {
		out[i] = string(e.Kind) + ":" + u
	}
	return out
}

// Registry is the fixed set of enabled screeners keyed by kind
type Registry struct {
	screeners map[aml.SourceKind]Screener
}

// NewRegistry builds a registry. Later screeners of the same kind replace earlier ones.
func NewRegistry(screeners ...Screener) *Registry {
	r := &Registry{screeners: make(map[aml.SourceKind]Screener, len(screeners))}
	for _, s := range screeners {
		if s != nil {
			r.screeners[s.Kind()] = s
		}
	}
	return r
}

// Select returns the enabled screeners the options ask for, ordered by kind.
func (r *Registry) Select(opts aml.ScreeningOptions) []Screener {
	out := make([]Screener, 0, len(r.screeners))
	for _, kind := range aml.AllSources {
		s, ok := r.screeners[kind]
		if ok && opts.WantsSource(kind) {
			out = append(out, s)
		}
	}
	return out
}

// Kinds lists the enabled screener kinds.
func (r *Registry) Kinds() []aml.SourceKind {
	out := make([]aml.SourceKind, 0, len(r.screeners))
	for k := range r.screeners {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// sortCandidates orders by severity, then similarity, then list and entry ID.
func sortCandidates(c []aml.MatchCandidate) {
	sort.SliceStable(c, func(i, j int) bool {
		if c[i].Severity != c[j].Severity {
			return c[i].Severity > c[j].Severity
		}
		if c[i].Similarity != c[j].Similarity {
			return c[i].Similarity > c[j].Similarity
		}
		if c[i].ListID != c[j].ListID {
			return c[i].ListID < c[j].ListID
		}
		return c[i].EntryID < c[j].EntryID
	})
}

// checkEvery is how many entries a scan loop processes between context checks.
const checkEvery = 256
