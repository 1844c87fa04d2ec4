package matrix

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/pkg/errors"
)

func TestDecideTiers(t *testing.T) {
	m := Default()
	cases := []struct {
		score float64
		level aml.RiskLevel
		watch bool
	}{
		{0, aml.RiskLevelLow, false},
		{0.29, aml.RiskLevelLow, false},
		{0.3, aml.RiskLevelLow, true},
		{0.6, aml.RiskLevelMedium, false},
		{0.79, aml.RiskLevelMedium, false},
		{0.8, aml.RiskLevelHigh, false},
		{0.95, aml.RiskLevelCritical, false},
		{1, aml.RiskLevelCritical, false},
	}
	for _, tc := range cases {
		d := m.Decide(tc.score)
		assert.Equal(t, tc.level, d.Level, "score %v", tc.score)
		assert.Equal(t, tc.watch, d.Watch, "score %v", tc.score)
	}
}

func TestDecideActions(t *testing.T) {
	m := Default()
	assert.Equal(t, []string{"Standard monitoring"}, m.Decide(0.1).Actions)
	assert.Equal(t, []string{"Standard monitoring", "Add to watchlist"}, m.Decide(0.4).Actions)
	assert.Contains(t, m.Decide(0.85).Actions, "Manual review required")
	assert.Contains(t, m.Decide(0.85).Actions, "Enhanced due diligence")

	// appending watch actions must not leak into the matrix
	assert.Len(t, m.Actions[aml.RiskLevelLow], 1)
}

func TestDecideMonotonic(t *testing.T) {
	m := Default()
	prev := m.Decide(0).Level.Rank()
	for i := 1; i <= 1000; i++ {
		rank := m.Decide(float64(i) / 1000).Level.Rank()
		assert.GreaterOrEqual(t, rank, prev)
		prev = rank
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Default().Validate())

	m := Default()
	m.Thresholds.Medium = 0.2
	assert.ErrorIs(t, m.Validate(), errors.Configuration)

	m = Default()
	m.Thresholds.Critical = 1.2
	assert.Error(t, m.Validate())

	m = Default()
	m.CategoryWeights["pep_match"] = -0.1
	m.CategoryWeights["made_up"] = 0.3
	err := m.Validate()
	var e *errors.Error
	require.ErrorAs(t, err, &e)
	require.Len(t, e.Fields, 2)
	assert.Equal(t, "category_weights.made_up", e.Fields[0].Field)
	assert.Equal(t, "category_weights.pep_match", e.Fields[1].Field)
}

func TestLoadFileMergesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matrix.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
thresholds: {low: 0.2, medium: 0.5, high: 0.7, critical: 0.9}
category_weights:
  pep_match: 0.6
watch_actions: ["Periodic review"]
`), 0o600))

	m, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.7, m.Thresholds.High)
	assert.Equal(t, 0.6, m.CategoryWeights["pep_match"])
	assert.Equal(t, 1.0, m.CategoryWeights["sanctions_match"])
	assert.Equal(t, []string{"Periodic review"}, m.WatchActions)
	assert.Equal(t, 1, m.Version)
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matrix.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds: {low: 0.9, medium: 0.5, high: 0.7, critical: 0.95}\n"), 0o600))

	_, err := LoadFile(path)
	assert.ErrorIs(t, err, errors.Configuration)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, errors.Configuration)
}

type memArchive struct {
	mu       sync.Mutex
	versions []*RiskMatrix
}

func (a *memArchive) SaveMatrix(_ context.Context, m *RiskMatrix) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.versions = append(a.versions, m.Clone())
	return nil
}

func (a *memArchive) LatestMatrix(context.Context) (*RiskMatrix, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.versions) == 0 {
		return nil, errors.NotFound
	}
	return a.versions[len(a.versions)-1].Clone(), nil
}

func TestStoreUpdateVersions(t *testing.T) {
	archive := &memArchive{}
	s, err := NewStore(nil, archive, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Restore(context.Background()))
	require.Len(t, archive.versions, 1)

	old := s.Current()
	next := old.Clone()
	next.Thresholds.High = 0.75

	published, err := s.Update(context.Background(), next, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 2, published.Version)
	assert.Equal(t, "admin-1", published.UpdatedBy)
	assert.Same(t, published, s.Current())

	assert.Equal(t, 1, old.Version, "readers holding the old version are unaffected")
	assert.Equal(t, 0.8, old.Thresholds.High)
	require.Len(t, archive.versions, 2)

	next.Thresholds.High = 0.1
	assert.Equal(t, 0.75, s.Current().Thresholds.High, "published copy is detached from the input")
}

func TestStoreUpdateRejectsInvalid(t *testing.T) {
	s, err := NewStore(nil, nil, zap.NewNop())
	require.NoError(t, err)

	bad := Default()
	bad.Thresholds.Low = 0.7
	_, err = s.Update(context.Background(), bad, "admin-1")
	assert.ErrorIs(t, err, errors.Validation)
	assert.Equal(t, 1, s.Current().Version)
}

func TestStoreRestoreLatest(t *testing.T) {
	archived := Default()
	archived.Version = 7
	archive := &memArchive{versions: []*RiskMatrix{archived}}

	s, err := NewStore(nil, archive, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, s.Restore(context.Background()))
	assert.Equal(t, 7, s.Current().Version)
}
