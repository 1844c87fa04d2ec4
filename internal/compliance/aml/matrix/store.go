package matrix

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/pkg/errors"
)

// Archive persists every published matrix version
type Archive interface {
	SaveMatrix(ctx context.Context, m *RiskMatrix) error
	LatestMatrix(ctx context.Context) (*RiskMatrix, error)
}

// Store serves the active matrix. Readers take an immutable pointer; an update publishes a new version.
type Store struct {
	mu      sync.Mutex
	current atomic.Pointer[RiskMatrix]
	archive Archive
	logger  *zap.Logger
	now     func() time.Time
}

// NewStore creates a store seeded with initial. A nil archive keeps versions in memory only.
func NewStore(initial *RiskMatrix, archive Archive, logger *zap.Logger) (*Store, error) {
	if initial == nil {
		initial = Default()
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &Store{archive: archive, logger: logger, now: time.Now}
	s.current.Store(initial.Clone())
	return s, nil
}

// Restore replaces the seed with the newest archived version, if any.
func (s *Store) Restore(ctx context.Context) error {
	if s.archive == nil {
		return nil
	}
	latest, err := s.archive.LatestMatrix(ctx)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			return s.archive.SaveMatrix(ctx, s.Current())
		}
		return err
	}
	if err := latest.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.current.Store(latest.Clone())
	s.mu.Unlock()
	s.logger.Info("Restored risk matrix", zap.Int("version", latest.Version))
	return nil
}

// Current returns the active matrix. Callers must not modify it.
func (s *Store) Current() *RiskMatrix {
	return s.current.Load()
}

// Update validates next, assigns it the following version number, archives it and makes it active.
// In-flight requests keep the version they started with.
func (s *Store) Update(ctx context.Context, next *RiskMatrix, by string) (*RiskMatrix, error) {
	if next == nil {
		return nil, errors.Validation.Explain("risk matrix is required")
	}
	if err := next.Validate(); err != nil {
		// rejected updates surface as validation errors
		var e *errors.Error
		if errors.As(err, &e) {
			return nil, errors.Validation.Explain("%s", e.Message).WithFields(e.Fields)
		}
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	published := next.Clone()
	published.Version = s.current.Load().Version + 1
	published.UpdatedBy = by
	published.UpdatedAt = s.now().UTC()

	if s.archive != nil {
		if err := s.archive.SaveMatrix(ctx, published); err != nil {
			return nil, errors.Persistence.Explain("failed to archive risk matrix").Wrap(err)
		}
	}
	s.current.Store(published)
	s.logger.Info("Risk matrix updated", zap.Int("version", published.Version), zap.String("updated_by", by))
	return published, nil
}
