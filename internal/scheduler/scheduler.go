// Package scheduler runs the periodic reference refreshes and re-screenings.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/amlscreen/internal/compliance/aml"
	"github.com/Aidin1998/amlscreen/pkg/metrics"
)

// Config defines the job intervals. A zero interval disables that job.
type Config struct {
	Enabled           bool          `mapstructure:"enabled"`
	SanctionsInterval time.Duration `mapstructure:"sanctions_interval" validate:"gte=0"`
	PEPInterval       time.Duration `mapstructure:"pep_interval" validate:"gte=0"`
	MediaInterval     time.Duration `mapstructure:"media_interval" validate:"gte=0"`
	WalletInterval    time.Duration `mapstructure:"wallet_interval" validate:"gte=0"`
	RescreenInterval  time.Duration `mapstructure:"rescreen_interval" validate:"gte=0"`
	RescreenBatch     int           `mapstructure:"rescreen_batch" validate:"gte=0"`
	RunOnStart        bool          `mapstructure:"run_on_start"`
}

// DefaultConfig refreshes sanctions daily, PEP weekly and re-screens every user monthly.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		SanctionsInterval: 24 * time.Hour,
		PEPInterval:       7 * 24 * time.Hour,
		MediaInterval:     24 * time.Hour,
		WalletInterval:    24 * time.Hour,
		RescreenInterval:  30 * 24 * time.Hour,
		RescreenBatch:     100,
		RunOnStart:        false,
	}
}

// Refresher reloads the reference data of one source kind
type Refresher interface {
	RefreshKind(ctx context.Context, kind aml.SourceKind) error
}

// Rescreener repeats a user's latest screening
type Rescreener interface {
	Rescreen(ctx context.Context, userID string) (*aml.ScreeningResult, error)
}

// UserLister pages through users that have been screened before
type UserLister interface {
	ScreenedUsers(ctx context.Context, after string, limit int) ([]string, error)
}

type job struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// Scheduler owns one goroutine per enabled job
type Scheduler struct {
	logger *zap.SugaredLogger
	config Config
	jobs   []job

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds the scheduler. A nil refresher or rescreener disables the jobs that need it.
func New(logger *zap.SugaredLogger, config Config, refresher Refresher, rescreener Rescreener, users UserLister) *Scheduler {
	s := &Scheduler{logger: logger, config: config}
	if refresher != nil {
		for _, r := range []struct {
			kind     aml.SourceKind
			interval time.Duration
		}{
			{aml.SourceSanctions, config.SanctionsInterval},
			{aml.SourcePEP, config.PEPInterval},
			{aml.SourceAdverseMedia, config.MediaInterval},
			{aml.SourceWalletRisk, config.WalletInterval},
		} {
			kind := r.kind
			s.add("refresh_"+string(kind), r.interval, func(ctx context.Context) error {
				return refresher.RefreshKind(ctx, kind)
			})
		}
	}
	if rescreener != nil && users != nil {
		s.add("rescreen", config.RescreenInterval, func(ctx context.Context) error {
			_, err := RescreenAll(ctx, logger, users, rescreener, config.RescreenBatch)
			return err
		})
	}
	return s
}

func (s *Scheduler) add(name string, interval time.Duration, run func(ctx context.Context) error) {
	if interval <= 0 {
		return
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, run: run})
}

// Jobs lists the names of the scheduled jobs.
func (s *Scheduler) Jobs() []string {
	names := make([]string, len(s.jobs))
	for i, j := range s.jobs {
		names[i] = j.name
	}
	return names
}

// Start launches the job loops. They stop when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info("Scheduler disabled")
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.logger.Infow("Scheduler started", "jobs", s.Jobs())
}

// Stop cancels every job and waits for running ones to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.runJob(ctx, j)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, j)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	log := s.logger.With("job", j.name)
	defer func() {
		if r := recover(); r != nil {
			metrics.JobRuns.WithLabelValues(j.name, "panic").Inc()
			log.Errorw("Scheduled job panic recovered", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	start := time.Now()
	if err := j.run(ctx); err != nil {
		metrics.JobRuns.WithLabelValues(j.name, "failed").Inc()
		log.Warnw("Scheduled job failed", "error", err, "duration", time.Since(start))
		return
	}
	metrics.JobRuns.WithLabelValues(j.name, "succeeded").Inc()
	log.Infow("Scheduled job completed", "duration", time.Since(start))
}

// RescreenAll re-screens every previously screened user, one page at a time.
// A failed user is logged and skipped. It returns the number of users re-screened.
func RescreenAll(ctx context.Context, logger *zap.SugaredLogger, users UserLister, rescreener Rescreener, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	done, failed := 0, 0
	after := ""
	for {
		page, err := users.ScreenedUsers(ctx, after, batch)
		if err != nil {
			return done, err
		}
		for _, userID := range page {
			if err := ctx.Err(); err != nil {
				return done, err
			}
			if _, err := rescreener.Rescreen(ctx, userID); err != nil {
				failed++
				logger.Warnw("Periodic re-screen failed", "user_id", userID, "error", err)
				continue
			}
			done++
		}
		if len(page) < batch {
			break
		}
		after = page[len(page)-1]
	}
	logger.Infow("Periodic re-screen finished", "rescreened", done, "failed", failed)
	return done, nil
}
