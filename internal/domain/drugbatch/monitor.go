package drugbatch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// StaleMonitor periodically reports batches stuck in processing. It only
// observes; recovering a stuck batch is left to an admin.
type StaleMonitor struct {
	batches   Repository
	after     time.Duration
	interval  time.Duration
	metrics   Recorder
	logger    zerolog.Logger
	scheduler *gocron.Scheduler
	now       func() time.Time
}

func NewStaleMonitor(batches Repository, after, interval time.Duration, rec Recorder, logger zerolog.Logger) *StaleMonitor {
	return &StaleMonitor{
		batches:   batches,
		after:     after,
		interval:  interval,
		metrics:   rec,
		logger:    logger,
		scheduler: gocron.NewScheduler(time.UTC),
		now:       time.Now,
	}
}

// Check counts stale batches, publishes the gauge and logs each one.
func (m *StaleMonitor) Check(ctx context.Context) (int, error) {
	stale, err := m.batches.ListStale(ctx, m.now().Add(-m.after))
	if err != nil {
		return 0, fmt.Errorf("list stale batches: %w", err)
	}
	if m.metrics != nil {
		m.metrics.SetStale(len(stale))
	}
	for _, b := range stale {
		m.logger.Warn().
			Str("batch_id", b.ID.String()).
			Int("members", b.MemberCount).
			Int("attempts", b.Attempts).
			Dur("processing_for", m.now().Sub(b.UpdatedAt)).
			Msg("drug batch stuck in processing")
	}
	return len(stale), nil
}

// Start schedules Check every interval and returns immediately.
func (m *StaleMonitor) Start() error {
	if m.interval <= 0 {
		return fmt.Errorf("stale check interval must be positive, got %s", m.interval)
	}
	_, err := m.scheduler.Every(m.interval).SingletonMode().Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := m.Check(ctx); err != nil {
			m.logger.Error().Err(err).Msg("stale batch check failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule stale batch check: %w", err)
	}
	m.scheduler.StartAsync()
	m.logger.Info().Dur("interval", m.interval).Dur("threshold", m.after).Msg("stale batch monitor started")
	return nil
}

func (m *StaleMonitor) Stop() {
	m.scheduler.Stop()
}
