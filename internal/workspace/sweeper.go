package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper periodically destroys artifacts left behind by requests that never
// reached their own cleanup (e.g. a crashed goroutine).
type Sweeper struct {
	ws     *Workspace
	cron   *cron.Cron
	maxAge time.Duration
	logger *slog.Logger
}

// NewSweeper schedules Sweep(maxAge) on the cron schedule spec (standard
// five-field expressions or descriptors such as "@every 5m").
func NewSweeper(log *slog.Logger, ws *Workspace, spec string, maxAge time.Duration) (*Sweeper, error) {
	if log == nil {
		log = slog.Default()
	}
	s := &Sweeper{
		ws:     ws,
		maxAge: maxAge,
		logger: log.With(slog.String("service", "sweeper")),
	}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(cron.WithParser(parser))
	if _, err := s.cron.AddFunc(spec, func() { s.RunOnce() }); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return s, nil
}

// RunOnce performs a single sweep and returns the number of files removed.
func (s *Sweeper) RunOnce() int {
	removed, err := s.ws.Sweep(s.maxAge)
	if err != nil {
		s.logger.Error("sweep failed", slog.Any("error", err))
		return removed
	}
	if removed > 0 {
		s.logger.Warn("removed stale artifacts", slog.Int("count", removed), slog.Duration("max_age", s.maxAge))
	}
	return removed
}

// Start begins the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep, bounded by ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
