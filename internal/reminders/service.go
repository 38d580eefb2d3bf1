// Package reminders tells requesters about approved reservations that are
// about to start.
package reminders

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"cabinbook/internal/events"
	"cabinbook/internal/metrics"
	"cabinbook/internal/model"
)

// Source lists reservations.
type Source interface {
	ListReservations(ctx context.Context, filter model.ReservationFilter) ([]*model.Reservation, error)
}

// Publisher is where reminders go; the event bus fans them out to sinks.
type Publisher interface {
	PublishJSON(eventType string, payload any) error
}

// Ledger records which reminders already went out. Claim returns false when
// key was claimed before and has not expired. Release drops a claim whose
// reminder never went out so the next pass retries it.
type Ledger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Config struct {
	// CheckInterval is how often upcoming reservations are scanned.
	CheckInterval time.Duration
	// Lead is how long before the start a reminder is due.
	Lead time.Duration
	// MaxConcurrent limits parallel publishes.
	MaxConcurrent int
}

func DefaultConfig() Config {
	return Config{
		CheckInterval: time.Minute,
		Lead:          time.Hour,
		MaxConcurrent: 10,
	}
}

type Service struct {
	src    Source
	pub    Publisher
	ledger Ledger
	cfg    Config
	now    func() time.Time
	logger zerolog.Logger
}

// NewService builds the reminder loop. A nil ledger keeps claims in memory.
func NewService(src Source, pub Publisher, ledger Ledger, cfg Config, logger zerolog.Logger) *Service {
	def := DefaultConfig()
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = def.CheckInterval
	}
	if cfg.Lead <= 0 {
		cfg.Lead = def.Lead
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Service{
		src:    src,
		pub:    pub,
		ledger: ledger,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With().Str("component", "reminders").Logger(),
	}
}

// Start runs a check immediately and then every CheckInterval until ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.logger.Info().Dur("check_interval", s.cfg.CheckInterval).Dur("lead", s.cfg.Lead).Msg("reminder service started")
	s.check(ctx)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("reminder service stopped")
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Service) check(ctx context.Context) {
	sent, err := s.CheckNow(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("reminder check failed")
		return
	}
	if sent > 0 {
		s.logger.Info().Int("sent", sent).Msg("reminders sent")
	}
}

// CheckNow publishes a reminder for every approved reservation starting
// within Lead that has not been reminded yet. It returns how many went out.
func (s *Service) CheckNow(ctx context.Context) (int, error) {
	now := s.now()
	today := model.DateOf(now)
	rows, err := s.src.ListReservations(ctx, model.ReservationFilter{
		Statuses: []model.Status{model.StatusApproved},
		From:     today,
		To:       today.AddDate(0, 0, 1),
	})
	if err != nil {
		return 0, fmt.Errorf("list upcoming reservations: %w", err)
	}

	var (
		sent atomic.Int32
		wg   sync.WaitGroup
		sem  = make(chan struct{}, s.cfg.MaxConcurrent)
	)
	for _, r := range rows {
		start := StartOf(r, now.Location())
		until := start.Sub(now)
		if until <= 0 || until > s.cfg.Lead {
			continue
		}

		claimed, err := s.ledger.Claim(ctx, Key(r), until+time.Hour)
		if err != nil {
			s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to claim reminder")
			continue
		}
		if !claimed {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(r *model.Reservation) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.pub.PublishJSON(events.NotifyReminder, events.NotificationPayload{
				RequesterID:   r.RequesterID,
				NewCabinID:    r.CabinID,
				ReservationID: r.ID,
				Date:          r.Date.Format(model.DateLayout),
				Interval:      r.Interval.String(),
			})
			metrics.IncReminder(err == nil)
			if err != nil {
				s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to publish reminder")
				if err := s.ledger.Release(ctx, Key(r)); err != nil {
					s.logger.Error().Err(err).Str("reservation_id", r.ID).Msg("failed to release reminder claim")
				}
				return
			}
			sent.Add(1)
		}(r)
	}
	wg.Wait()
	return int(sent.Load()), nil
}

// StartOf is the wall-clock start of r in loc.
func StartOf(r *model.Reservation, loc *time.Location) time.Time {
	y, m, d := r.Date.Date()
	return time.Date(y, m, d, 0, r.Interval.Start, 0, 0, loc)
}

// Key identifies one reminder. A reservation moved to another cabin or
// interval is reminded again.
func Key(r *model.Reservation) string {
	return fmt.Sprintf("%s:%d:%s:%s", r.ID, r.CabinID, r.Date.Format(model.DateLayout), r.Interval)
}
