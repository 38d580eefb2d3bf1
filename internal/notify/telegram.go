package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"cabinbook/internal/domain"
	"cabinbook/internal/events"
	"cabinbook/internal/metrics"
)

// TelegramSender is the subset of the Bot API client the sink uses.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramConfig tunes delivery.
type TelegramConfig struct {
	Rate        float64
	Burst       int
	MaxRetries  int
	RetryDelay  time.Duration
	SendTimeout time.Duration
}

// DefaultTelegramConfig stays under the Bot API global limit.
func DefaultTelegramConfig() TelegramConfig {
	return TelegramConfig{
		Rate:        20,
		Burst:       30,
		MaxRetries:  3,
		RetryDelay:  time.Second,
		SendTimeout: 30 * time.Second,
	}
}

// TelegramSink sends notify.* events to the requester's chat.
type TelegramSink struct {
	sender    TelegramSender
	directory domain.Directory
	catalog   domain.Catalog
	limiter   *rate.Limiter
	cfg       TelegramConfig
	logger    zerolog.Logger
}

// NewTelegramBot connects to the Bot API with token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return api, nil
}

func NewTelegramSink(sender TelegramSender, directory domain.Directory, catalog domain.Catalog, cfg TelegramConfig, logger zerolog.Logger) *TelegramSink {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultTelegramConfig().Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultTelegramConfig().SendTimeout
	}
	return &TelegramSink{
		sender:    sender,
		directory: directory,
		catalog:   catalog,
		limiter:   rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		cfg:       cfg,
		logger:    logger.With().Str("component", "telegram_sink").Logger(),
	}
}

// TelegramEventTypes are the notification events delivered to chats.
var TelegramEventTypes = []string{events.NotifyReassignment, events.NotifyRejection, events.NotifyReminder}

// Attach subscribes the sink to the notification events of bus.
func (s *TelegramSink) Attach(bus *events.EventBus) {
	for _, t := range TelegramEventTypes {
		bus.Subscribe(t, s.Handle)
	}
}

// Handle delivers one notification. Requesters without a chat are skipped.
func (s *TelegramSink) Handle(ev events.Event) error {
	var p events.NotificationPayload
	if err := ev.Decode(&p); err != nil {
		return fmt.Errorf("decode %s: %w", ev.Type, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SendTimeout)
	defer cancel()

	requester, err := s.directory.GetRequester(ctx, p.RequesterID)
	if err != nil {
		return fmt.Errorf("resolve requester %d: %w", p.RequesterID, err)
	}
	if requester.ChatID == 0 {
		s.logger.Debug().Int64("requester_id", p.RequesterID).Msg("no chat bound, skipping")
		return nil
	}

	text := s.format(ctx, ev.Type, p)
	err = s.send(ctx, tgbotapi.NewMessage(requester.ChatID, text))
	metrics.IncNotification("telegram", err == nil)
	if err != nil {
		return fmt.Errorf("send to requester %d: %w", p.RequesterID, err)
	}
	return nil
}

func (s *TelegramSink) send(ctx context.Context, msg tgbotapi.MessageConfig) error {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
		_, err := s.sender.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err

		wait := s.cfg.RetryDelay * time.Duration(attempt+1)
		var tgErr *tgbotapi.Error
		if errors.As(err, &tgErr) {
			switch tgErr.Code {
			case 429:
				if tgErr.RetryAfter > 0 {
					wait = time.Duration(tgErr.RetryAfter) * time.Second
				}
			case 400, 403:
				return err
			}
		}
		if attempt == s.cfg.MaxRetries {
			break
		}
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Dur("delay", wait).Msg("retrying telegram send")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}

func (s *TelegramSink) format(ctx context.Context, eventType string, p events.NotificationPayload) string {
	switch eventType {
	case events.NotifyReassignment:
		return fmt.Sprintf("Your reservation was moved from %s to %s.\nReason: %s",
			s.cabinName(ctx, p.OldCabinID), s.cabinName(ctx, p.NewCabinID), p.Reason)
	case events.NotifyReminder:
		return fmt.Sprintf("Reminder: %s is booked for you on %s at %s.",
			s.cabinName(ctx, p.NewCabinID), p.Date, p.Interval)
	default:
		return fmt.Sprintf("Your reservation was rejected.\nReason: %s", p.Reason)
	}
}

func (s *TelegramSink) cabinName(ctx context.Context, id int64) string {
	if s.catalog != nil {
		if c, err := s.catalog.GetCabin(ctx, id); err == nil {
			return c.Name
		}
	}
	return fmt.Sprintf("cabin #%d", id)
}
