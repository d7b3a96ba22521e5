// Package expiry закрывает предложения, которые никто не принял в отведенное окно.
// Сервер - источник истины: таймер клиента только подсказка.
package expiry

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const sweepBatch = 100

// DueLister отдает предложения с истекшим сроком
type DueLister interface {
	Due(ctx context.Context, now time.Time, limit int64) ([]uuid.UUID, error)
}

// Expirer закрывает просроченное предложение
type Expirer interface {
	ExpireOffer(ctx context.Context, id uuid.UUID) error
}

type Sweeper struct {
	offers   DueLister
	expirer  Expirer
	logger   *logrus.Logger
	interval time.Duration
	now      func() time.Time
	cron     *cron.Cron
}

func NewSweeper(offers DueLister, expirer Expirer, logger *logrus.Logger, interval time.Duration) *Sweeper {
	cronLogger := cron.PrintfLogger(logger)
	return &Sweeper{
		offers:   offers,
		expirer:  expirer,
		logger:   logger,
		interval: interval,
		now:      time.Now,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}
}

// Start регистрирует задачу "@every interval" и запускает планировщик
func (s *Sweeper) Start(ctx context.Context) error {
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.WithError(err).Error("Offer expiry sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule offer sweep %q: %w", schedule, err)
	}
	s.logger.WithField("interval", s.interval).Info("Starting offer expiry sweeper...")
	s.cron.Start()
	return nil
}

// Stop останавливает планировщик, возвращенный контекст закрывается после завершения текущего прохода
func (s *Sweeper) Stop() context.Context {
	s.logger.Info("Stopping offer expiry sweeper.")
	return s.cron.Stop()
}

// RunOnce закрывает все предложения со сроком до текущего момента
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	due, err := s.offers.Due(ctx, s.now(), sweepBatch)
	if err != nil {
		return 0, fmt.Errorf("expiry: could not list due offers: %w", err)
	}

	expired := 0
	for _, id := range due {
		if err := s.expirer.ExpireOffer(ctx, id); err != nil {
			s.logger.WithFields(logrus.Fields{
				"service":     "expiry",
				"method":      "RunOnce",
				"incident_id": id,
			}).WithError(err).Warn("Failed to expire offer")
			continue
		}
		expired++
	}
	if expired > 0 {
		s.logger.WithField("count", expired).Debug("Expired dispatch offers")
	}
	return expired, nil
}
