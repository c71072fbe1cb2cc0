// Package scheduler периодически запускает обходы процессов согласования.
package scheduler

import (
	"context"
	"time"

	"github.com/maynagashev/assetkeeper/internal/logger"
)

// DefaultInterval - период обхода по умолчанию.
const DefaultInterval = 2 * time.Minute

// Sweeper - обходы, которые запускает планировщик. Оба идемпотентны.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
	SweepAutoApprovals(ctx context.Context) (int, error)
}

// Scheduler вызывает обходы с фиксированным периодом.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	log      *logger.Logger
}

// New создаёт планировщик; неположительный interval заменяется на DefaultInterval.
func New(sweeper Sweeper, interval time.Duration, log *logger.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{sweeper: sweeper, interval: interval, log: log.Component("scheduler")}
}

// Run выполняет обход сразу и затем на каждом тике, пока ctx не отменён.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Dur("interval", s.interval).Msg("Планировщик обходов запущен")
	s.Tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Планировщик обходов остановлен")
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick выполняет оба обхода один раз. Сначала истечение: просроченный процесс не должен автоодобряться.
func (s *Scheduler) Tick(ctx context.Context) {
	if n, err := s.sweeper.SweepExpired(ctx); err != nil {
		s.log.Error().Err(err).Int("transitioned", n).Msg("Ошибка обхода просроченных согласований")
	}
	if n, err := s.sweeper.SweepAutoApprovals(ctx); err != nil {
		s.log.Error().Err(err).Int("transitioned", n).Msg("Ошибка обхода автоодобрений")
	}
}
