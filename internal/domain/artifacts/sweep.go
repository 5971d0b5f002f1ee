package artifacts

import (
	"context"
	"time"

	"telegram-history-mcp/internal/infra/logger"
)

// Sweeper периодически запускает уборку просроченных выгрузок.
type Sweeper struct {
	store    *Store
	interval time.Duration
}

// NewSweeper создаёт сборщик с заданным интервалом между проходами.
func NewSweeper(store *Store, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{store: store, interval: interval}
}

// Run крутит уборку до отмены контекста. Первый проход выполняется сразу,
// чтобы подобрать просроченное за время простоя процесса.
func (s *Sweeper) Run(ctx context.Context) {
	s.pass()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pass()
		}
	}
}

func (s *Sweeper) pass() {
	removed, err := s.store.SweepOnce(time.Now())
	if err != nil {
		logger.Warnf("artifacts: sweep failed: %v", err)
		return
	}
	if removed > 0 {
		logger.Infof("artifacts: sweep removed %d expired exports", removed)
	}
}
