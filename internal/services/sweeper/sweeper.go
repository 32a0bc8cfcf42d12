package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/MarkBox/internal/audit"
	"github.com/BearBump/MarkBox/internal/broker/messages"
	"github.com/BearBump/MarkBox/internal/cache"
	"github.com/BearBump/MarkBox/internal/models"
)

type Repository interface {
	FindDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*models.Mark, error)
	ExpireMarks(ctx context.Context, codes []string) (int64, error)
}

// Sweeper по расписанию переводит просроченные марки в EXPIRED.
// Повторный запуск при ещё идущем свипе пропускается (CompareAndSwap),
// иначе два прохода по одним маркам задвоили бы аудит.
type Sweeper struct {
	repo    Repository
	cache   cache.BytesCache
	auditor audit.Recorder

	interval     time.Duration
	batchLimit   int
	storeTimeout time.Duration

	triggerCh chan struct{}
	running   atomic.Bool

	startedAtUnixNano   int64
	lastSweepUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalRuns           atomic.Int64
	totalExpired        atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, c cache.BytesCache, auditor audit.Recorder) *Sweeper {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Sweeper{
		repo:              repo,
		cache:             c,
		auditor:           auditor,
		interval:          24 * time.Hour,
		batchLimit:        1000,
		storeTimeout:      5 * time.Second,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(interval time.Duration, batchLimit int) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	if batchLimit > 0 {
		s.batchLimit = batchLimit
	}
	return s
}

func (s *Sweeper) WithStoreTimeout(d time.Duration) *Sweeper {
	if d > 0 {
		s.storeTimeout = d
	}
	return s
}

// Каждый поход в БД под дедлайном: зависший коннект не должен держать
// running-флаг до рестарта процесса.
func (s *Sweeper) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Trigger форсирует внеплановый свип (best-effort, неблокирующий).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastSweepAt   *time.Time `json:"lastSweepAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalRuns     int64      `json:"totalRuns"`
	TotalExpired  int64      `json:"totalExpired"`
	TotalErrors   int64      `json:"totalErrors"`
	Running       bool       `json:"running"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:    time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalRuns:    s.totalRuns.Load(),
		TotalExpired: s.totalExpired.Load(),
		TotalErrors:  s.totalErrors.Load(),
		Running:      s.running.Load(),
	}
	if n := s.lastSweepUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSweepAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	n, err := s.SweepExpired(ctx)
	if err != nil {
		// Ошибка свипа не валит планировщик: следующий тик повторит
		// попытку, уже EXPIRED марки в выборку не попадут.
		s.totalErrors.Add(1)
		s.lastErrorMu.Lock()
		s.lastError = err.Error()
		s.lastErrorMu.Unlock()
		slog.Error("sweep expired", "error", err.Error())
		return
	}
	if n > 0 {
		slog.Info("sweep expired", "count", n)
	}
}

// SweepExpired выбирает живые марки с expiry_date <= now и пачками
// переводит их в EXPIRED: одна batch-запись на пачку, затем инвалидация
// кэша и аудит по каждой марке. Ноль кандидатов — тихий no-op.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	if !s.running.CompareAndSwap(false, true) {
		slog.Warn("sweep already running, skipping")
		return 0, nil
	}
	defer s.running.Store(false)

	s.totalRuns.Add(1)
	s.lastSweepUnixNano.Store(time.Now().UTC().UnixNano())

	total := 0
	for {
		fctx, fcancel := s.storeCtx(ctx)
		due, err := s.repo.FindDueForExpiry(fctx, time.Now().UTC(), s.batchLimit)
		fcancel()
		if err != nil {
			return total, err
		}
		if len(due) == 0 {
			break
		}

		codes := make([]string, 0, len(due))
		for _, m := range due {
			codes = append(codes, m.Code)
		}

		ectx, ecancel := s.storeCtx(ctx)
		n, err := s.repo.ExpireMarks(ectx, codes)
		ecancel()
		if err != nil {
			return total, err
		}
		total += int(n)
		s.totalExpired.Add(n)

		for _, m := range due {
			if s.cache != nil {
				if err := s.cache.Delete(ctx, cache.MarkKey(m.Code), cache.ValidationKey(m.Code)); err != nil {
					slog.Warn("cache invalidate degraded", "code", m.Code, "error", err.Error())
				}
			}
			s.auditor.Record(ctx, audit.Entry{
				Action: messages.AuditActionExpire,
				Code:   m.Code,
				Before: m,
			})
		}

		if len(due) < s.batchLimit {
			break
		}
	}
	return total, nil
}
