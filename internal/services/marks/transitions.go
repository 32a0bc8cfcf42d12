package marks

import (
	"context"
	"time"

	"github.com/BearBump/MarkBox/internal/audit"
	"github.com/BearBump/MarkBox/internal/broker/messages"
	"github.com/BearBump/MarkBox/internal/models"
	"github.com/BearBump/MarkBox/internal/storage/pgmark"
	"github.com/pkg/errors"
)

func (s *Service) getForTransition(ctx context.Context, code string) (*models.Mark, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.GetMarkByCode(sctx, code)
}

func (s *Service) applyTransition(ctx context.Context, upd pgmark.MarkTransition) (*models.Mark, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.repo.ApplyTransition(sctx, upd)
}

func (s *Service) Block(ctx context.Context, code, reason, actor string) (*models.Mark, error) {
	m, err := s.getForTransition(ctx, code)
	if err != nil {
		return nil, err
	}
	if m.Status == models.MarkStatusBlocked {
		return nil, errors.Wrap(models.ErrInvalidState, "mark is already blocked")
	}
	if models.IsTerminalStatus(m.Status) {
		return nil, errors.Wrapf(models.ErrInvalidState, "cannot block mark in status %s", m.Status)
	}

	now := time.Now().UTC()
	updated, err := s.applyTransition(ctx, pgmark.MarkTransition{
		Code:        code,
		Status:      models.MarkStatusBlocked,
		BlockReason: &reason,
		BlockedBy:   &actor,
		BlockedAt:   &now,
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, code)
	s.auditor.Record(ctx, audit.Entry{
		Action: messages.AuditActionBlock, Code: code, Actor: actor, Reason: reason,
		Before: m, After: updated,
	})
	return updated, nil
}

// Unblock возвращает марку в ACTIVE и обнуляет поля блокировки.
func (s *Service) Unblock(ctx context.Context, code, reason, actor string) (*models.Mark, error) {
	m, err := s.getForTransition(ctx, code)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MarkStatusBlocked {
		return nil, errors.Wrap(models.ErrInvalidState, "mark is not blocked")
	}

	updated, err := s.applyTransition(ctx, pgmark.MarkTransition{
		Code:   code,
		Status: models.MarkStatusActive,
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, code)
	s.auditor.Record(ctx, audit.Entry{
		Action: messages.AuditActionUnblock, Code: code, Actor: actor, Reason: reason,
		Before: m, After: updated,
	})
	return updated, nil
}

// MarkUsed — погашение: терминальный переход ACTIVE → USED.
// Триггер приходит извне (сканирование при продаже/выдаче).
func (s *Service) MarkUsed(ctx context.Context, code, actor string) (*models.Mark, error) {
	m, err := s.getForTransition(ctx, code)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MarkStatusActive {
		return nil, errors.Wrapf(models.ErrInvalidState, "cannot use mark in status %s", m.Status)
	}

	updated, err := s.applyTransition(ctx, pgmark.MarkTransition{
		Code:   code,
		Status: models.MarkStatusUsed,
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, code)
	s.auditor.Record(ctx, audit.Entry{
		Action: messages.AuditActionUse, Code: code, Actor: actor,
		Before: m, After: updated,
	})
	return updated, nil
}

func (s *Service) BulkBlock(ctx context.Context, codes []string, reason, actor string) (*models.BulkResult, error) {
	return s.bulkTransition(ctx, codes, models.MarkStatusBlocked, reason, actor)
}

func (s *Service) BulkUnblock(ctx context.Context, codes []string, reason, actor string) (*models.BulkResult, error) {
	return s.bulkTransition(ctx, codes, models.MarkStatusActive, reason, actor)
}

// bulkTransition обрабатывает коды чанками: bulk-чтение, одна batch-запись
// на чанк, по-кодовые отказы копятся в результате. Плохие коды операцию
// не валят — частичный успех здесь норма. Ошибка самой БД фатальна.
func (s *Service) bulkTransition(ctx context.Context, codes []string, target, reason, actor string) (*models.BulkResult, error) {
	start := time.Now()

	if len(codes) == 0 {
		return nil, errors.New("codes is empty")
	}

	clean := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		clean = append(clean, c)
	}

	res := &models.BulkResult{
		SuccessCodes: []string{},
		Failures:     []models.BulkFailure{},
	}

	action := messages.AuditActionBlock
	if target == models.MarkStatusActive {
		action = messages.AuditActionUnblock
	}

	for from := 0; from < len(clean); from += s.chunkSize {
		to := from + s.chunkSize
		if to > len(clean) {
			to = len(clean)
		}
		chunk := clean[from:to]

		sctx, cancel := s.storeCtx(ctx)
		found, err := s.repo.GetMarksByCodes(sctx, chunk)
		cancel()
		if err != nil {
			return nil, err
		}
		byCode := make(map[string]*models.Mark, len(found))
		for _, m := range found {
			byCode[m.Code] = m
		}

		now := time.Now().UTC()
		upds := make([]pgmark.MarkTransition, 0, len(chunk))
		befores := make([]*models.Mark, 0, len(chunk))

		for _, code := range chunk {
			m, ok := byCode[code]
			if !ok {
				res.Failures = append(res.Failures, models.BulkFailure{Code: code, Reason: reasonNotFound})
				continue
			}

			if target == models.MarkStatusBlocked {
				switch m.Status {
				case models.MarkStatusBlocked:
					res.Failures = append(res.Failures, models.BulkFailure{Code: code, Reason: "already blocked"})
					continue
				case models.MarkStatusExpired:
					res.Failures = append(res.Failures, models.BulkFailure{Code: code, Reason: "mark is expired"})
					continue
				case models.MarkStatusUsed:
					res.Failures = append(res.Failures, models.BulkFailure{Code: code, Reason: "mark is used"})
					continue
				}
				upds = append(upds, pgmark.MarkTransition{
					Code:        code,
					Status:      models.MarkStatusBlocked,
					BlockReason: &reason,
					BlockedBy:   &actor,
					BlockedAt:   &now,
				})
			} else {
				if m.Status != models.MarkStatusBlocked {
					res.Failures = append(res.Failures, models.BulkFailure{Code: code, Reason: "not blocked"})
					continue
				}
				upds = append(upds, pgmark.MarkTransition{
					Code:   code,
					Status: models.MarkStatusActive,
				})
			}
			befores = append(befores, m)
		}

		if len(upds) == 0 {
			continue
		}
		// Чанк пишется атомарно: либо весь, либо операция падает целиком.
		wctx, wcancel := s.storeCtx(ctx)
		err = s.repo.ApplyTransitions(wctx, upds)
		wcancel()
		if err != nil {
			return nil, err
		}
		for i, upd := range upds {
			s.invalidate(ctx, upd.Code)
			s.auditor.Record(ctx, audit.Entry{
				Action: action, Code: upd.Code, Actor: actor, Reason: reason,
				Before: befores[i],
			})
			res.SuccessCodes = append(res.SuccessCodes, upd.Code)
		}
	}

	res.SuccessCount = len(res.SuccessCodes)
	res.FailureCount = len(res.Failures)
	res.ProcessingTimeMs = time.Since(start).Milliseconds()
	return res, nil
}
