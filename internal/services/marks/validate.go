package marks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/MarkBox/internal/audit"
	"github.com/BearBump/MarkBox/internal/broker/messages"
	"github.com/BearBump/MarkBox/internal/cache"
	"github.com/BearBump/MarkBox/internal/models"
	"github.com/pkg/errors"
)

const (
	reasonNotFound    = "not found"
	reasonExpired     = "product expired"
	reasonAlreadyUsed = "already used"
)

// Validate — cache-aside проверка марки.
// Попадание в validation:{code} возвращается как есть и счётчик НЕ
// инкрементируется: закэшированный результат — это недавняя настоящая
// проверка, повторно её не считаем.
func (s *Service) Validate(ctx context.Context, code string, vctx models.ValidationContext) (*models.ValidationResult, error) {
	if code == "" {
		return nil, errors.New("code is required")
	}

	if b, ok := s.cacheGet(ctx, cache.ValidationKey(code)); ok {
		var cached models.ValidationResult
		if json.Unmarshal(b, &cached) == nil {
			return &cached, nil
		}
	}

	now := time.Now().UTC()

	sctx, cancel := s.storeCtx(ctx)
	m, err := s.repo.GetMarkByCode(sctx, code)
	cancel()
	if errors.Is(err, models.ErrNotFound) {
		res := &models.ValidationResult{Code: code, Reason: reasonNotFound, ValidatedAt: now}
		// Негативный кэш: защита БД от флуда повторными промахами.
		s.cacheResult(ctx, res)
		return res, nil
	}
	if err != nil {
		return nil, err
	}

	res := &models.ValidationResult{Code: code, Mark: m, ValidatedAt: now}
	switch m.Status {
	case models.MarkStatusBlocked:
		reason := ""
		if m.BlockReason != nil {
			reason = *m.BlockReason
		}
		res.Reason = fmt.Sprintf("mark is blocked: %s", reason)
	case models.MarkStatusExpired:
		res.Reason = reasonExpired
	case models.MarkStatusUsed:
		res.Reason = reasonAlreadyUsed
	default:
		// Свипер ходит по расписанию, поэтому проверка по времени
		// главнее ещё не обновлённого статуса.
		if m.ExpiryDate.Before(now) {
			res.Reason = reasonExpired
		} else {
			res.IsValid = true
		}
	}

	// Счётчик растёт на каждой попытке, валидной или нет.
	ictx, icancel := s.storeCtx(ctx)
	count, err := s.repo.IncrementValidation(ictx, code, now)
	icancel()
	if err != nil {
		return nil, err
	}
	m.ValidationCount = count
	m.LastValidatedAt = &now

	// Закэшированная марка устарела (счётчик изменился).
	s.invalidate(ctx, code)

	s.auditor.Record(ctx, audit.Entry{
		Action: messages.AuditActionValidate,
		Code:   code,
		Actor:  vctx.Actor,
		Reason: res.Reason,
		After:  m,
	})

	s.cacheResult(ctx, res)
	return res, nil
}

func (s *Service) cacheResult(ctx context.Context, res *models.ValidationResult) {
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	s.cacheSet(ctx, cache.ValidationKey(res.Code), b, s.validationTTL)
}
