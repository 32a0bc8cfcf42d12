package marks

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"time"

	"github.com/BearBump/MarkBox/internal/audit"
	"github.com/BearBump/MarkBox/internal/broker/messages"
	"github.com/BearBump/MarkBox/internal/cache"
	"github.com/BearBump/MarkBox/internal/integrations/qr"
	"github.com/BearBump/MarkBox/internal/models"
	"github.com/BearBump/MarkBox/internal/storage/pgmark"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateMarks(ctx context.Context, items []models.MarkCreateInput) ([]*models.Mark, error)
	GetMarkByCode(ctx context.Context, code string) (*models.Mark, error)
	GetMarksByCodes(ctx context.Context, codes []string) ([]*models.Mark, error)
	ListMarks(ctx context.Context, f models.ListFilter) ([]*models.Mark, int64, error)
	ListExpiring(ctx context.Context, from, to time.Time, limit, offset int) ([]*models.Mark, int64, error)
	IncrementValidation(ctx context.Context, code string, at time.Time) (int64, error)
	ApplyTransition(ctx context.Context, upd pgmark.MarkTransition) (*models.Mark, error)
	ApplyTransitions(ctx context.Context, upds []pgmark.MarkTransition) error
}

type Generator interface {
	GenerateBatch(ctx context.Context, productCode string, quantity int) ([]string, error)
}

type Service struct {
	repo    Repository
	gen     Generator
	cache   cache.BytesCache
	auditor audit.Recorder
	qr      qr.Renderer

	markTTL       time.Duration
	validationTTL time.Duration
	cacheTimeout  time.Duration
	storeTimeout  time.Duration
	chunkSize     int
}

func New(repo Repository, gen Generator, c cache.BytesCache, auditor audit.Recorder) *Service {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Service{
		repo:          repo,
		gen:           gen,
		cache:         c,
		auditor:       auditor,
		markTTL:       time.Hour,
		validationTTL: 5 * time.Minute,
		cacheTimeout:  200 * time.Millisecond,
		storeTimeout:  5 * time.Second,
		chunkSize:     100,
	}
}

func (s *Service) WithTTLs(markTTL, validationTTL time.Duration) *Service {
	if markTTL > 0 {
		s.markTTL = markTTL
	}
	if validationTTL > 0 {
		s.validationTTL = validationTTL
	}
	return s
}

func (s *Service) WithChunkSize(n int) *Service {
	if n > 0 {
		s.chunkSize = n
	}
	return s
}

func (s *Service) WithCacheTimeout(d time.Duration) *Service {
	if d > 0 {
		s.cacheTimeout = d
	}
	return s
}

func (s *Service) WithStoreTimeout(d time.Duration) *Service {
	if d > 0 {
		s.storeTimeout = d
	}
	return s
}

func (s *Service) WithQRRenderer(r qr.Renderer) *Service {
	s.qr = r
	return s
}

// Зависший коннект к БД не должен вешать операцию: каждый поход в
// хранилище идёт под дедлайном, его истечение — жёсткая ошибка.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

// Кэш строго best-effort: любая ошибка бэкенда — промах/no-op с записью
// в лог, наружу не отдаётся. БД остаётся источником правды.

func (s *Service) cacheGet(ctx context.Context, key string) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	b, ok, err := s.cache.Get(cctx, key)
	if err != nil {
		slog.Warn("cache get degraded", "key", key, "error", err.Error())
		return nil, false
	}
	return b, ok
}

func (s *Service) cacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	if err := s.cache.Set(cctx, key, value, ttl); err != nil {
		slog.Warn("cache set degraded", "key", key, "error", err.Error())
	}
}

// invalidate сбрасывает обе записи марки. Вызывается до возврата успеха
// из любой мутации, чтобы staleness ограничивалась TTL кэша.
func (s *Service) invalidate(ctx context.Context, code string) {
	if s.cache == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, s.cacheTimeout)
	defer cancel()
	if err := s.cache.Delete(cctx, cache.MarkKey(code), cache.ValidationKey(code)); err != nil {
		slog.Warn("cache invalidate degraded", "code", code, "error", err.Error())
	}
}

func (s *Service) cacheMark(ctx context.Context, m *models.Mark) {
	b, err := json.Marshal(m)
	if err != nil {
		return
	}
	s.cacheSet(ctx, cache.MarkKey(m.Code), b, s.markTTL)
}

var gtinRe = regexp.MustCompile(`^[0-9]{8,14}$`)

type GenerateInput struct {
	ProductCode string
	Quantity    int

	ProductionDate time.Time
	ExpiryDate     time.Time

	SupplierID     *string
	ManufacturerID *string
	OrderID        *string
	Metadata       map[string]string

	Actor   string
	EmbedQR bool
}

type GeneratedMark struct {
	Mark *models.Mark `json:"mark"`
	QR   []byte       `json:"qr,omitempty"`
}

type GenerateResult struct {
	Marks            []GeneratedMark `json:"marks"`
	Count            int             `json:"count"`
	BatchID          string          `json:"batchId"`
	ProcessingTimeMs int64           `json:"processingTimeMs"`
}

func (s *Service) GenerateMarks(ctx context.Context, in GenerateInput) (*GenerateResult, error) {
	start := time.Now()

	if !gtinRe.MatchString(in.ProductCode) {
		return nil, errors.New("productCode must be 8-14 digits")
	}
	if in.Quantity <= 0 || in.Quantity > 10_000 {
		return nil, errors.New("quantity must be in 1..10000")
	}
	if !in.ExpiryDate.After(in.ProductionDate) {
		return nil, models.ErrInvalidDateRange
	}

	gctx, gcancel := s.storeCtx(ctx)
	codes, err := s.gen.GenerateBatch(gctx, in.ProductCode, in.Quantity)
	gcancel()
	if err != nil {
		// ErrGenerationExhausted фатален: частичная партия не пишется.
		return nil, err
	}

	items := make([]models.MarkCreateInput, 0, len(codes))
	for _, code := range codes {
		items = append(items, models.MarkCreateInput{
			Code:           code,
			ProductCode:    in.ProductCode,
			ProductionDate: in.ProductionDate,
			ExpiryDate:     in.ExpiryDate,
			SupplierID:     in.SupplierID,
			ManufacturerID: in.ManufacturerID,
			OrderID:        in.OrderID,
			Metadata:       in.Metadata,
		})
	}

	sctx, cancel := s.storeCtx(ctx)
	created, err := s.repo.CreateMarks(sctx, items)
	cancel()
	if err != nil {
		return nil, err
	}

	// Отдаём в порядке сгенерированных кодов.
	byCode := make(map[string]*models.Mark, len(created))
	for _, m := range created {
		byCode[m.Code] = m
	}

	out := make([]GeneratedMark, 0, len(codes))
	for _, code := range codes {
		m, ok := byCode[code]
		if !ok {
			continue
		}
		s.cacheMark(ctx, m)

		gm := GeneratedMark{Mark: m}
		if in.EmbedQR && s.qr != nil {
			img, err := s.qr.Render(ctx, m.Code)
			if err != nil {
				slog.Warn("qr render failed", "code", m.Code, "error", err.Error())
			} else {
				gm.QR = img
			}
		}
		out = append(out, gm)
	}

	batchID := uuid.New().String()
	s.auditor.Record(ctx, audit.Entry{
		Action:  messages.AuditActionGenerate,
		Actor:   in.Actor,
		BatchID: batchID,
		Count:   len(out),
	})

	return &GenerateResult{
		Marks:            out,
		Count:            len(out),
		BatchID:          batchID,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

func (s *Service) GetMarkByCode(ctx context.Context, code string) (*models.Mark, error) {
	if code == "" {
		return nil, errors.New("code is required")
	}

	if b, ok := s.cacheGet(ctx, cache.MarkKey(code)); ok {
		var m models.Mark
		if json.Unmarshal(b, &m) == nil {
			return &m, nil
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	m, err := s.repo.GetMarkByCode(sctx, code)
	cancel()
	if err != nil {
		return nil, err
	}
	s.cacheMark(ctx, m)
	return m, nil
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage <= 0 || perPage > 500 {
		perPage = 50
	}
	return page, perPage
}

func totalPages(total int64, perPage int) int {
	return int((total + int64(perPage) - 1) / int64(perPage))
}

func (s *Service) ListMarks(ctx context.Context, f models.ListFilter) (*models.Page, error) {
	f.Page, f.PerPage = normalizePage(f.Page, f.PerPage)

	sctx, cancel := s.storeCtx(ctx)
	data, total, err := s.repo.ListMarks(sctx, f)
	cancel()
	if err != nil {
		return nil, err
	}
	return &models.Page{
		Data:       data,
		Total:      total,
		Page:       f.Page,
		PerPage:    f.PerPage,
		TotalPages: totalPages(total, f.PerPage),
	}, nil
}

// GetExpiringMarks — марки, у которых expiry_date попадает в окно
// [now, now+days] и статус ещё живой.
func (s *Service) GetExpiringMarks(ctx context.Context, days, page, perPage int) (*models.Page, error) {
	if days <= 0 {
		days = 30
	}
	page, perPage = normalizePage(page, perPage)

	now := time.Now().UTC()
	sctx, cancel := s.storeCtx(ctx)
	data, total, err := s.repo.ListExpiring(sctx, now, now.Add(time.Duration(days)*24*time.Hour), perPage, (page-1)*perPage)
	cancel()
	if err != nil {
		return nil, err
	}
	return &models.Page{
		Data:       data,
		Total:      total,
		Page:       page,
		PerPage:    perPage,
		TotalPages: totalPages(total, perPage),
	}, nil
}
