package pgmark

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/MarkBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const markColumns = `
  id, code, product_code, status,
  production_date, expiry_date,
  supplier_id, manufacturer_id, order_id,
  block_reason, blocked_by, blocked_at,
  validation_count, last_validated_at,
  metadata, created_at, updated_at`

// MarkTransition — одно изменение статуса. Указатели nil обнуляют
// соответствующие поля блокировки (снятие блокировки).
type MarkTransition struct {
	Code   string
	Status string

	BlockReason *string
	BlockedBy   *string
	BlockedAt   *time.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMark(r rowScanner) (*models.Mark, error) {
	var m models.Mark
	if err := r.Scan(
		&m.ID, &m.Code, &m.ProductCode, &m.Status,
		&m.ProductionDate, &m.ExpiryDate,
		&m.SupplierID, &m.ManufacturerID, &m.OrderID,
		&m.BlockReason, &m.BlockedBy, &m.BlockedAt,
		&m.ValidationCount, &m.LastValidatedAt,
		&m.Metadata, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Storage) CreateMarks(ctx context.Context, items []models.MarkCreateInput) ([]*models.Mark, error) {
	if len(items) == 0 {
		return []*models.Mark{}, nil
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	codes := make([]string, 0, len(items))
	for _, it := range items {
		b.Queue(`
INSERT INTO marks (
  code, product_code, status,
  production_date, expiry_date,
  supplier_id, manufacturer_id, order_id,
  metadata, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
`, it.Code, it.ProductCode, models.MarkStatusActive,
			it.ProductionDate.UTC(), it.ExpiryDate.UTC(),
			it.SupplierID, it.ManufacturerID, it.OrderID,
			it.Metadata, now)
		codes = append(codes, it.Code)
	}

	br := tx.SendBatch(ctx, b)
	for range items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return nil, errors.Wrap(err, "insert mark")
		}
	}
	if err := br.Close(); err != nil {
		return nil, errors.Wrap(err, "close batch")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetMarksByCodes(ctx, codes)
}

func (s *Storage) GetMarkByCode(ctx context.Context, code string) (*models.Mark, error) {
	row := s.db.QueryRow(ctx, `SELECT `+markColumns+` FROM marks WHERE code = $1`, code)
	m, err := scanMark(row)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select mark")
	}
	return m, nil
}

func (s *Storage) GetMarksByCodes(ctx context.Context, codes []string) ([]*models.Mark, error) {
	if len(codes) == 0 {
		return []*models.Mark{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT `+markColumns+` FROM marks WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, errors.Wrap(err, "select marks")
	}
	defer rows.Close()

	out := make([]*models.Mark, 0, len(codes))
	for rows.Next() {
		m, err := scanMark(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan mark")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// FilterExistingCodes возвращает подмножество codes, уже занятое в БД.
// Один запрос на всю пачку кандидатов — генератор не ходит по одному коду.
func (s *Storage) FilterExistingCodes(ctx context.Context, codes []string) (map[string]struct{}, error) {
	if len(codes) == 0 {
		return map[string]struct{}{}, nil
	}

	rows, err := s.db.Query(ctx, `SELECT code FROM marks WHERE code = ANY($1)`, codes)
	if err != nil {
		return nil, errors.Wrap(err, "select existing codes")
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, errors.Wrap(err, "scan code")
		}
		out[c] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

var sortableColumns = map[string]string{
	"createdAt":       "created_at",
	"expiryDate":      "expiry_date",
	"code":            "code",
	"validationCount": "validation_count",
}

func (s *Storage) ListMarks(ctx context.Context, f models.ListFilter) ([]*models.Mark, int64, error) {
	where := make([]string, 0, 6)
	args := make([]any, 0, 6)

	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.ProductCode != "" {
		add("product_code = $%d", f.ProductCode)
	}
	if f.OrderID != "" {
		add("order_id = $%d", f.OrderID)
	}
	if f.SupplierID != "" {
		add("supplier_id = $%d", f.SupplierID)
	}
	if f.CreatedFrom != nil {
		add("created_at >= $%d", f.CreatedFrom.UTC())
	}
	if f.CreatedTo != nil {
		add("created_at <= $%d", f.CreatedTo.UTC())
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM marks`+cond, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "count marks")
	}

	orderBy, ok := sortableColumns[f.SortBy]
	if !ok {
		orderBy = "created_at"
	}
	dir := "DESC"
	if strings.EqualFold(f.SortDir, "asc") {
		dir = "ASC"
	}

	limit := f.PerPage
	offset := (f.Page - 1) * f.PerPage
	args = append(args, limit, offset)

	q := fmt.Sprintf(`SELECT %s FROM marks%s ORDER BY %s %s LIMIT $%d OFFSET $%d`,
		markColumns, cond, orderBy, dir, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select marks page")
	}
	defer rows.Close()

	out := make([]*models.Mark, 0, limit)
	for rows.Next() {
		m, err := scanMark(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan mark")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, 0, errors.Wrap(rows.Err(), "rows")
	}
	return out, total, nil
}

func (s *Storage) ListExpiring(ctx context.Context, from, to time.Time, limit, offset int) ([]*models.Mark, int64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `
SELECT count(*) FROM marks
WHERE status = ANY($1) AND expiry_date >= $2 AND expiry_date <= $3
`, []string{models.MarkStatusActive, models.MarkStatusBlocked}, from.UTC(), to.UTC()).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, "count expiring")
	}

	rows, err := s.db.Query(ctx, `
SELECT `+markColumns+`
FROM marks
WHERE status = ANY($1) AND expiry_date >= $2 AND expiry_date <= $3
ORDER BY expiry_date ASC
LIMIT $4 OFFSET $5
`, []string{models.MarkStatusActive, models.MarkStatusBlocked}, from.UTC(), to.UTC(), limit, offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, "select expiring")
	}
	defer rows.Close()

	var out []*models.Mark
	for rows.Next() {
		m, err := scanMark(rows)
		if err != nil {
			return nil, 0, errors.Wrap(err, "scan mark")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, 0, errors.Wrap(rows.Err(), "rows")
	}
	return out, total, nil
}

// IncrementValidation — атомарный инкремент на стороне БД.
// Read-modify-write в приложении терял бы обновления при конкурентных
// проверках одного кода.
func (s *Storage) IncrementValidation(ctx context.Context, code string, at time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRow(ctx, `
UPDATE marks
SET
  validation_count = validation_count + 1,
  last_validated_at = $2,
  updated_at = now()
WHERE code = $1
RETURNING validation_count
`, code, at.UTC()).Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, models.ErrNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "increment validation")
	}
	return count, nil
}

func (s *Storage) ApplyTransition(ctx context.Context, upd MarkTransition) (*models.Mark, error) {
	row := s.db.QueryRow(ctx, `
UPDATE marks
SET
  status = $2,
  block_reason = $3,
  blocked_by = $4,
  blocked_at = $5,
  updated_at = now()
WHERE code = $1
RETURNING `+markColumns, upd.Code, upd.Status, upd.BlockReason, upd.BlockedBy, upd.BlockedAt)

	m, err := scanMark(row)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "update mark status")
	}
	return m, nil
}

// ApplyTransitions пишет чанк переходов одной транзакцией:
// либо весь чанк, либо ничего.
func (s *Storage) ApplyTransitions(ctx context.Context, upds []MarkTransition) error {
	if len(upds) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	b := &pgx.Batch{}
	for _, upd := range upds {
		b.Queue(`
UPDATE marks
SET
  status = $2,
  block_reason = $3,
  blocked_by = $4,
  blocked_at = $5,
  updated_at = now()
WHERE code = $1
`, upd.Code, upd.Status, upd.BlockReason, upd.BlockedBy, upd.BlockedAt)
	}

	br := tx.SendBatch(ctx, b)
	for range upds {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrap(err, "update mark status")
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, "close batch")
	}

	return errors.Wrap(tx.Commit(ctx), "commit tx")
}

func (s *Storage) FindDueForExpiry(ctx context.Context, now time.Time, limit int) ([]*models.Mark, error) {
	if limit <= 0 || limit > 10_000 {
		limit = 1000
	}

	rows, err := s.db.Query(ctx, `
SELECT `+markColumns+`
FROM marks
WHERE status = ANY($1) AND expiry_date <= $2
ORDER BY expiry_date ASC
LIMIT $3
`, []string{models.MarkStatusActive, models.MarkStatusBlocked}, now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due marks")
	}
	defer rows.Close()

	var out []*models.Mark
	for rows.Next() {
		m, err := scanMark(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan due mark")
		}
		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ExpireMarks — один batch-write на всю пачку. Фильтр по статусу
// делает операцию идемпотентной: уже EXPIRED повторно не трогаются.
func (s *Storage) ExpireMarks(ctx context.Context, codes []string) (int64, error) {
	if len(codes) == 0 {
		return 0, nil
	}

	tag, err := s.db.Exec(ctx, `
UPDATE marks
SET status = $2, updated_at = now()
WHERE code = ANY($1) AND status = ANY($3)
`, codes, models.MarkStatusExpired, []string{models.MarkStatusActive, models.MarkStatusBlocked})
	if err != nil {
		return 0, errors.Wrap(err, "expire marks")
	}
	return tag.RowsAffected(), nil
}
