package pgmark

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS marks (
  id BIGSERIAL PRIMARY KEY,
  code TEXT NOT NULL,
  product_code TEXT NOT NULL,
  status TEXT NOT NULL,
  production_date TIMESTAMPTZ NOT NULL,
  expiry_date TIMESTAMPTZ NOT NULL,
  supplier_id TEXT NULL,
  manufacturer_id TEXT NULL,
  order_id TEXT NULL,
  block_reason TEXT NULL,
  blocked_by TEXT NULL,
  blocked_at TIMESTAMPTZ NULL,
  validation_count BIGINT NOT NULL DEFAULT 0,
  last_validated_at TIMESTAMPTZ NULL,
  metadata JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (code)
)`,
		// Уникальность code — финальный арбитр: генератор лишь оптимизирует
		// количество коллизий, но не гарантирует их отсутствие.
		`CREATE INDEX IF NOT EXISTS idx_marks_status_expiry_date ON marks(status, expiry_date)`,
		`CREATE INDEX IF NOT EXISTS idx_marks_product_code ON marks(product_code)`,
		`CREATE INDEX IF NOT EXISTS idx_marks_order_id ON marks(order_id) WHERE order_id IS NOT NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
