package cache

import (
	"context"
	"time"
)

// BytesCache — best-effort кэш. Ошибки бэкенда вызывающий обязан
// трактовать как промах/no-op: источником правды остаётся БД.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}
