package retry

import (
	"context"
	"time"
)

// Policy — линейный backoff: пауза между попытками растёт как
// Delay × номер попытки.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 4, Delay: 150 * time.Millisecond}
}

// Do вызывает fn до первого успеха в рамках бюджета попыток.
// Возвращает последнюю ошибку fn либо ошибку контекста.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p.Attempts = 1
	}

	var lastErr error
	for i := 0; i < p.Attempts; i++ {
		if err := fn(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == p.Attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay * time.Duration(i+1)):
		}
	}
	return lastErr
}
