package fake

import (
	"context"
	"fmt"
)

// FakeRenderer — заглушка, пока внешний рендерер не развёрнут.
// Отдаёт детерминированные байты по коду, чтобы тесты могли
// проверить прокидывание картинки.
type FakeRenderer struct{}

func New() *FakeRenderer { return &FakeRenderer{} }

func (f *FakeRenderer) Render(ctx context.Context, code string) ([]byte, error) {
	return []byte(fmt.Sprintf("QR:%s", code)), nil
}
