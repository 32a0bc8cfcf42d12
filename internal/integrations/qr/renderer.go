package qr

import "context"

// Renderer отдаёт изображение QR-кода для кода марки.
// Содержимое картинки для ядра непрозрачно.
type Renderer interface {
	Render(ctx context.Context, code string) ([]byte, error)
}
