package models

import "github.com/pkg/errors"

// Сентинелы бизнес-ошибок. Хранилищные ошибки (timeout, connect)
// не заворачиваются в них и всплывают к вызывающему как есть.
var (
	ErrNotFound            = errors.New("mark not found")
	ErrInvalidState        = errors.New("invalid mark state")
	ErrInvalidDateRange    = errors.New("expiry date must be after production date")
	ErrGenerationExhausted = errors.New("code generation attempts exhausted")
)
