package messages

import "time"

// Действия, попадающие в аудит.
const (
	AuditActionGenerate = "generate"
	AuditActionValidate = "validate"
	AuditActionBlock    = "block"
	AuditActionUnblock  = "unblock"
	AuditActionUse      = "use"
	AuditActionExpire   = "expire"
)

// MarkSnapshot — состояние марки до/после перехода, ровно столько,
// сколько нужно потребителям аудита.
type MarkSnapshot struct {
	Status          string  `json:"status"`
	BlockReason     *string `json:"block_reason,omitempty"`
	ValidationCount int64   `json:"validation_count"`
}

type MarkAudited struct {
	EventID string `json:"event_id"`
	Action  string `json:"action"`
	Code    string `json:"code,omitempty"`
	Actor   string `json:"actor,omitempty"`
	Reason  string `json:"reason,omitempty"`

	// Для батчевой генерации: идентификатор партии и её размер.
	BatchID string `json:"batch_id,omitempty"`
	Count   int    `json:"count,omitempty"`

	Before *MarkSnapshot `json:"before,omitempty"`
	After  *MarkSnapshot `json:"after,omitempty"`

	At time.Time `json:"at"`
}

// MarkRedeemed приходит от внешней системы погашения (сканирование
// конечным потребителем) и переводит марку в USED.
type MarkRedeemed struct {
	Code       string    `json:"code"`
	Actor      string    `json:"actor,omitempty"`
	RedeemedAt time.Time `json:"redeemed_at"`
}
