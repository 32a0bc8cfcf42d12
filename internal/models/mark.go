package models

import "time"

// Статусы марки. ACTIVE и BLOCKED обратимы между собой,
// EXPIRED и USED — терминальные.
const (
	MarkStatusActive  = "ACTIVE"
	MarkStatusBlocked = "BLOCKED"
	MarkStatusExpired = "EXPIRED"
	MarkStatusUsed    = "USED"
)

// IsTerminalStatus — из EXPIRED и USED переходов нет.
func IsTerminalStatus(status string) bool {
	return status == MarkStatusExpired || status == MarkStatusUsed
}

type Mark struct {
	ID          uint64
	Code        string
	ProductCode string
	Status      string

	ProductionDate time.Time
	ExpiryDate     time.Time

	SupplierID     *string
	ManufacturerID *string
	OrderID        *string

	BlockReason *string
	BlockedBy   *string
	BlockedAt   *time.Time

	ValidationCount int64
	LastValidatedAt *time.Time

	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type MarkCreateInput struct {
	Code        string
	ProductCode string

	ProductionDate time.Time
	ExpiryDate     time.Time

	SupplierID     *string
	ManufacturerID *string
	OrderID        *string

	Metadata map[string]string
}

// ValidationContext — кто и откуда сканирует марку. Поля опциональны,
// уходят только в аудит.
type ValidationContext struct {
	Actor  string `json:"actor,omitempty"`
	Source string `json:"source,omitempty"`
}

type ValidationResult struct {
	Code        string    `json:"code"`
	IsValid     bool      `json:"isValid"`
	Reason      string    `json:"reason,omitempty"`
	Mark        *Mark     `json:"mark,omitempty"`
	ValidatedAt time.Time `json:"validatedAt"`
}

type BulkFailure struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type BulkResult struct {
	SuccessCodes     []string      `json:"successCodes"`
	Failures         []BulkFailure `json:"failures"`
	SuccessCount     int           `json:"successCount"`
	FailureCount     int           `json:"failureCount"`
	ProcessingTimeMs int64         `json:"processingTimeMs"`
}

type ListFilter struct {
	Status      string
	ProductCode string
	OrderID     string
	SupplierID  string

	CreatedFrom *time.Time
	CreatedTo   *time.Time

	Page    int
	PerPage int

	SortBy  string
	SortDir string
}

type Page struct {
	Data       []*Mark `json:"data"`
	Total      int64   `json:"total"`
	Page       int     `json:"page"`
	PerPage    int     `json:"perPage"`
	TotalPages int     `json:"totalPages"`
}
