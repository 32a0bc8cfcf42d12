package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/MarkBox/internal/broker/messages"
	"github.com/BearBump/MarkBox/internal/models"
	"github.com/BearBump/MarkBox/internal/retry"
	"github.com/google/uuid"
)

// Entry — одна запись аудита. Record никогда не возвращает ошибку:
// бизнес-операция не должна падать из-за недоступности аудита,
// сбой публикации только логируется.
type Entry struct {
	Action string
	Code   string
	Actor  string
	Reason string

	BatchID string
	Count   int

	Before *models.Mark
	After  *models.Mark
}

type Recorder interface {
	Record(ctx context.Context, e Entry)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type KafkaRecorder struct {
	producer Producer
	topic    string
	policy   retry.Policy
}

func NewKafkaRecorder(p Producer, topic string) *KafkaRecorder {
	if topic == "" {
		topic = "mark.audit"
	}
	return &KafkaRecorder{
		producer: p,
		topic:    topic,
		policy:   retry.DefaultPolicy(),
	}
}

func snapshot(m *models.Mark) *messages.MarkSnapshot {
	if m == nil {
		return nil
	}
	return &messages.MarkSnapshot{
		Status:          m.Status,
		BlockReason:     m.BlockReason,
		ValidationCount: m.ValidationCount,
	}
}

func (r *KafkaRecorder) Record(ctx context.Context, e Entry) {
	msg := messages.MarkAudited{
		EventID: uuid.New().String(),
		Action:  e.Action,
		Code:    e.Code,
		Actor:   e.Actor,
		Reason:  e.Reason,
		BatchID: e.BatchID,
		Count:   e.Count,
		Before:  snapshot(e.Before),
		After:   snapshot(e.After),
		At:      time.Now().UTC(),
	}

	b, err := json.Marshal(msg)
	if err != nil {
		slog.Error("audit marshal", "action", e.Action, "code", e.Code, "error", err.Error())
		return
	}

	key := []byte(e.Code)
	if e.Code == "" {
		key = []byte(msg.EventID)
	}

	// Kafka может быть временно недоступна; несколько попыток с паузой,
	// дальше событие теряется с записью в лог.
	if err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.producer.Publish(ctx, r.topic, key, b)
	}); err != nil {
		slog.Error("audit publish failed", "action", e.Action, "code", e.Code, "error", err.Error())
	}
}

// Nop — для тестов и окружений без Kafka.
type Nop struct{}

func (Nop) Record(ctx context.Context, e Entry) {}
