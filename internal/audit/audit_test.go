package audit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/BearBump/MarkBox/internal/broker/messages"
	"github.com/BearBump/MarkBox/internal/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	topics []string
	keys   [][]byte
	values [][]byte
	fails  int
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if p.fails > 0 {
		p.fails--
		return errors.New("broker down")
	}
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func TestKafkaRecorder_Record(t *testing.T) {
	p := &fakeProducer{}
	r := NewKafkaRecorder(p, "mark.audit")

	reason := "recall"
	r.Record(context.Background(), Entry{
		Action: messages.AuditActionBlock,
		Code:   "MB123-X",
		Actor:  "qa",
		Reason: "recall",
		Before: &models.Mark{Status: models.MarkStatusActive},
		After:  &models.Mark{Status: models.MarkStatusBlocked, BlockReason: &reason},
	})

	require.Len(t, p.values, 1)
	require.Equal(t, "mark.audit", p.topics[0])
	require.Equal(t, []byte("MB123-X"), p.keys[0])

	var got messages.MarkAudited
	require.NoError(t, json.Unmarshal(p.values[0], &got))
	require.Equal(t, messages.AuditActionBlock, got.Action)
	require.Equal(t, models.MarkStatusActive, got.Before.Status)
	require.Equal(t, models.MarkStatusBlocked, got.After.Status)
	require.Equal(t, "recall", *got.After.BlockReason)
	require.NotEmpty(t, got.EventID)
}

func TestKafkaRecorder_RetriesThenSucceeds(t *testing.T) {
	p := &fakeProducer{fails: 2}
	r := NewKafkaRecorder(p, "mark.audit")

	r.Record(context.Background(), Entry{Action: messages.AuditActionValidate, Code: "C"})
	require.Len(t, p.values, 1)
}

func TestKafkaRecorder_SwallowsFailure(t *testing.T) {
	p := &fakeProducer{fails: 100}
	r := NewKafkaRecorder(p, "mark.audit")

	// Никакой паники и никакой ошибки наружу.
	r.Record(context.Background(), Entry{Action: messages.AuditActionValidate, Code: "C"})
	require.Empty(t, p.values)
}
