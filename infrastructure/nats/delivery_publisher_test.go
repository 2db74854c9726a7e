package nats

import (
	"chat-presence/domain"
	"chat-presence/domain/event"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	messages []published
	err      error
}

func (f *fakePublisher) Publish(subj string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{subject: subj, data: data})
	return nil
}

func TestDeliveryPublisher_Publishes_Reports(t *testing.T) {
	req := require.New(t)
	fake := &fakePublisher{}
	p := &DeliveryPublisher{log: slog.Default(), pub: fake, subject: "chat.delivered"}
	id := uuid.New()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// When a delivery report and an unrelated event come in
	req.NoError(p.Consume(context.Background(), event.MessageDelivered{
		Message:     domain.Message{ID: id, RoomID: "general", SenderID: "alice"},
		Connections: 3,
		Failures:    1,
		UnreadFor:   []domain.UserID{"bob"},
		At:          at,
	}))
	req.NoError(p.Consume(context.Background(), event.UserTyping{}))

	// Then only the report is published
	req.Len(fake.messages, 1)
	req.Equal("chat.delivered", fake.messages[0].subject)
	var report DeliveryReport
	req.NoError(json.Unmarshal(fake.messages[0].data, &report))
	req.Equal(DeliveryReport{
		MessageID:   id.String(),
		ChatID:      "general",
		SenderID:    "alice",
		Connections: 3,
		Failures:    1,
		UnreadFor:   []string{"bob"},
		At:          at,
	}, report)

	// And Close without a connection is a no-op
	p.Close()
}

func TestDeliveryPublisher_Publish_Error(t *testing.T) {
	req := require.New(t)
	p := &DeliveryPublisher{log: slog.Default(), pub: &fakePublisher{err: fmt.Errorf("no responders")}, subject: "s"}

	err := p.Consume(context.Background(), event.MessageDelivered{})

	req.ErrorContains(err, "no responders")
}
