// Package nats publishes delivery reports of the hub on a NATS subject,
// for consumers such as push notification or analytics services.
package nats

import (
	"chat-presence/domain/event"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

type publisher interface {
	Publish(subj string, data []byte) error
}

// DeliveryReport is the JSON body published per dispatched message.
type DeliveryReport struct {
	MessageID   string    `json:"messageId"`
	ChatID      string    `json:"chatId"`
	SenderID    string    `json:"senderId"`
	Connections int       `json:"connections"`
	Failures    int       `json:"failures"`
	UnreadFor   []string  `json:"unreadFor"`
	At          time.Time `json:"at"`
}

type DeliveryPublisher struct {
	log     *slog.Logger
	pub     publisher
	conn    *nats.Conn
	subject string
}

// Connect dials NATS with reconnects enabled forever.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(500*time.Millisecond),
		nats.ReconnectJitter(100*time.Millisecond, 500*time.Millisecond),
		nats.Timeout(3*time.Second),
	)
}

func NewDeliveryPublisher(log *slog.Logger, conn *nats.Conn, subject string) *DeliveryPublisher {
	return &DeliveryPublisher{log: log, pub: conn, conn: conn, subject: subject}
}

// Consume publishes MessageDelivered events and ignores everything else.
func (p *DeliveryPublisher) Consume(_ context.Context, e event.DomainEvent) error {
	evt, ok := e.(event.MessageDelivered)
	if !ok {
		return nil
	}
	unreadFor := make([]string, 0, len(evt.UnreadFor))
	for _, u := range evt.UnreadFor {
		unreadFor = append(unreadFor, string(u))
	}
	data, err := json.Marshal(DeliveryReport{
		MessageID:   evt.Message.ID.String(),
		ChatID:      string(evt.Message.RoomID),
		SenderID:    string(evt.Message.SenderID),
		Connections: evt.Connections,
		Failures:    evt.Failures,
		UnreadFor:   unreadFor,
		At:          evt.At,
	})
	if err != nil {
		return err
	}
	if err := p.pub.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	return nil
}

// Close drains pending publishes before closing the connection.
func (p *DeliveryPublisher) Close() {
	if p.conn == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.log.Warn("Draining nats connection", "error", err)
	}
}
