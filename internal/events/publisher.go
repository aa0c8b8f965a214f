// Package events fans queue changes out to subscribers such as waiting-room
// displays. Publishing is best effort and never affects the queue operation
// that triggered it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

const SubjectPrefix = "clinic.queue"

type Publisher interface {
	Publish(ctx context.Context, subject string, msg []byte) error
	Close() error
}

type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("clinic-patient-flow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: conn}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, subject string, msg []byte) error {
	return p.conn.Publish(subject, msg)
}

func (p *NATSPublisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}

// NoopPublisher drops everything. Used when NATS_URL is unset.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, []byte) error { return nil }
func (NoopPublisher) Close() error                                   { return nil }

// MemoryPublisher records messages; handy in tests.
type MemoryPublisher struct {
	mu       sync.Mutex
	Messages []Message
}

type Message struct {
	Subject string
	Data    []byte
}

func (m *MemoryPublisher) Publish(_ context.Context, subject string, msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, Message{Subject: subject, Data: msg})
	return nil
}

func (m *MemoryPublisher) Close() error { return nil }

func (m *MemoryPublisher) Snapshot() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// QueueChanged is the payload published after each successful mutation.
type QueueChanged struct {
	QueueID           uuid.UUID  `json:"queue_id"`
	Action            string     `json:"action"`
	EntryID           *uuid.UUID `json:"entry_id,omitempty"`
	PatientID         *uuid.UUID `json:"patient_id,omitempty"`
	Status            string     `json:"status,omitempty"`
	CurrentCount      int        `json:"current_count"`
	EstimatedWaitTime int        `json:"estimated_wait_time"`
	OccurredAt        time.Time  `json:"occurred_at"`
}

func Subject(queueID uuid.UUID, action string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectPrefix, queueID.String(), action)
}

// Notifier encodes and publishes QueueChanged messages.
type Notifier struct {
	pub Publisher
}

func NewNotifier(pub Publisher) *Notifier {
	if pub == nil {
		pub = NoopPublisher{}
	}
	return &Notifier{pub: pub}
}

func (n *Notifier) QueueChanged(ctx context.Context, ev QueueChanged) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Printf("failed to marshal queue event action=%s queue_id=%s: %v", ev.Action, ev.QueueID, err)
		return
	}
	if err := n.pub.Publish(ctx, Subject(ev.QueueID, ev.Action), data); err != nil {
		log.Printf("failed to publish queue event action=%s queue_id=%s: %v", ev.Action, ev.QueueID, err)
	}
}
