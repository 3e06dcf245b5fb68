// Package events publishes committed ledger entries to RabbitMQ so reporting
// and analytics consumers do not have to poll the transactions collection.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"neurobot/internal/models"
)

const (
	Exchange              = "billing_events"
	RoutingKeyTransaction = "billing.transaction.created"
)

type Publisher interface {
	PublishTransaction(ctx context.Context, t models.Transaction) error
	Close()
}

// TransactionEvent is the wire shape of a committed ledger entry.
type TransactionEvent struct {
	ID          string                    `json:"id"`
	UserID      string                    `json:"user_id"`
	Type        models.TransactionType    `json:"type"`
	ProductID   string                    `json:"product_id"`
	Amount      float64                   `json:"amount"`
	ClearAmount float64                   `json:"clear_amount"`
	Currency    models.Currency           `json:"currency"`
	Quantity    int64                     `json:"quantity"`
	Details     models.TransactionDetails `json:"details"`
	CreatedAt   time.Time                 `json:"created_at"`
}

func NewTransactionEvent(t models.Transaction) TransactionEvent {
	return TransactionEvent{
		ID:          t.ID,
		UserID:      t.UserID,
		Type:        t.Type,
		ProductID:   t.ProductID,
		Amount:      t.Amount,
		ClearAmount: t.ClearAmount,
		Currency:    t.Currency,
		Quantity:    t.Quantity,
		Details:     t.Details,
		CreatedAt:   t.CreatedAt,
	}
}

// EventProducer publishes over a single AMQP channel.
type EventProducer struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &EventProducer{conn: conn, channel: ch}, nil
}

func (p *EventProducer) PublishTransaction(ctx context.Context, t models.Transaction) error {
	body, err := json.Marshal(NewTransactionEvent(t))
	if err != nil {
		return fmt.Errorf("marshal transaction event: %w", err)
	}

	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    t.ID,
		Timestamp:    time.Now(),
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(ctx, Exchange, RoutingKeyTransaction, false, false, msg)
	if err == nil {
		return nil
	}
	// one reopen attempt; the channel dies on any protocol error
	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("publish transaction %s: %w", t.ID, err)
	}
	p.channel = ch
	if err := p.channel.PublishWithContext(ctx, Exchange, RoutingKeyTransaction, false, false, msg); err != nil {
		return fmt.Errorf("publish transaction %s: %w", t.ID, err)
	}
	return nil
}

func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// FallbackPublisher is used when RabbitMQ is unavailable at startup. It only
// logs; the ledger itself remains the source of truth.
type FallbackPublisher struct {
	Log logrus.FieldLogger
}

func (p *FallbackPublisher) PublishTransaction(ctx context.Context, t models.Transaction) error {
	p.Log.WithFields(logrus.Fields{
		"transaction_id": t.ID,
		"user_id":        t.UserID,
		"mode":           "fallback",
	}).Debug("transaction event publish skipped")
	return nil
}

func (p *FallbackPublisher) Close() {}
