// Package notify delivers wallet notifications to users.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/storewallet/pkg/wallet"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

var ErrInvalidNotifierConfig = errors.New("invalid notifier config")

// LogNotifier writes notifications to a zap logger. It is the fallback when
// no broker is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements wallet.Notifier.
func (notifier *LogNotifier) Notify(_ context.Context, notification wallet.Notification) error {
	fields := []zap.Field{
		zap.String("user_id", notification.UserID.String()),
		zap.String("title", notification.Title),
		zap.String("body", notification.Body),
	}
	if len(notification.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", notification.Metadata))
	}
	notifier.logger.Info("notification", fields...)
	return nil
}

// MessageWriter is the part of *kafka.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, messages ...kafka.Message) error
}

// KafkaConfig selects the brokers and topic notifications are published to.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// NewKafkaWriter builds a synchronous writer. Messages are hashed by key so
// that notifications for one user keep their order.
func NewKafkaWriter(config KafkaConfig) (*kafka.Writer, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("%w: brokers are required", ErrInvalidNotifierConfig)
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("%w: topic is required", ErrInvalidNotifierConfig)
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		MaxAttempts:  5,
		WriteTimeout: 5 * time.Second,
	}, nil
}

// KafkaNotifier publishes notifications as JSON messages keyed by user id.
type KafkaNotifier struct {
	writer MessageWriter
	now    func() time.Time
}

// NewKafkaNotifier wraps a message writer.
func NewKafkaNotifier(writer MessageWriter) (*KafkaNotifier, error) {
	if writer == nil {
		return nil, fmt.Errorf("%w: writer is nil", ErrInvalidNotifierConfig)
	}
	return &KafkaNotifier{writer: writer, now: time.Now}, nil
}

// Message is the JSON payload written to the notifications topic.
type Message struct {
	UserID   string            `json:"user_id"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Metadata map[string]string `json:"metadata,omitempty"`
	SentAt   int64             `json:"sent_at_unix_utc"`
}

// Notify implements wallet.Notifier.
func (notifier *KafkaNotifier) Notify(ctx context.Context, notification wallet.Notification) error {
	payload, err := json.Marshal(Message{
		UserID:   notification.UserID.String(),
		Title:    notification.Title,
		Body:     notification.Body,
		Metadata: notification.Metadata,
		SentAt:   notifier.now().UTC().Unix(),
	})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = notifier.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(notification.UserID.String()),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Fanout delivers to every notifier and joins their errors.
type Fanout []wallet.Notifier

// Notify implements wallet.Notifier.
func (fanout Fanout) Notify(ctx context.Context, notification wallet.Notification) error {
	var errs []error
	for _, notifier := range fanout {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, notification); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
