package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/examinerops/libs/httpx"
	"github.com/md-rashed-zaman/examinerops/libs/kafkax"
)

// EmailRequestedTopic carries email requests to notification-service.
const EmailRequestedTopic = "notification.email.requested.v1"

const (
	TemplateAdminSlotsRequested      = "admin_slots_requested"
	TemplateAdminSlotRescheduled     = "admin_slot_rescheduled"
	TemplateCandidateSlotRescheduled = "candidate_slot_rescheduled"
)

type Email struct {
	Subject    string            `json:"subject"`
	TemplateID string            `json:"template_id"`
	Variables  map[string]string `json:"variables"`
	Recipient  string            `json:"recipient"`
}

// Dispatcher hands an email to the delivery pipeline. A nil error means the
// request was accepted, not that the email was delivered.
type Dispatcher interface {
	SendEmail(ctx context.Context, email Email) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type KafkaDispatcher struct {
	writer messageWriter
	topic  string
}

func NewKafkaWriter(brokers []string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  EmailRequestedTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaDispatcher(w messageWriter) *KafkaDispatcher {
	return &KafkaDispatcher{writer: w, topic: EmailRequestedTopic}
}

func (d *KafkaDispatcher) SendEmail(ctx context.Context, email Email) error {
	if strings.TrimSpace(email.Recipient) == "" {
		return fmt.Errorf("email %s: empty recipient", email.TemplateID)
	}
	payload, err := json.Marshal(email)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}
	// Topic is set on the writer.
	msg := kafkax.NewMessage("", email.Recipient, kafkax.EventMeta{
		EventType: EmailRequestedTopic,
		RequestID: httpx.RequestIDFromContext(ctx),
	}, payload)
	kafkax.InjectTraceHeaders(ctx, &msg)
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", d.topic, err)
	}
	return nil
}

// LogDispatcher only logs. Used when no broker is configured.
type LogDispatcher struct {
	Logger *slog.Logger
}

func (d LogDispatcher) SendEmail(ctx context.Context, email Email) error {
	d.Logger.Info("email notification (not sent, no broker configured)",
		"template_id", email.TemplateID,
		"recipient", email.Recipient,
		"subject", email.Subject,
		"request_id", httpx.RequestIDFromContext(ctx),
	)
	return nil
}
