package processor

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/examinerops/libs/kafkax"
	"github.com/md-rashed-zaman/examinerops/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/examinerops/services/notification-service/internal/storage"
	"github.com/md-rashed-zaman/examinerops/services/notification-service/internal/templates"
)

// EmailRequest is the payload published on notification.email.requested.v1.
type EmailRequest struct {
	Subject    string            `json:"subject"`
	TemplateID string            `json:"template_id"`
	Variables  map[string]string `json:"variables"`
	Recipient  string            `json:"recipient"`
}

type Store interface {
	Insert(ctx context.Context, n storage.Notification) error
}

type Processor struct {
	renderer   *templates.Renderer
	sender     email.Sender
	store      Store
	logger     *slog.Logger
	failSuffix string
	processed  *prometheus.CounterVec
}

type Config struct {
	// FailSuffix marks recipients whose delivery is simulated as failed.
	FailSuffix string
}

func New(renderer *templates.Renderer, sender email.Sender, store Store, logger *slog.Logger, reg prometheus.Registerer, cfg Config) *Processor {
	p := &Processor{
		renderer:   renderer,
		sender:     sender,
		store:      store,
		logger:     logger,
		failSuffix: cfg.FailSuffix,
	}
	if reg != nil {
		p.processed = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "notification_emails_total",
			Help: "Email requests handled, by template and delivery status.",
		}, []string{"template", "status"})
	}
	return p
}

// Handle delivers one email request. Malformed payloads are dropped and
// delivery failures are recorded; only a failed insert is returned.
func (p *Processor) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)

	var req EmailRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		p.logger.Error("invalid email payload", "err", err, "event_id", meta.EventID)
		return nil
	}
	if req.TemplateID == "" || strings.TrimSpace(req.Recipient) == "" {
		p.logger.Error("missing email fields", "event_id", meta.EventID, "template_id", req.TemplateID)
		return nil
	}

	status := storage.StatusSent
	reason := ""
	body, err := p.renderer.Render(req.TemplateID, req.Variables)
	switch {
	case err != nil:
		status, reason = storage.StatusFailed, err.Error()
		if errors.Is(err, templates.ErrUnknownTemplate) {
			p.logger.Error("unknown template", "template_id", req.TemplateID, "event_id", meta.EventID)
		} else {
			p.logger.Error("template render failed", "err", err, "event_id", meta.EventID)
		}
	case p.failSuffix != "" && strings.HasSuffix(req.Recipient, p.failSuffix):
		status, reason = storage.StatusFailed, "simulated failure"
	default:
		if err := p.sender.Send(req.Recipient, req.Subject, body); err != nil {
			status, reason = storage.StatusFailed, err.Error()
			p.logger.Error("email send failed", "err", err, "recipient", req.Recipient, "template_id", req.TemplateID)
		}
	}

	if err := p.store.Insert(ctx, storage.Notification{
		EventID:    meta.EventID,
		TemplateID: req.TemplateID,
		Recipient:  req.Recipient,
		Subject:    req.Subject,
		Variables:  req.Variables,
		Status:     status,
		Error:      reason,
	}); err != nil {
		p.logger.Error("failed to persist notification", "err", err)
		return err
	}
	if p.processed != nil {
		p.processed.WithLabelValues(req.TemplateID, status).Inc()
	}

	p.logger.Info("email processed", "event_id", meta.EventID, "template_id", req.TemplateID, "status", status)
	return nil
}
