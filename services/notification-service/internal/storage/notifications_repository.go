package storage

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/examinerops/libs/db"
)

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

type Notification struct {
	EventID    string
	TemplateID string
	Recipient  string
	Subject    string
	Variables  map[string]string
	Status     string
	Error      string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	vars, err := json.Marshal(n.Variables)
	if err != nil {
		return err
	}
	var reason *string
	if n.Error != "" {
		reason = &n.Error
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO notifications (id, event_id, template_id, recipient, subject, variables, status, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New(), n.EventID, n.TemplateID, n.Recipient, n.Subject, vars, n.Status, reason)
	return err
}
