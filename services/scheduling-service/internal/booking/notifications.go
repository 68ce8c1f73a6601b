package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/notify"
)

func (s *Service) notifySlotsRequested(ctx context.Context, app model.ExaminerApplication, slots []model.InterviewSlot, timezone, locale string) {
	if s.cfg.AdminEmail == "" {
		return
	}
	l := notify.NewLocalizer(timezone, locale)
	lines := make([]string, 0, len(slots))
	for i, slot := range slots {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, l.Range(slot.StartTime, slot.EndTime)))
	}
	s.dispatch(ctx, notify.Email{
		Subject:    "Interview slots requested by " + app.Email,
		TemplateID: notify.TemplateAdminSlotsRequested,
		Recipient:  s.cfg.AdminEmail,
		Variables: map[string]string{
			"application_id":  app.ID.String(),
			"candidate_email": app.Email,
			"slot_count":      fmt.Sprint(len(slots)),
			"slots":           strings.Join(lines, "\n"),
			"timezone":        l.Location().String(),
		},
	})
}

func (s *Service) notifyRescheduled(ctx context.Context, app model.ExaminerApplication, previous, current model.InterviewSlot, timezone, locale string) {
	l := notify.NewLocalizer(timezone, locale)
	vars := map[string]string{
		"application_id":  app.ID.String(),
		"candidate_email": app.Email,
		"old_date":        l.Date(previous.StartTime),
		"old_time":        l.Time(previous.StartTime),
		"new_date":        l.Date(current.StartTime),
		"new_time":        l.Time(current.StartTime),
		"new_end_time":    l.Time(current.EndTime),
		"duration":        fmt.Sprint(current.Duration),
		"timezone":        l.Location().String(),
	}
	if s.cfg.AdminEmail != "" {
		s.dispatch(ctx, notify.Email{
			Subject:    "Interview rescheduled by " + app.Email,
			TemplateID: notify.TemplateAdminSlotRescheduled,
			Recipient:  s.cfg.AdminEmail,
			Variables:  vars,
		})
	}
	s.dispatch(ctx, notify.Email{
		Subject:    "Your interview has been rescheduled",
		TemplateID: notify.TemplateCandidateSlotRescheduled,
		Recipient:  app.Email,
		Variables:  vars,
	})
}

// dispatch sends email on its own goroutine after the transaction has
// committed. The caller's cancellation does not stop it; NotifyTimeout does.
// Failures are logged and counted, never returned.
func (s *Service) dispatch(ctx context.Context, email notify.Email) {
	if s.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.NotifyTimeout)
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("notification dispatcher panic", "template_id", email.TemplateID, "panic", r)
				s.metrics.ObserveNotification(email.TemplateID, fmt.Errorf("panic: %v", r))
			}
		}()

		err := s.dispatcher.SendEmail(ctx, email)
		s.metrics.ObserveNotification(email.TemplateID, err)
		if err != nil {
			s.logger.ErrorContext(ctx, "notification dispatch failed",
				"err", err,
				"template_id", email.TemplateID,
				"recipient", email.Recipient,
			)
		}
	}()
}
