package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/examinerops/libs/auth"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/policy"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/storage"
)

const (
	minRequestedSlots = 2
	maxRequestedSlots = 5
	slotGranularity   = 15 * time.Minute
	maxSlotMinutes    = 24 * 60
)

// Repository is what the workflows need from storage: reads outside a
// transaction and a way to open one.
type Repository interface {
	storage.Store
	storage.UnitOfWork
}

type Config struct {
	// AdminEmail receives the admin-facing notifications. Empty disables them.
	AdminEmail string
	// NotifyTimeout bounds each post-commit dispatch.
	NotifyTimeout time.Duration
}

type Service struct {
	repo       Repository
	auth       auth.TokenAuthenticator
	config     policy.Provider
	dispatcher notify.Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	cfg        Config
	tracer     trace.Tracer
	now        func() time.Time

	inflight sync.WaitGroup
}

func NewService(repo Repository, authn auth.TokenAuthenticator, provider policy.Provider, dispatcher notify.Dispatcher, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Service {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 10 * time.Second
	}
	return &Service{
		repo:       repo,
		auth:       authn,
		config:     provider,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger,
		cfg:        cfg,
		tracer:     otel.Tracer("scheduling-service/booking"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Wait blocks until every dispatched notification has finished.
func (s *Service) Wait() {
	s.inflight.Wait()
}

// ActiveSlots returns the caller's non-archived slots.
func (s *Service) ActiveSlots(ctx context.Context, token string) ([]model.InterviewSlot, error) {
	app, err := s.authorize(ctx, token)
	if err != nil {
		return nil, err
	}
	slots, err := s.repo.FindActiveSlotsByApplication(ctx, app.ID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

// OpenStarts lists start times on the UTC day of date where an interview of
// the given length fits the working window and no active booking.
func (s *Service) OpenStarts(ctx context.Context, date time.Time, durationMinutes int) ([]time.Time, error) {
	duration, err := minutesDuration(durationMinutes)
	if err != nil {
		return nil, err
	}
	cfg, err := s.config.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("load scheduling config: %w", err)
	}
	window := availability.DayWindow(date, cfg.WorkingHours())
	booked, err := s.repo.FindActiveBookedSlotsOverlapping(ctx, window, nil)
	if err != nil {
		return nil, fmt.Errorf("list booked slots: %w", err)
	}
	busy := make([]availability.Interval, 0, len(booked))
	for _, b := range booked {
		busy = append(busy, availability.Interval{Start: b.StartTime, End: b.EndTime})
	}
	return availability.AvailableSlots(window, duration, slotGranularity, busy, s.now()), nil
}

// authorize resolves the token to its application and checks that the
// stored email still matches the one the token was issued for.
func (s *Service) authorize(ctx context.Context, token string) (model.ExaminerApplication, error) {
	id, err := s.auth.Verify(token)
	if err != nil {
		return model.ExaminerApplication{}, authorizationErr("invalid or expired token", err)
	}
	app, err := s.repo.FindApplicationByID(ctx, id.ApplicationID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.ExaminerApplication{}, authorizationErr("token does not match an application", nil)
		}
		return model.ExaminerApplication{}, fmt.Errorf("load application: %w", err)
	}
	if !sameEmail(app.Email, id.Email) {
		return model.ExaminerApplication{}, authorizationErr("token does not match an application", nil)
	}
	return app, nil
}

func sameEmail(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// minutesDuration converts a client supplied minute count, rejecting values
// outside one day before the multiplication can overflow.
func minutesDuration(minutes int) (time.Duration, error) {
	if minutes < int(slotGranularity/time.Minute) || minutes > maxSlotMinutes {
		return 0, validationErr("duration must be between 15 and %d minutes, got %d", maxSlotMinutes, minutes)
	}
	d := time.Duration(minutes) * time.Minute
	return d, checkDuration(d)
}

func checkDuration(d time.Duration) error {
	if d < slotGranularity || d%slotGranularity != 0 {
		return validationErr("duration must be a positive multiple of 15 minutes, got %s", d)
	}
	return nil
}

// checkBookedConflicts fails with a booking conflict when iv overlaps an
// active booked slot other than excludeID.
func checkBookedConflicts(ctx context.Context, st storage.Store, iv availability.Interval, excludeID *uuid.UUID) error {
	booked, err := st.FindActiveBookedSlotsOverlapping(ctx, iv, excludeID)
	if err != nil {
		return fmt.Errorf("load booked slots: %w", err)
	}
	existing := make([]availability.Interval, 0, len(booked))
	for _, b := range booked {
		existing = append(existing, availability.Interval{Start: b.StartTime, End: b.EndTime})
	}
	if clash := availability.Conflicts(iv, existing); len(clash) > 0 {
		return bookingConflictErr(fmt.Sprintf("%s - %s overlaps an interview that is already booked",
			iv.Start.UTC().Format(time.RFC3339), iv.End.UTC().Format(time.RFC3339)), nil)
	}
	return nil
}

// finish ends the span and records the workflow outcome.
func (s *Service) finish(span trace.Span, workflow string, start time.Time, err error) {
	s.metrics.ObserveWorkflow(workflow, outcome(err), start)
	if err != nil {
		var domain *Error
		if errors.As(err, &domain) {
			span.SetAttributes(attribute.String("scheduling.error_kind", domain.Kind.String()))
		} else {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}
