package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/policy"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/storage"
)

type RequestSlotsInput struct {
	Token string
	Slots []availability.Interval
	// Timezone is an IANA zone name used only to format notifications.
	Timezone string
	// Locale is an Accept-Language value used only to format notifications.
	Locale string
}

// RequestSlots replaces the application's requested slots with in.Slots.
// An application that already had a booked interview goes back to
// interview_requested and loses the booking. Either every write happens or
// none does.
func (s *Service) RequestSlots(ctx context.Context, in RequestSlotsInput) (slots []model.InterviewSlot, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "booking.RequestSlots", trace.WithAttributes(
		attribute.Int("scheduling.slot_count", len(in.Slots)),
	))
	defer func() { s.finish(span, "request_slots", start, err) }()

	if err := s.validateCandidates(ctx, in.Slots); err != nil {
		return nil, err
	}
	app, err := s.authorize(ctx, in.Token)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("scheduling.application_id", app.ID.String()))
	if err := gate(policy.CheckSchedulingAllowed(app.Status)); err != nil {
		return nil, err
	}

	var cancelled *model.InterviewSlot
	err = s.repo.RunInTx(ctx, func(st storage.Store) error {
		slots, cancelled = nil, nil
		if err := st.LockIntervals(ctx, in.Slots); err != nil {
			return err
		}
		locked, err := st.LockApplication(ctx, app.ID)
		if err != nil {
			return fmt.Errorf("lock application: %w", err)
		}
		if err := gate(policy.CheckSchedulingAllowed(locked.Status)); err != nil {
			return err
		}

		active, err := st.FindActiveSlotsByApplication(ctx, app.ID)
		if err != nil {
			return fmt.Errorf("load application slots: %w", err)
		}

		for _, slot := range active {
			switch slot.Status {
			case model.SlotBooked:
				if locked.Status != model.StatusInterviewScheduled {
					continue
				}
				if err := st.ArchiveSlot(ctx, slot.ID, model.SlotCancelled); err != nil {
					return fmt.Errorf("cancel booked slot: %w", err)
				}
				if err := st.UpdateApplicationStatus(ctx, app.ID, model.StatusInterviewRequested); err != nil {
					return fmt.Errorf("update application status: %w", err)
				}
				prev := slot
				cancelled = &prev
			case model.SlotRequested:
				if err := st.ArchiveSlot(ctx, slot.ID, model.SlotRequested); err != nil {
					return fmt.Errorf("archive requested slot: %w", err)
				}
			}
		}

		for _, iv := range in.Slots {
			if err := checkBookedConflicts(ctx, st, iv, nil); err != nil {
				return err
			}
		}

		for _, iv := range in.Slots {
			created, err := st.CreateSlot(ctx, model.InterviewSlot{
				StartTime:     iv.Start.UTC(),
				EndTime:       iv.End.UTC(),
				Duration:      int(iv.Duration() / time.Minute),
				Status:        model.SlotRequested,
				ApplicationID: &app.ID,
			})
			if err != nil {
				return fmt.Errorf("create requested slot: %w", err)
			}
			slots = append(slots, created)
		}
		return nil
	})
	if err != nil {
		return nil, classifyTxError(err)
	}

	s.metrics.AddSlotsCreated(string(model.SlotRequested), len(slots))
	s.logger.InfoContext(ctx, "interview slots requested",
		"application_id", app.ID,
		"slots", len(slots),
		"cancelled_booking", cancelled != nil,
	)
	s.notifySlotsRequested(ctx, app, slots, in.Timezone, in.Locale)
	return slots, nil
}

// validateCandidates runs the checks that need no application state.
func (s *Service) validateCandidates(ctx context.Context, candidates []availability.Interval) error {
	if n := len(candidates); n < minRequestedSlots || n > maxRequestedSlots {
		return validationErr("between %d and %d preferred slots are required, got %d", minRequestedSlots, maxRequestedSlots, n)
	}
	for i, iv := range candidates {
		if !iv.End.After(iv.Start) {
			return validationErr("slot %d: end must be after start", i+1)
		}
		if err := checkDuration(iv.Duration()); err != nil {
			return validationErr("slot %d: duration must be a positive multiple of 15 minutes, got %s", i+1, iv.Duration())
		}
	}
	cfg, err := s.config.Config(ctx)
	if err != nil {
		return fmt.Errorf("load scheduling config: %w", err)
	}
	wh := cfg.WorkingHours()
	for i, iv := range candidates {
		if !availability.WithinWorkingHours(iv, wh) {
			return validationErr("slot %d: %s is outside interview hours (%s-%s UTC)",
				i+1, iv.Start.UTC().Format(time.RFC3339), minuteOfDay(wh.StartMinuteUTC), minuteOfDay(wh.EndMinuteUTC))
		}
	}
	return nil
}

func minuteOfDay(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// gate turns a policy rejection into a state conflict.
func gate(err error) error {
	if err == nil {
		return nil
	}
	var rej *policy.RejectedError
	if errors.As(err, &rej) {
		return stateConflictErr(rej.Reason, err)
	}
	return err
}

// classifyTxError maps storage failures that surfaced from the transaction
// to workflow errors. Domain errors pass through unchanged.
func classifyTxError(err error) error {
	var domain *Error
	switch {
	case errors.As(err, &domain):
		return err
	case storage.IsConflict(err):
		return bookingConflictErr("requested time overlaps an interview that is already booked", err)
	case storage.IsNotFound(err):
		return notFoundErr("application or slot no longer exists")
	}
	return fmt.Errorf("scheduling transaction: %w", err)
}
