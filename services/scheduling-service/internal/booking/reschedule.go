package booking

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/policy"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/storage"
)

// RescheduleInput carries either a new preference set (Slots) or a single
// new start time for the booked interview (Start + DurationMinutes).
type RescheduleInput struct {
	Token           string
	Slots           []availability.Interval
	Start           time.Time
	DurationMinutes int
	Timezone        string
	Locale          string
}

type RescheduleResult struct {
	Slots []model.InterviewSlot
	// Previous is the booked slot that was moved, nil in preference mode.
	Previous *model.InterviewSlot
}

func (s *Service) Reschedule(ctx context.Context, in RescheduleInput) (RescheduleResult, error) {
	if len(in.Slots) > 0 {
		slots, err := s.RequestSlots(ctx, RequestSlotsInput{
			Token:    in.Token,
			Slots:    in.Slots,
			Timezone: in.Timezone,
			Locale:   in.Locale,
		})
		if err != nil {
			return RescheduleResult{}, err
		}
		return RescheduleResult{Slots: slots}, nil
	}
	if in.Start.IsZero() {
		return RescheduleResult{}, validationErr("either slots or start_time with duration_minutes is required")
	}
	return s.moveBooking(ctx, in)
}

// moveBooking moves the application's booked interview to a new interval.
// The old row is cancelled and archived; the new interval either reuses an
// exact-match row or gets a new one.
func (s *Service) moveBooking(ctx context.Context, in RescheduleInput) (res RescheduleResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "booking.Reschedule")
	defer func() { s.finish(span, "reschedule", start, err) }()

	duration, err := minutesDuration(in.DurationMinutes)
	if err != nil {
		return RescheduleResult{}, err
	}
	target := availability.Interval{Start: in.Start.UTC(), End: in.Start.UTC().Add(duration)}

	app, err := s.authorize(ctx, in.Token)
	if err != nil {
		return RescheduleResult{}, err
	}
	span.SetAttributes(attribute.String("scheduling.application_id", app.ID.String()))
	if err := gate(policy.RescheduleRejection(app.Status)); err != nil {
		return RescheduleResult{}, err
	}
	if _, err := s.bookedSlot(ctx, s.repo, app); err != nil {
		return RescheduleResult{}, err
	}

	var (
		previous model.InterviewSlot
		result   model.InterviewSlot
		reused   bool
	)
	err = s.repo.RunInTx(ctx, func(st storage.Store) error {
		if err := st.LockIntervals(ctx, []availability.Interval{target}); err != nil {
			return err
		}
		locked, err := st.LockApplication(ctx, app.ID)
		if err != nil {
			return fmt.Errorf("lock application: %w", err)
		}
		if err := gate(policy.RescheduleRejection(locked.Status)); err != nil {
			return err
		}
		previous, err = s.bookedSlot(ctx, st, locked)
		if err != nil {
			return err
		}

		if err := checkBookedConflicts(ctx, st, target, &previous.ID); err != nil {
			return err
		}
		if err := st.ArchiveSlot(ctx, previous.ID, model.SlotCancelled); err != nil {
			return fmt.Errorf("cancel booked slot: %w", err)
		}

		existing, err := st.FindReusableSlot(ctx, target, app.ID)
		switch {
		case err == nil && existing.Active() && existing.Status == model.SlotBooked:
			return bookingConflictErr("the requested time is already booked", nil)
		case err == nil:
			if err := st.UpdateSlotStatus(ctx, existing.ID, model.SlotBooked, &app.ID); err != nil {
				return fmt.Errorf("reuse slot: %w", err)
			}
			result = existing
			result.Status = model.SlotBooked
			result.ApplicationID = &app.ID
			result.Archived = false
			result.ArchivedAt = nil
			reused = true
			return nil
		case !storage.IsNotFound(err):
			return fmt.Errorf("find reusable slot: %w", err)
		}

		result, err = st.CreateSlot(ctx, model.InterviewSlot{
			StartTime:     target.Start,
			EndTime:       target.End,
			Duration:      int(duration / time.Minute),
			Status:        model.SlotBooked,
			ApplicationID: &app.ID,
		})
		if err != nil {
			return fmt.Errorf("create booked slot: %w", err)
		}
		return nil
	})
	if err != nil {
		return RescheduleResult{}, classifyTxError(err)
	}

	if !reused {
		s.metrics.AddSlotsCreated(string(model.SlotBooked), 1)
	}
	s.logger.InfoContext(ctx, "interview rescheduled",
		"application_id", app.ID,
		"from", previous.StartTime,
		"to", result.StartTime,
		"slot_id", result.ID,
		"reused_slot", reused,
	)
	s.notifyRescheduled(ctx, app, previous, result, in.Timezone, in.Locale)
	return RescheduleResult{Slots: []model.InterviewSlot{result}, Previous: &previous}, nil
}

// bookedSlot returns the application's single active booked slot.
func (s *Service) bookedSlot(ctx context.Context, st storage.Store, app model.ExaminerApplication) (model.InterviewSlot, error) {
	active, err := st.FindActiveSlotsByApplication(ctx, app.ID)
	if err != nil {
		return model.InterviewSlot{}, fmt.Errorf("load application slots: %w", err)
	}
	var booked []model.InterviewSlot
	for _, slot := range active {
		if slot.Status == model.SlotBooked {
			booked = append(booked, slot)
		}
	}
	if len(booked) != 1 {
		return model.InterviewSlot{}, notFoundErr("no booked interview to reschedule")
	}
	return booked[0], nil
}
