package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/examinerops/libs/db"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict is the in-memory equivalent of the booked-overlap exclusion constraint.
	ErrConflict = errors.New("overlapping booked slot")
)

// Store is the persistence boundary of the scheduling workflows. Every
// Find* method only sees active (non-archived) rows unless noted.
type Store interface {
	FindApplicationByID(ctx context.Context, id uuid.UUID) (model.ExaminerApplication, error)
	// LockApplication reads the application and holds it for the rest of the transaction.
	LockApplication(ctx context.Context, id uuid.UUID) (model.ExaminerApplication, error)
	UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status model.ApplicationStatus) error

	// LockIntervals serialises writers whose intervals share a UTC day.
	LockIntervals(ctx context.Context, intervals []availability.Interval) error

	FindActiveSlotsByApplication(ctx context.Context, applicationID uuid.UUID) ([]model.InterviewSlot, error)
	FindActiveBookedSlotsOverlapping(ctx context.Context, iv availability.Interval, excludeID *uuid.UUID) ([]model.InterviewSlot, error)
	// FindReusableSlot returns the row whose interval equals iv exactly and
	// which is an active Booked slot, an active slot of applicationID, or an
	// archived detached slot, in that order of preference.
	FindReusableSlot(ctx context.Context, iv availability.Interval, applicationID uuid.UUID) (model.InterviewSlot, error)

	CreateSlot(ctx context.Context, slot model.InterviewSlot) (model.InterviewSlot, error)
	// ArchiveSlot marks the slot archived with the given final status and detaches it.
	ArchiveSlot(ctx context.Context, id uuid.UUID, status model.SlotStatus) error
	// UpdateSlotStatus sets status and owner and makes the slot active again.
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, status model.SlotStatus, applicationID *uuid.UUID) error
}

// UnitOfWork runs fn atomically. When fn returns an error nothing it wrote is kept.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(Store) error) error
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || db.IsNotFound(err)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict) || db.IsExclusionViolation(err)
}

func IsSerializationFailure(err error) bool {
	return db.IsRetryable(err)
}
