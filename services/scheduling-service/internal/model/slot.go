package model

import (
	"time"

	"github.com/google/uuid"
)

type SlotStatus string

const (
	SlotRequested SlotStatus = "requested"
	SlotBooked    SlotStatus = "booked"
	SlotCancelled SlotStatus = "cancelled"
)

func (s SlotStatus) Valid() bool {
	switch s {
	case SlotRequested, SlotBooked, SlotCancelled:
		return true
	}
	return false
}

// InterviewSlot is one row of interview_slots. A slot with Archived set is
// history only and never takes part in conflict checks.
type InterviewSlot struct {
	ID            uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
	Duration      int // minutes
	Status        SlotStatus
	ApplicationID *uuid.UUID
	Archived      bool
	ArchivedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (s InterviewSlot) Active() bool { return !s.Archived }

func (s InterviewSlot) OwnedBy(applicationID uuid.UUID) bool {
	return s.ApplicationID != nil && *s.ApplicationID == applicationID
}
