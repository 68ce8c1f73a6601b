package policy

import (
	"fmt"

	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
)

// RejectedError is returned when an application's phase no longer allows
// interview scheduling changes. Reason is safe to show to the candidate.
type RejectedError struct {
	Status model.ApplicationStatus
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("scheduling not allowed in status %s: %s", e.Status, e.Reason)
}

var requestReasons = map[model.ApplicationStatus]string{
	model.StatusInterviewCompleted: "Your interview has already been completed, so new interview times cannot be requested.",
	model.StatusContractSent:       "A contract has already been sent for this application, so interview scheduling is closed.",
	model.StatusContractSigned:     "Your contract has been signed, so interview scheduling is no longer needed.",
	model.StatusApproved:           "Your application has already been approved, so no interview needs to be scheduled.",
}

var rescheduleReasons = map[model.ApplicationStatus]string{
	model.StatusInterviewCompleted: "Your interview has already taken place and cannot be rescheduled.",
	model.StatusContractSent:       "The interview cannot be rescheduled because a contract has already been sent.",
	model.StatusContractSigned:     "The interview cannot be rescheduled because your contract has been signed.",
	model.StatusApproved:           "The interview cannot be rescheduled because your application has been approved.",
}

// CheckSchedulingAllowed returns a *RejectedError for phases past the
// interview, and nil for every other status.
func CheckSchedulingAllowed(status model.ApplicationStatus) error {
	if reason, ok := requestReasons[status]; ok {
		return &RejectedError{Status: status, Reason: reason}
	}
	return nil
}

// RescheduleRejection is CheckSchedulingAllowed with wording for moving an
// already booked interview.
func RescheduleRejection(status model.ApplicationStatus) error {
	if reason, ok := rescheduleReasons[status]; ok {
		return &RejectedError{Status: status, Reason: reason}
	}
	return nil
}
