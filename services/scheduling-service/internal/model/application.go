package model

import (
	"time"

	"github.com/google/uuid"
)

type ApplicationStatus string

const (
	StatusSubmitted          ApplicationStatus = "submitted"
	StatusUnderReview        ApplicationStatus = "under_review"
	StatusInterviewRequested ApplicationStatus = "interview_requested"
	StatusInterviewScheduled ApplicationStatus = "interview_scheduled"
	StatusInterviewCompleted ApplicationStatus = "interview_completed"
	StatusContractSent       ApplicationStatus = "contract_sent"
	StatusContractSigned     ApplicationStatus = "contract_signed"
	StatusApproved           ApplicationStatus = "approved"
	StatusRejected           ApplicationStatus = "rejected"
)

type ExaminerApplication struct {
	ID        uuid.UUID
	Email     string
	Status    ApplicationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}
