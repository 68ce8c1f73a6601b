package booking

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/notify"
)

func (s *ServiceSuite) TestRescheduleMovesBooking() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	old := s.book(app.ID, iv(9, 0, 9, 30))

	res, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(11, 0), DurationMinutes: 45, Timezone: "UTC"})
	s.Require().NoError(err)
	s.Require().Len(res.Slots, 1)
	s.Require().Equal(old.ID, res.Previous.ID)

	moved := res.Slots[0]
	s.Require().NotEqual(old.ID, moved.ID)
	s.Require().True(moved.StartTime.Equal(hm(11, 0)))
	s.Require().True(moved.EndTime.Equal(hm(11, 45)))
	s.Require().Equal(45, moved.Duration)
	s.Require().Equal(model.SlotBooked, moved.Status)

	active := s.active(app.ID)
	s.Require().Len(active, 1)
	s.Require().Equal(moved.ID, active[0].ID)

	for _, row := range s.store.AllSlots() {
		if row.ID == old.ID {
			s.Require().Equal(model.SlotCancelled, row.Status)
			s.Require().True(row.Archived)
			s.Require().Nil(row.ApplicationID)
		}
	}
	s.Require().Equal(model.StatusInterviewScheduled, s.status(app.ID))
}

func (s *ServiceSuite) TestRescheduleNotifiesAdminAndCandidate() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(9, 0, 9, 30))

	_, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(14, 0), DurationMinutes: 30, Timezone: "America/New_York", Locale: "en-US"})
	s.Require().NoError(err)
	s.svc.Wait()

	byTemplate := map[string]notify.Email{}
	for _, e := range s.dispatcher.sent() {
		byTemplate[e.TemplateID] = e
	}
	s.Require().Len(byTemplate, 2)
	s.Require().Equal("admin@example.com", byTemplate[notify.TemplateAdminSlotRescheduled].Recipient)

	candidate := byTemplate[notify.TemplateCandidateSlotRescheduled]
	s.Require().Equal(app.Email, candidate.Recipient)
	s.Require().Equal("5:00 AM EDT", candidate.Variables["old_time"])
	s.Require().Equal("10:00 AM EDT", candidate.Variables["new_time"])
	s.Require().Equal("Monday, May 6, 2030", candidate.Variables["new_date"])
}

func (s *ServiceSuite) TestRescheduleConflict() {
	other, _ := s.newApplication(model.StatusInterviewScheduled)
	s.book(other.ID, iv(11, 0, 11, 30))
	app, token := s.newApplication(model.StatusInterviewScheduled)
	old := s.book(app.ID, iv(9, 0, 9, 30))

	_, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(11, 15), DurationMinutes: 30})
	s.Require().ErrorIs(err, ErrBookingConflict)

	active := s.active(app.ID)
	s.Require().Len(active, 1)
	s.Require().Equal(old.ID, active[0].ID, "old booking must survive a failed move")
	s.svc.Wait()
	s.Require().Empty(s.dispatcher.sent())
}

func (s *ServiceSuite) TestRescheduleAdjacentAndOverOwnSlot() {
	other, _ := s.newApplication(model.StatusInterviewScheduled)
	s.book(other.ID, iv(10, 0, 10, 30))
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(10, 30, 11, 30))

	// Overlaps only the slot being moved.
	res, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(11, 0), DurationMinutes: 30})
	s.Require().NoError(err)
	s.Require().True(res.Slots[0].StartTime.Equal(hm(11, 0)))

	_, err = s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(10, 30), DurationMinutes: 30})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestRescheduleWithoutBookingIsNotFound() {
	app, token := s.newApplication(model.StatusInterviewRequested)
	s.request(app.ID, iv(9, 0, 9, 30))

	_, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(11, 0), DurationMinutes: 30})
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *ServiceSuite) TestRescheduleValidation() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(9, 0, 9, 30))

	for _, minutes := range []int{0, 14, 37} {
		_, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(11, 0), DurationMinutes: minutes})
		s.Require().ErrorIs(err, ErrValidation, "duration %d", minutes)
	}
	_, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token})
	s.Require().ErrorIs(err, ErrValidation)

	_, err = s.svc.Reschedule(s.ctx, RescheduleInput{Token: "bad", Start: hm(11, 0), DurationMinutes: 30})
	s.Require().ErrorIs(err, ErrAuthorization)
}

func (s *ServiceSuite) TestRescheduleRejectsOutOfRangeDuration() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	old := s.book(app.ID, iv(9, 0, 9, 30))

	for _, minutes := range []int{-15, 24*60 + 15, 30 + 1<<53, math.MaxInt} {
		_, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(11, 0), DurationMinutes: minutes})
		s.Require().ErrorIs(err, ErrValidation, "duration %d", minutes)
	}

	active := s.active(app.ID)
	s.Require().Len(active, 1)
	s.Require().Equal(old.ID, active[0].ID)
	for _, row := range s.store.AllSlots() {
		s.Require().Equal(row.EndTime.Sub(row.StartTime), time.Duration(row.Duration)*time.Minute, "slot %s", row.ID)
	}
}

func (s *ServiceSuite) TestRescheduleStoresValidatedDuration() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(9, 0, 9, 30))

	res, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(11, 0), DurationMinutes: 60})
	s.Require().NoError(err)
	moved := res.Slots[0]
	s.Require().Equal(60, moved.Duration)
	s.Require().Equal(time.Hour, moved.EndTime.Sub(moved.StartTime))
}

func (s *ServiceSuite) TestRescheduleReusesArchivedDetachedRow() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(9, 0, 9, 30))
	target := iv(12, 0, 12, 30)
	detached := s.store.PutSlot(model.InterviewSlot{
		StartTime: target.Start, EndTime: target.End, Duration: 30,
		Status: model.SlotCancelled, Archived: true, ArchivedAt: &day,
	})

	res, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: target.Start, DurationMinutes: 30})
	s.Require().NoError(err)
	s.Require().Equal(detached.ID, res.Slots[0].ID)

	active := s.active(app.ID)
	s.Require().Len(active, 1)
	s.Require().Equal(detached.ID, active[0].ID)
	s.Require().Equal(model.SlotBooked, active[0].Status)
	s.Require().Nil(active[0].ArchivedAt)
}

func (s *ServiceSuite) TestRescheduleReusesOwnRequestedRow() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(9, 0, 9, 30))
	own := s.request(app.ID, iv(12, 0, 12, 30))

	res, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(12, 0), DurationMinutes: 30})
	s.Require().NoError(err)
	s.Require().Equal(own.ID, res.Slots[0].ID)
	s.Require().Equal(model.SlotBooked, res.Slots[0].Status)
}

func (s *ServiceSuite) TestRescheduleIgnoresOtherApplicationsRequestedRow() {
	other, _ := s.newApplication(model.StatusInterviewRequested)
	theirs := s.request(other.ID, iv(12, 0, 12, 30))
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(9, 0, 9, 30))

	res, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(12, 0), DurationMinutes: 30})
	s.Require().NoError(err)
	s.Require().NotEqual(theirs.ID, res.Slots[0].ID)

	theirActive := s.active(other.ID)
	s.Require().Len(theirActive, 1)
	s.Require().Equal(model.SlotRequested, theirActive[0].Status)
}

func (s *ServiceSuite) TestReschedulePreferenceModeDelegates() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(9, 0, 9, 30))

	res, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Slots: []availability.Interval{iv(13, 0, 13, 30), iv(14, 0, 14, 30)}})
	s.Require().NoError(err)
	s.Require().Len(res.Slots, 2)
	s.Require().Nil(res.Previous)
	s.Require().Equal(model.StatusInterviewRequested, s.status(app.ID))

	_, err = s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Slots: []availability.Interval{iv(13, 0, 13, 30)}})
	s.Require().ErrorIs(err, ErrValidation)
}

func (s *ServiceSuite) TestRescheduleExactBookedMatchIsConflict() {
	other, _ := s.newApplication(model.StatusInterviewScheduled)
	s.book(other.ID, iv(12, 0, 12, 30))
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(9, 0, 9, 30))

	_, err := s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(12, 0), DurationMinutes: 30})
	s.Require().ErrorIs(err, ErrBookingConflict)
	s.Require().Len(s.bookedOwners(), 2)
}

func (s *ServiceSuite) bookedOwners() map[uuid.UUID]int {
	owners := map[uuid.UUID]int{}
	for _, row := range s.store.AllSlots() {
		if row.Active() && row.Status == model.SlotBooked && row.ApplicationID != nil {
			owners[*row.ApplicationID]++
		}
	}
	return owners
}
