package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/md-rashed-zaman/examinerops/libs/auth"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/metrics"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/notify"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/policy"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/storage"
)

// day is a Monday well in the future; all test intervals are on it unless noted.
var day = time.Date(2030, 5, 6, 0, 0, 0, 0, time.UTC)

func hm(h, m int) time.Time { return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

func iv(fromH, fromM, toH, toM int) availability.Interval {
	return availability.Interval{Start: hm(fromH, fromM), End: hm(toH, toM)}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	emails []notify.Email
	err    error
}

func (d *recordingDispatcher) SendEmail(_ context.Context, e notify.Email) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emails = append(d.emails, e)
	return d.err
}

func (d *recordingDispatcher) sent() []notify.Email {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notify.Email(nil), d.emails...)
}

type ServiceSuite struct {
	suite.Suite
	ctx        context.Context
	store      *storage.Memory
	authn      *auth.HS256Authenticator
	dispatcher *recordingDispatcher
	metrics    *metrics.Metrics
	svc        *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	var err error
	s.ctx = context.Background()
	s.store = storage.NewMemory()
	s.authn, err = auth.NewHS256Authenticator(auth.HS256Config{Secret: "test-secret", Issuer: "examinerops"})
	s.Require().NoError(err)
	s.dispatcher = &recordingDispatcher{}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.svc = NewService(s.store, s.authn, policy.NewStaticProvider(policy.DefaultConfig()), s.dispatcher, s.metrics,
		slog.New(slog.NewTextHandler(io.Discard, nil)), Config{AdminEmail: "admin@example.com"})
	s.svc.now = func() time.Time { return day.Add(-24 * time.Hour) }
}

func (s *ServiceSuite) newApplication(status model.ApplicationStatus) (model.ExaminerApplication, string) {
	app := s.store.PutApplication(model.ExaminerApplication{
		Email:  uuid.NewString()[:8] + "@example.com",
		Status: status,
	})
	token, err := s.authn.Sign(auth.Identity{Email: app.Email, ApplicationID: app.ID})
	s.Require().NoError(err)
	return app, token
}

func (s *ServiceSuite) put(appID uuid.UUID, in availability.Interval, status model.SlotStatus) model.InterviewSlot {
	return s.store.PutSlot(model.InterviewSlot{
		StartTime:     in.Start,
		EndTime:       in.End,
		Duration:      int(in.Duration() / time.Minute),
		Status:        status,
		ApplicationID: &appID,
	})
}

func (s *ServiceSuite) book(appID uuid.UUID, in availability.Interval) model.InterviewSlot {
	return s.put(appID, in, model.SlotBooked)
}

func (s *ServiceSuite) request(appID uuid.UUID, in availability.Interval) model.InterviewSlot {
	return s.put(appID, in, model.SlotRequested)
}

func (s *ServiceSuite) active(appID uuid.UUID) []model.InterviewSlot {
	slots, err := s.store.FindActiveSlotsByApplication(s.ctx, appID)
	s.Require().NoError(err)
	return slots
}

func (s *ServiceSuite) status(appID uuid.UUID) model.ApplicationStatus {
	app, err := s.store.FindApplicationByID(s.ctx, appID)
	s.Require().NoError(err)
	return app.Status
}

func (s *ServiceSuite) TestRequestSlotsCountBounds() {
	_, token := s.newApplication(model.StatusUnderReview)
	five := []availability.Interval{
		iv(9, 0, 9, 30), iv(10, 0, 10, 30), iv(11, 0, 11, 30), iv(12, 0, 12, 30), iv(13, 0, 13, 30),
	}
	six := append(append([]availability.Interval(nil), five...), iv(14, 0, 14, 30))

	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: five[:1]})
	s.Require().ErrorIs(err, ErrValidation)
	_, err = s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: six})
	s.Require().ErrorIs(err, ErrValidation)

	slots, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: five[:2]})
	s.Require().NoError(err)
	s.Require().Len(slots, 2)

	slots, err = s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: five})
	s.Require().NoError(err)
	s.Require().Len(slots, 5)
}

func (s *ServiceSuite) TestRequestSlotsDurationBounds() {
	_, token := s.newApplication(model.StatusUnderReview)
	for _, minutes := range []int{14, 37} {
		slots := []availability.Interval{
			{Start: hm(9, 0), End: hm(9, 0).Add(time.Duration(minutes) * time.Minute)},
			iv(11, 0, 11, 30),
		}
		_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: slots})
		s.Require().ErrorIs(err, ErrValidation, "duration %d", minutes)
	}
	for _, minutes := range []int{15, 30, 45} {
		slots := []availability.Interval{
			{Start: hm(9, 0), End: hm(9, 0).Add(time.Duration(minutes) * time.Minute)},
			iv(11, 0, 11, 30),
		}
		_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: slots})
		s.Require().NoError(err, "duration %d", minutes)
	}
}

func (s *ServiceSuite) TestRequestSlotsWorkingHours() {
	_, token := s.newApplication(model.StatusUnderReview)
	ok := iv(9, 0, 9, 30)

	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(7, 59, 8, 29), ok}})
	s.Require().ErrorIs(err, ErrValidation)

	_, err = s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(16, 45, 17, 15), ok}})
	s.Require().ErrorIs(err, ErrValidation)

	_, err = s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(16, 30, 17, 0), ok}})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestValidationRunsBeforeAuthorization() {
	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: "garbage", Slots: []availability.Interval{iv(9, 0, 9, 30)}})
	s.Require().ErrorIs(err, ErrValidation)
}

func (s *ServiceSuite) TestRequestSlotsAuthorization() {
	app, _ := s.newApplication(model.StatusUnderReview)
	slots := []availability.Interval{iv(9, 0, 9, 30), iv(10, 0, 10, 30)}

	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: "not-a-jwt", Slots: slots})
	s.Require().ErrorIs(err, ErrAuthorization)

	wrongEmail, err := s.authn.Sign(auth.Identity{Email: "someone@else.com", ApplicationID: app.ID})
	s.Require().NoError(err)
	_, err = s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: wrongEmail, Slots: slots})
	s.Require().ErrorIs(err, ErrAuthorization)

	unknownApp, err := s.authn.Sign(auth.Identity{Email: app.Email, ApplicationID: uuid.New()})
	s.Require().NoError(err)
	_, err = s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: unknownApp, Slots: slots})
	s.Require().ErrorIs(err, ErrAuthorization)

	// Case and surrounding whitespace are ignored.
	sloppy, err := s.authn.Sign(auth.Identity{Email: "  " + strings.ToUpper(app.Email) + " ", ApplicationID: app.ID})
	s.Require().NoError(err)
	_, err = s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: sloppy, Slots: slots})
	s.Require().NoError(err)

	s.Require().Len(s.active(app.ID), 2)
}

func (s *ServiceSuite) TestAdjacencyIsNotConflict() {
	other, _ := s.newApplication(model.StatusInterviewScheduled)
	s.book(other.ID, iv(10, 0, 10, 30))
	_, token := s.newApplication(model.StatusUnderReview)

	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(10, 30, 11, 0), iv(9, 30, 10, 0)}})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestOverlapIsConflict() {
	other, _ := s.newApplication(model.StatusInterviewScheduled)
	s.book(other.ID, iv(10, 0, 10, 30))
	app, token := s.newApplication(model.StatusUnderReview)

	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(10, 15, 10, 45), iv(12, 0, 12, 30)}})
	s.Require().ErrorIs(err, ErrBookingConflict)
	s.Require().Equal(KindBookingConflict, KindOf(err))
	s.Require().Empty(s.active(app.ID))
}

func (s *ServiceSuite) TestRequestedSlotsMayOverlapEachOtherAndOtherRequests() {
	other, _ := s.newApplication(model.StatusUnderReview)
	s.request(other.ID, iv(10, 0, 10, 30))
	_, token := s.newApplication(model.StatusUnderReview)

	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(10, 0, 10, 30), iv(10, 15, 10, 45)}})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestIdempotentReplace() {
	app, token := s.newApplication(model.StatusUnderReview)
	slots := []availability.Interval{iv(9, 0, 9, 30), iv(10, 0, 10, 30)}

	first, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: slots})
	s.Require().NoError(err)
	second, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: slots})
	s.Require().NoError(err)

	active := s.active(app.ID)
	s.Require().Len(active, 2)
	s.Require().ElementsMatch([]uuid.UUID{second[0].ID, second[1].ID}, []uuid.UUID{active[0].ID, active[1].ID})

	for _, row := range s.store.AllSlots() {
		if row.ID == first[0].ID || row.ID == first[1].ID {
			s.Require().True(row.Archived)
			s.Require().NotNil(row.ArchivedAt)
			s.Require().Nil(row.ApplicationID)
		}
	}
	s.Require().Len(s.store.AllSlots(), 4)
}

func (s *ServiceSuite) TestRollbackOnConflictLeavesRequestsUntouched() {
	other, _ := s.newApplication(model.StatusInterviewScheduled)
	s.book(other.ID, iv(14, 0, 14, 30))
	app, token := s.newApplication(model.StatusInterviewRequested)
	r1 := s.request(app.ID, iv(9, 0, 9, 30))
	r2 := s.request(app.ID, iv(10, 0, 10, 30))
	before := len(s.store.AllSlots())

	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(11, 0, 11, 30), iv(14, 15, 14, 45)}})
	s.Require().ErrorIs(err, ErrBookingConflict)

	active := s.active(app.ID)
	s.Require().Len(active, 2)
	s.Require().ElementsMatch([]uuid.UUID{r1.ID, r2.ID}, []uuid.UUID{active[0].ID, active[1].ID})
	s.Require().Len(s.store.AllSlots(), before)
	s.svc.Wait()
	s.Require().Empty(s.dispatcher.sent())
}

func (s *ServiceSuite) TestRebookingTransition() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	b := s.book(app.ID, iv(9, 0, 9, 30))

	created, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(11, 0, 11, 30), iv(12, 0, 12, 30)}})
	s.Require().NoError(err)
	s.Require().Len(created, 2)

	s.Require().Equal(model.StatusInterviewRequested, s.status(app.ID))
	active := s.active(app.ID)
	s.Require().Len(active, 2)
	for _, slot := range active {
		s.Require().Equal(model.SlotRequested, slot.Status)
	}
	for _, row := range s.store.AllSlots() {
		if row.ID == b.ID {
			s.Require().Equal(model.SlotCancelled, row.Status)
			s.Require().True(row.Archived)
			s.Require().Nil(row.ApplicationID)
		}
	}
}

func (s *ServiceSuite) TestRebookingMayReuseOwnBookedTime() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(9, 0, 9, 30))

	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(9, 0, 9, 30), iv(12, 0, 12, 30)}})
	s.Require().NoError(err)
}

func (s *ServiceSuite) TestStatusGateBlocksWithoutWrites() {
	blocked := []model.ApplicationStatus{
		model.StatusApproved, model.StatusInterviewCompleted, model.StatusContractSent, model.StatusContractSigned,
	}
	for i, status := range blocked {
		app, token := s.newApplication(status)
		booked := s.book(app.ID, iv(13+i, 0, 13+i, 30))
		before := len(s.store.AllSlots())

		_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(9, 0, 9, 30), iv(10, 0, 10, 30)}})
		s.Require().ErrorIs(err, ErrStateConflict, string(status))
		var reqErr *Error
		s.Require().True(errors.As(err, &reqErr))
		s.Require().NotEmpty(reqErr.Message)

		_, err = s.svc.Reschedule(s.ctx, RescheduleInput{Token: token, Start: hm(11, 0), DurationMinutes: 30})
		s.Require().ErrorIs(err, ErrStateConflict, string(status))
		var resErr *Error
		s.Require().True(errors.As(err, &resErr))
		s.Require().NotEqual(reqErr.Message, resErr.Message)

		s.Require().Len(s.store.AllSlots(), before)
		s.Require().Equal(status, s.status(app.ID))
		active := s.active(app.ID)
		s.Require().Len(active, 1)
		s.Require().Equal(booked.ID, active[0].ID)
	}
}

func (s *ServiceSuite) TestRequestSlotsNotifiesAdmin() {
	app, token := s.newApplication(model.StatusUnderReview)
	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{
		Token:    token,
		Slots:    []availability.Interval{iv(9, 0, 9, 30), iv(10, 0, 10, 30)},
		Timezone: "Europe/Berlin",
		Locale:   "de",
	})
	s.Require().NoError(err)
	s.svc.Wait()

	sent := s.dispatcher.sent()
	s.Require().Len(sent, 1)
	s.Require().Equal(notify.TemplateAdminSlotsRequested, sent[0].TemplateID)
	s.Require().Equal("admin@example.com", sent[0].Recipient)
	s.Require().Equal(app.Email, sent[0].Variables["candidate_email"])
	s.Require().Contains(sent[0].Variables["slots"], "11:00 Uhr")
	s.Require().Equal(1.0, testutil.ToFloat64(s.metrics.NotificationsSent.WithLabelValues(notify.TemplateAdminSlotsRequested)))
}

func (s *ServiceSuite) TestNotificationFailureDoesNotFailRequest() {
	s.dispatcher.err = errors.New("broker unavailable")
	app, token := s.newApplication(model.StatusUnderReview)

	slots, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(9, 0, 9, 30), iv(10, 0, 10, 30)}})
	s.Require().NoError(err)
	s.Require().Len(slots, 2)
	s.svc.Wait()

	s.Require().Len(s.active(app.ID), 2)
	s.Require().Equal(1.0, testutil.ToFloat64(s.metrics.NotificationFailures.WithLabelValues(notify.TemplateAdminSlotsRequested)))
}

func (s *ServiceSuite) TestNotificationOutlivesRequestContext() {
	_, token := s.newApplication(model.StatusUnderReview)
	ctx, cancel := context.WithCancel(s.ctx)
	_, err := s.svc.RequestSlots(ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(9, 0, 9, 30), iv(10, 0, 10, 30)}})
	cancel()
	s.Require().NoError(err)
	s.svc.Wait()
	s.Require().Len(s.dispatcher.sent(), 1)
}

func (s *ServiceSuite) TestWorkflowMetrics() {
	_, token := s.newApplication(model.StatusUnderReview)
	_, err := s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(9, 0, 9, 30), iv(10, 0, 10, 30)}})
	s.Require().NoError(err)
	_, err = s.svc.RequestSlots(s.ctx, RequestSlotsInput{Token: token, Slots: []availability.Interval{iv(9, 0, 9, 30)}})
	s.Require().Error(err)

	s.Require().Equal(1.0, testutil.ToFloat64(s.metrics.WorkflowTotal.WithLabelValues("request_slots", "ok")))
	s.Require().Equal(1.0, testutil.ToFloat64(s.metrics.WorkflowTotal.WithLabelValues("request_slots", "validation")))
	s.Require().Equal(2.0, testutil.ToFloat64(s.metrics.SlotsCreated.WithLabelValues("requested")))
}

func (s *ServiceSuite) TestActiveSlotsAndOpenStarts() {
	app, token := s.newApplication(model.StatusInterviewScheduled)
	s.book(app.ID, iv(8, 30, 16, 30))

	slots, err := s.svc.ActiveSlots(s.ctx, token)
	s.Require().NoError(err)
	s.Require().Len(slots, 1)

	starts, err := s.svc.OpenStarts(s.ctx, day, 30)
	s.Require().NoError(err)
	s.Require().Equal([]time.Time{hm(8, 0), hm(16, 30)}, starts)

	for _, minutes := range []int{20, 0, 24*60 + 15, 1 << 53} {
		_, err = s.svc.OpenStarts(s.ctx, day, minutes)
		s.Require().ErrorIs(err, ErrValidation, "duration %d", minutes)
	}
}

func TestErrorKinds(t *testing.T) {
	err := bookingConflictErr("x", nil)
	require.ErrorIs(t, err, ErrBookingConflict)
	require.NotErrorIs(t, err, ErrValidation)
	require.Equal(t, "booking_conflict", outcome(err))
	require.Equal(t, "ok", outcome(nil))
	require.Equal(t, "error", outcome(errors.New("db down")))

	wrapped := classifyTxError(storage.ErrConflict)
	require.ErrorIs(t, wrapped, ErrBookingConflict)
	require.ErrorIs(t, wrapped, storage.ErrConflict)

	internal := classifyTxError(errors.New("connection reset"))
	require.Equal(t, Kind(0), KindOf(internal))
}
