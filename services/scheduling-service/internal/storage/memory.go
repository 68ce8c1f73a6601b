package storage

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
)

// Memory is an in-process Store for tests and local runs. Transactions are
// serialised by one mutex and write to a copy of the state that replaces the
// live state only when fn succeeds.
type Memory struct {
	mu    sync.Mutex
	state *memState
	now   func() time.Time
}

type memState struct {
	apps  map[uuid.UUID]model.ExaminerApplication
	slots map[uuid.UUID]model.InterviewSlot
	order []uuid.UUID
}

func NewMemory() *Memory {
	return &Memory{
		state: &memState{
			apps:  map[uuid.UUID]model.ExaminerApplication{},
			slots: map[uuid.UUID]model.InterviewSlot{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for created/archived timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) RunInTx(ctx context.Context, fn func(Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	draft := m.state.clone()
	if err := fn(&memTx{st: draft, now: m.now}); err != nil {
		return err
	}
	m.state = draft
	return nil
}

// autocommit runs a single operation directly against the live state.
func (m *Memory) autocommit(fn func(*memTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memTx{st: m.state, now: m.now})
}

func (m *Memory) PutApplication(app model.ExaminerApplication) model.ExaminerApplication {
	m.mu.Lock()
	defer m.mu.Unlock()
	if app.ID == uuid.Nil {
		app.ID = uuid.New()
	}
	if app.CreatedAt.IsZero() {
		app.CreatedAt = m.now()
	}
	app.UpdatedAt = m.now()
	m.state.apps[app.ID] = app
	return app
}

// PutSlot stores slot as given, bypassing the overlap check.
func (m *Memory) PutSlot(slot model.InterviewSlot) model.InterviewSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = m.now()
	}
	slot.UpdatedAt = slot.CreatedAt
	if _, exists := m.state.slots[slot.ID]; !exists {
		m.state.order = append(m.state.order, slot.ID)
	}
	m.state.slots[slot.ID] = cloneSlot(slot)
	return slot
}

// AllSlots returns every row, archived included, in insertion order.
func (m *Memory) AllSlots() []model.InterviewSlot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.InterviewSlot, 0, len(m.state.order))
	for _, id := range m.state.order {
		out = append(out, cloneSlot(m.state.slots[id]))
	}
	return out
}

func (m *Memory) FindApplicationByID(ctx context.Context, id uuid.UUID) (app model.ExaminerApplication, err error) {
	err = m.autocommit(func(tx *memTx) error {
		app, err = tx.FindApplicationByID(ctx, id)
		return err
	})
	return app, err
}

func (m *Memory) LockApplication(ctx context.Context, id uuid.UUID) (model.ExaminerApplication, error) {
	return m.FindApplicationByID(ctx, id)
}

func (m *Memory) UpdateApplicationStatus(ctx context.Context, id uuid.UUID, status model.ApplicationStatus) error {
	return m.autocommit(func(tx *memTx) error { return tx.UpdateApplicationStatus(ctx, id, status) })
}

func (m *Memory) LockIntervals(context.Context, []availability.Interval) error { return nil }

func (m *Memory) FindActiveSlotsByApplication(ctx context.Context, applicationID uuid.UUID) (slots []model.InterviewSlot, err error) {
	err = m.autocommit(func(tx *memTx) error {
		slots, err = tx.FindActiveSlotsByApplication(ctx, applicationID)
		return err
	})
	return slots, err
}

func (m *Memory) FindActiveBookedSlotsOverlapping(ctx context.Context, iv availability.Interval, excludeID *uuid.UUID) (slots []model.InterviewSlot, err error) {
	err = m.autocommit(func(tx *memTx) error {
		slots, err = tx.FindActiveBookedSlotsOverlapping(ctx, iv, excludeID)
		return err
	})
	return slots, err
}

func (m *Memory) FindReusableSlot(ctx context.Context, iv availability.Interval, applicationID uuid.UUID) (slot model.InterviewSlot, err error) {
	err = m.autocommit(func(tx *memTx) error {
		slot, err = tx.FindReusableSlot(ctx, iv, applicationID)
		return err
	})
	return slot, err
}

func (m *Memory) CreateSlot(ctx context.Context, slot model.InterviewSlot) (created model.InterviewSlot, err error) {
	err = m.autocommit(func(tx *memTx) error {
		created, err = tx.CreateSlot(ctx, slot)
		return err
	})
	return created, err
}

func (m *Memory) ArchiveSlot(ctx context.Context, id uuid.UUID, status model.SlotStatus) error {
	return m.autocommit(func(tx *memTx) error { return tx.ArchiveSlot(ctx, id, status) })
}

func (m *Memory) UpdateSlotStatus(ctx context.Context, id uuid.UUID, status model.SlotStatus, applicationID *uuid.UUID) error {
	return m.autocommit(func(tx *memTx) error { return tx.UpdateSlotStatus(ctx, id, status, applicationID) })
}

type memTx struct {
	st  *memState
	now func() time.Time
}

func (t *memTx) FindApplicationByID(_ context.Context, id uuid.UUID) (model.ExaminerApplication, error) {
	app, ok := t.st.apps[id]
	if !ok {
		return model.ExaminerApplication{}, ErrNotFound
	}
	return app, nil
}

func (t *memTx) LockApplication(ctx context.Context, id uuid.UUID) (model.ExaminerApplication, error) {
	return t.FindApplicationByID(ctx, id)
}

func (t *memTx) UpdateApplicationStatus(_ context.Context, id uuid.UUID, status model.ApplicationStatus) error {
	app, ok := t.st.apps[id]
	if !ok {
		return ErrNotFound
	}
	app.Status = status
	app.UpdatedAt = t.now()
	t.st.apps[id] = app
	return nil
}

func (t *memTx) LockIntervals(context.Context, []availability.Interval) error { return nil }

func (t *memTx) FindActiveSlotsByApplication(_ context.Context, applicationID uuid.UUID) ([]model.InterviewSlot, error) {
	out := t.filter(func(s model.InterviewSlot) bool {
		return s.Active() && s.OwnedBy(applicationID)
	})
	slices.SortStableFunc(out, func(a, b model.InterviewSlot) int { return a.StartTime.Compare(b.StartTime) })
	return out, nil
}

func (t *memTx) FindActiveBookedSlotsOverlapping(_ context.Context, iv availability.Interval, excludeID *uuid.UUID) ([]model.InterviewSlot, error) {
	out := t.filter(func(s model.InterviewSlot) bool {
		if !s.Active() || s.Status != model.SlotBooked {
			return false
		}
		if excludeID != nil && s.ID == *excludeID {
			return false
		}
		return availability.Overlaps(iv, availability.Interval{Start: s.StartTime, End: s.EndTime})
	})
	slices.SortStableFunc(out, func(a, b model.InterviewSlot) int { return a.StartTime.Compare(b.StartTime) })
	return out, nil
}

func (t *memTx) FindReusableSlot(_ context.Context, iv availability.Interval, applicationID uuid.UUID) (model.InterviewSlot, error) {
	rank := func(s model.InterviewSlot) int {
		switch {
		case s.Active() && s.Status == model.SlotBooked:
			return 0
		case s.Active() && s.OwnedBy(applicationID):
			// Active requested rows of other applications are never taken over.
			return 1
		case !s.Active() && s.ApplicationID == nil:
			return 2
		}
		return -1
	}
	var (
		best     model.InterviewSlot
		bestRank = -1
	)
	for _, id := range t.st.order {
		s := t.st.slots[id]
		if !s.StartTime.Equal(iv.Start) || !s.EndTime.Equal(iv.End) {
			continue
		}
		r := rank(s)
		if r < 0 {
			continue
		}
		if bestRank < 0 || r < bestRank || (r == bestRank && s.UpdatedAt.After(best.UpdatedAt)) {
			best, bestRank = s, r
		}
	}
	if bestRank < 0 {
		return model.InterviewSlot{}, ErrNotFound
	}
	return cloneSlot(best), nil
}

func (t *memTx) CreateSlot(_ context.Context, slot model.InterviewSlot) (model.InterviewSlot, error) {
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	slot.StartTime = slot.StartTime.UTC()
	slot.EndTime = slot.EndTime.UTC()
	slot.Archived = false
	slot.ArchivedAt = nil
	slot.CreatedAt = t.now()
	slot.UpdatedAt = slot.CreatedAt
	if err := t.checkExclusion(slot); err != nil {
		return model.InterviewSlot{}, err
	}
	t.st.slots[slot.ID] = cloneSlot(slot)
	t.st.order = append(t.st.order, slot.ID)
	return cloneSlot(slot), nil
}

func (t *memTx) ArchiveSlot(_ context.Context, id uuid.UUID, status model.SlotStatus) error {
	s, ok := t.st.slots[id]
	if !ok || !s.Active() {
		return ErrNotFound
	}
	now := t.now()
	s.Status = status
	s.Archived = true
	s.ArchivedAt = &now
	s.ApplicationID = nil
	s.UpdatedAt = now
	t.st.slots[id] = s
	return nil
}

func (t *memTx) UpdateSlotStatus(_ context.Context, id uuid.UUID, status model.SlotStatus, applicationID *uuid.UUID) error {
	s, ok := t.st.slots[id]
	if !ok {
		return ErrNotFound
	}
	s.Status = status
	s.ApplicationID = cloneID(applicationID)
	s.Archived = false
	s.ArchivedAt = nil
	s.UpdatedAt = t.now()
	if err := t.checkExclusion(s); err != nil {
		return err
	}
	t.st.slots[id] = s
	return nil
}

// checkExclusion mirrors interview_slots_no_overlapping_bookings.
func (t *memTx) checkExclusion(slot model.InterviewSlot) error {
	if slot.Status != model.SlotBooked || slot.Archived {
		return nil
	}
	iv := availability.Interval{Start: slot.StartTime, End: slot.EndTime}
	for _, other := range t.st.slots {
		if other.ID == slot.ID || !other.Active() || other.Status != model.SlotBooked {
			continue
		}
		if availability.Overlaps(iv, availability.Interval{Start: other.StartTime, End: other.EndTime}) {
			return ErrConflict
		}
	}
	return nil
}

func (t *memTx) filter(keep func(model.InterviewSlot) bool) []model.InterviewSlot {
	var out []model.InterviewSlot
	for _, id := range t.st.order {
		if s := t.st.slots[id]; keep(s) {
			out = append(out, cloneSlot(s))
		}
	}
	return out
}

func (st *memState) clone() *memState {
	slots := make(map[uuid.UUID]model.InterviewSlot, len(st.slots))
	for id, s := range st.slots {
		slots[id] = cloneSlot(s)
	}
	return &memState{
		apps:  maps.Clone(st.apps),
		slots: slots,
		order: slices.Clone(st.order),
	}
}

func cloneSlot(s model.InterviewSlot) model.InterviewSlot {
	s.ApplicationID = cloneID(s.ApplicationID)
	if s.ArchivedAt != nil {
		t := *s.ArchivedAt
		s.ArchivedAt = &t
	}
	return s
}

func cloneID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
