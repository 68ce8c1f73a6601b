package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/examinerops/libs/httpx"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/booking"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/examinerops/services/scheduling-service/internal/policy"
)

type SlotHandler struct {
	svc    *booking.Service
	config policy.Provider
	logger *slog.Logger
}

func NewSlotHandler(svc *booking.Service, config policy.Provider, logger *slog.Logger) *SlotHandler {
	return &SlotHandler{svc: svc, config: config, logger: logger}
}

func (h *SlotHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/interview-slots/request", h.Request)
	mux.HandleFunc("POST /api/v1/interview-slots/reschedule", h.Reschedule)
	mux.HandleFunc("GET /api/v1/interview-slots", h.List)
	mux.HandleFunc("GET /api/v1/interview-slots/config", h.Config)
	mux.HandleFunc("GET /api/v1/interview-slots/open", h.Open)
}

type intervalItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type requestSlotsRequest struct {
	Token    string         `json:"token"`
	Slots    []intervalItem `json:"slots"`
	Timezone string         `json:"timezone"`
}

type rescheduleRequest struct {
	Token           string         `json:"token"`
	Slots           []intervalItem `json:"slots"`
	StartTime       string         `json:"start_time"`
	DurationMinutes int            `json:"duration_minutes"`
	Timezone        string         `json:"timezone"`
}

type slotItem struct {
	ID              string `json:"id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	DurationMinutes int    `json:"duration_minutes"`
	Status          string `json:"status"`
}

type slotsResponse struct {
	Slots    []slotItem `json:"slots"`
	Previous *slotItem  `json:"previous,omitempty"`
}

type openResponse struct {
	Date            string   `json:"date"`
	DurationMinutes int      `json:"duration_minutes"`
	Starts          []string `json:"starts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *SlotHandler) Request(w http.ResponseWriter, r *http.Request) {
	var req requestSlotsRequest
	if !decode(w, r, &req) {
		return
	}
	slots, ok := parseIntervals(w, req.Slots)
	if !ok {
		return
	}
	created, err := h.svc.RequestSlots(r.Context(), booking.RequestSlotsInput{
		Token:    strings.TrimSpace(req.Token),
		Slots:    slots,
		Timezone: req.Timezone,
		Locale:   r.Header.Get("Accept-Language"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slotsResponse{Slots: toItems(created)})
}

func (h *SlotHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if !decode(w, r, &req) {
		return
	}
	in := booking.RescheduleInput{
		Token:           strings.TrimSpace(req.Token),
		DurationMinutes: req.DurationMinutes,
		Timezone:        req.Timezone,
		Locale:          r.Header.Get("Accept-Language"),
	}
	if len(req.Slots) > 0 {
		slots, ok := parseIntervals(w, req.Slots)
		if !ok {
			return
		}
		in.Slots = slots
	} else if req.StartTime != "" {
		start, err := time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid start_time"})
			return
		}
		in.Start = start
	}

	res, err := h.svc.Reschedule(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := slotsResponse{Slots: toItems(res.Slots)}
	if res.Previous != nil {
		prev := toItem(*res.Previous)
		resp.Previous = &prev
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *SlotHandler) List(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		token = bearerToken(r)
	}
	slots, err := h.svc.ActiveSlots(r.Context(), token)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slotsResponse{Slots: toItems(slots)})
}

func (h *SlotHandler) Config(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.config.Config(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *SlotHandler) Open(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	date, err := time.Parse(time.DateOnly, q.Get("date"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "date must be YYYY-MM-DD"})
		return
	}
	duration := 30
	if raw := q.Get("duration_minutes"); raw != "" {
		duration, err = strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid duration_minutes"})
			return
		}
	}
	starts, err := h.svc.OpenStarts(r.Context(), date, duration)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := openResponse{Date: date.Format(time.DateOnly), DurationMinutes: duration, Starts: make([]string, 0, len(starts))}
	for _, s := range starts {
		resp.Starts = append(resp.Starts, s.UTC().Format(time.RFC3339))
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeError maps workflow errors to status codes. Anything that is not a
// workflow error is logged and reported as a bare internal error.
func (h *SlotHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var domain *booking.Error
	if !errors.As(err, &domain) {
		h.logger.ErrorContext(r.Context(), "scheduling request failed",
			"err", err,
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", httpx.RequestIDFromContext(r.Context()),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	code := http.StatusInternalServerError
	switch domain.Kind {
	case booking.KindValidation:
		code = http.StatusBadRequest
	case booking.KindAuthorization:
		code = http.StatusUnauthorized
	case booking.KindNotFound:
		code = http.StatusNotFound
	case booking.KindStateConflict, booking.KindBookingConflict:
		code = http.StatusConflict
	}
	writeJSON(w, code, errorResponse{Error: domain.Message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json body"})
		return false
	}
	return true
}

func parseIntervals(w http.ResponseWriter, items []intervalItem) ([]availability.Interval, bool) {
	out := make([]availability.Interval, 0, len(items))
	for _, it := range items {
		start, err := time.Parse(time.RFC3339, it.StartTime)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid start_time"})
			return nil, false
		}
		end, err := time.Parse(time.RFC3339, it.EndTime)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid end_time"})
			return nil, false
		}
		out = append(out, availability.Interval{Start: start, End: end})
	}
	return out, true
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func toItems(slots []model.InterviewSlot) []slotItem {
	out := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		out = append(out, toItem(s))
	}
	return out
}

func toItem(s model.InterviewSlot) slotItem {
	id := ""
	if s.ID != uuid.Nil {
		id = s.ID.String()
	}
	return slotItem{
		ID:              id,
		StartTime:       s.StartTime.UTC().Format(time.RFC3339),
		EndTime:         s.EndTime.UTC().Format(time.RFC3339),
		DurationMinutes: s.Duration,
		Status:          string(s.Status),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
