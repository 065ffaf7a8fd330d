package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-booking-api/internal/middleware"
	"github.com/noah-isme/sma-booking-api/internal/models"
	"github.com/noah-isme/sma-booking-api/pkg/response"
)

type teacherDirectory interface {
	ListTeachers(ctx context.Context, search string) ([]models.TeacherSummary, error)
}

type slotService interface {
	Slots(ctx context.Context, caller models.Caller, q models.SlotQuery) ([]models.Slot, error)
}

// defaultSlotSpan is used when a slot query omits "to".
const defaultSlotSpan = 7 * 24 * time.Hour

// TeacherHandler serves the teacher directory and slot views that parents browse.
type TeacherHandler struct {
	directory teacherDirectory
	slots     slotService
	location  *time.Location
	now       func() time.Time
}

// NewTeacherHandler constructs the handler. Dates without a time are read in loc.
func NewTeacherHandler(directory teacherDirectory, slots slotService, loc *time.Location) *TeacherHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &TeacherHandler{directory: directory, slots: slots, location: loc, now: time.Now}
}

// List godoc
// @Summary List teachers
// @Description Active teachers that accept appointments
// @Tags Teachers
// @Produce json
// @Param search query string false "Search by name"
// @Success 200 {object} response.Envelope
// @Router /teachers [get]
func (h *TeacherHandler) List(c *gin.Context) {
	teachers, err := h.directory.ListTeachers(c.Request.Context(), c.Query("search"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, teachers, nil)
}

// Slots godoc
// @Summary List a teacher's slots
// @Description Expands availability windows into slots starting in [from, to). view=all also returns booked and past slots flagged unavailable.
// @Tags Teachers
// @Produce json
// @Param id path string true "Teacher ID"
// @Param from query string false "Start (RFC3339 or YYYY-MM-DD), defaults to today"
// @Param to query string false "End (RFC3339 or YYYY-MM-DD), defaults to from + 7 days"
// @Param view query string false "available (default) or all"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /teachers/{id}/slots [get]
func (h *TeacherHandler) Slots(c *gin.Context) {
	from, err := optionalTimeParam(c, "from", h.location)
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := optionalTimeParam(c, "to", h.location)
	if err != nil {
		response.Error(c, err)
		return
	}

	q := models.SlotQuery{TeacherID: c.Param("id"), View: models.SlotView(c.Query("view"))}
	if from != nil {
		q.From = *from
	} else {
		y, m, d := h.now().In(h.location).Date()
		q.From = time.Date(y, m, d, 0, 0, 0, 0, h.location)
	}
	if to != nil {
		q.To = *to
	} else {
		q.To = q.From.Add(defaultSlotSpan)
	}

	slots, err := h.slots.Slots(c.Request.Context(), callerFromContext(c), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "from", q.From)
	middleware.SetMeta(c, "to", q.To)
	middleware.SetMeta(c, "count", len(slots))
	response.JSON(c, http.StatusOK, slots, nil, middleware.ExtractMeta(c))
}
