package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-booking-api/internal/models"
	"github.com/noah-isme/sma-booking-api/pkg/response"
)

type parentProfileService interface {
	ParentProfile(ctx context.Context, caller models.Caller) (*models.ParentProfile, error)
}

// ParentHandler serves the access-code authenticated parent API.
type ParentHandler struct {
	profiles     parentProfileService
	appointments appointmentService
	location     *time.Location
}

// NewParentHandler constructs the handler.
func NewParentHandler(profiles parentProfileService, appointments appointmentService, loc *time.Location) *ParentHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &ParentHandler{profiles: profiles, appointments: appointments, location: loc}
}

// Student godoc
// @Summary Student behind the access code
// @Tags Parent
// @Produce json
// @Param X-Access-Code header string true "Student access code"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /parent/student [get]
func (h *ParentHandler) Student(c *gin.Context) {
	profile, err := h.profiles.ParentProfile(c.Request.Context(), callerFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, profile, nil)
}

// Appointments godoc
// @Summary List the student's appointments
// @Tags Parent
// @Produce json
// @Param X-Access-Code header string true "Student access code"
// @Param status query string false "booked or cancelled"
// @Param from query string false "Start on or after"
// @Param to query string false "Start before"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /parent/appointments [get]
func (h *ParentHandler) Appointments(c *gin.Context) {
	filter, err := appointmentFilter(c, h.location)
	if err != nil {
		response.Error(c, err)
		return
	}
	items, pagination, err := h.appointments.ListForStudent(c.Request.Context(), callerFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Appointment godoc
// @Summary Get one of the student's appointments
// @Tags Parent
// @Produce json
// @Param X-Access-Code header string true "Student access code"
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /parent/appointments/{id} [get]
func (h *ParentHandler) Appointment(c *gin.Context) {
	appt, err := h.appointments.Get(c.Request.Context(), callerFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appt, nil)
}

// Claim godoc
// @Summary Book a slot
// @Description Claims one of the teacher's offered slots for the student. A slot can be held by one booked appointment only.
// @Tags Parent
// @Accept json
// @Produce json
// @Param X-Access-Code header string true "Student access code"
// @Param payload body models.ClaimRequest true "Claim payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /parent/appointments [post]
func (h *ParentHandler) Claim(c *gin.Context) {
	var req models.ClaimRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid payload"))
		return
	}
	appt, err := h.appointments.Claim(c.Request.Context(), callerFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, appt)
}

// Cancel godoc
// @Summary Cancel one of the student's appointments
// @Tags Parent
// @Accept json
// @Produce json
// @Param X-Access-Code header string true "Student access code"
// @Param id path string true "Appointment ID"
// @Param payload body models.CancelRequest false "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /parent/appointments/{id}/cancel [post]
func (h *ParentHandler) Cancel(c *gin.Context) {
	cancelAppointment(c, h.appointments)
}
