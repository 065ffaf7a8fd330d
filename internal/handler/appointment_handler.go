package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-booking-api/internal/middleware"
	"github.com/noah-isme/sma-booking-api/internal/models"
	"github.com/noah-isme/sma-booking-api/internal/service"
	appErrors "github.com/noah-isme/sma-booking-api/pkg/errors"
	"github.com/noah-isme/sma-booking-api/pkg/export"
	"github.com/noah-isme/sma-booking-api/pkg/response"
)

type appointmentService interface {
	Claim(ctx context.Context, caller models.Caller, req models.ClaimRequest) (*models.AppointmentDetail, error)
	Cancel(ctx context.Context, caller models.Caller, id string, req models.CancelRequest) (*models.AppointmentDetail, bool, error)
	Get(ctx context.Context, caller models.Caller, id string) (*models.AppointmentDetail, error)
	ListForTeacher(ctx context.Context, caller models.Caller, filter models.AppointmentFilter) ([]models.AppointmentDetail, *models.Pagination, error)
	ListForStudent(ctx context.Context, caller models.Caller, filter models.AppointmentFilter) ([]models.AppointmentDetail, *models.Pagination, error)
	Export(ctx context.Context, caller models.Caller, filter models.AppointmentFilter, format export.Format) (*service.ExportFile, error)
}

// AppointmentHandler exposes the staff view of the booking ledger.
type AppointmentHandler struct {
	service  appointmentService
	location *time.Location
}

// NewAppointmentHandler constructs the handler.
func NewAppointmentHandler(svc appointmentService, loc *time.Location) *AppointmentHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AppointmentHandler{service: svc, location: loc}
}

// List godoc
// @Summary List appointments
// @Description Teachers see their own appointments; admins may filter by teacher
// @Tags Appointments
// @Produce json
// @Security BearerAuth
// @Param teacher_id query string false "Teacher ID (admin only)"
// @Param status query string false "booked or cancelled"
// @Param from query string false "Start on or after"
// @Param to query string false "Start before"
// @Param page query int false "Page"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /appointments [get]
func (h *AppointmentHandler) List(c *gin.Context) {
	filter, err := appointmentFilter(c, h.location)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.TeacherID = c.Query("teacher_id")

	items, pagination, err := h.service.ListForTeacher(c.Request.Context(), callerFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get appointment
// @Tags Appointments
// @Produce json
// @Security BearerAuth
// @Param id path string true "Appointment ID"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /appointments/{id} [get]
func (h *AppointmentHandler) Get(c *gin.Context) {
	appt, err := h.service.Get(c.Request.Context(), callerFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, appt, nil)
}

// Cancel godoc
// @Summary Cancel appointment
// @Description Cancels a booked appointment. Cancelling an already cancelled appointment returns it unchanged with meta.already_cancelled=true.
// @Tags Appointments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Appointment ID"
// @Param payload body models.CancelRequest false "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /appointments/{id}/cancel [post]
func (h *AppointmentHandler) Cancel(c *gin.Context) {
	cancelAppointment(c, h.service)
}

// Export godoc
// @Summary Export appointments
// @Description Downloads the caller's appointment list as CSV, PDF or XLSX
// @Tags Appointments
// @Produce octet-stream
// @Security BearerAuth
// @Param format query string false "csv (default), pdf or xlsx"
// @Param teacher_id query string false "Teacher ID (admin only)"
// @Param status query string false "booked or cancelled"
// @Param from query string false "Start on or after"
// @Param to query string false "Start before"
// @Success 200 {file} file
// @Failure 400 {object} response.Envelope
// @Router /appointments/export [get]
func (h *AppointmentHandler) Export(c *gin.Context) {
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		response.Error(c, invalidPayload(err, err.Error()))
		return
	}
	filter, err := appointmentFilter(c, h.location)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter.TeacherID = c.Query("teacher_id")

	file, err := h.service.Export(c.Request.Context(), callerFromContext(c), filter, format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}

func cancelAppointment(c *gin.Context, svc appointmentService) {
	var req models.CancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, invalidPayload(err, "invalid payload"))
			return
		}
	}

	appt, already, err := svc.Cancel(c.Request.Context(), callerFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetMeta(c, "already_cancelled", already)
	response.JSON(c, http.StatusOK, appt, nil, middleware.ExtractMeta(c))
}

func appointmentFilter(c *gin.Context, loc *time.Location) (models.AppointmentFilter, error) {
	var filter models.AppointmentFilter
	filter.Page, filter.PageSize = pageParams(c)

	if status := c.Query("status"); status != "" {
		s := models.AppointmentStatus(status)
		if s != models.AppointmentBooked && s != models.AppointmentCancelled {
			return filter, appErrors.Clone(appErrors.ErrValidation, "status must be booked or cancelled")
		}
		filter.Status = &s
	}
	var err error
	if filter.From, err = optionalTimeParam(c, "from", loc); err != nil {
		return filter, err
	}
	if filter.To, err = optionalTimeParam(c, "to", loc); err != nil {
		return filter, err
	}
	return filter, nil
}
