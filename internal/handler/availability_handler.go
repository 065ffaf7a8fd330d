package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-booking-api/internal/models"
	"github.com/noah-isme/sma-booking-api/pkg/response"
)

type availabilityService interface {
	List(ctx context.Context, caller models.Caller, filter models.AvailabilityFilter) ([]models.AvailabilityWindow, error)
	Get(ctx context.Context, caller models.Caller, id string) (*models.AvailabilityWindow, error)
	Create(ctx context.Context, caller models.Caller, req models.AvailabilityWindowRequest) (*models.AvailabilityWindow, error)
	Update(ctx context.Context, caller models.Caller, id string, req models.AvailabilityWindowRequest) (*models.AvailabilityWindow, error)
	Delete(ctx context.Context, caller models.Caller, id string) error
}

// AvailabilityHandler lets teachers manage their availability windows.
type AvailabilityHandler struct {
	service  availabilityService
	location *time.Location
}

// NewAvailabilityHandler constructs the handler.
func NewAvailabilityHandler(svc availabilityService, loc *time.Location) *AvailabilityHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &AvailabilityHandler{service: svc, location: loc}
}

// List godoc
// @Summary List availability windows
// @Description Teachers see their own windows; admins may filter by teacher
// @Tags Availability
// @Produce json
// @Security BearerAuth
// @Param teacher_id query string false "Teacher ID (admin only)"
// @Param from query string false "Windows recurring on or after this date"
// @Param to query string false "Windows starting on or before this date"
// @Success 200 {object} response.Envelope
// @Router /availability [get]
func (h *AvailabilityHandler) List(c *gin.Context) {
	filter := models.AvailabilityFilter{TeacherID: c.Query("teacher_id")}
	var err error
	if filter.From, err = optionalTimeParam(c, "from", h.location); err != nil {
		response.Error(c, err)
		return
	}
	if filter.To, err = optionalTimeParam(c, "to", h.location); err != nil {
		response.Error(c, err)
		return
	}

	windows, err := h.service.List(c.Request.Context(), callerFromContext(c), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, windows, nil)
}

// Get godoc
// @Summary Get availability window
// @Tags Availability
// @Produce json
// @Security BearerAuth
// @Param id path string true "Window ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /availability/{id} [get]
func (h *AvailabilityHandler) Get(c *gin.Context) {
	window, err := h.service.Get(c.Request.Context(), callerFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}

// Create godoc
// @Summary Create availability window
// @Description Declares a window split into slots of slot_duration separated by break_duration, optionally repeated weekly
// @Tags Availability
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.AvailabilityWindowRequest true "Window payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /availability [post]
func (h *AvailabilityHandler) Create(c *gin.Context) {
	var req models.AvailabilityWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid payload"))
		return
	}
	window, err := h.service.Create(c.Request.Context(), callerFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, window)
}

// Update godoc
// @Summary Replace availability window
// @Tags Availability
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Window ID"
// @Param payload body models.AvailabilityWindowRequest true "Window payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /availability/{id} [put]
func (h *AvailabilityHandler) Update(c *gin.Context) {
	var req models.AvailabilityWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, invalidPayload(err, "invalid payload"))
		return
	}
	window, err := h.service.Update(c.Request.Context(), callerFromContext(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, window, nil)
}

// Delete godoc
// @Summary Delete availability window
// @Description Booked appointments in the window are kept
// @Tags Availability
// @Security BearerAuth
// @Param id path string true "Window ID"
// @Success 204 {object} response.Envelope
// @Router /availability/{id} [delete]
func (h *AvailabilityHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), callerFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
