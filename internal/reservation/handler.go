package reservation

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/msaedi/instructly-sub008/internal/api"
	"github.com/msaedi/instructly-sub008/internal/apperr"
	"github.com/msaedi/instructly-sub008/internal/auth"
	"github.com/msaedi/instructly-sub008/internal/availability"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Create godoc
// @Summary      Book a lesson
// @Tags         reservations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      CreateRequest  true  "Booking"
// @Success      201      {object}  ReservationResponse
// @Failure      400      {object}  api.ErrorResponse
// @Failure      409      {object}  api.ErrorResponse
// @Failure      422      {object}  api.ErrorResponse
// @Router       /reservations [post]
func (h *Handler) Create(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "User not authenticated"})
		return
	}

	var req CreateRequest
	if !api.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.Create(c.Request.Context(), actor, req)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Get godoc
// @Summary      Get a reservation with its settlement
// @Tags         reservations
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Reservation ID"
// @Success      200  {object}  ReservationResponse
// @Failure      404  {object}  api.ErrorResponse
// @Router       /reservations/{id} [get]
func (h *Handler) Get(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}

	resp, err := h.service.Get(c.Request.Context(), actor, id)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ListForOwnerDay godoc
// @Summary      An instructor's reservations on a day
// @Tags         reservations
// @Security     BearerAuth
// @Produce      json
// @Param        ownerID  path   int     true  "Instructor ID"
// @Param        date     query  string  true  "Date (YYYY-MM-DD)"
// @Success      200  {array}   Reservation
// @Router       /owners/{ownerID}/reservations [get]
func (h *Handler) ListForOwnerDay(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "User not authenticated"})
		return
	}
	ownerID, err := strconv.ParseInt(c.Param("ownerID"), 10, 64)
	if err != nil || ownerID <= 0 {
		api.RespondError(c, apperr.Validation("invalid owner ID"))
		return
	}
	date, err := availability.ParseDate(c.Query("date"))
	if err != nil {
		api.RespondError(c, apperr.Validation("date must be YYYY-MM-DD"))
		return
	}

	out, err := h.service.ListForOwnerDay(c.Request.Context(), actor, ownerID, date)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Confirm godoc
// @Summary      Confirm a pending reservation
// @Tags         reservations
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Reservation ID"
// @Success      200  {object}  ReservationResponse
// @Router       /reservations/{id}/confirm [post]
func (h *Handler) Confirm(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}

	resp, err := h.service.Confirm(c.Request.Context(), actor, id)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Complete godoc
// @Summary      Mark a lesson as held
// @Tags         reservations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int              true   "Reservation ID"
// @Param        request  body      CompleteRequest  false  "Override"
// @Success      200      {object}  ReservationResponse
// @Router       /reservations/{id}/complete [post]
func (h *Handler) Complete(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}

	var req CompleteRequest
	if c.Request.ContentLength > 0 && !api.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.Complete(c.Request.Context(), actor, id, req)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel godoc
// @Summary      Cancel a reservation and settle its payment
// @Tags         reservations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int            true   "Reservation ID"
// @Param        request  body      CancelRequest  false  "Cancellation"
// @Success      200      {object}  CancelResponse
// @Failure      502      {object}  api.ErrorResponse
// @Router       /reservations/{id}/cancel [post]
func (h *Handler) Cancel(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}

	var req CancelRequest
	if c.Request.ContentLength > 0 && !api.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.Cancel(c.Request.Context(), actor, id, req)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reschedule godoc
// @Summary      Move a reservation to a new time
// @Tags         reservations
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                true  "Reservation ID"
// @Param        request  body      RescheduleRequest  true  "New time"
// @Success      201      {object}  RescheduleResponse
// @Failure      409      {object}  api.ErrorResponse
// @Router       /reservations/{id}/reschedule [post]
func (h *Handler) Reschedule(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}

	var req RescheduleRequest
	if !api.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.Reschedule(c.Request.Context(), actor, id, req)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ReportNoShow godoc
// @Summary      Report that a party did not attend
// @Tags         no-show
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int            true  "Reservation ID"
// @Param        request  body      NoShowRequest  true  "Absent party"
// @Success      201      {object}  NoShowResponse
// @Router       /reservations/{id}/no-show [post]
func (h *Handler) ReportNoShow(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}

	var req NoShowRequest
	if !api.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.ReportNoShow(c.Request.Context(), actor, id, req)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// DisputeNoShow godoc
// @Summary      Dispute a no-show report
// @Tags         no-show
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int             true  "Reservation ID"
// @Param        request  body      DisputeRequest  true  "Reason"
// @Success      200      {object}  NoShowResponse
// @Router       /reservations/{id}/no-show/dispute [post]
func (h *Handler) DisputeNoShow(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}

	var req DisputeRequest
	if !api.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.DisputeNoShow(c.Request.Context(), actor, id, req)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ResolveNoShow godoc
// @Summary      Resolve a no-show report
// @Tags         no-show
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int             true  "Reservation ID"
// @Param        request  body      ResolveRequest  true  "Outcome"
// @Success      200      {object}  NoShowResponse
// @Router       /admin/reservations/{id}/no-show/resolve [post]
func (h *Handler) ResolveNoShow(c *gin.Context) {
	actor, id, ok := actorAndID(c)
	if !ok {
		return
	}

	var req ResolveRequest
	if !api.BindJSON(c, &req) {
		return
	}

	resp, err := h.service.ResolveNoShow(c.Request.Context(), actor, id, req)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func actorAndID(c *gin.Context) (auth.Actor, int64, bool) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "User not authenticated"})
		return auth.Actor{}, 0, false
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		api.RespondError(c, apperr.Validation("invalid reservation ID"))
		return auth.Actor{}, 0, false
	}
	return actor, id, true
}
