package planner

import (
	"net/http"
	"strconv"
	"time"

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

type SplitRequest struct {
	At string `json:"at" validate:"required,datetime=15:04"`
}

// PublishWindow godoc
// @Summary      Publish an availability window
// @Tags         availability
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        request  body      availability.PublishWindowRequest  true  "Window"
// @Success      201      {object}  availability.Window
// @Failure      400      {object}  api.ErrorResponse
// @Router       /availability/windows [post]
func (h *Handler) PublishWindow(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "User not authenticated"})
		return
	}

	var req availability.PublishWindowRequest
	if !api.BindJSON(c, &req) {
		return
	}

	w, err := h.service.PublishWindow(c.Request.Context(), actor.UserID, req)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

// RemoveWindow godoc
// @Summary      Remove an unbooked availability window
// @Tags         availability
// @Security     BearerAuth
// @Param        date      path  string  true  "Date (YYYY-MM-DD)"
// @Param        windowID  path  int     true  "Window ID"
// @Success      204
// @Failure      400  {object}  api.ErrorResponse
// @Router       /availability/{date}/windows/{windowID} [delete]
func (h *Handler) RemoveWindow(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "User not authenticated"})
		return
	}
	date, windowID, ok := dateAndWindow(c)
	if !ok {
		return
	}

	if err := h.service.RemoveWindow(c.Request.Context(), actor.UserID, date, windowID); err != nil {
		api.RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MergeDay godoc
// @Summary      Merge adjacent unbooked windows of a day
// @Tags         availability
// @Security     BearerAuth
// @Produce      json
// @Param        date  path  string  true  "Date (YYYY-MM-DD)"
// @Success      200  {array}   availability.Window
// @Router       /availability/{date}/merge [post]
func (h *Handler) MergeDay(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "User not authenticated"})
		return
	}
	date, err := availability.ParseDate(c.Param("date"))
	if err != nil {
		api.RespondError(c, apperr.Validation("date must be YYYY-MM-DD"))
		return
	}

	windows, err := h.service.MergeDay(c.Request.Context(), actor.UserID, date)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, windows)
}

// SplitWindow godoc
// @Summary      Split a window in two
// @Tags         availability
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        date      path  string        true  "Date (YYYY-MM-DD)"
// @Param        windowID  path  int           true  "Window ID"
// @Param        request   body  SplitRequest  true  "Split point"
// @Success      200  {array}   availability.Window
// @Failure      400  {object}  api.ErrorResponse
// @Router       /availability/{date}/windows/{windowID}/split [post]
func (h *Handler) SplitWindow(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "User not authenticated"})
		return
	}
	date, windowID, ok := dateAndWindow(c)
	if !ok {
		return
	}

	var req SplitRequest
	if !api.BindJSON(c, &req) {
		return
	}
	at, err := availability.ParseClock(req.At)
	if err != nil {
		api.RespondError(c, apperr.Validation("at must be HH:MM"))
		return
	}

	windows, err := h.service.SplitWindow(c.Request.Context(), actor.UserID, date, windowID, at)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, windows)
}

// FindGaps godoc
// @Summary      Gaps between an owner's windows
// @Tags         availability
// @Security     BearerAuth
// @Produce      json
// @Param        ownerID  path   int     true   "Instructor ID"
// @Param        date     path   string  true   "Date (YYYY-MM-DD)"
// @Param        min      query  int     false  "Minimum gap in minutes"
// @Success      200  {array}  Gap
// @Router       /owners/{ownerID}/availability/{date}/gaps [get]
func (h *Handler) FindGaps(c *gin.Context) {
	ownerID, date, ok := ownerAndDate(c)
	if !ok {
		return
	}
	minDuration, _ := strconv.Atoi(c.DefaultQuery("min", "0"))

	gaps, err := h.service.FindGaps(c.Request.Context(), ownerID, date, minDuration)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	if gaps == nil {
		gaps = []Gap{}
	}
	c.JSON(http.StatusOK, gaps)
}

// SuggestSlots godoc
// @Summary      Lesson-length start times for a day
// @Tags         availability
// @Security     BearerAuth
// @Produce      json
// @Param        ownerID   path   int     true  "Instructor ID"
// @Param        date      path   string  true  "Date (YYYY-MM-DD)"
// @Param        duration  query  int     true  "Lesson length in minutes"
// @Success      200  {array}   Suggestion
// @Failure      400  {object}  api.ErrorResponse
// @Router       /owners/{ownerID}/availability/{date}/suggestions [get]
func (h *Handler) SuggestSlots(c *gin.Context) {
	ownerID, date, ok := ownerAndDate(c)
	if !ok {
		return
	}
	duration, err := strconv.Atoi(c.Query("duration"))
	if err != nil {
		api.RespondError(c, apperr.Validation("duration must be a number of minutes"))
		return
	}

	slots, err := h.service.SuggestSlots(c.Request.Context(), ownerID, date, duration)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	if slots == nil {
		slots = []Suggestion{}
	}
	c.JSON(http.StatusOK, slots)
}

func ownerAndDate(c *gin.Context) (int64, time.Time, bool) {
	ownerID, err := strconv.ParseInt(c.Param("ownerID"), 10, 64)
	if err != nil || ownerID <= 0 {
		api.RespondError(c, apperr.Validation("invalid owner ID"))
		return 0, time.Time{}, false
	}
	date, err := availability.ParseDate(c.Param("date"))
	if err != nil {
		api.RespondError(c, apperr.Validation("date must be YYYY-MM-DD"))
		return 0, time.Time{}, false
	}
	return ownerID, date, true
}

func dateAndWindow(c *gin.Context) (time.Time, int64, bool) {
	date, err := availability.ParseDate(c.Param("date"))
	if err != nil {
		api.RespondError(c, apperr.Validation("date must be YYYY-MM-DD"))
		return time.Time{}, 0, false
	}
	windowID, err := strconv.ParseInt(c.Param("windowID"), 10, 64)
	if err != nil || windowID <= 0 {
		api.RespondError(c, apperr.Validation("invalid window ID"))
		return time.Time{}, 0, false
	}
	return date, windowID, true
}
