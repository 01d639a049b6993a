package availability

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/msaedi/instructly-sub008/internal/api"
	"github.com/msaedi/instructly-sub008/internal/apperr"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// GetDay godoc
// @Summary      Owner availability for a day
// @Tags         availability
// @Security     BearerAuth
// @Produce      json
// @Param        ownerID  path   int     true  "Instructor ID"
// @Param        date     query  string  true  "Date (YYYY-MM-DD)"
// @Success      200  {object}  DayResponse
// @Failure      400  {object}  api.ErrorResponse
// @Router       /owners/{ownerID}/availability [get]
func (h *Handler) GetDay(c *gin.Context) {
	ownerID, ok := ownerParam(c)
	if !ok {
		return
	}

	date, err := ParseDate(c.Query("date"))
	if err != nil {
		api.RespondError(c, apperr.Validation("date must be YYYY-MM-DD"))
		return
	}

	day, err := h.service.GetDay(c.Request.Context(), ownerID, date)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, day)
}

// Check godoc
// @Summary      Check for a free run of slots
// @Tags         availability
// @Security     BearerAuth
// @Produce      json
// @Param        ownerID   path   int     true   "Instructor ID"
// @Param        date      query  string  true   "Date (YYYY-MM-DD)"
// @Param        after     query  string  false  "Earliest start (HH:MM)"
// @Param        before    query  string  false  "Latest end (HH:MM)"
// @Param        duration  query  int     true   "Lesson length in minutes"
// @Success      200  {object}  CheckResponse
// @Failure      400  {object}  api.ErrorResponse
// @Router       /owners/{ownerID}/availability/check [get]
func (h *Handler) Check(c *gin.Context) {
	ownerID, ok := ownerParam(c)
	if !ok {
		return
	}

	var req CheckRequest
	if !api.BindQuery(c, &req) {
		return
	}

	available, err := h.service.Check(c.Request.Context(), ownerID, req)
	if err != nil {
		api.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, CheckResponse{Available: available})
}

func ownerParam(c *gin.Context) (int64, bool) {
	ownerID, err := strconv.ParseInt(c.Param("ownerID"), 10, 64)
	if err != nil || ownerID <= 0 {
		api.RespondError(c, apperr.Validation("invalid owner ID"))
		return 0, false
	}
	return ownerID, true
}
