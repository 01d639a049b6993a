package credit

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/msaedi/instructly-sub008/internal/api"
	"github.com/msaedi/instructly-sub008/internal/apperr"
	"github.com/msaedi/instructly-sub008/internal/auth"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// GetBalance godoc
// @Summary      Platform credit balance and recent transactions
// @Tags         credits
// @Security     BearerAuth
// @Produce      json
// @Param        limit   query  int  false  "Page size"
// @Param        offset  query  int  false  "Offset"
// @Success      200  {object}  BalanceResponse
// @Router       /credits [get]
func (h *Handler) GetBalance(c *gin.Context) {
	actor, ok := auth.GetActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, api.ErrorResponse{Error: "user not authenticated"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	account, err := h.repo.GetOrCreateAccount(c.Request.Context(), actor.UserID)
	if err != nil {
		api.RespondError(c, apperr.Internal("failed to load credit account", err))
		return
	}

	txs, err := h.repo.GetTransactions(c.Request.Context(), actor.UserID, limit, offset)
	if err != nil {
		api.RespondError(c, apperr.Internal("failed to load credit transactions", err))
		return
	}

	c.JSON(http.StatusOK, BalanceResponse{Account: account, Transactions: txs})
}
