package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"printdesk/internal/api/middleware"
	"printdesk/internal/core"
)

type AccountHandler struct {
	engine *core.Engine
}

func NewAccountHandler(engine *core.Engine) *AccountHandler {
	return &AccountHandler{engine: engine}
}

// Get reports the caller's current balance and remaining page quota,
// suitable for dashboard polling.
func (h *AccountHandler) Get(c *gin.Context) {
	info, err := h.engine.GetUserBalanceAndQuota(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}
