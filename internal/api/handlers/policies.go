package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"printdesk/internal/api/middleware"
	"printdesk/internal/db"
)

type PolicyHandler struct {
	policies *db.PolicyStore
	audit    *db.AuditStore
}

func NewPolicyHandler(policies *db.PolicyStore, audit *db.AuditStore) *PolicyHandler {
	return &PolicyHandler{policies: policies, audit: audit}
}

type CreatePolicyRequest struct {
	Scope                 string  `json:"scope" binding:"required,oneof=global department role"`
	ScopeValue            string  `json:"scope_value"`
	MaxPages              int     `json:"max_pages" binding:"min=0"`
	MaxCopies             int     `json:"max_copies" binding:"min=0"`
	ForceDuplexAbovePages int     `json:"force_duplex_above_pages" binding:"min=0"`
	ColorAllowed          *bool   `json:"color_allowed"`
	ColorPageLimit        int     `json:"color_page_limit" binding:"min=0"`
	CostMultiplier        float64 `json:"cost_multiplier"`
	WindowStartHour       int     `json:"window_start_hour" binding:"min=0,max=23"`
	WindowEndHour         int     `json:"window_end_hour" binding:"min=0,max=23"`
}

func (h *PolicyHandler) Create(c *gin.Context) {
	var req CreatePolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.Scope != "global" && req.ScopeValue == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scope_value is required for department and role rules"})
		return
	}

	// Equal non-zero hours would be a zero-width window that closes the
	// rule permanently; 0/0 means no window.
	if req.WindowStartHour == req.WindowEndHour && req.WindowStartHour != 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "window_start_hour and window_end_hour must differ"})
		return
	}

	colorAllowed := true
	if req.ColorAllowed != nil {
		colorAllowed = *req.ColorAllowed
	}
	multiplier := req.CostMultiplier
	if multiplier <= 0 {
		multiplier = 1.0
	}

	rule := &db.PolicyRule{
		Scope:                 req.Scope,
		ScopeValue:            req.ScopeValue,
		MaxPages:              req.MaxPages,
		MaxCopies:             req.MaxCopies,
		ForceDuplexAbovePages: req.ForceDuplexAbovePages,
		ColorAllowed:          colorAllowed,
		ColorPageLimit:        req.ColorPageLimit,
		CostMultiplier:        multiplier,
		WindowStartHour:       req.WindowStartHour,
		WindowEndHour:         req.WindowEndHour,
	}
	if err := h.policies.Create(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create policy rule"})
		return
	}

	h.recordAudit(c, "policy_rule_created", rule)
	c.JSON(http.StatusCreated, rule)
}

func (h *PolicyHandler) List(c *gin.Context) {
	rules, err := h.policies.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list policy rules"})
		return
	}
	if rules == nil {
		rules = []*db.PolicyRule{}
	}
	c.JSON(http.StatusOK, gin.H{"rules": rules})
}

func (h *PolicyHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rule id"})
		return
	}

	if err := h.policies.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete policy rule"})
		return
	}

	h.recordAudit(c, "policy_rule_deleted", &db.PolicyRule{ID: id})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *PolicyHandler) recordAudit(c *gin.Context, action string, rule *db.PolicyRule) {
	details, _ := json.Marshal(rule)
	h.audit.Record(c.Request.Context(), &db.AuditEntry{
		Action:      action,
		EntityType:  "policy_rule",
		EntityID:    strconv.FormatInt(rule.ID, 10),
		ActorID:     middleware.UserID(c),
		DetailsJSON: string(details),
	})
}
