package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"printdesk/internal/api/middleware"
	"printdesk/internal/db"
)

// AdminHandler is the administrative surface: account top-ups, quota
// adjustments, department management, and the audit trail.
type AdminHandler struct {
	users       *db.UserStore
	departments *db.DepartmentStore
	audit       *db.AuditStore
}

func NewAdminHandler(users *db.UserStore, departments *db.DepartmentStore, audit *db.AuditStore) *AdminHandler {
	return &AdminHandler{users: users, departments: departments, audit: audit}
}

func (h *AdminHandler) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list users"})
		return
	}
	if users == nil {
		users = []*db.User{}
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

type CreditBalanceRequest struct {
	AmountCents int64 `json:"amount_cents" binding:"required,min=1"`
}

// CreditBalance tops up a user's balance. Debits only ever happen
// through the ledger.
func (h *AdminHandler) CreditBalance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req CreditBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.users.CreditBalance(c.Request.Context(), userID, req.AmountCents); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to credit balance"})
		return
	}

	h.recordAudit(c, "balance_credited", userID, req)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type SetQuotaRequest struct {
	PageQuota int `json:"page_quota" binding:"min=0"`
}

func (h *AdminHandler) SetQuota(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req SetQuotaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.users.SetPageQuota(c.Request.Context(), userID, req.PageQuota); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set quota"})
		return
	}

	h.recordAudit(c, "quota_set", userID, req)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type SetDepartmentRequest struct {
	Department string `json:"department" binding:"required"`
}

func (h *AdminHandler) SetDepartment(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return
	}

	var req SetDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.users.SetDepartment(c.Request.Context(), userID, req.Department); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to set department"})
		return
	}

	h.recordAudit(c, "department_set", userID, req)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type CreateDepartmentRequest struct {
	Name       string `json:"name" binding:"required"`
	CostCenter string `json:"cost_center"`
}

func (h *AdminHandler) CreateDepartment(c *gin.Context) {
	var req CreateDepartmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	dept := &db.Department{Name: req.Name, CostCenter: req.CostCenter}
	if err := h.departments.Create(c.Request.Context(), dept); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create department"})
		return
	}
	c.JSON(http.StatusCreated, dept)
}

func (h *AdminHandler) ListDepartments(c *gin.Context) {
	departments, err := h.departments.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list departments"})
		return
	}
	if departments == nil {
		departments = []*db.Department{}
	}
	c.JSON(http.StatusOK, gin.H{"departments": departments})
}

func (h *AdminHandler) AuditLog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit log"})
		return
	}
	if entries == nil {
		entries = []*db.AuditEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *AdminHandler) recordAudit(c *gin.Context, action string, userID int64, details any) {
	detailsJSON, _ := json.Marshal(details)
	h.audit.Record(c.Request.Context(), &db.AuditEntry{
		Action:      action,
		EntityType:  "user",
		EntityID:    strconv.FormatInt(userID, 10),
		ActorID:     middleware.UserID(c),
		DetailsJSON: string(detailsJSON),
	})
}
