package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"printdesk/internal/api/middleware"
	"printdesk/internal/core"
)

type JobHandler struct {
	engine *core.Engine
}

func NewJobHandler(engine *core.Engine) *JobHandler {
	return &JobHandler{engine: engine}
}

type SubmitJobRequest struct {
	FileName  string `json:"file_name" binding:"required"`
	PageCount int    `json:"page_count" binding:"required,min=1"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type" binding:"required"`

	Copies    int    `json:"copies" binding:"min=0"`
	ColorMode string `json:"color_mode"`
	Duplex    bool   `json:"duplex"`
	PaperSize string `json:"paper_size"`
	Priority  string `json:"priority"`
}

// Submit accepts a document the upload handler has already stored and
// measured, and runs it through the submission pipeline.
func (h *JobHandler) Submit(c *gin.Context) {
	var req SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	file := core.FileMeta{
		FileName:  req.FileName,
		PageCount: req.PageCount,
		SizeBytes: req.SizeBytes,
		MimeType:  req.MimeType,
	}
	settings := core.PrintSettings{
		Copies:    req.Copies,
		ColorMode: core.ColorMode(req.ColorMode),
		Duplex:    req.Duplex,
		PaperSize: core.PaperSize(req.PaperSize),
		Priority:  core.Priority(req.Priority),
	}

	job, err := h.engine.SubmitJob(c.Request.Context(), middleware.UserID(c), file, settings)
	if err != nil {
		writeEngineError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *JobHandler) Cancel(c *gin.Context) {
	err := h.engine.CancelJob(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// authorizedJob loads the job in the id path parameter and enforces the
// owner-or-admin rule; it has already written the response when ok is
// false.
func (h *JobHandler) authorizedJob(c *gin.Context) (*core.Job, bool) {
	job, err := h.engine.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeEngineError(c, err)
		return nil, false
	}

	role, _ := c.Get(middleware.ContextKeyRole)
	if job.UserID != middleware.UserID(c) && role != "admin" {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
		return nil, false
	}
	return job, true
}

func (h *JobHandler) Get(c *gin.Context) {
	job, ok := h.authorizedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *JobHandler) Status(c *gin.Context) {
	job, ok := h.authorizedJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, &core.JobStatusInfo{
		Status:        job.Status,
		CostCents:     job.CostCents,
		FailureReason: job.FailureReason,
	})
}

type listJobsQuery struct {
	Limit  int `form:"limit" binding:"max=100"`
	Offset int `form:"offset"`
}

func (h *JobHandler) List(c *gin.Context) {
	var q listJobsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	jobs, err := h.engine.ListJobsForUser(c.Request.Context(), middleware.UserID(c), q.Limit, q.Offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}
	if jobs == nil {
		jobs = []*core.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *JobHandler) QueueStats(c *gin.Context) {
	counts, err := h.engine.QueueStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to count jobs"})
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	c.JSON(http.StatusOK, gin.H{
		"pending":   counts[core.JobStatusPending],
		"printing":  counts[core.JobStatusPrinting],
		"completed": counts[core.JobStatusCompleted],
		"failed":    counts[core.JobStatusFailed],
		"cancelled": counts[core.JobStatusCancelled],
		"total":     total,
	})
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
func writeEngineError(c *gin.Context, err error) {
	var rejected *core.PolicyRejectedError
	switch {
	case errors.As(err, &rejected):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "policy rejected", "reason": rejected.Reason})
	case errors.Is(err, core.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient funds"})
	case errors.Is(err, core.ErrInsufficientQuota):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient quota"})
	case errors.Is(err, core.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": "job already in a terminal state"})
	case errors.Is(err, core.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
	case errors.Is(err, core.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, core.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
