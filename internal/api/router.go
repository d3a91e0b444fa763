package api

import (
	"github.com/gin-gonic/gin"

	"printdesk/internal/api/handlers"
	"printdesk/internal/api/middleware"
)

type Handlers struct {
	Auth    *handlers.AuthHandler
	Jobs    *handlers.JobHandler
	Account *handlers.AccountHandler
	Policy  *handlers.PolicyHandler
	Admin   *handlers.AdminHandler
}

// SetupRouter mounts the API. Job submission, cancellation, and queries
// require a signed-in user; policy and account administration require
// the admin role.
func SetupRouter(auth *middleware.AuthMiddleware, h Handlers) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")

	v1.POST("/auth/register", h.Auth.Register)
	v1.POST("/auth/login", h.Auth.Login)
	v1.POST("/auth/logout", h.Auth.Logout)

	authed := v1.Group("")
	authed.Use(auth.RequireAuth())
	{
		authed.POST("/jobs", h.Jobs.Submit)
		authed.GET("/jobs", h.Jobs.List)
		authed.GET("/jobs/:id", h.Jobs.Get)
		authed.GET("/jobs/:id/status", h.Jobs.Status)
		authed.POST("/jobs/:id/cancel", h.Jobs.Cancel)
		authed.GET("/account", h.Account.Get)
	}

	admin := v1.Group("/admin")
	admin.Use(auth.RequireAuth(), auth.RequireAdmin())
	{
		admin.GET("/queue/stats", h.Jobs.QueueStats)
		admin.GET("/users", h.Admin.ListUsers)
		admin.POST("/users/:id/credit", h.Admin.CreditBalance)
		admin.POST("/users/:id/quota", h.Admin.SetQuota)
		admin.POST("/users/:id/department", h.Admin.SetDepartment)
		admin.GET("/departments", h.Admin.ListDepartments)
		admin.POST("/departments", h.Admin.CreateDepartment)
		admin.GET("/policies", h.Policy.List)
		admin.POST("/policies", h.Policy.Create)
		admin.DELETE("/policies/:id", h.Policy.Delete)
		admin.GET("/audit", h.Admin.AuditLog)
	}

	return router
}
