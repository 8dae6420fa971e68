package main

import (
	"database/sql"
	"net/http"
	"time"

	"crm-platform/internal/auth"
	"crm-platform/internal/httpapi"
	"crm-platform/internal/rbac"
	"crm-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	handlers httpapi.Handlers
	authMW   gin.HandlerFunc
	mutCapMW gin.HandlerFunc
	db       *sql.DB
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := deps.handlers

	// public
	r.GET("/healthz", func(c *gin.Context) {
		if deps.db != nil {
			if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// AUTH routes (token issuance).
	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
		})

		// ENGAGEMENT lifecycle. Mutations are capped per user.
		eng := v1.Group("/engagements")
		eng.Use(rbac.RequireAnyRole(rbac.RoleManager, rbac.RoleSalesRep, rbac.RoleDoctor))
		{
			writes := eng.Group("")
			writes.Use(deps.mutCapMW)
			{
				writes.POST("/start", h.StartEngagement)
				writes.POST("/touch", h.RegisterTouch)
				writes.POST("/release", h.ReleaseEngagement)
				writes.POST("/:engagement_id/status", h.RecordStatusChange)
				writes.POST("/:engagement_id/viewers", h.AddViewer)
				writes.DELETE("/:engagement_id/viewers/:user_id", h.RemoveViewer)
			}

			eng.GET("/:engagement_id", h.GetEngagement)
			eng.GET("/:engagement_id/visibility/:user_id", h.CanUserSee)
			eng.GET("/:engagement_id/timeline", h.Timeline)
		}

		// Bulk close is an administrative operation.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleManager))
		{
			admin.POST("/engagements/close", h.CloseActiveByRole)
		}

		// Passive views: browsing customer profiles or phone numbers.
		views := v1.Group("/views")
		views.Use(rbac.RequireAnyRole(rbac.RoleManager, rbac.RoleSalesRep, rbac.RoleDoctor))
		{
			views.POST("/profile", h.RegisterProfileView)
			views.POST("/phone", h.RegisterPhoneView)
		}

		// CALL LOG routes
		calls := v1.Group("/calls")
		calls.Use(rbac.RequireAnyRole(rbac.RoleSalesRep, rbac.RoleDoctor))
		{
			calls.POST("", deps.mutCapMW, h.RegisterCall)
			calls.PATCH("/:call_log_id", h.UpdateCallOutcome)
		}

		// METRICS routes. support_operator is read-only and opted in here.
		m := v1.Group("/metrics")
		m.Use(rbac.RequireAnyRole(rbac.RoleManager, rbac.RoleSalesRep, rbac.RoleDoctor, rbac.RoleSupportOperator))
		{
			m.GET("/kpi", h.DashboardKPI)
			m.GET("/performance", h.UserPerformance)
			m.GET("/users/:user_id/stats", h.UserStats)
			m.GET("/users/:user_id/history", h.History)
		}
	}
}
