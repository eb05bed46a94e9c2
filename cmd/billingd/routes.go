package main

import (
	"database/sql"
	"time"

	"github.com/jesus-bazan-entel/ApoloBilling/internal/httpapi"
	"github.com/jesus-bazan-entel/ApoloBilling/internal/rbac"
	"github.com/jesus-bazan-entel/ApoloBilling/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc, db *sql.DB, rdb *redis.Client) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(503, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// live call registry, any authenticated role
		v1.GET("/active-calls", h.ListActiveCalls)

		accounts := v1.Group("/accounts")
		{
			accounts.GET("/:account_id/balance", h.GetAccountBalance)
			accounts.GET("/:account_id/transactions", h.ListAccountTransactions)
			accounts.GET("/:account_id/spend-summary", h.SpendSummary)

			// balance movement is admin/operator only, and audited
			adjust := accounts.Group("")
			adjust.Use(rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleOperator))
			{
				adjust.POST("/:account_id/recharge", h.RechargeAccount)
				adjust.POST("/:account_id/refund", h.RefundAccount)
			}
		}

		reports := v1.Group("/reports")
		reports.Use(rbac.RequireAnyRole(rbac.RoleAdmin, rbac.RoleOperator, rbac.RoleViewer))
		{
			reports.GET("/traffic", h.TrafficSummary)
		}
	}
}
