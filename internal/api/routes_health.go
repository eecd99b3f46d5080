package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/app"
	"github.com/charlesng35/studyhub/internal/monitoring"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
	"github.com/charlesng35/studyhub/pkg/response"
)

// The gateway polls /health/ready on every subgraph before composing, so a
// subgraph with health checks disabled never joins the graph.
func registerHealthRoutes(r *gin.Engine, cfg app.MonitoringConfig, manager *monitoring.HealthManager) {
	if !cfg.Health.Enabled || manager == nil {
		r.GET("/health", disabledHealthHandler)
		r.GET("/health/live", disabledHealthHandler)
		r.GET("/health/ready", disabledHealthHandler)
		return
	}

	r.GET("/health", func(c *gin.Context) {
		report := monitoring.MergeReports(
			manager.EvaluateLiveness(c.Request.Context()),
			manager.EvaluateReadiness(c.Request.Context()),
		)
		status := http.StatusOK
		if !report.Success {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"success":    report.Success,
			"status":     report.Status,
			"checked_at": time.Now().UTC(),
		})
	})

	r.GET("/health/live", func(c *gin.Context) {
		writeHealthReport(c, manager.EvaluateLiveness(c.Request.Context()))
	})

	r.GET("/health/ready", func(c *gin.Context) {
		writeHealthReport(c, manager.EvaluateReadiness(c.Request.Context()))
	})
}

func disabledHealthHandler(c *gin.Context) {
	response.Error(c, apperrors.ErrNotFound.WithMessage("health checks disabled"))
}

func writeHealthReport(c *gin.Context, report monitoring.HealthReport) {
	status := http.StatusOK
	if !report.Success {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"success":    report.Success,
		"status":     report.Status,
		"checks":     report.Checks,
		"checked_at": time.Now().UTC(),
	})
}
