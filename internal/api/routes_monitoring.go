package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/studyhub/internal/monitoring"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/pkg/response"
)

// registerMonitoringRoutes exposes background job summaries to admin console callers.
func registerMonitoringRoutes(r *gin.Engine, jobs *monitoring.Jobs) {
	if jobs == nil {
		return
	}
	r.GET("/monitoring/jobs", func(c *gin.Context) {
		if err := reqctx.FromHeaders(c.Request.Header).RequireAdmin(); err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, http.StatusOK, gin.H{"jobs": jobs.Snapshot()})
	})
}
