// Package api assembles the gin engines served by each StudyHub process.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/charlesng35/studyhub/internal/app"
	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/middleware"
	"github.com/charlesng35/studyhub/internal/monitoring"
	"github.com/charlesng35/studyhub/internal/reqctx"
)

// SubgraphOptions configure the router of one subgraph service.
type SubgraphOptions struct {
	Name       string
	Schema     graphql.Executor
	Health     *monitoring.HealthManager
	Jobs       *monitoring.Jobs
	Monitoring app.MonitoringConfig
	// Subscriptions, when set, serves WebSocket upgrades on GET /graphql.
	Subscriptions http.Handler
}

// GatewayOptions configure the client facing router.
type GatewayOptions struct {
	Gateway    Gateway
	Health     *monitoring.HealthManager
	Monitoring app.MonitoringConfig
	RateStore  middleware.RateStore
	RateLimit  int
	Origins    []string
}

// Gateway is the part of *gateway.Gateway the router needs.
type Gateway interface {
	graphql.Executor
	Identify(r *http.Request) reqctx.RequestContext
}

// NewSubgraphRouter serves one subgraph. The caller identity is read from the
// headers the gateway forwards.
func NewSubgraphRouter(opts SubgraphOptions) (*gin.Engine, error) {
	if opts.Schema == nil {
		return nil, errors.New("subgraph schema must be provided")
	}

	r := newEngine(opts.Name, opts.Monitoring)
	r.Use(middleware.SecurityHeaders(middleware.APIContentSecurityPolicy))

	r.POST("/graphql", graphql.Handler(opts.Schema, graphql.ForwardedIdentity))
	if opts.Subscriptions != nil {
		r.GET("/graphql", gin.WrapH(opts.Subscriptions))
	}

	registerHealthRoutes(r, opts.Monitoring, opts.Health)
	registerMonitoringRoutes(r, opts.Jobs)
	return r, nil
}

// NewGatewayRouter serves the composed graph and the playground.
func NewGatewayRouter(opts GatewayOptions) (*gin.Engine, error) {
	if opts.Gateway == nil {
		return nil, errors.New("gateway must be provided")
	}

	r := newEngine("gateway", opts.Monitoring)
	r.Use(middleware.CORS(opts.Origins...))
	r.Use(middleware.SecurityHeaders(middleware.APIContentSecurityPolicy))
	if opts.RateStore != nil && opts.RateLimit > 0 {
		r.Use(middleware.RateLimit(opts.RateStore, opts.RateLimit, time.Minute))
	}

	r.GET("/", middleware.SecurityHeaders(middleware.PlaygroundContentSecurityPolicy),
		gin.WrapH(playground.Handler("StudyHub", "/graphql")))
	r.POST("/graphql", graphql.Handler(opts.Gateway, opts.Gateway.Identify))

	registerHealthRoutes(r, opts.Monitoring, opts.Health)
	return r, nil
}

func newEngine(service string, cfg app.MonitoringConfig) *gin.Engine {
	r := gin.New()

	metricsPath := cfg.Prometheus.Endpoint
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r.Use(middleware.Recovery())
	r.Use(otelgin.Middleware(service))
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics(metricsPath))

	if cfg.Prometheus.Enabled {
		r.GET(metricsPath, gin.WrapH(promhttp.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)
	return r
}
