package main

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charlesng35/studyhub/internal/api"
	"github.com/charlesng35/studyhub/internal/app/maintenance"
	"github.com/charlesng35/studyhub/internal/database"
	"github.com/charlesng35/studyhub/internal/gateway"
	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/middleware"
	"github.com/charlesng35/studyhub/internal/monitoring"
	"github.com/charlesng35/studyhub/internal/monitoring/checks"
	"github.com/charlesng35/studyhub/internal/notifications"
	"github.com/charlesng35/studyhub/internal/pubsub"
	"github.com/charlesng35/studyhub/internal/realtime"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/internal/subgraphs"
	messagesgraph "github.com/charlesng35/studyhub/internal/subgraphs/messages"
	notificationsgraph "github.com/charlesng35/studyhub/internal/subgraphs/notifications"
	postsgraph "github.com/charlesng35/studyhub/internal/subgraphs/posts"
	reportsgraph "github.com/charlesng35/studyhub/internal/subgraphs/reports"
	usersgraph "github.com/charlesng35/studyhub/internal/subgraphs/users"
)

// component describes one servable process role.
type component struct {
	name        string
	short       string
	defaultPort int
	// models are the collections the component owns. None means no store is opened.
	models []any
	bus    bool
	build  func(ctx context.Context, deps *runtimeDeps) (*service, error)
}

// components lists the subgraphs before the gateway so a shared process builds
// them first.
func components() []component {
	return []component{
		{name: subgraphs.Users, short: "Serve the users subgraph", defaultPort: 4001, models: database.UserModels, build: buildUsers},
		{name: subgraphs.Posts, short: "Serve the posts subgraph", defaultPort: 4002, models: database.PostModels, bus: true, build: buildPosts},
		{name: subgraphs.Messages, short: "Serve the messages subgraph", defaultPort: 4003, models: database.MessageModels, bus: true, build: buildMessages},
		{name: subgraphs.Notifications, short: "Serve the notifications subgraph, its event consumer and live push", defaultPort: 4004, models: database.NotificationModels, bus: true, build: buildNotifications},
		{name: subgraphs.Reports, short: "Serve the reports subgraph", defaultPort: 4005, models: database.ReportModels, build: buildReports},
		{name: "gateway", short: "Serve the federated graph", defaultPort: 4000, build: buildGateway},
	}
}

func (d *runtimeDeps) health(withBus bool) *monitoring.HealthManager {
	health := monitoring.NewHealthManager(d.cfg.Monitoring.Health.Timeout)
	if d.db != nil {
		health.RegisterReadiness(checks.Database(d.db))
	}
	if withBus && d.bus != nil {
		health.RegisterReadiness(checks.Broker(d.bus))
	}
	return health
}

func (d *runtimeDeps) subgraph(name string, schema graphql.Executor, withBus bool) (*service, error) {
	router, err := api.NewSubgraphRouter(api.SubgraphOptions{
		Name:       name,
		Schema:     schema,
		Health:     d.health(withBus),
		Monitoring: d.cfg.Monitoring,
	})
	if err != nil {
		return nil, err
	}
	return &service{handler: router}, nil
}

func buildUsers(_ context.Context, d *runtimeDeps) (*service, error) {
	users, err := services.NewUserService(d.db, d.jwt)
	if err != nil {
		return nil, err
	}
	return d.subgraph(subgraphs.Users, usersgraph.NewSchema(users), false)
}

func buildPosts(_ context.Context, d *runtimeDeps) (*service, error) {
	publisher := notifications.NewPublisher(d.bus)

	posts, err := services.NewPostService(d.db)
	if err != nil {
		return nil, err
	}
	likes, err := services.NewLikeService(d.db, publisher)
	if err != nil {
		return nil, err
	}
	comments, err := services.NewCommentService(d.db, publisher)
	if err != nil {
		return nil, err
	}

	schema := postsgraph.NewSchema(postsgraph.Services{Posts: posts, Likes: likes, Comments: comments})
	return d.subgraph(subgraphs.Posts, schema, true)
}

func buildMessages(_ context.Context, d *runtimeDeps) (*service, error) {
	publisher := notifications.NewPublisher(d.bus)

	chats, err := services.NewChatService(d.db, publisher)
	if err != nil {
		return nil, err
	}
	messages, err := services.NewMessageService(d.db, chats, publisher)
	if err != nil {
		return nil, err
	}

	schema := messagesgraph.NewSchema(messagesgraph.Services{Chats: chats, Messages: messages})
	return d.subgraph(subgraphs.Messages, schema, true)
}

func buildReports(_ context.Context, d *runtimeDeps) (*service, error) {
	reports, err := services.NewReportService(d.db)
	if err != nil {
		return nil, err
	}
	return d.subgraph(subgraphs.Reports, reportsgraph.NewSchema(reports), false)
}

// buildNotifications wires the consumer, live push, subscription socket and the
// retention job. The consumer binds its queue before the service listens.
func buildNotifications(ctx context.Context, d *runtimeDeps) (*service, error) {
	cfg := d.cfg.Notifications

	store, err := services.NewNotificationService(d.db)
	if err != nil {
		return nil, err
	}

	push := pubsub.New(pubsub.Options{
		BufferSize: cfg.PushBuffer,
		Policy:     pubsub.ParsePolicy(cfg.SlowSubscriberPolicy),
	})

	consumer, err := notifications.NewConsumer(store, push, cfg.Queue)
	if err != nil {
		return nil, err
	}
	if err := consumer.Start(ctx, d.bus); err != nil {
		return nil, err
	}

	jobs := monitoring.NewJobs()
	cleaner := maintenance.NewCleaner(store,
		maintenance.WithRetention(cfg.Retention),
		maintenance.WithSchedule(cfg.CleanupSchedule),
		maintenance.WithJobs(jobs),
	)
	if err := cleaner.Start(); err != nil {
		return nil, err
	}

	schema := notificationsgraph.NewSchema(store, push)
	health := d.health(true)
	health.RegisterLiveness(checks.Maintenance(jobs, 2*scheduleSpan(cfg.CleanupSchedule)))

	router, err := api.NewSubgraphRouter(api.SubgraphOptions{
		Name:          subgraphs.Notifications,
		Schema:        schema,
		Health:        health,
		Jobs:          jobs,
		Monitoring:    d.cfg.Monitoring,
		Subscriptions: realtime.NewServer(schema, d.jwt, realtime.Options{BufferSize: cfg.PushBuffer}),
	})
	if err != nil {
		<-cleaner.Stop().Done()
		return nil, err
	}

	return &service{
		handler: router,
		stop: func(ctx context.Context) error {
			select {
			case <-cleaner.Stop().Done():
				return nil
			case <-ctx.Done():
				return errors.New("retention job still running at shutdown")
			}
		},
	}, nil
}

// buildGateway composes the supergraph in the background once the listener is up.
// A composition failure stops the process.
func buildGateway(ctx context.Context, d *runtimeDeps) (*service, error) {
	subgraphList, err := d.cfg.Gateway.Services()
	if err != nil {
		return nil, err
	}
	gwCfg := gateway.Config{
		StartupTimeout: d.cfg.Gateway.StartupTimeout,
		PollInterval:   d.cfg.Gateway.PollInterval,
		RequestTimeout: d.cfg.Gateway.RequestTimeout,
	}
	for _, sg := range subgraphList {
		gwCfg.Subgraphs = append(gwCfg.Subgraphs, gateway.Service{Name: sg.Name, URL: sg.URL})
	}

	gw, err := gateway.New(gwCfg, d.jwt)
	if err != nil {
		return nil, err
	}

	health := monitoring.NewHealthManager(d.cfg.Monitoring.Health.Timeout)
	health.RegisterReadiness(checks.Ready("supergraph", gw.Ready))

	router, err := api.NewGatewayRouter(api.GatewayOptions{
		Gateway:    gw,
		Health:     health,
		Monitoring: d.cfg.Monitoring,
		RateStore:  middleware.NewMemoryRateStore(ctx, time.Minute),
		RateLimit:  d.cfg.Server.RateLimit,
		Origins:    d.cfg.Server.CORSOrigins,
	})
	if err != nil {
		return nil, err
	}

	return &service{handler: router, run: gw.Start}, nil
}

// scheduleSpan estimates the interval between runs of a cron descriptor. Unknown
// specs fall back to a day.
func scheduleSpan(spec string) time.Duration {
	switch spec {
	case "@hourly":
		return time.Hour
	case "@weekly":
		return 7 * 24 * time.Hour
	case "@monthly":
		return 31 * 24 * time.Hour
	}
	if d, err := time.ParseDuration(strings.TrimPrefix(spec, "@every ")); err == nil && d > 0 {
		return d
	}
	return 24 * time.Hour
}
