package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/studyhub/internal/app"
	iauth "github.com/charlesng35/studyhub/internal/auth"
	"github.com/charlesng35/studyhub/internal/database"
	"github.com/charlesng35/studyhub/internal/database/testutil"
	"github.com/charlesng35/studyhub/internal/eventbus"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/notifications"
	"github.com/charlesng35/studyhub/pkg/logger"
)

func testDeps(t *testing.T, models ...any) *runtimeDeps {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.JWT.Secret = "bootstrap-secret"

	jwt, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	require.NoError(t, err)

	bus := eventbus.NewMemoryBus(eventbus.MemoryOptions{})
	t.Cleanup(func() { _ = bus.Close(context.Background()) })

	return &runtimeDeps{
		cfg: cfg,
		db:  testutil.MustOpenTestDB(t, testutil.WithAutoMigrate(models...)),
		bus: bus,
		jwt: jwt,
		log: logger.WithModule("bootstrap"),
	}
}

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestResolvePort(t *testing.T) {
	tests := []struct {
		name       string
		flag, conf int
		shared     bool
		want       int
	}{
		{name: "flag wins", flag: 5000, conf: 6000, want: 5000},
		{name: "config next", conf: 6000, want: 6000},
		{name: "service default", want: 4004},
		{name: "shared process keeps defaults", flag: 5000, conf: 6000, shared: true, want: 4004},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, resolvePort(tt.flag, tt.conf, 4004, tt.shared))
		})
	}
}

func TestConvertDatabaseConfig(t *testing.T) {
	cfg := &app.Config{Database: app.DatabaseConfig{
		Driver: " PostgreSQL ",
		Postgres: app.DBAuthConfig{
			Host: "db.internal", Port: 5432, Database: "studyhub", Username: "hub", Password: "pw",
		},
	}}
	require.Equal(t, database.Config{
		Driver: "postgres", Host: "db.internal", Port: 5432, Name: "studyhub", User: "hub", Password: "pw",
	}, convertDatabaseConfig(cfg))

	cfg = &app.Config{Database: app.DatabaseConfig{Path: "./data/x.sqlite"}}
	require.Equal(t, database.Config{Driver: "sqlite", Path: "./data/x.sqlite"}, convertDatabaseConfig(cfg))
}

func TestOpenBus(t *testing.T) {
	bus, err := openBus(context.Background(), app.BrokerConfig{Driver: app.BrokerMemory}, true)
	require.NoError(t, err)
	require.IsType(t, &eventbus.MemoryBus{}, bus)
	require.NoError(t, bus.Close(context.Background()))

	_, err = openBus(context.Background(), app.BrokerConfig{Driver: "kafka"}, false)
	require.Error(t, err)
}

func TestRootCommandHasEveryService(t *testing.T) {
	root := newRootCommand()
	seen := map[string]bool{}
	for _, c := range components() {
		require.False(t, seen[c.name], "duplicate component %s", c.name)
		seen[c.name] = true

		cmd, _, err := root.Find([]string{c.name})
		require.NoError(t, err)
		require.Equal(t, c.name, cmd.Name())
	}
	require.Len(t, seen, 6)

	cmd, _, err := root.Find([]string{"all"})
	require.NoError(t, err)
	require.Equal(t, "all", cmd.Name())

	require.NotNil(t, root.PersistentFlags().Lookup("config"))
	require.NotNil(t, root.PersistentFlags().Lookup("port"))
}

func TestRunRejectsMissingConfigPath(t *testing.T) {
	err := run(context.Background(), &rootFlags{configPath: filepath.Join(t.TempDir(), "missing")}, components()[:1])
	require.ErrorContains(t, err, "does not exist")
}

func TestSubgraphServicesReportReady(t *testing.T) {
	deps := testDeps(t)
	for _, c := range components() {
		if c.name == "gateway" || c.name == "notifications" {
			continue
		}
		svc, err := c.build(context.Background(), deps)
		require.NoError(t, err, c.name)

		require.Equal(t, http.StatusOK, get(t, svc.handler, "/health/ready").Code, c.name)
	}
}

func TestNotificationsServiceConsumesEvents(t *testing.T) {
	deps := testDeps(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := buildNotifications(ctx, deps)
	require.NoError(t, err)
	require.NotNil(t, svc.stop)
	t.Cleanup(func() { require.NoError(t, svc.stop(context.Background())) })

	require.Equal(t, http.StatusOK, get(t, svc.handler, "/health/ready").Code)
	require.Equal(t, http.StatusOK, get(t, svc.handler, "/health/live").Code)

	published := notifications.NewPublisher(deps.bus).Notify(ctx, "bob", []string{"amy"}, notifications.KindNewLike)
	require.Equal(t, 1, published)

	require.Eventually(t, func() bool {
		var count int64
		deps.db.Model(&models.Notification{}).Where("user_id = ?", "amy").Count(&count)
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestGatewayCompositionFailureStopsTheService(t *testing.T) {
	deps := testDeps(t)
	down := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(down.Close)

	deps.cfg.Gateway.Subgraphs = []string{"users=" + down.URL}
	deps.cfg.Gateway.StartupTimeout = 200 * time.Millisecond
	deps.cfg.Gateway.PollInterval = 20 * time.Millisecond

	svc, err := buildGateway(context.Background(), deps)
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, get(t, svc.handler, "/health/ready").Code)

	require.Error(t, svc.run(context.Background()))
	require.Equal(t, http.StatusServiceUnavailable, get(t, svc.handler, "/health/ready").Code)
}

func TestScheduleSpan(t *testing.T) {
	require.Equal(t, time.Hour, scheduleSpan("@hourly"))
	require.Equal(t, 90*time.Minute, scheduleSpan("@every 90m"))
	require.Equal(t, 24*time.Hour, scheduleSpan("0 3 * * *"))
}
