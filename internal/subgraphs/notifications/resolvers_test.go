package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/charlesng35/studyhub/internal/database/testutil"
	"github.com/charlesng35/studyhub/internal/eventbus"
	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/models"
	notify "github.com/charlesng35/studyhub/internal/notifications"
	"github.com/charlesng35/studyhub/internal/pubsub"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/internal/services"
)

type fixture struct {
	schema   *graphql.Schema
	store    *services.NotificationService
	consumer *notify.Consumer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store, err := services.NewNotificationService(db)
	require.NoError(t, err)
	push := pubsub.New(pubsub.Options{BufferSize: 8})
	consumer, err := notify.NewConsumer(store, push, "")
	require.NoError(t, err)
	return &fixture{schema: NewSchema(store, push), store: store, consumer: consumer}
}

func (f *fixture) run(t *testing.T, rc reqctx.RequestContext, query string, vars map[string]any) (map[string]any, gqlerror.List) {
	t.Helper()
	resp := f.schema.Execute(context.Background(), rc, graphql.Request{Query: query, Variables: vars})
	body, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal(body, &data))
	return data, resp.Errors
}

// deliver feeds one wire event through the consumer as the bus would.
func (f *fixture) deliver(t *testing.T, evt notify.Event) {
	t.Helper()
	body, err := json.Marshal(evt)
	require.NoError(t, err)
	require.NoError(t, f.consumer.Handle(context.Background(), eventbus.Delivery{
		Exchange:   notify.Exchange,
		RoutingKey: notify.RoutingKeyCreated,
		Body:       body,
		Attempt:    1,
	}))
}

func (f *fixture) seed(t *testing.T, userID, message string) string {
	t.Helper()
	n := &models.Notification{UserID: userID, Message: message}
	created, err := f.store.Record(context.Background(), n)
	require.NoError(t, err)
	require.True(t, created)
	return n.ID
}

func TestNewNotificationOnlyReachesItsRecipient(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, failure := f.schema.Subscribe(ctx, reqctx.RequestContext{UserID: "user-1"}, graphql.Request{
		Query: `subscription { newNotification { message type read user { id } } }`,
	})
	require.Nil(t, failure)

	f.deliver(t, notify.Event{EventID: "evt-1", UserID: "user-2", Message: notify.KindNewLike})
	f.deliver(t, notify.Event{EventID: "evt-2", UserID: "user-1", Message: notify.KindNewComment, Type: "success"})

	select {
	case resp := <-stream:
		require.Empty(t, resp.Errors)
		body, err := json.Marshal(resp.Data)
		require.NoError(t, err)
		require.JSONEq(t, `{"newNotification":{"message":"NEW_COMMENT","type":"success","read":false,"user":{"id":"user-1"}}}`, string(body))
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not pushed")
	}

	// A redelivered event is stored once and pushed once.
	f.deliver(t, notify.Event{EventID: "evt-2", UserID: "user-1", Message: notify.KindNewComment, Type: "success"})
	select {
	case resp := <-stream:
		t.Fatalf("unexpected push: %+v", resp)
	case <-time.After(100 * time.Millisecond):
	}

	count, err := f.store.Count(context.Background(), "user-1")
	require.NoError(t, err)
	require.EqualValues(t, 1, count.Total)
}

func TestNewNotificationRequiresASignedInUser(t *testing.T) {
	f := newFixture(t)

	stream, failure := f.schema.Subscribe(context.Background(), reqctx.RequestContext{}, graphql.Request{
		Query: `subscription { newNotification { id } }`,
	})
	require.Nil(t, stream)
	require.NotNil(t, failure)
	require.Equal(t, "UNAUTHORIZED", graphql.ErrorCode(failure.Errors[0]))
}

func TestMarkReadIsMonotonic(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t, "user-1", notify.KindNewMessage)
	f.seed(t, "user-1", notify.KindNewChat)
	vars := map[string]any{"id": id}
	owner := reqctx.RequestContext{UserID: "user-1"}

	_, errs := f.run(t, reqctx.RequestContext{UserID: "user-2"}, `mutation($id: ID!) { markNotificationAsRead(id: $id) { read } }`, vars)
	require.Len(t, errs, 1)
	require.Equal(t, "NOT_FOUND", graphql.ErrorCode(errs[0]))

	for i := 0; i < 2; i++ {
		data, errs := f.run(t, owner, `mutation($id: ID!) { markNotificationAsRead(id: $id) { read } }`, vars)
		require.Empty(t, errs)
		require.Equal(t, map[string]any{"read": true}, data["markNotificationAsRead"])
	}

	data, errs := f.run(t, owner, `{ notificationCount { total unread } myUnreadNotifications { message } }`, nil)
	require.Empty(t, errs)
	require.Equal(t, map[string]any{"total": float64(2), "unread": float64(1)}, data["notificationCount"])
	require.Equal(t, []any{map[string]any{"message": notify.KindNewChat}}, data["myUnreadNotifications"])

	data, errs = f.run(t, owner, `mutation { markAllNotificationsAsRead }`, nil)
	require.Empty(t, errs)
	require.Equal(t, true, data["markAllNotificationsAsRead"])

	data, errs = f.run(t, owner, `{ notificationCount { unread } }`, nil)
	require.Empty(t, errs)
	require.Equal(t, map[string]any{"unread": float64(0)}, data["notificationCount"])
}

func TestNotificationExposesUpdatedAt(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t, "user-1", notify.KindNewLike)
	owner := reqctx.RequestContext{UserID: "user-1"}

	data, errs := f.run(t, owner, `mutation($id: ID!) { markNotificationAsRead(id: $id) { createdAt updatedAt } }`, map[string]any{"id": id})
	require.Empty(t, errs)

	fields := data["markNotificationAsRead"].(map[string]any)
	createdAt, err := time.Parse(time.RFC3339, fields["createdAt"].(string))
	require.NoError(t, err)
	updatedAt, err := time.Parse(time.RFC3339, fields["updatedAt"].(string))
	require.NoError(t, err)
	require.False(t, updatedAt.Before(createdAt.Truncate(time.Second)))
}

func TestUserNotificationsAreOnlyListedForSelf(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "user-1", notify.KindNewLike)

	query := `query($r: [_Any!]!) { _entities(representations: $r) { ... on User { id notifications { message } } } }`
	vars := map[string]any{"r": []any{map[string]any{"__typename": "User", "id": "user-1"}}}

	data, errs := f.run(t, reqctx.RequestContext{UserID: "user-1"}, query, vars)
	require.Empty(t, errs)
	require.Equal(t, []any{map[string]any{"id": "user-1", "notifications": []any{map[string]any{"message": notify.KindNewLike}}}}, data["_entities"])

	data, errs = f.run(t, reqctx.RequestContext{UserID: "user-2"}, query, vars)
	require.Empty(t, errs)
	require.Equal(t, []any{map[string]any{"id": "user-1", "notifications": []any{}}}, data["_entities"])
}

func TestNotificationReferenceIsBoundedToRecipient(t *testing.T) {
	f := newFixture(t)
	id := f.seed(t, "user-1", notify.KindNewLike)

	query := `query($r: [_Any!]!) { _entities(representations: $r) { ... on Notification { message } } }`
	vars := map[string]any{"r": []any{map[string]any{"__typename": "Notification", "id": id}}}

	data, errs := f.run(t, reqctx.RequestContext{UserID: "user-1"}, query, vars)
	require.Empty(t, errs)
	require.Equal(t, []any{map[string]any{"message": notify.KindNewLike}}, data["_entities"])

	data, errs = f.run(t, reqctx.RequestContext{UserID: "user-2"}, query, vars)
	require.Empty(t, errs)
	require.Equal(t, []any{nil}, data["_entities"])
}

func TestDeleteMyNotifications(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "user-1", notify.KindNewLike)
	f.seed(t, "user-2", notify.KindNewLike)

	data, errs := f.run(t, reqctx.RequestContext{UserID: "user-1"}, `mutation { deleteMyNotifications }`, nil)
	require.Empty(t, errs)
	require.Equal(t, true, data["deleteMyNotifications"])

	count, err := f.store.Count(context.Background(), "user-2")
	require.NoError(t, err)
	require.EqualValues(t, 1, count.Total)
}
