// Package notifications is the notifications subgraph. Its subscription streams
// stored notifications to their recipient as the consumer pushes them.
package notifications

import (
	"context"
	_ "embed"
	"errors"

	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/models"
	notify "github.com/charlesng35/studyhub/internal/notifications"
	"github.com/charlesng35/studyhub/internal/pubsub"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/internal/subgraphs"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

//go:embed schema.graphql
var SDL string

type resolvers struct {
	store *services.NotificationService
	push  *pubsub.Broadcaster
}

// NewSchema builds the executable notifications subgraph.
func NewSchema(store *services.NotificationService, push *pubsub.Broadcaster) *graphql.Schema {
	r := &resolvers{store: store, push: push}

	return graphql.MustNewSchema(SDL).
		Resolve("Query", "myNotifications", subgraphs.Authenticated(r.myNotifications)).
		Resolve("Query", "myUnreadNotifications", subgraphs.Authenticated(r.myUnreadNotifications)).
		Resolve("Query", "notification", r.notification).
		Resolve("Query", "notificationCount", r.count).
		Resolve("Mutation", "markNotificationAsRead", r.markRead).
		Resolve("Mutation", "markAllNotificationsAsRead", r.markAllRead).
		Resolve("Mutation", "deleteNotification", r.delete).
		Resolve("Mutation", "deleteMyNotifications", r.deleteMine).
		Resolve("Notification", "user", notificationUser).
		Resolve("User", "notifications", r.userNotifications).
		ResolveReference("Notification", r.reference).
		ResolveReference("User", userReference).
		ResolveSubscription("newNotification", r.newNotification)
}

func (r *resolvers) myNotifications(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.store.ListForUser(ctx, services.ListNotificationsInput{
		UserID: p.Request.UserID,
		Page:   subgraphs.Page(p.Args),
	})
}

func (r *resolvers) myUnreadNotifications(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.store.ListForUser(ctx, services.ListNotificationsInput{
		UserID:     p.Request.UserID,
		UnreadOnly: true,
		Page:       subgraphs.Page(p.Args),
	})
}

func (r *resolvers) notification(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.store.Get(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id"))
}

func (r *resolvers) count(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.store.Count(ctx, p.Request.UserID)
}

func (r *resolvers) markRead(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.store.MarkRead(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id"))
}

func (r *resolvers) markAllRead(ctx context.Context, p graphql.ResolveParams) (any, error) {
	_, err := r.store.MarkAllRead(ctx, p.Request.UserID)
	return subgraphs.Done(err)
}

func (r *resolvers) delete(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.store.Delete(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id")))
}

func (r *resolvers) deleteMine(ctx context.Context, p graphql.ResolveParams) (any, error) {
	_, err := r.store.DeleteForRecipient(ctx, p.Request.UserID)
	return subgraphs.Done(err)
}

func notificationUser(_ context.Context, p graphql.ResolveParams) (any, error) {
	return graphql.Ref("User", p.Source.(*models.Notification).UserID), nil
}

// userNotifications backs User.notifications. Other users' notifications are never listed.
func (r *resolvers) userNotifications(ctx context.Context, p graphql.ResolveParams) (any, error) {
	user, ok := p.Source.(*graphql.Reference)
	if !ok || p.Request.Anonymous() || user.ID != p.Request.UserID {
		return []models.Notification{}, nil
	}
	return r.store.ListForUser(ctx, services.ListNotificationsInput{
		UserID:     user.ID,
		UnreadOnly: graphql.BoolArg(p.Args, "unreadOnly", false),
		Page:       subgraphs.Page(p.Args),
	})
}

// reference resolves a notification for its recipient only.
func (r *resolvers) reference(ctx context.Context, rc reqctx.RequestContext, ref graphql.Reference) (any, error) {
	if rc.Anonymous() {
		return nil, nil
	}
	notification, err := r.store.Get(ctx, rc.UserID, ref.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil, nil
	}
	return notification, err
}

func userReference(_ context.Context, _ reqctx.RequestContext, ref graphql.Reference) (any, error) {
	return &ref, nil
}

// newNotification subscribes the caller to the live push topic. Only notifications
// addressed to the caller pass the filter.
func (r *resolvers) newNotification(ctx context.Context, p graphql.ResolveParams) (<-chan any, error) {
	userID, err := p.Request.RequireUser()
	if err != nil {
		return nil, err
	}
	sub := r.push.Subscribe(ctx, notify.TopicNewNotification, ForRecipient(userID))
	return sub.C(), nil
}

// ForRecipient matches stored notifications addressed to userID.
func ForRecipient(userID string) pubsub.Filter {
	return func(payload any) bool {
		n, ok := payload.(*models.Notification)
		return ok && n.UserID == userID
	}
}
