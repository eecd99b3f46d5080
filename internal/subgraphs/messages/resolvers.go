// Package messages is the messages subgraph: group chats and direct messages.
package messages

import (
	"context"
	_ "embed"
	"errors"

	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/internal/subgraphs"
	apperrors "github.com/charlesng35/studyhub/pkg/errors"
)

//go:embed schema.graphql
var SDL string

// Services are the stores the messages subgraph reads and writes.
type Services struct {
	Chats    *services.ChatService
	Messages *services.MessageService
}

type resolvers struct {
	Services
}

// NewSchema builds the executable messages subgraph.
func NewSchema(svc Services) *graphql.Schema {
	r := &resolvers{Services: svc}

	return graphql.MustNewSchema(SDL).
		Resolve("Query", "myChats", r.myChats).
		Resolve("Query", "chat", r.chat).
		Resolve("Query", "chatMessages", r.chatMessages).
		Resolve("Query", "myMessages", r.myMessages).
		Resolve("Query", "conversation", r.conversation).
		Resolve("Query", "message", r.message).
		Resolve("Query", "adminGetChats", subgraphs.Admin(r.adminGetChats)).
		Resolve("Query", "adminCountChats", subgraphs.Admin(r.adminCountChats)).
		Resolve("Query", "adminGetMessages", subgraphs.Admin(r.adminGetMessages)).
		Resolve("Query", "adminCountMessages", subgraphs.Admin(r.adminCountMessages)).
		Resolve("Query", "adminGetMessage", subgraphs.Admin(r.adminGetMessage)).
		Resolve("Mutation", "saveChat", r.saveChat).
		Resolve("Mutation", "removeChat", r.removeChat).
		Resolve("Mutation", "manageInvitation", r.manageInvitation).
		Resolve("Mutation", "exitChat", r.exitChat).
		Resolve("Mutation", "saveMessage", r.saveMessage).
		Resolve("Mutation", "markMessageAsRead", r.markMessageAsRead).
		Resolve("Mutation", "removeMessage", r.removeMessage).
		Resolve("Mutation", "adminRemoveChat", subgraphs.Admin(r.adminRemoveChat)).
		Resolve("Mutation", "adminRemoveMessage", subgraphs.Admin(r.adminRemoveMessage)).
		Resolve("Chat", "moderator", chatModerator).
		Resolve("Chat", "members", r.chatMembers).
		Resolve("Chat", "isModerator", chatIsModerator).
		Resolve("Chat", "isInvited", r.chatIsInvited).
		Resolve("Chat", "hasRead", r.chatHasRead).
		Resolve("Chat", "messages", r.chatHistory).
		Resolve("ChatMember", "user", memberUser).
		Resolve("ChatMember", "joinedAt", memberJoinedAt).
		Resolve("Message", "sender", messageSender).
		Resolve("Message", "receiver", messageReceiver).
		Resolve("Message", "chat", r.messageChat).
		Resolve("Message", "isCurrentUser", messageIsCurrentUser).
		ResolveReference("Chat", r.chatReference).
		ResolveReference("Message", r.messageReference).
		ResolveReference("User", userReference)
}

func (r *resolvers) myChats(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Chats.MyChats(ctx, p.Request.UserID, services.ChatFilter{
		Search: graphql.StringArg(p.Args, "search"),
		Page:   subgraphs.Page(p.Args),
	})
}

func (r *resolvers) chat(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Chats.GetForMember(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id"))
}

func (r *resolvers) chatMessages(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Messages.ChatMessages(ctx, p.Request.UserID, graphql.StringArg(p.Args, "chatId"), subgraphs.Page(p.Args))
}

func (r *resolvers) myMessages(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Messages.Inbox(ctx, p.Request.UserID, graphql.BoolArg(p.Args, "unreadOnly", false), subgraphs.Page(p.Args))
}

func (r *resolvers) conversation(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Messages.Conversation(ctx, p.Request.UserID, graphql.StringArg(p.Args, "userId"), subgraphs.Page(p.Args))
}

func (r *resolvers) message(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Messages.Get(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id"))
}

func (r *resolvers) adminGetChats(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Chats.List(ctx, services.ChatFilter{
		Search: graphql.StringArg(p.Args, "search"),
		Page:   subgraphs.Page(p.Args),
	})
}

func (r *resolvers) adminCountChats(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Chats.Count(ctx, services.ChatFilter{Search: graphql.StringArg(p.Args, "search")})
}

func (r *resolvers) adminGetMessages(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Messages.List(ctx, messageFilter(p.Args))
}

func (r *resolvers) adminCountMessages(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Messages.Count(ctx, messageFilter(p.Args))
}

func (r *resolvers) adminGetMessage(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Messages.FindByID(ctx, graphql.StringArg(p.Args, "id"))
}

func (r *resolvers) saveChat(ctx context.Context, p graphql.ResolveParams) (any, error) {
	var input services.SaveChatInput
	if err := graphql.DecodeArg(p.Args, "input", &input); err != nil {
		return nil, err
	}
	return r.Chats.Save(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id"), input)
}

func (r *resolvers) removeChat(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.Chats.Remove(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id")))
}

func (r *resolvers) manageInvitation(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Chats.ManageInvitation(ctx, p.Request.UserID, graphql.StringArg(p.Args, "chatId"), graphql.BoolArg(p.Args, "accept", false))
}

func (r *resolvers) exitChat(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.Chats.Exit(ctx, p.Request.UserID, graphql.StringArg(p.Args, "chatId")))
}

func (r *resolvers) saveMessage(ctx context.Context, p graphql.ResolveParams) (any, error) {
	var input services.SendMessageInput
	if err := graphql.DecodeArg(p.Args, "input", &input); err != nil {
		return nil, err
	}
	return r.Messages.Send(ctx, p.Request.UserID, input)
}

func (r *resolvers) markMessageAsRead(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Messages.MarkAsRead(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id"))
}

func (r *resolvers) removeMessage(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.Messages.Remove(ctx, p.Request.UserID, graphql.StringArg(p.Args, "id")))
}

func (r *resolvers) adminRemoveChat(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.Chats.AdminRemove(ctx, graphql.StringArg(p.Args, "id")))
}

func (r *resolvers) adminRemoveMessage(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return subgraphs.Done(r.Messages.AdminRemove(ctx, graphql.StringArg(p.Args, "id")))
}

func chatModerator(_ context.Context, p graphql.ResolveParams) (any, error) {
	return graphql.Ref("User", p.Source.(*models.Chat).ModeratorID), nil
}

func (r *resolvers) chatMembers(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Chats.Members(ctx, p.Source.(*models.Chat).ID)
}

func chatIsModerator(_ context.Context, p graphql.ResolveParams) (any, error) {
	return !p.Request.Anonymous() && p.Source.(*models.Chat).ModeratorID == p.Request.UserID, nil
}

func (r *resolvers) chatIsInvited(ctx context.Context, p graphql.ResolveParams) (any, error) {
	member, err := r.callerMembership(ctx, p)
	if err != nil || member == nil {
		return false, err
	}
	return member.Invited, nil
}

func (r *resolvers) chatHasRead(ctx context.Context, p graphql.ResolveParams) (any, error) {
	member, err := r.callerMembership(ctx, p)
	if err != nil || member == nil {
		return true, err
	}
	return member.HasRead, nil
}

func (r *resolvers) chatHistory(ctx context.Context, p graphql.ResolveParams) (any, error) {
	return r.Messages.ChatMessages(ctx, p.Request.UserID, p.Source.(*models.Chat).ID, subgraphs.Page(p.Args))
}

func (r *resolvers) callerMembership(ctx context.Context, p graphql.ResolveParams) (*models.ChatMember, error) {
	if p.Request.Anonymous() {
		return nil, nil
	}
	return r.Chats.Membership(ctx, p.Request.UserID, p.Source.(*models.Chat).ID)
}

func memberUser(_ context.Context, p graphql.ResolveParams) (any, error) {
	return graphql.Ref("User", p.Source.(*models.ChatMember).UserID), nil
}

func memberJoinedAt(_ context.Context, p graphql.ResolveParams) (any, error) {
	return p.Source.(*models.ChatMember).CreatedAt, nil
}

func messageSender(_ context.Context, p graphql.ResolveParams) (any, error) {
	return graphql.Ref("User", p.Source.(*models.Message).SenderID), nil
}

func messageReceiver(_ context.Context, p graphql.ResolveParams) (any, error) {
	return graphql.RefPtr("User", p.Source.(*models.Message).ReceiverID), nil
}

// messageChat reads the chat straight from the store so a deleted chat yields null
// instead of failing the message.
func (r *resolvers) messageChat(ctx context.Context, p graphql.ResolveParams) (any, error) {
	chatID := p.Source.(*models.Message).ChatID
	if chatID == nil {
		return nil, nil
	}
	return r.Chats.FindByID(ctx, *chatID)
}

func messageIsCurrentUser(_ context.Context, p graphql.ResolveParams) (any, error) {
	return !p.Request.Anonymous() && p.Source.(*models.Message).SenderID == p.Request.UserID, nil
}

// chatReference only resolves chats the caller belongs to or is invited to.
func (r *resolvers) chatReference(ctx context.Context, rc reqctx.RequestContext, ref graphql.Reference) (any, error) {
	if rc.IsAdminConsole() {
		return r.Chats.FindByID(ctx, ref.ID)
	}
	chat, err := r.Chats.GetForMember(ctx, rc.UserID, ref.ID)
	return hideNotFound(chat, err)
}

func (r *resolvers) messageReference(ctx context.Context, rc reqctx.RequestContext, ref graphql.Reference) (any, error) {
	if rc.IsAdminConsole() {
		return r.Messages.FindByID(ctx, ref.ID)
	}
	message, err := r.Messages.Get(ctx, rc.UserID, ref.ID)
	return hideNotFound(message, err)
}

func userReference(_ context.Context, _ reqctx.RequestContext, ref graphql.Reference) (any, error) {
	return &ref, nil
}

func messageFilter(args map[string]any) services.MessageFilter {
	return services.MessageFilter{
		ChatID:   graphql.StringArg(args, "chatId"),
		SenderID: graphql.StringArg(args, "senderId"),
		Page:     subgraphs.Page(args),
	}
}

// hideNotFound turns access and existence failures into a null entity.
func hideNotFound[T any](value *T, err error) (any, error) {
	if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrUnauthorized) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}
