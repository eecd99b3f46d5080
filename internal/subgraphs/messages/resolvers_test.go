package messages

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/database/testutil"
	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/internal/services"
)

type fixture struct {
	db     *gorm.DB
	schema *graphql.Schema
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	chats, err := services.NewChatService(db, nil)
	require.NoError(t, err)
	messages, err := services.NewMessageService(db, chats, nil)
	require.NoError(t, err)

	return &fixture{db: db, schema: NewSchema(Services{Chats: chats, Messages: messages})}
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

func user(id string) reqctx.RequestContext {
	return reqctx.RequestContext{UserID: id}
}

// newChat creates a chat moderated by "mod" with "amy" invited.
func (f *fixture) newChat(t *testing.T) string {
	t.Helper()
	data, errs := f.run(t, user("mod"), `mutation { saveChat(input: {name: "Calculus", members: ["amy"]}) { id isModerator members { user { id } invited } } }`, nil)
	require.Empty(t, errs)
	chat := data["saveChat"].(map[string]any)
	require.Equal(t, true, chat["isModerator"])
	require.Equal(t, []any{
		map[string]any{"user": map[string]any{"id": "mod"}, "invited": false},
		map[string]any{"user": map[string]any{"id": "amy"}, "invited": true},
	}, chat["members"])
	return chat["id"].(string)
}

func TestInvitationFlow(t *testing.T) {
	f := newFixture(t)
	chatID := f.newChat(t)
	vars := map[string]any{"id": chatID}

	data, errs := f.run(t, user("amy"), `query($id: ID!) { chat(id: $id) { name isInvited isModerator } }`, vars)
	require.Empty(t, errs)
	require.Equal(t, map[string]any{"name": "Calculus", "isInvited": true, "isModerator": false}, data["chat"])

	_, errs = f.run(t, user("amy"), `mutation($id: ID!) { saveMessage(input: {chatId: $id, content: "hi"}) { id } }`, vars)
	require.Len(t, errs, 1)
	require.Equal(t, "NOT_FOUND", graphql.ErrorCode(errs[0]))

	data, errs = f.run(t, user("amy"), `mutation($id: ID!) { manageInvitation(chatId: $id, accept: true) { isInvited hasRead } }`, vars)
	require.Empty(t, errs)
	require.Equal(t, map[string]any{"isInvited": false, "hasRead": false}, data["manageInvitation"])

	data, errs = f.run(t, user("amy"), `mutation($id: ID!) { saveMessage(input: {chatId: $id, content: "hi"}) { content isCurrentUser sender { id } receiver { id } chat { name } } }`, vars)
	require.Empty(t, errs)
	require.Equal(t, map[string]any{
		"content":       "hi",
		"isCurrentUser": true,
		"sender":        map[string]any{"id": "amy"},
		"receiver":      nil,
		"chat":          map[string]any{"name": "Calculus"},
	}, data["saveMessage"])

	data, errs = f.run(t, user("mod"), `query($id: ID!) { chat(id: $id) { hasRead messages { content isCurrentUser } } }`, vars)
	require.Empty(t, errs)
	require.Equal(t, map[string]any{
		"hasRead":  false,
		"messages": []any{map[string]any{"content": "hi", "isCurrentUser": false}},
	}, data["chat"])

	_, errs = f.run(t, user("mod"), `mutation($id: ID!) { exitChat(chatId: $id) }`, vars)
	require.Len(t, errs, 1)
	require.Equal(t, "BAD_REQUEST", graphql.ErrorCode(errs[0]))
}

func TestDirectMessages(t *testing.T) {
	f := newFixture(t)

	data, errs := f.run(t, user("amy"), `mutation { saveMessage(input: {receiverId: "bob", content: "ping"}) { id isRead chat { id } } }`, nil)
	require.Empty(t, errs)
	sent := data["saveMessage"].(map[string]any)
	require.Equal(t, false, sent["isRead"])
	require.Nil(t, sent["chat"])
	vars := map[string]any{"id": sent["id"]}

	_, errs = f.run(t, user("amy"), `mutation($id: ID!) { markMessageAsRead(id: $id) { isRead } }`, vars)
	require.Len(t, errs, 1)

	data, errs = f.run(t, user("bob"), `{ myMessages(unreadOnly: true) { content } }`, nil)
	require.Empty(t, errs)
	require.Equal(t, []any{map[string]any{"content": "ping"}}, data["myMessages"])

	data, errs = f.run(t, user("bob"), `mutation($id: ID!) { markMessageAsRead(id: $id) { isRead } }`, vars)
	require.Empty(t, errs)
	require.Equal(t, map[string]any{"isRead": true}, data["markMessageAsRead"])

	data, errs = f.run(t, user("eve"), `query($id: ID!) { message(id: $id) { id } }`, vars)
	require.Len(t, errs, 1)
	require.Nil(t, data["message"])
}

func TestMessageChatIsNullOnceTheChatIsGone(t *testing.T) {
	f := newFixture(t)
	chatID := f.newChat(t)

	data, errs := f.run(t, user("mod"), `mutation($id: ID!) { saveMessage(input: {chatId: $id, content: "notes"}) { id } }`, map[string]any{"id": chatID})
	require.Empty(t, errs)
	messageID := data["saveMessage"].(map[string]any)["id"]

	require.NoError(t, f.db.Where("id = ?", chatID).Delete(&models.Chat{}).Error)

	data, errs = f.run(t, user("mod"), `query($id: ID!) { message(id: $id) { content chat { name } } }`, map[string]any{"id": messageID})
	require.Empty(t, errs)
	require.Equal(t, map[string]any{"content": "notes", "chat": nil}, data["message"])
}

func TestChatReferenceIsBoundedByMembership(t *testing.T) {
	f := newFixture(t)
	chatID := f.newChat(t)
	query := `query($r: [_Any!]!) { _entities(representations: $r) { ... on Chat { name } } }`
	vars := map[string]any{"r": []any{map[string]any{"__typename": "Chat", "id": chatID}}}

	tests := []struct {
		name string
		rc   reqctx.RequestContext
		want []any
	}{
		{name: "moderator", rc: user("mod"), want: []any{map[string]any{"name": "Calculus"}}},
		{name: "invitee", rc: user("amy"), want: []any{map[string]any{"name": "Calculus"}}},
		{name: "stranger", rc: user("eve"), want: []any{nil}},
		{name: "anonymous", rc: reqctx.RequestContext{}, want: []any{nil}},
		{name: "admin console", rc: reqctx.RequestContext{UserID: "root", IsAdmin: true, From: reqctx.FromAdminConsole}, want: []any{map[string]any{"name": "Calculus"}}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, errs := f.run(t, tc.rc, query, vars)
			require.Empty(t, errs)
			require.Equal(t, tc.want, data["_entities"])
		})
	}
}

func TestAdminMessageQueries(t *testing.T) {
	f := newFixture(t)
	chatID := f.newChat(t)
	_, errs := f.run(t, user("mod"), `mutation($id: ID!) { saveMessage(input: {chatId: $id, content: "one"}) { id } }`, map[string]any{"id": chatID})
	require.Empty(t, errs)
	_, errs = f.run(t, user("mod"), `mutation { saveMessage(input: {receiverId: "amy", content: "two"}) { id } }`, nil)
	require.Empty(t, errs)

	query := `query($chat: ID) { adminCountMessages(chatId: $chat) adminCountChats }`

	_, errs = f.run(t, user("mod"), query, map[string]any{"chat": chatID})
	require.NotEmpty(t, errs)
	require.Equal(t, "FORBIDDEN", graphql.ErrorCode(errs[0]))

	admin := reqctx.RequestContext{UserID: "root", IsAdmin: true, From: reqctx.FromAdminConsole}
	data, errs := f.run(t, admin, query, map[string]any{"chat": chatID})
	require.Empty(t, errs)
	require.EqualValues(t, 1, data["adminCountMessages"])
	require.EqualValues(t, 1, data["adminCountChats"])

	data, errs = f.run(t, admin, `mutation($id: ID!) { adminRemoveChat(id: $id) }`, map[string]any{"id": chatID})
	require.Empty(t, errs)
	require.Equal(t, true, data["adminRemoveChat"])

	data, errs = f.run(t, admin, `{ adminCountMessages adminCountChats }`, nil)
	require.Empty(t, errs)
	require.EqualValues(t, 1, data["adminCountMessages"])
	require.EqualValues(t, 0, data["adminCountChats"])
}
