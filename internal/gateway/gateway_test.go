package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"gorm.io/gorm"

	"github.com/charlesng35/studyhub/internal/auth"
	"github.com/charlesng35/studyhub/internal/database/testutil"
	"github.com/charlesng35/studyhub/internal/graphql"
	"github.com/charlesng35/studyhub/internal/models"
	"github.com/charlesng35/studyhub/internal/reqctx"
	"github.com/charlesng35/studyhub/internal/services"
	"github.com/charlesng35/studyhub/internal/subgraphs"
	"github.com/charlesng35/studyhub/internal/subgraphs/messages"
	"github.com/charlesng35/studyhub/internal/subgraphs/posts"
	"github.com/charlesng35/studyhub/internal/subgraphs/users"
)

func serveSubgraph(t *testing.T, exec graphql.Executor) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/graphql", graphql.Handler(exec, graphql.ForwardedIdentity))
	router.GET("/health/ready", func(c *gin.Context) { c.Status(http.StatusOK) })

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

type federation struct {
	db    *gorm.DB
	jwt   *auth.JWTService
	users *services.UserService
	gw    *Gateway
}

func newFederation(t *testing.T) *federation {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())

	jwt, err := auth.NewJWTService(auth.JWTConfig{Secret: "gateway-secret", AccessTokenTTL: time.Hour})
	require.NoError(t, err)

	userSvc, err := services.NewUserService(db, jwt)
	require.NoError(t, err)
	postSvc, err := services.NewPostService(db)
	require.NoError(t, err)
	likeSvc, err := services.NewLikeService(db, nil)
	require.NoError(t, err)
	commentSvc, err := services.NewCommentService(db, nil)
	require.NoError(t, err)
	chatSvc, err := services.NewChatService(db, nil)
	require.NoError(t, err)
	messageSvc, err := services.NewMessageService(db, chatSvc, nil)
	require.NoError(t, err)

	usersSrv := serveSubgraph(t, users.NewSchema(userSvc))
	postsSrv := serveSubgraph(t, posts.NewSchema(posts.Services{Posts: postSvc, Likes: likeSvc, Comments: commentSvc}))
	messagesSrv := serveSubgraph(t, messages.NewSchema(messages.Services{Chats: chatSvc, Messages: messageSvc}))

	gw, err := New(Config{
		Subgraphs: []Service{
			{Name: subgraphs.Users, URL: usersSrv.URL},
			{Name: subgraphs.Posts, URL: postsSrv.URL},
			{Name: subgraphs.Messages, URL: messagesSrv.URL},
		},
		StartupTimeout: 5 * time.Second,
		PollInterval:   10 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
	}, jwt)
	require.NoError(t, err)
	require.NoError(t, gw.Start(context.Background()))

	return &federation{db: db, jwt: jwt, users: userSvc, gw: gw}
}

func (f *federation) run(t *testing.T, rc reqctx.RequestContext, query string, vars map[string]any) (map[string]any, gqlerror.List) {
	t.Helper()
	resp := f.gw.Execute(context.Background(), rc, graphql.Request{Query: query, Variables: vars})
	body, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal(body, &data))
	return data, resp.Errors
}

func (f *federation) signUp(t *testing.T, name, email string) (string, string) {
	t.Helper()
	data, errs := f.run(t, reqctx.RequestContext{}, `mutation($input: SignUpInput!) {
		signUp(input: $input) { token user { id } }
	}`, map[string]any{"input": map[string]any{"name": name, "email": email, "password": "correct-horse"}})
	require.Empty(t, errs)
	payload := data["signUp"].(map[string]any)
	return payload["user"].(map[string]any)["id"].(string), payload["token"].(string)
}

func TestPostsCarryTheirAuthorAcrossSubgraphs(t *testing.T) {
	f := newFederation(t)
	amy, _ := f.signUp(t, "Amy", "amy@example.com")

	data, errs := f.run(t, reqctx.RequestContext{UserID: amy}, `mutation {
		savePost(input: {title: "Limits", tags: ["calculus"]}) { id title }
	}`, nil)
	require.Empty(t, errs)
	require.Equal(t, "Limits", data["savePost"].(map[string]any)["title"])

	data, errs = f.run(t, reqctx.RequestContext{}, `{ posts { title author { id name } } }`, nil)
	require.Empty(t, errs)
	require.Equal(t, []any{
		map[string]any{"title": "Limits", "author": map[string]any{"id": amy, "name": "Amy"}},
	}, data["posts"])
}

func TestAliasesFragmentsAndExtensionFields(t *testing.T) {
	f := newFederation(t)
	amy, _ := f.signUp(t, "Amy", "amy@example.com")

	_, errs := f.run(t, reqctx.RequestContext{UserID: amy}, `mutation { savePost(input: {title: "Vectors"}) { id } }`, nil)
	require.Empty(t, errs)

	data, errs := f.run(t, reqctx.RequestContext{}, `
		query Profile($id: ID!, $withPosts: Boolean!) {
			someone: user(id: $id) { ...Card kind: __typename }
		}
		fragment Card on User {
			displayName: name
			posts @include(if: $withPosts) { heading: title writer: author { name } }
		}
	`, map[string]any{"id": amy, "withPosts": true})
	require.Empty(t, errs)
	require.Equal(t, map[string]any{
		"displayName": "Amy",
		"posts": []any{
			map[string]any{"heading": "Vectors", "writer": map[string]any{"name": "Amy"}},
		},
		"kind": "User",
	}, data["someone"])

	data, errs = f.run(t, reqctx.RequestContext{}, `query($id: ID!) { user(id: $id) { name posts @skip(if: true) { title } } }`,
		map[string]any{"id": amy})
	require.Empty(t, errs)
	require.Equal(t, map[string]any{"name": "Amy"}, data["user"])
}

func TestMessageFromDeletedSenderHasNullSender(t *testing.T) {
	f := newFederation(t)
	amy, _ := f.signUp(t, "Amy", "amy@example.com")
	bob, _ := f.signUp(t, "Bob", "bob@example.com")

	_, errs := f.run(t, reqctx.RequestContext{UserID: amy}, `mutation($to: ID!) {
		saveMessage(input: {receiverId: $to, content: "hi bob"}) { id }
	}`, map[string]any{"to": bob})
	require.Empty(t, errs)

	require.NoError(t, f.users.Delete(context.Background(), amy))

	data, errs := f.run(t, reqctx.RequestContext{UserID: bob}, `{
		myMessages { content sender { name } receiver { name } }
	}`, nil)
	require.Empty(t, errs)
	require.Equal(t, []any{
		map[string]any{"content": "hi bob", "sender": nil, "receiver": map[string]any{"name": "Bob"}},
	}, data["myMessages"])
}

func TestMessageWhoseChatWasDeletedHasNullChat(t *testing.T) {
	f := newFederation(t)
	amy, _ := f.signUp(t, "Amy", "amy@example.com")

	data, errs := f.run(t, reqctx.RequestContext{UserID: amy}, `mutation {
		saveChat(input: {name: "Study group"}) { id }
	}`, nil)
	require.Empty(t, errs)
	chatID := data["saveChat"].(map[string]any)["id"].(string)

	data, errs = f.run(t, reqctx.RequestContext{UserID: amy}, `mutation($chat: ID!) {
		saveMessage(input: {chatId: $chat, content: "welcome"}) { id chat { name } sender { name } }
	}`, map[string]any{"chat": chatID})
	require.Empty(t, errs)
	message := data["saveMessage"].(map[string]any)
	require.Equal(t, map[string]any{"name": "Study group"}, message["chat"])
	require.Equal(t, map[string]any{"name": "Amy"}, message["sender"])

	require.NoError(t, f.db.Where("id = ?", chatID).Delete(&models.Chat{}).Error)

	data, errs = f.run(t, reqctx.RequestContext{UserID: amy}, `query($id: ID!) {
		message(id: $id) { content chat { name } sender { name } }
	}`, map[string]any{"id": message["id"]})
	require.Empty(t, errs)
	require.Equal(t, map[string]any{
		"content": "welcome",
		"chat":    nil,
		"sender":  map[string]any{"name": "Amy"},
	}, data["message"])
}

func TestQueryGroupsFromSeveralSubgraphsRunTogether(t *testing.T) {
	f := newFederation(t)
	amy, _ := f.signUp(t, "Amy", "amy@example.com")

	data, errs := f.run(t, reqctx.RequestContext{UserID: amy}, `{
		me { name }
		posts { id }
		myChats { id }
		__typename
	}`, nil)
	require.Empty(t, errs)
	require.Equal(t, map[string]any{
		"me":         map[string]any{"name": "Amy"},
		"posts":      []any{},
		"myChats":    []any{},
		"__typename": "Query",
	}, data)
}

func TestSubgraphErrorsKeepTheirPath(t *testing.T) {
	f := newFederation(t)

	data, errs := f.run(t, reqctx.RequestContext{}, `{ posts { id } myChats { id } }`, nil)
	require.Len(t, errs, 1)
	require.Equal(t, "UNAUTHORIZED", graphql.ErrorCode(errs[0]))
	require.Equal(t, "myChats", errs[0].Path.String())
	require.Nil(t, data)
}

func TestValidationHappensAtTheGateway(t *testing.T) {
	f := newFederation(t)

	resp := f.gw.Execute(context.Background(), reqctx.RequestContext{}, graphql.Request{Query: `{ posts { nope } }`})
	require.Nil(t, resp.Data)
	require.NotEmpty(t, resp.Errors)
	require.Equal(t, "GRAPHQL_VALIDATION_FAILED", graphql.ErrorCode(resp.Errors[0]))

	resp = f.gw.Execute(context.Background(), reqctx.RequestContext{}, graphql.Request{Query: `subscription { ping }`})
	require.NotEmpty(t, resp.Errors)
}

func TestIntrospectionIsAnsweredByTheGateway(t *testing.T) {
	f := newFederation(t)

	data, errs := f.run(t, reqctx.RequestContext{}, `{
		__type(name: "User") { name fields { name } }
		__schema { queryType { name } }
	}`, nil)
	require.Empty(t, errs)

	typ := data["__type"].(map[string]any)
	require.Equal(t, "User", typ["name"])
	var names []string
	for _, field := range typ["fields"].([]any) {
		names = append(names, field.(map[string]any)["name"].(string))
	}
	require.Contains(t, names, "name")
	require.Contains(t, names, "posts")
	require.Equal(t, map[string]any{"queryType": map[string]any{"name": "Query"}}, data["__schema"])
}

func TestHandlerDerivesIdentityFromBearerToken(t *testing.T) {
	f := newFederation(t)
	_, token := f.signUp(t, "Amy", "amy@example.com")

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.POST("/graphql", graphql.Handler(f.gw, f.gw.Identify))

	call := func(authorization string) string {
		req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(`{"query":"{ me { name } }"}`))
		req.Header.Set("Content-Type", "application/json")
		if authorization != "" {
			req.Header.Set("Authorization", authorization)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		return rec.Body.String()
	}

	require.JSONEq(t, `{"data":{"me":{"name":"Amy"}}}`, call("Bearer "+token))
	require.JSONEq(t, `{"data":{"me":null}}`, call("Bearer not-a-token"))
	require.JSONEq(t, `{"data":{"me":null}}`, call(""))
}

func TestCallerIdentityIsForwardedAsHeaders(t *testing.T) {
	echo := graphql.MustNewSchema(`
		type Caller { userId: String isAdmin: Boolean! from: String }
		type Query { caller: Caller! }
	`).Resolve("Query", "caller", func(_ context.Context, p graphql.ResolveParams) (any, error) {
		return map[string]any{"userId": p.Request.UserID, "isAdmin": p.Request.IsAdmin, "from": p.Request.From}, nil
	})
	srv := serveSubgraph(t, echo)

	gw, err := New(Config{Subgraphs: []Service{{Name: "echo", URL: srv.URL}}, PollInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, gw.Start(context.Background()))

	resp := gw.Execute(context.Background(),
		reqctx.RequestContext{UserID: "u-1", IsAdmin: true, From: reqctx.FromAdminConsole},
		graphql.Request{Query: `{ caller { userId isAdmin from } }`})
	require.Empty(t, resp.Errors)
	body, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.JSONEq(t, `{"caller":{"userId":"u-1","isAdmin":true,"from":"admin"}}`, string(body))

	resp = gw.Execute(context.Background(), reqctx.RequestContext{}, graphql.Request{Query: `{ caller { userId isAdmin from } }`})
	body, err = json.Marshal(resp.Data)
	require.NoError(t, err)
	require.JSONEq(t, `{"caller":{"userId":"","isAdmin":false,"from":""}}`, string(body))
}

func TestUnavailableSubgraphNullsItsFields(t *testing.T) {
	echo := graphql.MustNewSchema(`type Query { ping: String }`).
		Resolve("Query", "ping", func(context.Context, graphql.ResolveParams) (any, error) { return "pong", nil })
	srv := serveSubgraph(t, echo)

	gw, err := New(Config{Subgraphs: []Service{{Name: "echo", URL: srv.URL}}, PollInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	require.NoError(t, gw.Start(context.Background()))

	srv.Close()
	resp := gw.Execute(context.Background(), reqctx.RequestContext{}, graphql.Request{Query: `{ ping }`})
	require.Len(t, resp.Errors, 1)
	require.Equal(t, "SERVICE_UNAVAILABLE", graphql.ErrorCode(resp.Errors[0]))
	body, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.JSONEq(t, `{"ping":null}`, string(body))
}

func TestEntitiesKeyedByANamedField(t *testing.T) {
	courses := graphql.MustNewSchema(`
type Course @key(fields: "slug") {
  slug: String!
  title: String!
}
type Query { course(slug: String!): Course }
`)
	courses.ResolveReference("Course", func(_ context.Context, _ reqctx.RequestContext, ref graphql.Reference) (any, error) {
		return map[string]any{"slug": ref.ID, "title": "Calculus " + ref.ID}, nil
	})

	reviews := graphql.MustNewSchema(`
type Course @key(fields: "slug") @extends {
  slug: String! @external
}
type Review {
  stars: Int!
  course: Course
}
type Query { reviews: [Review!]! }
`).Resolve("Query", "reviews", func(context.Context, graphql.ResolveParams) (any, error) {
		return []any{map[string]any{"stars": 5, "course": map[string]any{"__typename": "Course", "slug": "one"}}}, nil
	})

	gw, err := New(Config{
		Subgraphs: []Service{
			{Name: "courses", URL: serveSubgraph(t, courses).URL},
			{Name: "reviews", URL: serveSubgraph(t, reviews).URL},
		},
		PollInterval: 10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)
	require.NoError(t, gw.Start(context.Background()))

	resp := gw.Execute(context.Background(), reqctx.RequestContext{}, graphql.Request{Query: `{ reviews { stars course { slug title } } }`})
	require.Empty(t, resp.Errors)
	body, err := json.Marshal(resp.Data)
	require.NoError(t, err)
	require.JSONEq(t, `{"reviews":[{"stars":5,"course":{"slug":"one","title":"Calculus one"}}]}`, string(body))
}

func TestStartFailsWhenASubgraphNeverBecomesReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	gw, err := New(Config{
		Subgraphs:      []Service{{Name: "slow", URL: srv.URL}},
		StartupTimeout: 100 * time.Millisecond,
		PollInterval:   10 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	err = gw.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "slow not ready")
	require.Nil(t, gw.Supergraph())
	require.Error(t, gw.Ready(context.Background()))

	resp := gw.Execute(context.Background(), reqctx.RequestContext{}, graphql.Request{Query: `{ ping }`})
	require.Equal(t, "SERVICE_UNAVAILABLE", graphql.ErrorCode(resp.Errors[0]))
}

func TestNewValidatesSubgraphs(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)

	_, err = New(Config{Subgraphs: []Service{{Name: "a", URL: "http://a"}, {Name: "a", URL: "http://b"}}}, nil)
	require.Error(t, err)
}
