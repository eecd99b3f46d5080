package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/studyhub/internal/auth"
	"github.com/charlesng35/studyhub/internal/graphql"
)

const greetingSDL = `
type Query { ok: Boolean }
type Subscription {
  greetings: String!
  forever: String!
}
`

type harness struct {
	url   string
	token string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	jwt, err := auth.NewJWTService(auth.JWTConfig{Secret: "ws-secret", AccessTokenTTL: time.Hour})
	require.NoError(t, err)
	token, err := jwt.GenerateAccessToken(auth.AccessTokenInput{UserID: "user-1"})
	require.NoError(t, err)

	schema := graphql.MustNewSchema(greetingSDL)
	schema.ResolveSubscription("greetings", func(_ context.Context, p graphql.ResolveParams) (<-chan any, error) {
		who := p.Request.UserID
		if who == "" {
			who = "anonymous"
		}
		out := make(chan any, 2)
		out <- "hello " + who
		out <- "bye " + who
		close(out)
		return out, nil
	})
	schema.ResolveSubscription("forever", func(ctx context.Context, _ graphql.ResolveParams) (<-chan any, error) {
		out := make(chan any)
		go func() {
			<-ctx.Done()
			close(out)
		}()
		return out, nil
	})

	server := NewServer(schema, jwt, Options{InitTimeout: time.Second})
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	return &harness{url: "ws" + strings.TrimPrefix(ts.URL, "http"), token: token}
}

func (h *harness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol}, HandshakeTimeout: time.Second}
	conn, _, err := dialer.Dial(h.url, nil)
	require.NoError(t, err)
	require.Equal(t, Subprotocol, conn.Subprotocol())
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg Message) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func receive(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var closeErr *websocket.CloseError
		require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
		require.Equal(t, code, closeErr.Code)
		return
	}
}

func payload(t *testing.T, v any) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return body
}

func (h *harness) initialise(t *testing.T, conn *websocket.Conn, authorization string) {
	t.Helper()
	send(t, conn, Message{Type: MsgConnectionInit, Payload: payload(t, map[string]any{"Authorization": authorization})})
	require.Equal(t, MsgConnectionAck, receive(t, conn).Type)
}

func TestSubscriptionStreamsWithSessionIdentity(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	h.initialise(t, conn, "Bearer "+h.token)

	send(t, conn, Message{ID: "1", Type: MsgSubscribe, Payload: payload(t, graphql.Request{Query: "subscription { greetings }"})})

	first := receive(t, conn)
	require.Equal(t, MsgNext, first.Type)
	require.Equal(t, "1", first.ID)
	require.JSONEq(t, `{"data":{"greetings":"hello user-1"}}`, string(first.Payload))

	second := receive(t, conn)
	require.JSONEq(t, `{"data":{"greetings":"bye user-1"}}`, string(second.Payload))

	done := receive(t, conn)
	require.Equal(t, MsgComplete, done.Type)
	require.Equal(t, "1", done.ID)
}

func TestInvalidTokenYieldsAnonymousSession(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	h.initialise(t, conn, "Bearer not-a-token")

	send(t, conn, Message{ID: "a", Type: MsgSubscribe, Payload: payload(t, graphql.Request{Query: "subscription { greetings }"})})
	require.JSONEq(t, `{"data":{"greetings":"hello anonymous"}}`, string(receive(t, conn).Payload))
}

func TestSubscribeBeforeInitIsUnauthorized(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	send(t, conn, Message{ID: "1", Type: MsgSubscribe, Payload: payload(t, graphql.Request{Query: "subscription { greetings }"})})
	expectClose(t, conn, CloseUnauthorized)
}

func TestDuplicateSubscriptionIDClosesConnection(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	h.initialise(t, conn, "Bearer "+h.token)

	request := payload(t, graphql.Request{Query: "subscription { forever }"})
	send(t, conn, Message{ID: "dup", Type: MsgSubscribe, Payload: request})
	send(t, conn, Message{ID: "dup", Type: MsgSubscribe, Payload: request})
	expectClose(t, conn, CloseSubscriberExists)
}

func TestInvalidMessageClosesConnection(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	expectClose(t, conn, CloseInvalidMessage)
}

func TestSecondInitClosesConnection(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	h.initialise(t, conn, "")

	send(t, conn, Message{Type: MsgConnectionInit})
	expectClose(t, conn, CloseTooManyInits)
}

func TestPingIsAnsweredWithPong(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	h.initialise(t, conn, "")

	send(t, conn, Message{Type: MsgPing})
	require.Equal(t, MsgPong, receive(t, conn).Type)
}

func TestInvalidSubscriptionReportsError(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	h.initialise(t, conn, "")

	send(t, conn, Message{ID: "bad", Type: MsgSubscribe, Payload: payload(t, graphql.Request{Query: "subscription { missing }"})})
	msg := receive(t, conn)
	require.Equal(t, MsgError, msg.Type)
	require.Equal(t, "bad", msg.ID)
	require.Contains(t, string(msg.Payload), "GRAPHQL_VALIDATION_FAILED")

	// The connection stays usable after a rejected subscribe.
	send(t, conn, Message{Type: MsgPing})
	require.Equal(t, MsgPong, receive(t, conn).Type)
}

func TestCompleteStopsSubscription(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	h.initialise(t, conn, "")

	send(t, conn, Message{ID: "f", Type: MsgSubscribe, Payload: payload(t, graphql.Request{Query: "subscription { forever }"})})
	send(t, conn, Message{ID: "f", Type: MsgComplete})

	// The id is free again once the client completed it.
	send(t, conn, Message{ID: "f", Type: MsgSubscribe, Payload: payload(t, graphql.Request{Query: "subscription { greetings }"})})
	require.Equal(t, MsgNext, receive(t, conn).Type)
}

func TestInitTimeoutClosesConnection(t *testing.T) {
	h := newHarness(t)
	conn := h.dial(t)
	expectClose(t, conn, CloseInitTimeout)
}
