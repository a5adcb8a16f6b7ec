package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/zwily/faye-presence/internal/auth"
	"github.com/zwily/faye-presence/internal/gateway"
	"github.com/zwily/faye-presence/internal/handler"
	"github.com/zwily/faye-presence/internal/presence"
	"github.com/zwily/faye-presence/internal/rpc"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	logger, _ := zap.NewDevelopment()
	connections := gateway.NewConnectionRegistry(logger)
	shardRouter := presence.NewShardRouterFromClients([]*redis.Client{client})
	registry := presence.NewRegistry(logger, shardRouter, connections)

	channelValidator, err := handler.NewChannelValidator("^presence:")
	assert.NoError(t, err)

	authenticator := auth.NewAuthenticator("test-secret", []string{"test-api-key"})

	router := NewRouter(
		logger,
		handler.NewHeartbeatHandler(),
		handler.NewAuthHandler(authenticator),
		handler.NewSubscribeHandler(channelValidator, connections, registry),
		handler.NewUnsubscribeHandler(channelValidator, connections, registry),
		handler.NewRosterHandler(channelValidator, registry),
		handler.NewLookupHandler(channelValidator, registry),
	)

	disconnectHandler := handler.NewDisconnectHandler(logger, channelValidator, connections, registry)
	wsServer := NewWebSocketServer(logger, &websocket.Upgrader{}, connections, router, disconnectHandler)
	restServer := NewRESTServer(logger, authenticator, handler.NewRosterHandler(channelValidator, registry))

	mainRouter := mux.NewRouter()
	wsServer.Register(mainRouter)
	restServer.Register(mainRouter)

	server := httptest.NewServer(mainRouter)
	t.Cleanup(server.Close)

	return server
}

func signTestToken(t *testing.T, subject string) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub":                subject,
		"exp":                time.Now().Add(time.Hour).Unix(),
		"iat":                time.Now().Unix(),
		"aud":                "presence",
		"authorizedChannels": []string{"presence:room"},
	}

	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	assert.NoError(t, err)

	return tokenString
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialTestClient(t *testing.T, server *httptest.Server) *testClient {
	t.Helper()

	u, err := url.Parse(server.URL)
	assert.NoError(t, err)
	u.Scheme = "ws"
	u.Path = "/websocket"

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	assert.NoError(t, err)

	return &testClient{t: t, conn: conn}
}

func (c *testClient) call(id int, method string, params any) rpc.Response {
	c.t.Helper()

	rawParams, err := json.Marshal(params)
	assert.NoError(c.t, err)

	raw := json.RawMessage(rawParams)
	err = c.conn.WriteJSON(rpc.Request{Id: id, Method: method, Params: &raw})
	assert.NoError(c.t, err)

	// Notifications may interleave with the reply; skip them.
	for {
		var envelope struct {
			RequestId int              `json:"requestId,omitempty"`
			Method    string           `json:"method,omitempty"`
			Result    *json.RawMessage `json:"result,omitempty"`
			Error     *json.RawMessage `json:"error,omitempty"`
		}

		c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		err := c.conn.ReadJSON(&envelope)
		assert.NoError(c.t, err)

		if envelope.Method != "" {
			continue
		}

		var response rpc.Response
		response.RequestId = envelope.RequestId
		response.Result = envelope.Result

		return response
	}
}

// readEventFor skips interleaved notifications (including the client's own
// join) until it sees a presence event for the given identity.
func (c *testClient) readEventFor(identity string) gateway.Event {
	c.t.Helper()

	for {
		var request rpc.Request
		c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		err := c.conn.ReadJSON(&request)
		assert.NoError(c.t, err)

		if request.Method != "presence" || request.Params == nil {
			continue
		}

		var event gateway.Event
		err = json.Unmarshal(*request.Params, &event)
		assert.NoError(c.t, err)

		if event.Identity != identity {
			continue
		}

		return event
	}
}

func TestWebSocketServer(t *testing.T) {
	server := newTestServer(t)

	t.Run("presence flow across two clients", func(t *testing.T) {
		alice := dialTestClient(t, server)
		defer alice.conn.Close()

		response := alice.call(1, "auth", handler.AuthRequest{Token: signTestToken(t, "alice")})
		var authResponse handler.AuthResponse
		assert.NoError(t, json.Unmarshal(*response.Result, &authResponse))
		assert.True(t, authResponse.Success)

		response = alice.call(2, "subscribe", handler.SubscribeRequest{
			Channel: "presence:room",
			Payload: json.RawMessage(`{"name":"Alice"}`),
		})
		var subscribeResponse handler.SubscribeResponse
		assert.NoError(t, json.Unmarshal(*response.Result, &subscribeResponse))
		assert.NotEmpty(t, subscribeResponse.SubscriptionId)
		assert.Len(t, subscribeResponse.Roster, 1)

		// A second user joins; alice is notified.
		bob := dialTestClient(t, server)
		bob.call(1, "auth", handler.AuthRequest{Token: signTestToken(t, "bob")})
		response = bob.call(2, "subscribe", handler.SubscribeRequest{
			Channel: "presence:room",
			Payload: json.RawMessage(`{"name":"Bob"}`),
		})
		assert.NoError(t, json.Unmarshal(*response.Result, &subscribeResponse))
		assert.Len(t, subscribeResponse.Roster, 2)

		event := alice.readEventFor("bob")
		assert.Equal(t, gateway.EventTypeJoined, event.Type)

		// Bob drops the socket; the disconnect path broadcasts the leave.
		bob.conn.Close()

		event = alice.readEventFor("bob")
		assert.Equal(t, gateway.EventTypeLeft, event.Type)
	})

	t.Run("roster over rest", func(t *testing.T) {
		client := dialTestClient(t, server)
		defer client.conn.Close()

		client.call(1, "auth", handler.AuthRequest{Token: signTestToken(t, "carol")})
		client.call(2, "subscribe", handler.SubscribeRequest{
			Channel: "presence:room",
			Payload: json.RawMessage(`{"name":"Carol"}`),
		})

		request, err := http.NewRequest("GET", server.URL+"/channels/presence:room/roster", nil)
		assert.NoError(t, err)
		request.Header.Set("X-API-Key", "test-api-key")

		httpResponse, err := http.DefaultClient.Do(request)
		assert.NoError(t, err)
		defer httpResponse.Body.Close()
		assert.Equal(t, http.StatusOK, httpResponse.StatusCode)

		var rosterResponse handler.RosterResponse
		assert.NoError(t, json.NewDecoder(httpResponse.Body).Decode(&rosterResponse))
		assert.Contains(t, rosterResponse.Roster, "carol")
	})

	t.Run("rest rejects a missing api key", func(t *testing.T) {
		httpResponse, err := http.Get(server.URL + "/channels/presence:room/roster")
		assert.NoError(t, err)
		defer httpResponse.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, httpResponse.StatusCode)
	})

	t.Run("unknown method yields an error reply", func(t *testing.T) {
		client := dialTestClient(t, server)
		defer client.conn.Close()

		rawParams := json.RawMessage(`{}`)
		err := client.conn.WriteJSON(rpc.Request{Id: 1, Method: "bogus", Params: &rawParams})
		assert.NoError(t, err)

		var response rpc.Response
		client.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		assert.NoError(t, client.conn.ReadJSON(&response))
		assert.True(t, response.IsFailure())
	})
}
