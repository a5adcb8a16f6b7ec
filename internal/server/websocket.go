package server

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/zwily/faye-presence/internal/gateway"
	"github.com/zwily/faye-presence/internal/handler"
	"github.com/zwily/faye-presence/internal/rpc"
	"go.uber.org/zap"
)

const sendBufferSize = 16

type WebSocketServer struct {
	logger   *zap.Logger
	upgrader *websocket.Upgrader

	connections       *gateway.ConnectionRegistry
	router            *Router
	disconnectHandler *handler.DisconnectHandler
}

func NewWebSocketServer(
	logger *zap.Logger,
	upgrader *websocket.Upgrader,
	connections *gateway.ConnectionRegistry,
	router *Router,
	disconnectHandler *handler.DisconnectHandler,
) *WebSocketServer {
	return &WebSocketServer{
		logger,
		upgrader,
		connections,
		router,
		disconnectHandler,
	}
}

func (s *WebSocketServer) Register(router *mux.Router) {
	router.HandleFunc("/websocket", s.handle)
}

func (s *WebSocketServer) handle(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))

		return
	}

	connectionId := gonanoid.Must()
	connection := gateway.NewConnection(connectionId, sendBufferSize)
	s.connections.Connect(connection)

	logger := s.logger.With(zap.String("connectionId", connectionId))
	logger.Info("websocket connection established")

	// All writes to the websocket go through this goroutine: request
	// replies and broadcast events must never interleave on the wire.
	responses := make(chan rpc.Response, sendBufferSize)

	go func() {
		defer wsConn.Close()
		defer connection.Close()

		for {
			select {
			case event, ok := <-connection.Send:
				if !ok {
					return
				}

				if err := s.writeEvent(wsConn, event); err != nil {
					logger.Warn("failed to write event", zap.Error(err))

					return
				}
			case response := <-responses:
				if err := wsConn.WriteJSON(response); err != nil {
					logger.Warn("failed to write response", zap.Error(err))

					return
				}
			case <-connection.Closed:
				return
			}
		}
	}()

	ctx := gateway.WithConnection(r.Context(), connection)

	for {
		var request rpc.Request
		if err := wsConn.ReadJSON(&request); err != nil {
			break
		}

		response := s.router.RouteRequest(ctx, request)
		if response == nil {
			continue
		}

		select {
		case responses <- *response:
		case <-connection.Closed:
		}
	}

	s.disconnectHandler.Handle(r.Context(), connectionId)
	connection.Close()

	logger.Info("websocket connection closed")
}

func (s *WebSocketServer) writeEvent(wsConn *websocket.Conn, event gateway.Event) error {
	params, err := json.Marshal(event)
	if err != nil {
		return err
	}

	raw := json.RawMessage(params)

	return wsConn.WriteJSON(rpc.NewNotification("presence", &raw))
}
