package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/zwily/faye-presence/internal/auth"
	"github.com/zwily/faye-presence/internal/gateway"
	"github.com/zwily/faye-presence/internal/handler"
	"github.com/zwily/faye-presence/internal/presence"
	"github.com/zwily/faye-presence/internal/server"
	"go.uber.org/zap"
)

type App struct {
	logger   *zap.Logger
	settings Settings

	shardRouter     *presence.ShardRouter
	websocketServer *server.WebSocketServer
	restServer      *server.RESTServer
}

func NewApp(logger *zap.Logger, settings Settings) (*App, error) {
	originChecker := server.NewOriginChecker()
	websocketUpgrader := &websocket.Upgrader{
		ReadBufferSize:    1024,
		WriteBufferSize:   1024,
		CheckOrigin:       originChecker.Check,
		EnableCompression: true,
	}

	addresses := strings.Split(settings.RedisAddresses, ",")
	shardRouter := presence.NewShardRouter(addresses)

	connections := gateway.NewConnectionRegistry(logger)
	registry := presence.NewRegistry(logger, shardRouter, connections)

	channelValidator, err := handler.NewChannelValidator(settings.PresenceChannelPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid presence channel pattern: %w", err)
	}

	var apiKeys []string
	if settings.APIKeys != "" {
		apiKeys = strings.Split(settings.APIKeys, ",")
	}

	authenticator := auth.NewAuthenticator(settings.JWTSecret, apiKeys)

	heartbeatHandler := handler.NewHeartbeatHandler()
	authHandler := handler.NewAuthHandler(authenticator)
	subscribeHandler := handler.NewSubscribeHandler(channelValidator, connections, registry)
	unsubscribeHandler := handler.NewUnsubscribeHandler(channelValidator, connections, registry)
	rosterHandler := handler.NewRosterHandler(channelValidator, registry)
	lookupHandler := handler.NewLookupHandler(channelValidator, registry)
	disconnectHandler := handler.NewDisconnectHandler(logger, channelValidator, connections, registry)

	router := server.NewRouter(
		logger,
		heartbeatHandler,
		authHandler,
		subscribeHandler,
		unsubscribeHandler,
		rosterHandler,
		lookupHandler,
	)

	websocketServer := server.NewWebSocketServer(
		logger,
		websocketUpgrader,
		connections,
		router,
		disconnectHandler,
	)
	restServer := server.NewRESTServer(
		logger,
		authenticator,
		rosterHandler,
	)

	return &App{
		logger:          logger,
		settings:        settings,
		shardRouter:     shardRouter,
		websocketServer: websocketServer,
		restServer:      restServer,
	}, nil
}

func (a *App) run(ctx context.Context) {
	notifyCtx, notifyCtxCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer notifyCtxCancel()

	address := fmt.Sprintf("0.0.0.0:%d", a.settings.Port)

	router := mux.NewRouter().
		PathPrefix(a.settings.BasePath).
		Subrouter()

	a.websocketServer.Register(router)
	a.restServer.Register(router)

	httpServer := &http.Server{
		Addr:    address,
		Handler: router,
	}

	a.logger.Info("starting http server",
		zap.String("address", address))

	go func() {
		err := httpServer.ListenAndServe()

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("failed to start http server",
				zap.Error(err))
		}
	}()

	<-notifyCtx.Done()

	a.logger.Info("stopping http server")

	shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCtxCancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Fatal("http server shutdown failed",
			zap.Error(err))
	}

	if err := a.shardRouter.Close(); err != nil {
		a.logger.Error("failed to close store clients",
			zap.Error(err))
	}

	a.logger.Info("http server stopped")
}

func main() {
	ctx := context.Background()

	var settings Settings
	_, err := env.UnmarshalFromEnviron(&settings)
	if err != nil {
		panic(err)
	}

	logger, err := buildZapLogger(settings.LogEncoding)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	app, err := NewApp(logger, settings)
	if err != nil {
		logger.Fatal("failed to set up", zap.Error(err))
	}

	app.run(ctx)
}
