package handler

import (
	"context"

	"github.com/zwily/faye-presence/internal/gateway"
	"github.com/zwily/faye-presence/internal/ierr"
	"github.com/zwily/faye-presence/internal/presence"
	"go.uber.org/zap"
)

// DisconnectHandler services physical disconnects: it detaches the connection
// from the gateway and deregisters its presence in every channel it was still
// subscribed to, broadcasting a leave wherever it was an identity's last
// connection. The server invokes it exactly once per closed connection.
type DisconnectHandler struct {
	logger           *zap.Logger
	channelValidator *ChannelValidator
	connections      *gateway.ConnectionRegistry
	registry         *presence.Registry
}

func NewDisconnectHandler(
	logger *zap.Logger,
	channelValidator *ChannelValidator,
	connections *gateway.ConnectionRegistry,
	registry *presence.Registry,
) *DisconnectHandler {
	return &DisconnectHandler{
		logger,
		channelValidator,
		connections,
		registry,
	}
}

func (h *DisconnectHandler) Handle(ctx context.Context, connectionId string) {
	channels := h.connections.Disconnect(connectionId)

	for _, channel := range channels {
		if !h.channelValidator.IsPresenceChannel(channel) {
			continue
		}

		identity, isLast, err := h.registry.Deregister(ctx, channel, connectionId)
		if err != nil {
			if ierr.HasCode(err, ierr.ErrorCodeNotFound) {
				continue
			}

			h.logger.Error("failed to deregister presence on disconnect",
				zap.String("channel", channel),
				zap.String("connectionId", connectionId),
				zap.Error(err))

			continue
		}

		if isLast {
			h.connections.Broadcast(gateway.Event{
				Type:     gateway.EventTypeLeft,
				Channel:  channel,
				Identity: identity,
			})
		}
	}
}
