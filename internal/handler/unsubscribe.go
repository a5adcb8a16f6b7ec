package handler

import (
	"context"
	"errors"

	"github.com/zwily/faye-presence/internal/gateway"
	"github.com/zwily/faye-presence/internal/ierr"
	"github.com/zwily/faye-presence/internal/presence"
)

type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

type UnsubscribeResponse struct {
	Success bool `json:"success"`
}

type UnsubscribeHandlerInterface interface {
	Handle(ctx context.Context, req UnsubscribeRequest) (UnsubscribeResponse, error)
}

type UnsubscribeHandler struct {
	channelValidator *ChannelValidator
	connections      *gateway.ConnectionRegistry
	registry         *presence.Registry
}

func NewUnsubscribeHandler(
	channelValidator *ChannelValidator,
	connections *gateway.ConnectionRegistry,
	registry *presence.Registry,
) *UnsubscribeHandler {
	return &UnsubscribeHandler{
		channelValidator,
		connections,
		registry,
	}
}

func (h *UnsubscribeHandler) Handle(ctx context.Context, req UnsubscribeRequest) (UnsubscribeResponse, error) {
	err := h.channelValidator.Validate(req.Channel)
	if err != nil {
		return UnsubscribeResponse{}, err
	}

	connection, ok := gateway.ConnectionFromContext(ctx)
	if !ok {
		return UnsubscribeResponse{}, errors.New("connection not found in context")
	}

	h.connections.Unsubscribe(req.Channel, connection.Id)

	if !h.channelValidator.IsPresenceChannel(req.Channel) {
		return UnsubscribeResponse{Success: true}, nil
	}

	identity, isLast, err := h.registry.Deregister(ctx, req.Channel, connection.Id)
	if err != nil {
		// A connection that never registered presence has nothing to
		// deregister; the unsubscribe itself still succeeded.
		if ierr.HasCode(err, ierr.ErrorCodeNotFound) {
			return UnsubscribeResponse{Success: true}, nil
		}

		return UnsubscribeResponse{}, err
	}

	if isLast {
		h.connections.Broadcast(gateway.Event{
			Type:     gateway.EventTypeLeft,
			Channel:  req.Channel,
			Identity: identity,
		})
	}

	return UnsubscribeResponse{Success: true}, nil
}
