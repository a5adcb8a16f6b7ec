package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zwily/faye-presence/internal/gateway"
	"github.com/zwily/faye-presence/internal/presence"
)

type LookupRequest struct {
	Channel string `json:"channel"`

	// ConnectionId defaults to the calling connection when omitted.
	ConnectionId string `json:"connectionId,omitempty"`
}

type LookupResponse struct {
	Payload json.RawMessage `json:"payload"`
}

type LookupHandlerInterface interface {
	Handle(ctx context.Context, req LookupRequest) (LookupResponse, error)
}

type LookupHandler struct {
	channelValidator *ChannelValidator
	registry         *presence.Registry
}

func NewLookupHandler(
	channelValidator *ChannelValidator,
	registry *presence.Registry,
) *LookupHandler {
	return &LookupHandler{
		channelValidator,
		registry,
	}
}

func (h *LookupHandler) Handle(ctx context.Context, req LookupRequest) (LookupResponse, error) {
	err := h.channelValidator.Validate(req.Channel)
	if err != nil {
		return LookupResponse{}, err
	}

	connectionId := req.ConnectionId
	if connectionId == "" {
		connection, ok := gateway.ConnectionFromContext(ctx)
		if !ok {
			return LookupResponse{}, errors.New("connection not found in context")
		}

		connectionId = connection.Id
	}

	payload, err := h.registry.Lookup(ctx, req.Channel, connectionId)
	if err != nil {
		return LookupResponse{}, err
	}

	if len(payload) == 0 {
		payload = []byte("null")
	}

	return LookupResponse{
		Payload: json.RawMessage(payload),
	}, nil
}
