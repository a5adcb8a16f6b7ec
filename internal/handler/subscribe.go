package handler

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/zwily/faye-presence/internal/gateway"
	"github.com/zwily/faye-presence/internal/ierr"
	"github.com/zwily/faye-presence/internal/presence"
)

type SubscribeRequest struct {
	Channel  string          `json:"channel"`
	Identity string          `json:"identity,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type SubscribeResponse struct {
	SubscriptionId string                     `json:"subscriptionId"`
	Timestamp      time.Time                  `json:"timestamp"`
	Roster         map[string]json.RawMessage `json:"roster,omitempty"`
}

type SubscribeHandlerInterface interface {
	Handle(ctx context.Context, req SubscribeRequest) (SubscribeResponse, error)
}

type SubscribeHandler struct {
	channelValidator *ChannelValidator
	connections      *gateway.ConnectionRegistry
	registry         *presence.Registry
}

func NewSubscribeHandler(
	channelValidator *ChannelValidator,
	connections *gateway.ConnectionRegistry,
	registry *presence.Registry,
) *SubscribeHandler {
	return &SubscribeHandler{
		channelValidator,
		connections,
		registry,
	}
}

func (h *SubscribeHandler) Handle(ctx context.Context, req SubscribeRequest) (SubscribeResponse, error) {
	err := h.channelValidator.Validate(req.Channel)
	if err != nil {
		return SubscribeResponse{}, err
	}

	connection, ok := gateway.ConnectionFromContext(ctx)
	if !ok {
		return SubscribeResponse{}, errors.New("connection not found in context")
	}

	authentication := connection.GetAuthentication()
	if authentication == nil {
		return SubscribeResponse{},
			ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
	}

	if !connection.IsAuthorized(req.Channel) {
		return SubscribeResponse{},
			ierr.New(ierr.ErrorCodePermissionDenied, errors.New("user not authorized to access this channel"))
	}

	err = h.connections.Subscribe(req.Channel, connection.Id)
	if err != nil {
		return SubscribeResponse{}, ierr.New(ierr.ErrorCodeFailedPrecondition, err)
	}

	response := SubscribeResponse{
		SubscriptionId: connection.Id,
		Timestamp:      time.Now(),
	}

	if !h.channelValidator.IsPresenceChannel(req.Channel) {
		return response, nil
	}

	identity := req.Identity
	if identity == "" {
		identity = authentication.Subject
	}

	payload := req.Payload
	if payload == nil {
		payload = json.RawMessage("null")
	}

	isNew, err := h.registry.Register(ctx, req.Channel, connection.Id, identity, payload)
	if err != nil {
		h.connections.Unsubscribe(req.Channel, connection.Id)

		return SubscribeResponse{}, err
	}

	if isNew {
		h.connections.Broadcast(gateway.Event{
			Type:     gateway.EventTypeJoined,
			Channel:  req.Channel,
			Identity: identity,
			Payload:  payload,
		})
	}

	roster, err := snapshotRoster(ctx, h.registry, req.Channel)
	if err != nil {
		return SubscribeResponse{}, err
	}

	response.Roster = roster

	return response, nil
}

// snapshotRoster converts a registry snapshot into the JSON mapping carried
// on subscribe replies and roster queries.
func snapshotRoster(
	ctx context.Context,
	registry *presence.Registry,
	channel string,
) (map[string]json.RawMessage, error) {
	snapshot, err := registry.Snapshot(ctx, channel)
	if err != nil {
		return nil, err
	}

	roster := make(map[string]json.RawMessage, len(snapshot))
	for identity, payload := range snapshot {
		if len(payload) == 0 {
			payload = []byte("null")
		}

		roster[identity] = json.RawMessage(payload)
	}

	return roster, nil
}
