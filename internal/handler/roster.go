package handler

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/zwily/faye-presence/internal/auth"
	"github.com/zwily/faye-presence/internal/gateway"
	"github.com/zwily/faye-presence/internal/ierr"
	"github.com/zwily/faye-presence/internal/presence"
)

type RosterRequest struct {
	Channel string `json:"channel"`
}

type RosterResponse struct {
	Roster map[string]json.RawMessage `json:"roster"`
}

type RosterHandlerInterface interface {
	Handle(ctx context.Context, req RosterRequest) (RosterResponse, error)
}

type RosterHandler struct {
	channelValidator *ChannelValidator
	registry         *presence.Registry
}

func NewRosterHandler(
	channelValidator *ChannelValidator,
	registry *presence.Registry,
) *RosterHandler {
	return &RosterHandler{
		channelValidator,
		registry,
	}
}

func (h *RosterHandler) Handle(ctx context.Context, req RosterRequest) (RosterResponse, error) {
	err := h.channelValidator.Validate(req.Channel)
	if err != nil {
		return RosterResponse{}, err
	}

	if err := h.authorize(ctx, req.Channel); err != nil {
		return RosterResponse{}, err
	}

	roster, err := snapshotRoster(ctx, h.registry, req.Channel)
	if err != nil {
		return RosterResponse{}, err
	}

	return RosterResponse{
		Roster: roster,
	}, nil
}

func (h *RosterHandler) authorize(ctx context.Context, channel string) error {
	// Over the websocket the connection carries the authentication; over
	// REST it arrives directly on the context.
	if connection, ok := gateway.ConnectionFromContext(ctx); ok {
		if connection.GetAuthentication() == nil {
			return ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
		}

		if !connection.IsAuthorized(channel) {
			return ierr.New(ierr.ErrorCodePermissionDenied,
				errors.New("user not authorized to access this channel"))
		}

		return nil
	}

	authentication, ok := auth.AuthenticationFromContext(ctx)
	if !ok {
		return ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("authentication required"))
	}

	if !authentication.IsAuthorized(channel) {
		return ierr.New(ierr.ErrorCodePermissionDenied,
			errors.New("user not authorized to access this channel"))
	}

	return nil
}
