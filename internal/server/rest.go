package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/zwily/faye-presence/internal/auth"
	"github.com/zwily/faye-presence/internal/handler"
	"github.com/zwily/faye-presence/internal/ierr"
	"go.uber.org/zap"
)

// RESTServer exposes an out-of-band inspection surface for operators and
// backend services, authenticated by API key.
type RESTServer struct {
	logger *zap.Logger

	authenticator *auth.Authenticator
	rosterHandler *handler.RosterHandler
}

func NewRESTServer(
	logger *zap.Logger,
	authenticator *auth.Authenticator,
	rosterHandler *handler.RosterHandler,
) *RESTServer {
	return &RESTServer{
		logger,
		authenticator,
		rosterHandler,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.HandleFunc("/channels/{channel}/roster", func(w http.ResponseWriter, r *http.Request) {
		authentication, err := s.authenticator.AuthenticateAPIKey(r.Header.Get("X-API-Key"))
		if err != nil {
			http.Error(w, "invalid api key", http.StatusUnauthorized)

			return
		}

		ctx := auth.WithAuthentication(r.Context(), authentication)

		response, err := s.rosterHandler.Handle(ctx, handler.RosterRequest{
			Channel: mux.Vars(r)["channel"],
		})
		if err != nil {
			s.writeError(w, err)

			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	}).Methods("GET")
}

func (s *RESTServer) writeError(w http.ResponseWriter, err error) {
	var handlerErr ierr.Error
	if !errors.As(err, &handlerErr) {
		s.logger.Error("error in rest handler", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)

		return
	}

	status := http.StatusInternalServerError
	switch handlerErr.Code {
	case ierr.ErrorCodeInvalidArgument:
		status = http.StatusBadRequest
	case ierr.ErrorCodeNotFound:
		status = http.StatusNotFound
	case ierr.ErrorCodeUnauthenticated:
		status = http.StatusUnauthorized
	case ierr.ErrorCodePermissionDenied:
		status = http.StatusForbidden
	case ierr.ErrorCodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	http.Error(w, handlerErr.Message, status)
}
