package http

import (
	"errors"
	"net/http"

	"github.com/MadHawkx/Synctelly/internal/domain"
	"github.com/MadHawkx/Synctelly/internal/service"
)

func toHTTP(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrInvalidIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStoreDisabled), errors.Is(err, service.ErrNameExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
