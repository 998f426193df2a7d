package service

import (
	"errors"

	"enrollassist-backend/internal/activation"
	"enrollassist-backend/internal/scrapers/portal"
	"enrollassist-backend/internal/tasks"

	"connectrpc.com/connect"
)

func toConnectError(err error) error {
	var missing *portal.MissingParamsError
	switch {
	case errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, portal.ErrUnknownSite):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, tasks.ErrInvalidTask),
		errors.Is(err, tasks.ErrInvalidSchedule):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, tasks.ErrNotPending),
		errors.As(err, &missing),
		errors.Is(err, portal.ErrUnrecognizedPage),
		errors.Is(err, portal.ErrSessionExpired):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, activation.ErrUnknownCode),
		errors.Is(err, activation.ErrExhausted):
		return connect.NewError(connect.CodePermissionDenied, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}
