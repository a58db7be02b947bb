package main

import (
	"context"
	"errors"
	"net"

	"exchangesync/backend"
	"exchangesync/internal/utils"
)

// backendFailure attaches a suggestion to backend errors the user can act
// on: refused operations, rejected credentials and unreachable servers.
// Other errors are returned unchanged.
func backendFailure(backendName string, err error) error {
	if err == nil {
		return nil
	}
	var suggested *utils.ErrorWithSuggestion
	if errors.As(err, &suggested) {
		return err
	}
	if errors.Is(err, backend.ErrUnsupported) {
		return utils.ErrUnsupportedOperation(err)
	}

	var be *backend.BackendError
	if !errors.As(err, &be) {
		return err
	}
	if be.IsUnauthorized() {
		return utils.ErrAuthenticationFailed(backendName, err)
	}

	// transport failures carry no HTTP status
	var netErr net.Error
	if be.StatusCode == 0 && errors.As(be, &netErr) && !errors.Is(err, context.Canceled) {
		return utils.ErrBackendOffline(backendName, netErr.Error())
	}
	return err
}
