package domain

import "errors"

var (
	ErrUnknownDialog     = errors.New("unknown dialog type")
	ErrInvalidDialog     = errors.New("invalid dialog")
	ErrDialogAlreadyOpen = errors.New("a dialog is already open")
	ErrNoConfirmation    = errors.New("no confirmation dialog is open")
	ErrMalformedSnapshot = errors.New("malformed session snapshot")
	ErrUnknownAction     = errors.New("unknown action")
	ErrNoToken           = errors.New("no auth token")
)
