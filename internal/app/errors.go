package app

import (
	"errors"

	"github.com/swansong314/matlab-proxy/internal/domain"
)

// IsInputError reports whether err was caused by bad caller input rather than
// a backend or supervisor failure.
func IsInputError(err error) bool {
	return errors.Is(err, domain.ErrUnknownDialog) ||
		errors.Is(err, domain.ErrInvalidDialog) ||
		errors.Is(err, domain.ErrUnknownAction) ||
		errors.Is(err, domain.ErrNoToken)
}

// IsStateConflict reports whether err rejects an operation because of the
// current dialog state.
func IsStateConflict(err error) bool {
	return errors.Is(err, domain.ErrDialogAlreadyOpen) ||
		errors.Is(err, domain.ErrNoConfirmation)
}
