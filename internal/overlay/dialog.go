package overlay

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/swansong314/matlab-proxy/internal/domain"
)

// DialogController holds at most one open transient dialog.
type DialogController struct {
	current   domain.Dialog
	onDismiss func()
	newID     func() uuid.UUID
}

// NewDialogController creates a controller in the closed state.
// onDismissAll is called once per DismissAll and should request the overlay be hidden.
func NewDialogController(onDismissAll func()) *DialogController {
	return &DialogController{
		onDismiss: onDismissAll,
		newID:     uuid.New,
	}
}

// Current returns the open dialog, or nil when closed.
func (c *DialogController) Current() domain.Dialog {
	return c.current
}

// IsOpen reports whether any dialog is open.
func (c *DialogController) IsOpen() bool {
	return c.current != nil
}

// Open opens a dialog from external input. Unknown kinds fail fast.
func (c *DialogController) Open(kind domain.DialogKind, message string, onConfirm func()) error {
	switch kind {
	case domain.DialogConfirmation:
		return c.OpenConfirmation(message, onConfirm)
	case domain.DialogHelp:
		return c.OpenHelp()
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownDialog, kind)
	}
}

// OpenConfirmation opens a confirmation dialog. It is rejected while another dialog is open.
func (c *DialogController) OpenConfirmation(message string, onConfirm func()) error {
	if onConfirm == nil {
		return fmt.Errorf("%w: confirmation without action", domain.ErrInvalidDialog)
	}
	if c.current != nil {
		return fmt.Errorf("%w: %s", domain.ErrDialogAlreadyOpen, c.current.Kind())
	}
	c.current = domain.ConfirmationDialog{ID: c.newID(), Message: message, OnConfirm: onConfirm}
	return nil
}

// OpenHelp opens the help dialog. It is rejected while another dialog is open.
func (c *DialogController) OpenHelp() error {
	if c.current != nil {
		return fmt.Errorf("%w: %s", domain.ErrDialogAlreadyOpen, c.current.Kind())
	}
	c.current = domain.HelpDialog{ID: c.newID()}
	return nil
}

// Close closes the open dialog. Closing a closed controller is a no-op.
func (c *DialogController) Close() {
	c.current = nil
}

// Confirm fires the confirmation action once and closes the dialog.
func (c *DialogController) Confirm() error {
	d, ok := c.current.(domain.ConfirmationDialog)
	if !ok {
		return domain.ErrNoConfirmation
	}
	c.current = nil
	d.OnConfirm()
	return nil
}

// DismissAll closes any dialog and asks for the overlay to be hidden.
func (c *DialogController) DismissAll() {
	c.current = nil
	if c.onDismiss != nil {
		c.onDismiss()
	}
}
