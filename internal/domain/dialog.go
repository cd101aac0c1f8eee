package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// DialogKind names a transient dialog variant.
type DialogKind string

const (
	DialogConfirmation DialogKind = "confirmation"
	DialogHelp         DialogKind = "help"
)

// ParseDialogKind converts external input to a DialogKind. Anything outside
// the closed set is a contract violation.
func ParseDialogKind(s string) (DialogKind, error) {
	switch DialogKind(s) {
	case DialogConfirmation, DialogHelp:
		return DialogKind(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDialog, s)
	}
}

// Dialog is a user-invoked transient dialog. Only ConfirmationDialog and
// HelpDialog implement it; a nil Dialog means no dialog is open.
type Dialog interface {
	Kind() DialogKind
	DialogID() uuid.UUID
	isDialog()
}

// ConfirmationDialog asks the user to confirm an action before it runs.
type ConfirmationDialog struct {
	ID        uuid.UUID
	Message   string
	OnConfirm func()
}

func (ConfirmationDialog) Kind() DialogKind      { return DialogConfirmation }
func (d ConfirmationDialog) DialogID() uuid.UUID { return d.ID }
func (ConfirmationDialog) isDialog()             {}

type HelpDialog struct {
	ID uuid.UUID
}

func (HelpDialog) Kind() DialogKind      { return DialogHelp }
func (d HelpDialog) DialogID() uuid.UUID { return d.ID }
func (HelpDialog) isDialog()             {}

// Action is a backend operation that is only run after confirmation.
type Action string

const (
	ActionStartMatlab         Action = "start_matlab"
	ActionStopMatlab          Action = "stop_matlab"
	ActionUnsetLicensing      Action = "unset_licensing"
	ActionShutdownIntegration Action = "shutdown_integration"
)

// ParseAction converts external input to an Action.
func ParseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionStartMatlab, ActionStopMatlab, ActionUnsetLicensing, ActionShutdownIntegration:
		return Action(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
	}
}

// ConfirmationMessage is the question shown before running the action.
func (a Action) ConfirmationMessage() string {
	switch a {
	case ActionStartMatlab:
		return "Are you sure you want to restart MATLAB?"
	case ActionStopMatlab:
		return "Are you sure you want to stop MATLAB?"
	case ActionUnsetLicensing:
		return "Are you sure you want to unset the licensing information? MATLAB will be stopped."
	case ActionShutdownIntegration:
		return "Are you sure you want to shut down MATLAB and the integration?"
	default:
		return ""
	}
}
