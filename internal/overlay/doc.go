// Package overlay decides which overlay content is shown on top of the MATLAB window.
//
// Resolve is a pure, total function of a session snapshot and the open transient dialog.
// DialogController is the small state machine that owns the transient dialog; it is not
// safe for concurrent use and is driven from the supervisor's single event loop.
package overlay
