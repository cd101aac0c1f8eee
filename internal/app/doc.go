// Package app provides the application service layer.
//
// The Supervisor owns the session store and dialog controller and re-resolves
// the overlay view after every accepted change. The Poller feeds it backend
// status. HTTP handlers talk to the Supervisor, never to the store directly.
package app
