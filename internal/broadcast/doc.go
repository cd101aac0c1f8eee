// Package broadcast implements the overlay WebSocket broadcaster using the actor pattern.
//
// Views and redirects are pushed in by the supervisor and fanned out to every connected browser.
// Uses single goroutine + command channel (no mutexes). Per-connection write goroutines handle slow clients gracefully.
package broadcast
