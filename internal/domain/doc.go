// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (snapshot.go, status.go, dialog.go, overlay.go, ports.go)
// hold the session status snapshot, the closed dialog and overlay content variants,
// and the ports consumed from the MATLAB proxy backend. No implementation code beyond
// validation and parsing - just contracts.
package domain
