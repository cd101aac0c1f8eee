// Package session holds the session status facts and derives immutable snapshots from them.
//
// Store has a single writer (the supervisor loop) and any number of readers. Every write
// derives a fresh domain.Snapshot, validates it, and swaps it in atomically; a snapshot that
// fails validation is rejected and the previous one stays current.
package session
