package domain

import (
	"fmt"
	"time"
)

// Snapshot is an immutable read of the session status at one point in time.
// It is replaced wholesale on every update and never mutated after publication.
type Snapshot struct {
	OverlayVisible bool

	HasFetchedServerStatus bool
	HasFetchedEnvConfig    bool

	LicensingProvided bool
	HasEntitlements   bool
	IsEntitled        bool
	LicensingInfo     *LicensingInfo

	MatlabUp      bool
	MatlabStatus  MatlabStatus
	MatlabVersion string

	AuthEnabled     bool
	IsAuthenticated bool

	IsConnectionError bool
	Error             *SessionError
	Warnings          []string

	// LoadURL is a pending navigation redirect, nil when there is none.
	LoadURL *string

	// FetchInterval is the status poll cadence derived from this snapshot.
	FetchInterval time.Duration
}

// Validate checks the invariants collaborators must uphold.
func (s Snapshot) Validate() error {
	if s.HasEntitlements && (s.LicensingInfo == nil || len(s.LicensingInfo.Entitlements) == 0) {
		return fmt.Errorf("%w: has entitlements but entitlement list is empty", ErrMalformedSnapshot)
	}
	if s.IsEntitled && !s.LicensingProvided {
		return fmt.Errorf("%w: entitled without licensing", ErrMalformedSnapshot)
	}
	return nil
}

// Entitlements returns the entitlement list, or nil when no licensing info is present.
func (s Snapshot) Entitlements() []Entitlement {
	if s.LicensingInfo == nil {
		return nil
	}
	return s.LicensingInfo.Entitlements
}

// AuthSatisfied reports whether authentication is either disabled or completed.
func (s Snapshot) AuthSatisfied() bool {
	return !s.AuthEnabled || s.IsAuthenticated
}
