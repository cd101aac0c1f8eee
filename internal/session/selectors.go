package session

import "github.com/swansong314/matlab-proxy/internal/domain"

// derive builds a snapshot from the current facts.
func derive(f facts, settings Settings) domain.Snapshot {
	snap := domain.Snapshot{
		OverlayVisible:         f.overlayVisible,
		HasFetchedServerStatus: f.status != nil,
		HasFetchedEnvConfig:    f.env != nil,
		IsAuthenticated:        f.authenticated,
		IsConnectionError:      f.fetchFailures >= settings.ConnectionErrorThreshold,
		MatlabStatus:           domain.MatlabDown,
		FetchInterval:          settings.PollInterval,
	}

	if f.env != nil {
		snap.AuthEnabled = f.env.Authentication.Enabled
		snap.MatlabVersion = f.env.Matlab.Version
	}

	if f.status == nil {
		return snap
	}

	status := domain.ParseMatlabStatus(f.status.Matlab.Status)
	snap.MatlabStatus = status
	snap.MatlabUp = status == domain.MatlabUp
	if f.status.Matlab.Version != "" {
		snap.MatlabVersion = f.status.Matlab.Version
	}
	if status.Transitional() {
		snap.FetchInterval = settings.FastPollInterval
	}

	snap.LicensingInfo = f.status.Licensing
	snap.LicensingProvided = licensingProvided(f.status.Licensing)
	snap.HasEntitlements = hasEntitlements(f.status.Licensing)
	snap.IsEntitled = snap.LicensingProvided && isEntitled(f.status.Licensing)

	snap.Error = f.status.Error
	snap.Warnings = f.status.Warnings
	if f.status.LoadURL != nil && *f.status.LoadURL != "" {
		snap.LoadURL = f.status.LoadURL
	}
	return snap
}

func licensingProvided(info *domain.LicensingInfo) bool {
	return info != nil && info.Type != ""
}

// hasEntitlements reports whether an online license offers entitlements to pick from.
func hasEntitlements(info *domain.LicensingInfo) bool {
	return info != nil && info.Type == domain.LicensingMHLM && len(info.Entitlements) > 0
}

func isEntitled(info *domain.LicensingInfo) bool {
	if info == nil {
		return false
	}
	if info.Type != domain.LicensingMHLM {
		return true
	}
	return info.EntitlementID != nil && *info.EntitlementID != ""
}
