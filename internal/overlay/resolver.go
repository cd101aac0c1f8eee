package overlay

import "github.com/swansong314/matlab-proxy/internal/domain"

// Resolve selects exactly one overlay content variant. The first matching rule wins:
// open dialog, connection error, install error, licensing, entitlement selection,
// and finally the session info panel.
func Resolve(snap domain.Snapshot, dialog domain.Dialog) domain.Content {
	switch d := dialog.(type) {
	case domain.ConfirmationDialog:
		return domain.Content{Kind: domain.ContentConfirmation, Message: d.Message, DialogID: d.ID.String()}
	case domain.HelpDialog:
		return domain.Content{Kind: domain.ContentHelp, DialogID: d.ID.String()}
	}

	if snap.IsConnectionError {
		return domain.Content{Kind: domain.ContentConnectionError, Message: domain.ConnectionErrorMessage}
	}

	if snap.Error != nil && snap.Error.Kind == domain.InstallErrorKind {
		return domain.Content{Kind: domain.ContentInstallError, Message: snap.Error.Message}
	}

	// Token auth comes first: never ask for a license before the server status
	// is known or while authentication is still pending.
	if !snap.LicensingProvided && snap.HasFetchedServerStatus && snap.AuthSatisfied() {
		return domain.Content{Kind: domain.ContentLicensingGatherer}
	}

	if snap.HasEntitlements && !snap.IsEntitled {
		return domain.Content{Kind: domain.ContentEntitlementSelector, Entitlements: snap.Entitlements()}
	}

	return domain.Content{Kind: domain.ContentSessionInfo}
}

// Render builds the full view for the renderer. The overlay container is
// suppressed entirely while the snapshot marks it invisible.
func Render(snap domain.Snapshot, dialog domain.Dialog, revision uint64) domain.View {
	view := domain.View{
		Revision:    revision,
		Visible:     snap.OverlayVisible,
		ShowTrigger: !snap.OverlayVisible,
		Content:     domain.Content{Kind: domain.ContentNone},
		Application: applicationSurface(snap),
		Warnings:    snap.Warnings,
	}
	if snap.OverlayVisible {
		view.Content = Resolve(snap, dialog)
	}
	return view
}

func applicationSurface(snap domain.Snapshot) domain.ApplicationSurface {
	switch {
	case !snap.MatlabUp:
		return domain.ApplicationHidden
	case snap.AuthSatisfied():
		return domain.ApplicationLive
	default:
		return domain.ApplicationBlurred
	}
}
