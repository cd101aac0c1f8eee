package domain

import "context"

// EnvConfigFetcher loads the backend environment configuration.
// Safe to call once per process lifetime.
type EnvConfigFetcher interface {
	FetchEnvConfig(ctx context.Context) (EnvConfig, error)
}

// StatusFetcher loads the current server status.
type StatusFetcher interface {
	FetchStatus(ctx context.Context) (ServerStatus, error)
}

// AuthUpdater forwards an auth token to the backend.
type AuthUpdater interface {
	SubmitToken(ctx context.Context, token string) (AuthStatus, error)
}

// ActionRunner executes confirmed backend actions.
type ActionRunner interface {
	Run(ctx context.Context, action Action) error
}

// Backend is the full set of operations the MATLAB proxy backend offers.
type Backend interface {
	EnvConfigFetcher
	StatusFetcher
	AuthUpdater
	ActionRunner
}

// NavigationRedirector sends connected browsers to another URL. Fire-and-forget.
type NavigationRedirector interface {
	RedirectTo(url string)
}

// ViewPublisher hands a resolved view to the rendering side.
type ViewPublisher interface {
	PublishView(ctx context.Context, view View) error
}
