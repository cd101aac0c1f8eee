package domain

// ContentKind names one overlay content variant.
type ContentKind string

const (
	ContentNone                ContentKind = "none"
	ContentConnectionError     ContentKind = "connection_error"
	ContentInstallError        ContentKind = "install_error"
	ContentConfirmation        ContentKind = "confirmation"
	ContentHelp                ContentKind = "help"
	ContentLicensingGatherer   ContentKind = "licensing_gatherer"
	ContentEntitlementSelector ContentKind = "entitlement_selector"
	ContentSessionInfo         ContentKind = "session_info"
)

// ConnectionErrorMessage is shown when the integration or session is gone.
const ConnectionErrorMessage = "Either this integration terminated or the session ended"

// Content is the overlay selection produced by one resolver evaluation.
// Message is set for connection_error, install_error and confirmation;
// Entitlements only for entitlement_selector.
type Content struct {
	Kind         ContentKind   `json:"kind"`
	Message      string        `json:"message,omitempty"`
	DialogID     string        `json:"dialogId,omitempty"`
	Entitlements []Entitlement `json:"entitlements,omitempty"`
}

// ApplicationSurface describes how the embedded MATLAB display is presented.
type ApplicationSurface string

const (
	ApplicationHidden  ApplicationSurface = "hidden"
	ApplicationLive    ApplicationSurface = "live"
	ApplicationBlurred ApplicationSurface = "blurred"
)

// View is everything the renderer needs after one evaluation.
type View struct {
	Revision    uint64             `json:"revision"`
	Visible     bool               `json:"visible"`
	ShowTrigger bool               `json:"showTrigger"`
	Content     Content            `json:"content"`
	Application ApplicationSurface `json:"application"`
	Warnings    []string           `json:"warnings,omitempty"`
}
