package domain

// MatlabStatus is the lifecycle state of the MATLAB process reported by the backend.
type MatlabStatus string

const (
	MatlabDown     MatlabStatus = "down"
	MatlabStarting MatlabStatus = "starting"
	MatlabUp       MatlabStatus = "up"
	MatlabStopping MatlabStatus = "stopping"
)

// ParseMatlabStatus converts a backend status string, defaulting to down.
func ParseMatlabStatus(s string) MatlabStatus {
	switch MatlabStatus(s) {
	case MatlabStarting, MatlabUp, MatlabStopping:
		return MatlabStatus(s)
	default:
		return MatlabDown
	}
}

// Transitional reports whether MATLAB is between up and down.
func (s MatlabStatus) Transitional() bool {
	return s == MatlabStarting || s == MatlabStopping
}

// Licensing types reported by the backend.
const (
	LicensingMHLM     = "mhlm"
	LicensingNLM      = "nlm"
	LicensingExisting = "existing_license"
)

// InstallErrorKind is the error kind that blocks the session with an install error panel.
const InstallErrorKind = "MatlabInstallError"

type Entitlement struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	LicenseNumber string `json:"license_number"`
}

type LicensingInfo struct {
	Type             string        `json:"type"`
	EmailAddress     string        `json:"emailAddress,omitempty"`
	ConnectionString string        `json:"connectionString,omitempty"`
	Entitlements     []Entitlement `json:"entitlements,omitempty"`
	EntitlementID    *string       `json:"entitlementId,omitempty"`
}

type SessionError struct {
	Kind    string `json:"type"`
	Message string `json:"message"`
	Logs    string `json:"logs,omitempty"`
}

// ServerStatus is one status poll result from the backend.
type ServerStatus struct {
	Matlab struct {
		Status  string `json:"status"`
		Version string `json:"version,omitempty"`
	} `json:"matlab"`
	Licensing *LicensingInfo `json:"licensing"`
	LoadURL   *string        `json:"loadUrl"`
	Error     *SessionError  `json:"error"`
	Warnings  []string       `json:"warnings"`
}

// EnvConfig is the backend environment configuration, fetched once per process.
type EnvConfig struct {
	Authentication struct {
		Enabled bool `json:"enabled"`
		Status  bool `json:"status"`
	} `json:"authentication"`
	Matlab struct {
		Version string `json:"version,omitempty"`
	} `json:"matlab"`
	DocURL        string `json:"doc_url,omitempty"`
	ExtensionName string `json:"extension_name,omitempty"`
}

// AuthStatus is the backend's answer to a token submission.
type AuthStatus struct {
	Authenticated bool   `json:"status"`
	Error         string `json:"error,omitempty"`
}
