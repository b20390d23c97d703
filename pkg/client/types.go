package client

import "fmt"

// ProcessStatus is the body of GET /process.
type ProcessStatus struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ActionRequest is the body of POST /process.
type ActionRequest struct {
	Action string `json:"action"`
}

// ActionResponse is the body returned by POST /process.
type ActionResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// VersionInfo is the body of GET /version. ComfyUIVersion is nil when the
// controller could not determine it.
type VersionInfo struct {
	ComfyUIVersion *string `json:"comfyui_version"`
}

// VersionList is the body of GET /version?action=list.
type VersionList struct {
	AvailableVersions []string `json:"available_versions"`
}

// SwitchRequest is the body of POST /version.
type SwitchRequest struct {
	Version string `json:"version"`
}

// SwitchResult is the body returned by POST /version.
type SwitchResult struct {
	Success bool    `json:"success"`
	Message string  `json:"message"`
	Version *string `json:"version"`
}

// ErrorResponse covers the error bodies the controller produces:
// {"error": ...}, {"status":"error","message": ...} and {"success":false,"message": ...}.
type ErrorResponse struct {
	Error   string `json:"error,omitempty"`
	Status  string `json:"status,omitempty"`
	Message string `json:"message,omitempty"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}
