package handlers

// ErrorResponse is the standard API error body. Kind is set for pipeline
// failures.
type ErrorResponse struct {
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
}
