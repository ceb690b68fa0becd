package remote

// Wire types shared by the HTTP client and the reference server. The save
// protocol carries patches in their textual wire form, never full content,
// except at document creation.

// DocumentResponse is the body of a successful fetch or create.
type DocumentResponse struct {
	ID      string `json:"id"`
	Content string `json:"content"`
	Version int64  `json:"version"`
}

// SaveRequest asks the server to apply a patch on top of ExpectedVersion.
type SaveRequest struct {
	Patch           string `json:"patch"`
	ExpectedVersion int64  `json:"expected_version"`
}

// SaveResponse acknowledges an accepted save with the new version.
type SaveResponse struct {
	Version int64 `json:"version"`
}

// ConflictResponse is the 409 body for a stale expected version.
type ConflictResponse struct {
	Error           string `json:"error"`
	ExpectedVersion int64  `json:"expected_version"`
	CurrentVersion  int64  `json:"current_version"`
}

// CreateRequest creates a document with initial content. ID is optional;
// the server assigns one when absent.
type CreateRequest struct {
	ID      string `json:"id,omitempty"`
	Content string `json:"content"`
}

// ErrorResponse is the generic error body for non-conflict failures.
type ErrorResponse struct {
	Error string `json:"error"`
}
