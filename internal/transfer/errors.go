package transfer

import "fmt"

// ResolutionError represents a failed catalog lookup for an item. Nothing has
// been written to disk when it is returned.
type ResolutionError struct {
	ItemID string // Identifier that could not be resolved
	Reason string // Human-readable explanation
	Err    error  // Underlying error, if any
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve item %s: %s", e.ItemID, e.Reason)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// TransportError represents failures opening or reading a byte stream, including
// non-success HTTP responses and streams that end before their announced size.
type TransportError struct {
	Operation  string // The operation that failed (e.g., "open_stream", "read_chunk")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string // Error message from the server or network layer
	Err        error  // Underlying error, if any
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transport error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transport error during %s: %s", e.Operation, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FilesystemError represents failures creating the destination directory or
// opening and writing the destination file.
type FilesystemError struct {
	Op   string // "mkdir", "open", "write" or "stat"
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("filesystem error during %s of '%s': %v", e.Op, e.Path, e.Err)
	}
	return fmt.Sprintf("filesystem error during %s of '%s'", e.Op, e.Path)
}

func (e *FilesystemError) Unwrap() error {
	return e.Err
}

// AuthenticationError represents authentication and authorization failures
// including 401 Unauthorized and 403 Forbidden responses.
type AuthenticationError struct {
	Operation string // The operation that required authentication
	Err       error  // Underlying error, if any
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed during %s", e.Operation)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}
