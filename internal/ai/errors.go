package ai

import (
	"fmt"
)

// maxSnippet bounds how much raw provider payload is carried in errors.
const maxSnippet = 400

// CredentialError reports a missing provider credential. It names the
// setting that must be configured and is never worth retrying.
type CredentialError struct {
	Setting string
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("no credential configured: set %s", e.Setting)
}

// TransportError reports a network or HTTP failure calling a provider.
type TransportError struct {
	Status int // 0 when the request never completed
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider request failed with HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("provider unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ShapeError reports a parseable but unexpected provider payload.
type ShapeError struct {
	Snippet string
	Err     error
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("unexpected provider response: %s", e.Snippet)
}

func (e *ShapeError) Unwrap() error { return e.Err }

func snippet(b []byte) string {
	if len(b) > maxSnippet {
		b = b[:maxSnippet]
	}
	return string(b)
}
