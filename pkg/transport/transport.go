// ABOUTME: Request-executor capability consumed by the engine core.
// ABOUTME: Generic request/response and stream-open primitives plus fault types.

package transport

import (
	"context"
	"fmt"

	"github.com/forcedotcom/agentforce-service-go/pkg/credential"
)

// Request is one outbound command call.
type Request struct {
	Method      string
	Path        string
	Body        []byte
	ContentType string
	Credential  credential.Credential
}

// Response is the command call result for 2xx statuses.
type Response struct {
	StatusCode int
	Body       []byte
}

// StreamRequest opens or resumes a server-push connection. LastSeq is the
// last delivered sequence marker; zero means from the beginning.
type StreamRequest struct {
	Path       string
	SessionID  string
	LastSeq    int64
	Credential credential.Credential
}

// Stream yields discrete raw frames from a server-push connection. Next
// blocks until a frame arrives, the stream ends (io.EOF), or the connection
// fails. Close releases the connection; a blocked Next then returns an error.
type Stream interface {
	Next() ([]byte, error)
	Close() error
}

// Executor is the transport capability. Implementations must honor context
// cancellation on both primitives.
type Executor interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	OpenStream(ctx context.Context, req *StreamRequest) (Stream, error)
}

// StatusError reports a non-2xx response. The stream loop classifies these:
// 5xx is retryable, 401/403/404 are terminal.
type StatusError struct {
	Code int
	Body string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the status indicates a transient server fault.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500
}
