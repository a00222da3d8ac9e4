// ABOUTME: Default HTTP implementation of the Executor capability.
// ABOUTME: JSON request/response calls plus SSE server-push frame streaming.

package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/forcedotcom/agentforce-service-go/pkg/credential"
)

// maxErrorBody caps how much of an error response body is kept for messages.
const maxErrorBody = 2048

// HTTPExecutor implements Executor over net/http against one instance URL.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPExecutor creates an executor for the given instance URL. Pass nil
// client for a default with sane timeouts on command calls; stream reads are
// unbounded and governed by context instead.
func NewHTTPExecutor(baseURL string, client *http.Client, logger *slog.Logger) *HTTPExecutor {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPExecutor{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
		logger:  logger.With("component", "transport"),
	}
}

// Do executes one command request.
func (e *HTTPExecutor) Do(ctx context.Context, req *Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, e.baseURL+req.Path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	applyCredential(httpReq, req.Credential)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(data))}
	}

	return &Response{StatusCode: resp.StatusCode, Body: data}, nil
}

// OpenStream opens the server-push SSE connection, attaching the session
// identity and resume marker as query parameters.
func (e *HTTPExecutor) OpenStream(ctx context.Context, req *StreamRequest) (Stream, error) {
	q := url.Values{}
	if req.SessionID != "" {
		q.Set("session_id", req.SessionID)
	}
	if req.LastSeq > 0 {
		q.Set("last_seq", strconv.FormatInt(req.LastSeq, 10))
	}

	target := e.baseURL + req.Path
	if enc := q.Encode(); enc != "" {
		target += "?" + enc
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	applyCredential(httpReq, req.Credential)

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(data))}
	}

	e.logger.Debug("stream opened", "session_id", req.SessionID, "last_seq", req.LastSeq)
	return newSSEStream(resp.Body), nil
}

// applyCredential attaches auth headers for the credential variant.
func applyCredential(req *http.Request, cred credential.Credential) {
	switch cred.Kind {
	case credential.KindOAuth:
		req.Header.Set("Authorization", "Bearer "+cred.Token)
		req.Header.Set("X-Org-Id", cred.OrgID)
		req.Header.Set("X-User-Id", cred.UserID)
	case credential.KindOrgJWT:
		req.Header.Set("Authorization", "Bearer "+cred.Token)
	case credential.KindGuest:
		// Guest access is keyed by URL, not headers.
	}
}

func truncate(s string) string {
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}

// sseStream parses Server-Sent Events off a response body, one data block
// per frame.
type sseStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func newSSEStream(body io.ReadCloser) *sseStream {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseStream{body: body, scanner: scanner}
}

// Next reads lines until an event's blank-line terminator and returns the
// joined data payload. Comment lines (leading colon) and bare keepalives are
// skipped. io.EOF signals an orderly server close.
func (s *sseStream) Next() ([]byte, error) {
	var dataLines []string

	for s.scanner.Scan() {
		line := s.scanner.Text()

		if line == "" {
			if len(dataLines) == 0 {
				continue
			}
			return []byte(strings.Join(dataLines, "\n")), nil
		}

		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// Other SSE fields (event:, id:, retry:) are carried inside the
		// JSON frame instead; ignore them here.
	}

	if err := s.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	if len(dataLines) > 0 {
		return []byte(strings.Join(dataLines, "\n")), nil
	}
	return nil, io.EOF
}

// Close releases the underlying connection.
func (s *sseStream) Close() error {
	return s.body.Close()
}

// DefaultStreamClient returns an http.Client suitable for long-lived SSE
// connections: a dial/TLS handshake bound, no overall request timeout.
func DefaultStreamClient(connectTimeout time.Duration) *http.Client {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.ResponseHeaderTimeout = connectTimeout
	return &http.Client{Transport: t}
}
