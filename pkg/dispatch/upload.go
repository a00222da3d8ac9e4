// ABOUTME: Attachment uploads with per-attachment progress streaming.
// ABOUTME: Completes when every attachment succeeded or failed; reports the failed subset.

package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/forcedotcom/agentforce-service-go/pkg/transport"
)

// Attachment is one file to upload alongside the conversation.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// AttachmentFailure reports one attachment that could not be uploaded.
type AttachmentFailure struct {
	Filename string
	Err      error
}

// Error implements the error interface.
func (f AttachmentFailure) Error() string {
	return fmt.Sprintf("attachment %q: %v", f.Filename, f.Err)
}

// UploadResult reports the per-attachment outcome of an upload call.
type UploadResult struct {
	Uploaded []string // filenames that succeeded, in upload order
	Failed   []AttachmentFailure
}

// PartialFailure reports whether some but not all attachments failed.
func (r *UploadResult) PartialFailure() bool {
	return len(r.Failed) > 0 && len(r.Uploaded) > 0
}

// ProgressFunc receives per-attachment progress fractions in [0, 1]. For a
// given filename the fractions are monotonically non-decreasing and reach
// 1.0 exactly when that attachment succeeded. A nil sink is allowed.
type ProgressFunc func(filename string, fraction float64)

// attachmentBody is the wire payload for POST /api/attachments.
type attachmentBody struct {
	SessionID    string `json:"session_id"`
	AttachmentID string `json:"attachment_id"`
	Filename     string `json:"filename"`
	MimeType     string `json:"mime_type"`
	Data         []byte `json:"data"` // base64 on the wire
}

// UploadAttachments uploads every attachment, streaming progress to sink.
// The call completes only when all attachments have either succeeded or
// failed; a partial failure reports exactly the failed subset in the result
// without discarding successes. The returned error is non-nil only when the
// session state or the payload made dispatch impossible.
func (d *Dispatcher) UploadAttachments(ctx context.Context, attachments []Attachment, sink ProgressFunc) (*UploadResult, error) {
	sessionID, err := d.machine.DispatchTarget()
	if err != nil {
		return nil, err
	}
	if len(attachments) == 0 {
		return nil, ErrNoAttachments
	}
	if sink == nil {
		sink = func(string, float64) {}
	}

	result := &UploadResult{}
	for _, att := range attachments {
		sink(att.Filename, 0)

		if err := d.uploadOne(ctx, sessionID, att); err != nil {
			d.logger.Warn("attachment upload failed",
				"session_id", sessionID,
				"filename", att.Filename,
				"error", err,
			)
			result.Failed = append(result.Failed, AttachmentFailure{Filename: att.Filename, Err: err})
			continue
		}

		sink(att.Filename, 1.0)
		result.Uploaded = append(result.Uploaded, att.Filename)
	}

	d.logger.Debug("attachments uploaded",
		"session_id", sessionID,
		"uploaded", len(result.Uploaded),
		"failed", len(result.Failed),
	)
	return result, nil
}

// uploadOne issues the single request for one attachment.
func (d *Dispatcher) uploadOne(ctx context.Context, sessionID string, att Attachment) error {
	if att.Filename == "" {
		return fmt.Errorf("missing filename")
	}
	if len(att.Data) == 0 {
		return fmt.Errorf("empty attachment data")
	}

	cred, err := d.creds.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolving credential: %w", err)
	}

	body, err := json.Marshal(attachmentBody{
		SessionID:    sessionID,
		AttachmentID: uuid.New().String(),
		Filename:     att.Filename,
		MimeType:     att.MimeType,
		Data:         att.Data,
	})
	if err != nil {
		return fmt.Errorf("marshaling attachment: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	_, err = d.exec.Do(callCtx, &transport.Request{
		Method:      http.MethodPost,
		Path:        "/api/attachments",
		Body:        body,
		ContentType: "application/json",
		Credential:  cred,
	})
	return err
}
