package accounting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const importPrefix = "/api/import"

// ListModels returns the models the backend accepts imports for.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	var resp struct {
		Models []ModelInfo `json:"models"`
	}
	if err := c.doJSON(ctx, http.MethodGet, importPrefix+"/models", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Models, nil
}

// ModelMetadata fetches field metadata for one model.
func (c *Client) ModelMetadata(ctx context.Context, model string) (*ModelMetadata, error) {
	var meta ModelMetadata
	path := importPrefix + "/models/" + url.PathEscape(model)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &meta); err != nil {
		return nil, err
	}
	if meta.Model == "" {
		meta.Model = model
	}
	return &meta, nil
}

// CreateSession uploads a file as multipart form data and opens an import session.
func (c *Client) CreateSession(ctx context.Context, model string, file Upload) (*SessionInfo, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("model", model); err != nil {
		return nil, fmt.Errorf("writing model field: %w", err)
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, file.Name))
	ct := file.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, fmt.Errorf("creating file part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return nil, fmt.Errorf("writing file part: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart body: %w", err)
	}

	var info SessionInfo
	path := importPrefix + "/sessions"
	if err := c.do(ctx, http.MethodPost, path, &buf, w.FormDataContentType(), nil, &info); err != nil {
		return nil, err
	}
	if info.Token == "" {
		return nil, fmt.Errorf("backend returned no session token")
	}
	return &info, nil
}

// Suggestions fetches ranked mapping suggestions for a session.
func (c *Client) Suggestions(ctx context.Context, token string) ([]Suggestion, error) {
	var resp struct {
		Suggestions []Suggestion `json:"suggestions"`
	}
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(token, "/suggestions"), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Suggestions, nil
}

// Preview applies the mapping to a sample of the file.
func (c *Client) Preview(ctx context.Context, token string, req PreviewRequest) (*PreviewResult, error) {
	var res PreviewResult
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(token, "/preview"), req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// PreviewBatch applies the mapping to one batch of the full file.
func (c *Client) PreviewBatch(ctx context.Context, token string, req PreviewBatchRequest) (*PreviewResult, error) {
	var res PreviewResult
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(token, "/preview-batch"), req, &res); err != nil {
		return nil, err
	}
	if res.Offset == 0 {
		res.Offset = req.Offset
	}
	return &res, nil
}

// Validate runs full-file validation without persisting anything.
func (c *Client) Validate(ctx context.Context, token string, mappings []FieldMapping, opts ImportOptions) (*PreviewResult, error) {
	body := struct {
		Mappings []FieldMapping `json:"mappings"`
		Options  ImportOptions  `json:"options"`
	}{mappings, opts}

	var res PreviewResult
	if err := c.doJSON(ctx, http.MethodPost, sessionPath(token, "/validate"), body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Execute runs the import and returns the backend's raw result document.
// Each call carries a fresh Idempotency-Key so a proxy retry cannot
// double-apply it.
func (c *Client) Execute(ctx context.Context, token string, req ExecuteRequest) (json.RawMessage, error) {
	buf, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding execute request: %w", err)
	}
	headers := http.Header{}
	headers.Set("Idempotency-Key", uuid.NewString())

	var raw json.RawMessage
	path := sessionPath(token, "/execute")
	if err := c.do(ctx, http.MethodPost, path, bytes.NewReader(buf), "application/json", headers, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Status reports execution progress for a session.
func (c *Client) Status(ctx context.Context, token string) (*ImportStatus, error) {
	var st ImportStatus
	if err := c.doJSON(ctx, http.MethodGet, sessionPath(token, "/status"), nil, &st); err != nil {
		return nil, err
	}
	st.ReportedAt = time.Now()
	return &st, nil
}

// DeleteSession removes a session. Unknown sessions are not an error.
func (c *Client) DeleteSession(ctx context.Context, token string) error {
	err := c.doJSON(ctx, http.MethodDelete, sessionPath(token, ""), nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func sessionPath(token, suffix string) string {
	return importPrefix + "/sessions/" + url.PathEscape(token) + suffix
}
