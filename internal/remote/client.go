// Package remote is the HTTP client for the remote API. It classifies every
// failure as either a transport error (retry later) or a permanent
// rejection.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// API is the remote surface used by the sync engine and entity services.
type API interface {
	Send(ctx context.Context, req Request) (Response, error)
	Upload(ctx context.Context, req UploadRequest) (Response, error)
}

// Request is a JSON mutation.
type Request struct {
	Method         string
	Path           string // relative to the base URL, e.g. "properties/42"
	Body           any    // nil sends no body
	IdempotencyKey string
}

// UploadRequest is a multipart file upload.
type UploadRequest struct {
	Path           string
	FilePath       string
	MimeType       string
	Fields         map[string]string
	IdempotencyKey string
}

// Response is a successful reply. ID and URL are taken from the top level
// of the JSON body or from a "data" envelope.
type Response struct {
	Status int
	ID     string
	URL    string
	Body   map[string]any
}

// TokenProvider returns the bearer token for a request; auth itself lives
// outside this package.
type TokenProvider func(ctx context.Context) (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenProvider {
	return func(context.Context) (string, error) { return token, nil }
}

// Client talks to the remote API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokenProvider TokenProvider
	logger        *slog.Logger
}

// New creates a client. timeout bounds every request, including reading
// the response.
func New(baseURL string, timeout time.Duration, tokenProvider TokenProvider, logger *slog.Logger) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    &http.Client{Timeout: timeout, Transport: transport},
		tokenProvider: tokenProvider,
		logger:        logger.With(slog.String("component", "remote_client")),
	}
}

func (c *Client) url(path string) string {
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Send performs a JSON request.
func (c *Client) Send(ctx context.Context, r Request) (Response, error) {
	var body io.Reader = http.NoBody
	if r.Body != nil {
		data, err := json.Marshal(r.Body)
		if err != nil {
			return Response{}, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.url(r.Path), body)
	if err != nil {
		return Response{}, fmt.Errorf("build request %s %s: %w", r.Method, r.Path, err)
	}
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(ctx, req, r.IdempotencyKey)
}

// Upload streams a file as multipart/form-data under the "file" field.
func (c *Client) Upload(ctx context.Context, r UploadRequest) (Response, error) {
	f, err := os.Open(r.FilePath)
	if err != nil {
		return Response{}, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, f, r))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(r.Path), pr)
	if err != nil {
		pr.Close()
		return Response{}, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.do(ctx, req, r.IdempotencyKey)
	pr.Close()
	return resp, err
}

func writeMultipart(mw *multipart.Writer, f *os.File, r UploadRequest) error {
	for k, v := range r.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}

	contentType := r.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, filepath.Base(r.FilePath)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	return mw.Close()
}

func (c *Client) do(ctx context.Context, req *http.Request, idempotencyKey string) (Response, error) {
	req.Header.Set("Accept", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.tokenProvider != nil {
		token, err := c.tokenProvider(ctx)
		if err != nil {
			return Response{}, &TransportError{Err: fmt.Errorf("get token: %w", err)}
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network failures, DNS errors and timeouts are all retryable.
		return Response{}, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return Response{}, &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	c.logger.Debug("remote call",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return parseResponse(resp.StatusCode, data), nil
	case retryableStatus(resp.StatusCode):
		return Response{}, &TransportError{Status: resp.StatusCode, Err: fmt.Errorf("%s", errorMessage(resp.StatusCode, data))}
	default:
		return Response{}, &RejectedError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}
}

func parseResponse(status int, data []byte) Response {
	out := Response{Status: status}
	if len(bytes.TrimSpace(data)) == 0 {
		return out
	}

	var body map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		return out
	}
	out.Body = body

	out.ID = stringField(body, "id", "_id")
	out.URL = stringField(body, "url", "secure_url")
	if inner, ok := body["data"].(map[string]any); ok {
		if out.ID == "" {
			out.ID = stringField(inner, "id", "_id")
		}
		if out.URL == "" {
			out.URL = stringField(inner, "url", "secure_url")
		}
	}
	return out
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case json.Number:
			return v.String()
		}
	}
	return ""
}

// errorMessage extracts a human readable reason from an error body.
func errorMessage(status int, data []byte) string {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err == nil {
		for _, k := range []string{"message", "error", "detail"} {
			if s, ok := body[k].(string); ok && s != "" {
				return s
			}
		}
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		if len(text) > 512 {
			text = text[:512]
		}
		return text
	}
	return strconv.Itoa(status) + " " + http.StatusText(status)
}
