package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Francklinok/EasyRent-sub004/internal/logging"
)

func TestSend_SuccessParsesID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/properties", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "A", body["title"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"id":"srv-123"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/", time.Second, StaticToken("tok"), logging.Discard())
	resp, err := c.Send(context.Background(), Request{
		Method: http.MethodPost, Path: "properties", Body: map[string]any{"title": "A"}, IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Status)
	assert.Equal(t, "srv-123", resp.ID)
}

func TestSend_NumericIDAndEmptyBody(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil, logging.Discard())
	resp, err := c.Send(context.Background(), Request{Method: http.MethodPost, Path: "messages", Body: map[string]any{}})
	require.NoError(t, err)
	assert.Equal(t, "42", resp.ID)

	resp, err = c.Send(context.Background(), Request{Method: http.MethodDelete, Path: "messages/42"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.Status)
	assert.Equal(t, 2, calls)
}

func TestSend_Classification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		transport bool
		message   string
	}{
		{"validation", http.StatusUnprocessableEntity, `{"message":"title too short"}`, false, "title too short"},
		{"forbidden", http.StatusForbidden, `{"error":"not owner"}`, false, "not owner"},
		{"plain text", http.StatusBadRequest, "bad payload", false, "bad payload"},
		{"empty", http.StatusNotFound, "", false, "404 Not Found"},
		{"server error", http.StatusInternalServerError, "boom", true, ""},
		{"throttled", http.StatusTooManyRequests, "", true, ""},
		{"request timeout", http.StatusRequestTimeout, "", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c := New(srv.URL, time.Second, nil, logging.Discard())
			_, err := c.Send(context.Background(), Request{Method: http.MethodPut, Path: "properties/1", Body: map[string]any{}})
			require.Error(t, err)
			assert.Equal(t, tt.transport, IsTransport(err))
			assert.Equal(t, !tt.transport, IsRejected(err))
			if !tt.transport {
				re, ok := AsRejected(err)
				require.True(t, ok)
				assert.Equal(t, tt.status, re.Status)
				assert.Equal(t, tt.message, re.Message)
			}
		})
	}
}

func TestSend_TimeoutIsTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c := New(srv.URL, 50*time.Millisecond, nil, logging.Discard())
	_, err := c.Send(context.Background(), Request{Method: http.MethodPost, Path: "properties"})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestSend_ConnectionRefusedIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, time.Second, nil, logging.Discard())
	_, err := c.Send(context.Background(), Request{Method: http.MethodPost, Path: "properties"})
	assert.True(t, IsTransport(err))
}

func TestUpload_Multipart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "photo.jpg")
	require.NoError(t, os.WriteFile(path, []byte("jpeg-bytes"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/property-images", r.URL.Path)
		assert.Equal(t, "img-1", r.Header.Get("Idempotency-Key"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "srv-9", r.FormValue("propertyId"))
		assert.Equal(t, "0", r.FormValue("position"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "jpeg-bytes", string(data))
		assert.Equal(t, "photo.jpg", hdr.Filename)

		_, _ = w.Write([]byte(`{"id":"img-srv","url":"https://cdn.example.com/img.jpg"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second, nil, logging.Discard())
	resp, err := c.Upload(context.Background(), UploadRequest{
		Path:           "property-images",
		FilePath:       path,
		Fields:         map[string]string{"propertyId": "srv-9", "position": "0"},
		IdempotencyKey: "img-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "img-srv", resp.ID)
	assert.Equal(t, "https://cdn.example.com/img.jpg", resp.URL)
}

func TestUpload_MissingFile(t *testing.T) {
	c := New("http://127.0.0.1:1", time.Second, nil, logging.Discard())
	_, err := c.Upload(context.Background(), UploadRequest{Path: "x", FilePath: "/does/not/exist"})
	require.Error(t, err)
	assert.False(t, IsRejected(err))
}
