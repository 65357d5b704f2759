// Package remotetest provides an in-memory remote.API for tests.
package remotetest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Francklinok/EasyRent-sub004/internal/remote"
)

// Call records one request received by the fake.
type Call struct {
	Method         string
	Path           string
	Body           any
	IdempotencyKey string
	Upload         bool
	FilePath       string
	MimeType       string
	Fields         map[string]string
}

// Fake is a remote.API that assigns server ids to creates and uploads.
// Requests carrying an idempotency key it has already applied get the
// original response back, like the real service.
type Fake struct {
	mu      sync.Mutex
	calls   []Call
	offline bool
	rejects map[string]*remote.RejectedError
	seen    map[string]remote.Response
	nextID  int
	// Hook, when set, runs before each request; a non-nil error is
	// returned to the caller.
	Hook func(Call) error
}

var _ remote.API = (*Fake)(nil)

// New returns an online Fake.
func New() *Fake {
	return &Fake{
		rejects: make(map[string]*remote.RejectedError),
		seen:    make(map[string]remote.Response),
	}
}

// SetOffline makes every request fail with a transport error.
func (f *Fake) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// Reject makes requests whose "METHOD path" starts with prefix fail
// permanently.
func (f *Fake) Reject(prefix string, status int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejects[prefix] = &remote.RejectedError{Status: status, Message: message}
}

// Calls returns the requests the fake has received, including failed ones.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Applied returns the requests that succeeded, deduplicated by
// idempotency key.
func (f *Fake) Applied() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

func (f *Fake) Send(ctx context.Context, req remote.Request) (remote.Response, error) {
	return f.handle(ctx, Call{
		Method:         req.Method,
		Path:           req.Path,
		Body:           req.Body,
		IdempotencyKey: req.IdempotencyKey,
	})
}

func (f *Fake) Upload(ctx context.Context, req remote.UploadRequest) (remote.Response, error) {
	return f.handle(ctx, Call{
		Method:         http.MethodPost,
		Path:           req.Path,
		IdempotencyKey: req.IdempotencyKey,
		Upload:         true,
		FilePath:       req.FilePath,
		MimeType:       req.MimeType,
		Fields:         req.Fields,
	})
}

func (f *Fake) handle(ctx context.Context, c Call) (remote.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	hook := f.Hook
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return remote.Response{}, &remote.TransportError{Err: err}
	}
	if hook != nil {
		if err := hook(c); err != nil {
			return remote.Response{}, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.offline {
		return remote.Response{}, &remote.TransportError{Err: errors.New("network unreachable")}
	}
	key := c.Method + " " + c.Path
	for prefix, rej := range f.rejects {
		if strings.HasPrefix(key, prefix) {
			return remote.Response{}, rej
		}
	}
	if resp, ok := f.seen[c.IdempotencyKey]; ok && c.IdempotencyKey != "" {
		return resp, nil
	}

	resp := remote.Response{Status: http.StatusOK}
	if c.Method == http.MethodPost {
		f.nextID++
		resp.Status = http.StatusCreated
		resp.ID = fmt.Sprintf("srv-%d", f.nextID)
		if c.Upload {
			resp.URL = "https://cdn.example.test/" + resp.ID
		}
	}
	if c.IdempotencyKey != "" {
		f.seen[c.IdempotencyKey] = resp
	}
	return resp, nil
}
