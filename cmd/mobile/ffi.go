// Package main provides the FFI bridge for mobile platforms.
// Build as shared library: liboffsync.so (Android) / offsync.framework (iOS)
//
//	go build -buildmode=c-shared -o liboffsync.so ./cmd/mobile
//
// Every function returning *C.char hands ownership to the caller, who must
// release it with FreeString. A nil result means the call failed; the
// reason is available from GetLastError.
package main

/*
#include <stdlib.h>
*/
import "C"
import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/Francklinok/EasyRent-sub004/internal/app"
	"github.com/Francklinok/EasyRent-sub004/internal/config"
	"github.com/Francklinok/EasyRent-sub004/internal/logging"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/services"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
)

var (
	mu      sync.Mutex
	core    *app.App
	stop    context.CancelFunc
	done    chan struct{}
	lastErr string
	lastMu  sync.RWMutex
)

//export Init
// Init opens the sync core in dataDir and starts watching connectivity.
// Returns 0 on success and -1 on failure.
func Init(dataDir *C.char) C.int {
	mu.Lock()
	defer mu.Unlock()
	if core != nil {
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		setLastError(fmt.Sprintf("Failed to load configuration: %v", err))
		return -1
	}
	if dir := C.GoString(dataDir); dir != "" {
		cfg.DataDir = dir
	}
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})

	a, err := app.Open(context.Background(), cfg, logger)
	if err != nil {
		setLastError(fmt.Sprintf("Failed to open sync core: %v", err))
		return -1
	}

	ctx, cancel := context.WithCancel(context.Background())
	core, stop, done = a, cancel, make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		if err := a.Run(ctx); err != nil {
			logger.Error("sync core stopped", slog.Any("error", err))
		}
	}(done)
	return 0
}

//export Cleanup
// Cleanup stops background work and closes the database.
func Cleanup() {
	mu.Lock()
	defer mu.Unlock()
	if core == nil {
		return
	}
	stop()
	<-done
	if err := core.Close(); err != nil {
		setLastError(fmt.Sprintf("Failed to close sync core: %v", err))
	}
	core = nil
}

//export GetLastError
// GetLastError returns the last error message.
// Returns a C string that must be freed by the caller.
func GetLastError() *C.char {
	lastMu.RLock()
	defer lastMu.RUnlock()

	return C.CString(lastErr)
}

func setLastError(err string) {
	lastMu.Lock()
	defer lastMu.Unlock()
	lastErr = err
}

//export SetReachable
// SetReachable is called by the host whenever the platform network state
// changes. Non-zero means the remote API is reachable.
func SetReachable(reachable C.int) {
	if a := current(); a != nil {
		a.Monitor.SetReachable(reachable != 0)
	}
}

//export TriggerSync
// TriggerSync asks for an outbox drain, e.g. on app foreground.
func TriggerSync() {
	if a := current(); a != nil && a.Monitor.IsConnected() {
		a.Monitor.TriggerSync()
	}
}

// =====================================================
// Properties
// =====================================================

//export PropertyCreate
// PropertyCreate creates a listing from a JSON PropertyInput.
func PropertyCreate(input *C.char) *C.char {
	return call(func(ctx context.Context, a *app.App) (any, error) {
		var in services.PropertyInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		res, err := a.Properties.Create(ctx, in)
		if err != nil {
			return nil, err
		}
		return mutation{Record: res.Property, Outcome: services.View(res.Outcome), Media: res.Images, Dropped: res.Dropped}, nil
	})
}

//export PropertyUpdate
// PropertyUpdate applies a JSON PropertyPatch to the listing id.
func PropertyUpdate(id, patch *C.char) *C.char {
	return call(func(ctx context.Context, a *app.App) (any, error) {
		var p models.PropertyPatch
		if err := decode(patch, &p); err != nil {
			return nil, err
		}
		res, err := a.Properties.Update(ctx, C.GoString(id), p)
		if err != nil {
			return nil, err
		}
		return mutation{Record: res.Property, Outcome: services.View(res.Outcome)}, nil
	})
}

//export PropertyDelete
func PropertyDelete(id *C.char) *C.char {
	return call(func(ctx context.Context, a *app.App) (any, error) {
		o, err := a.Properties.Delete(ctx, C.GoString(id))
		if err != nil {
			return nil, err
		}
		return mutation{Record: map[string]string{"id": C.GoString(id)}, Outcome: services.View(o)}, nil
	})
}

//export PropertyGet
func PropertyGet(id *C.char) *C.char {
	return call(func(ctx context.Context, a *app.App) (any, error) {
		p, err := a.Properties.Get(ctx, C.GoString(id))
		if err != nil {
			return nil, err
		}
		images, err := a.Properties.Images(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"property": p, "images": images}, nil
	})
}

//export PropertyList
// PropertyList returns every live listing, most recently changed first.
func PropertyList() *C.char {
	return call(func(ctx context.Context, a *app.App) (any, error) {
		return a.Properties.List(ctx)
	})
}

//export PropertyAddImage
// PropertyAddImage attaches a JSON MediaInput to the listing id.
func PropertyAddImage(id, media *C.char) *C.char {
	return call(func(ctx context.Context, a *app.App) (any, error) {
		var in services.MediaInput
		if err := decode(media, &in); err != nil {
			return nil, err
		}
		att, err := a.Properties.AddImage(ctx, C.GoString(id), in)
		if err != nil {
			return nil, err
		}
		return map[string]any{"image": att, "dropped": att == nil}, nil
	})
}

// =====================================================
// Messages
// =====================================================

//export MessageSend
// MessageSend sends a message from a JSON MessageInput.
func MessageSend(input *C.char) *C.char {
	return call(func(ctx context.Context, a *app.App) (any, error) {
		var in services.MessageInput
		if err := decode(input, &in); err != nil {
			return nil, err
		}
		res, err := a.Messages.Send(ctx, in)
		if err != nil {
			return nil, err
		}
		return mutation{Record: res.Message, Outcome: services.View(res.Outcome), Media: res.Attachments, Dropped: res.Dropped}, nil
	})
}

//export MessageMarkRead
func MessageMarkRead(id *C.char) *C.char {
	return call(func(ctx context.Context, a *app.App) (any, error) {
		res, err := a.Messages.MarkRead(ctx, C.GoString(id))
		if err != nil {
			return nil, err
		}
		return mutation{Record: res.Message, Outcome: services.View(res.Outcome)}, nil
	})
}

//export MessageConversation
// MessageConversation lists a conversation's messages, oldest first.
func MessageConversation(conversationID *C.char) *C.char {
	return call(func(ctx context.Context, a *app.App) (any, error) {
		return a.Messages.Conversation(ctx, C.GoString(conversationID))
	})
}

// =====================================================
// Sync state
// =====================================================

//export SyncStatus
// SyncStatus reports connectivity, outbox counts and the last drain.
func SyncStatus() *C.char {
	return call(func(ctx context.Context, a *app.App) (any, error) {
		counts, err := a.Outbox.Counts(ctx)
		if err != nil {
			return nil, err
		}
		pendingProps, err := a.Store.Count(ctx, models.EntityProperty, store.Status(models.SyncStatusPending))
		if err != nil {
			return nil, err
		}
		pendingMsgs, err := a.Store.Count(ctx, models.EntityMessage, store.Status(models.SyncStatusPending))
		if err != nil {
			return nil, err
		}
		status := map[string]any{
			"connected":          a.Monitor.IsConnected(),
			"draining":           a.Engine.Draining(),
			"outbox":             counts,
			"pending_properties": pendingProps,
			"pending_messages":   pendingMsgs,
			"last_report":        a.Engine.LastReport(),
		}
		if err := a.Engine.LastError(); err != nil {
			status["last_error"] = err.Error()
		}
		return status, nil
	})
}

//export FreeString
// FreeString releases a string returned by this library.
func FreeString(ptr *C.char) {
	if ptr != nil {
		C.free(unsafe.Pointer(ptr))
	}
}

type mutation struct {
	Record  any                  `json:"record"`
	Outcome services.OutcomeView `json:"outcome"`
	Media   []models.Attachment  `json:"media,omitempty"`
	Dropped int                  `json:"dropped,omitempty"`
}

func current() *app.App {
	mu.Lock()
	defer mu.Unlock()
	return core
}

func decode(s *C.char, v any) error {
	if s == nil {
		return fmt.Errorf("missing input")
	}
	if err := json.Unmarshal([]byte(C.GoString(s)), v); err != nil {
		return fmt.Errorf("invalid input: %w", err)
	}
	return nil
}

// call runs fn against the open core and serializes its result.
func call(fn func(ctx context.Context, a *app.App) (any, error)) *C.char {
	a := current()
	if a == nil {
		setLastError("Sync core not initialized")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.Config.RequestTimeout*2)
	defer cancel()

	v, err := fn(ctx, a)
	if err != nil {
		setLastError(err.Error())
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		setLastError(fmt.Sprintf("Failed to serialize: %v", err))
		return nil
	}
	return C.CString(string(data))
}

func main() {
	// Main function is required for c-shared build mode
	// but is not actually executed when used as shared library
}
