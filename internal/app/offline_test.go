// Offline behaviour of the assembled core: every write must succeed and
// survive restarts with no network at all.
package app

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Francklinok/EasyRent-sub004/internal/logging"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/remote/remotetest"
	"github.com/Francklinok/EasyRent-sub004/internal/services"
)

func openOffline(t *testing.T, dir string, api *remotetest.Fake) *App {
	t.Helper()
	a, err := Open(context.Background(), testConfig(dir), logging.Discard(), WithRemote(api))
	if err != nil {
		t.Fatalf("Failed to open core: %v", err)
	}
	return a
}

func TestOfflinePersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	api := remotetest.New()

	t.Log("Phase 1: Writing offline...")
	a := openOffline(t, dir, api)
	res, err := a.Properties.Create(ctx, services.PropertyInput{Property: models.Property{
		Title: "Persistent listing",
		City:  "Dakar",
		Price: 450,
	}})
	if err != nil {
		t.Fatalf("Failed to create listing: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Failed to close core: %v", err)
	}

	t.Log("Phase 2: Reopening...")
	a = openOffline(t, dir, api)
	defer a.Close()

	p, err := a.Properties.Get(ctx, res.Property.ID)
	if err != nil {
		t.Fatalf("Failed to read listing after restart: %v", err)
	}
	if p.Title != "Persistent listing" || p.City != "Dakar" {
		t.Errorf("Listing changed across restart: %+v", p)
	}
	if p.SyncStatus != models.SyncStatusPending {
		t.Errorf("SyncStatus = %s, want pending", p.SyncStatus)
	}

	counts, err := a.Outbox.Counts(ctx)
	if err != nil {
		t.Fatalf("Failed to count outbox: %v", err)
	}
	if counts.Queued != 1 {
		t.Errorf("Queued = %d after restart, want 1", counts.Queued)
	}
	if n := len(api.Calls()); n != 0 {
		t.Errorf("remote called %d times while offline", n)
	}
}

func TestOfflineConcurrency(t *testing.T) {
	ctx := context.Background()
	api := remotetest.New()
	a := openOffline(t, t.TempDir(), api)
	defer a.Close()

	const numGoroutines = 10
	const messagesPerGoroutine = 5

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*messagesPerGoroutine)
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < messagesPerGoroutine; i++ {
				_, err := a.Messages.Send(ctx, services.MessageInput{Message: models.Message{
					ConversationID: fmt.Sprintf("c%d", g),
					SenderID:       "u1",
					Content:        fmt.Sprintf("message %d-%d", g, i),
				}})
				if err != nil {
					errs <- fmt.Errorf("goroutine %d message %d: %w", g, i, err)
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	counts, err := a.Outbox.Counts(ctx)
	if err != nil {
		t.Fatalf("Failed to count outbox: %v", err)
	}
	if counts.Queued != numGoroutines*messagesPerGoroutine {
		t.Fatalf("Queued = %d, want %d", counts.Queued, numGoroutines*messagesPerGoroutine)
	}

	report, err := a.Engine.Drain(ctx, "")
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if report.Synced != numGoroutines*messagesPerGoroutine || report.Pending != 0 {
		t.Errorf("report = %+v", report)
	}
	if n := api.Applied(); n != numGoroutines*messagesPerGoroutine {
		t.Errorf("remote applied %d operations, want %d", n, numGoroutines*messagesPerGoroutine)
	}
}

func TestOfflinePerformance100Items(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping performance test in short mode")
	}

	ctx := context.Background()
	a := openOffline(t, t.TempDir(), remotetest.New())
	defer a.Close()

	start := time.Now()
	for i := 0; i < 100; i++ {
		_, err := a.Properties.Create(ctx, services.PropertyInput{Property: models.Property{
			Title: fmt.Sprintf("Listing %d", i),
			Price: float64(100 + i),
		}})
		if err != nil {
			t.Fatalf("Failed to create listing %d: %v", i, err)
		}
	}
	elapsed := time.Since(start)
	t.Logf("Wrote 100 listings offline in %v (avg: %v)", elapsed, elapsed/100)

	if elapsed > 10*time.Second {
		t.Errorf("Offline writes took %v", elapsed)
	}
}
