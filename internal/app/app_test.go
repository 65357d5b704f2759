package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Francklinok/EasyRent-sub004/internal/config"
	"github.com/Francklinok/EasyRent-sub004/internal/logging"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
	"github.com/Francklinok/EasyRent-sub004/internal/remote/remotetest"
	"github.com/Francklinok/EasyRent-sub004/internal/services"
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		DataDir:        dir,
		APIBaseURL:     "http://127.0.0.1:1",
		RequestTimeout: time.Second,
		ImageMaxDim:    1600,
		ImageQuality:   80,
	}
}

func TestOpen_ReconnectDrainsOutbox(t *testing.T) {
	ctx := context.Background()
	api := remotetest.New()
	a, err := Open(ctx, testConfig(t.TempDir()), logging.Discard(), WithRemote(api))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Properties.Create(ctx, services.PropertyInput{Property: models.Property{Title: "A"}})
	require.NoError(t, err)
	require.IsType(t, services.Queued{}, res.Outcome)

	a.Monitor.SetReachable(true)

	require.Eventually(t, func() bool {
		p, err := a.Properties.Get(ctx, res.Property.ID)
		return err == nil && p.SyncStatus == models.SyncStatusSynced
	}, 5*time.Second, 20*time.Millisecond)

	p, err := a.Properties.Get(ctx, res.Property.ID)
	require.NoError(t, err)
	assert.Equal(t, "srv-1", p.ServerID)
}

func TestOpen_RecoversOrphanedRecords(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t.TempDir())

	a, err := Open(ctx, cfg, logging.Discard(), WithRemote(remotetest.New()))
	require.NoError(t, err)
	// A record written without its operation, as after a crash between the
	// two.
	rec, err := a.Store.Create(ctx, models.EntityMessage, models.Fields{"conversationId": "c1", "senderId": "u1"}, models.SyncStatusPending)
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = Open(ctx, cfg, logging.Discard(), WithRemote(remotetest.New()))
	require.NoError(t, err)
	defer a.Close()

	ops, err := a.Outbox.List(ctx, outbox.ListOptions{LocalID: rec.ID})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpCreate, ops[0].Kind)
}

func TestSources(t *testing.T) {
	cfg := testConfig(t.TempDir())
	cfg.ReachabilityFile = cfg.DataDir + "/reachable"
	cfg.ProbeURL = "http://127.0.0.1:1/health"
	cfg.ProbeInterval = time.Second

	a, err := Open(context.Background(), cfg, logging.Discard(), WithRemote(remotetest.New()))
	require.NoError(t, err)
	defer a.Close()

	sources := a.Sources()
	require.Len(t, sources, 2)
	assert.Equal(t, "file:"+cfg.ReachabilityFile, sources[0].Name())
	assert.Equal(t, "probe:"+cfg.ProbeURL, sources[1].Name())
}

func TestRun_StopsOnCancel(t *testing.T) {
	a, err := Open(context.Background(), testConfig(t.TempDir()), logging.Discard(), WithRemote(remotetest.New()))
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
