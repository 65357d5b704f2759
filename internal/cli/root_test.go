package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Francklinok/EasyRent-sub004/internal/app"
	"github.com/Francklinok/EasyRent-sub004/internal/remote/remotetest"
)

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *ResponseError  `json:"error"`
}

// execute runs one command line against a fresh command tree sharing opts.
func execute(t *testing.T, opts *RootOptions, args ...string) (envelope, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd := newRootCommand(opts)
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())

	var env envelope
	if buf.Len() > 0 {
		require.NoError(t, json.Unmarshal(buf.Bytes(), &env), buf.String())
	}
	return env, err
}

func testOptions(t *testing.T) (*RootOptions, string, *remotetest.Fake) {
	t.Helper()
	t.Setenv("OFFSYNC_REACHABILITY_FILE", "")
	t.Setenv("OFFSYNC_PROBE_URL", "")
	t.Setenv("OFFSYNC_LOG_LEVEL", "ERROR")
	api := remotetest.New()
	return &RootOptions{AppOptions: []app.Option{app.WithRemote(api)}}, t.TempDir(), api
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "offsync", cmd.Use)
	assert.Contains(t, cmd.Long, "replayed against")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"status"}, {"drain"}, {"reconcile"}, {"run"},
		{"outbox", "list"},
		{"property", "create"}, {"property", "update"}, {"property", "delete"}, {"property", "list"},
		{"message", "send"}, {"message", "read"}, {"message", "list"},
		{"reachability", "set"}, {"reachability", "get"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	onlineFlag := cmd.PersistentFlags().Lookup("online")
	require.NotNil(t, onlineFlag)
	assert.Equal(t, "false", onlineFlag.DefValue)
}

func TestOutboxListFlags(t *testing.T) {
	cmd := NewRootCommand()
	listCmd, _, err := cmd.Find([]string{"outbox", "list"})
	require.NoError(t, err)

	limitFlag := listCmd.Flags().Lookup("limit")
	require.NotNil(t, limitFlag)
	assert.Equal(t, "50", limitFlag.DefValue)
	assert.NotNil(t, listCmd.Flags().Lookup("status"))
	assert.NotNil(t, listCmd.Flags().Lookup("type"))
}

func TestInvalidFormat(t *testing.T) {
	opts, dir, _ := testOptions(t)
	_, err := execute(t, opts, "status", "--format", "yaml", "--data-dir", dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPropertyCreate_QueuesOfflineAndDrainSyncs(t *testing.T) {
	opts, dir, api := testOptions(t)

	env, err := execute(t, opts, "property", "create", "--title", "Loft", "--price", "1200", "--city", "Lyon",
		"--format", "json", "--data-dir", dir)
	require.NoError(t, err)
	require.Equal(t, "ok", env.Status)

	var created struct {
		Record  struct{ ID string }
		Outcome struct{ Kind string }
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "queued", created.Outcome.Kind)
	assert.Empty(t, api.Calls())

	env, err = execute(t, opts, "outbox", "list", "--status", "queued", "--format", "json", "--data-dir", dir)
	require.NoError(t, err)
	var ops []struct {
		Kind    string `json:"kind"`
		LocalID string `json:"local_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "create", ops[0].Kind)
	assert.Equal(t, created.Record.ID, ops[0].LocalID)

	env, err = execute(t, opts, "drain", "--online", "--format", "json", "--data-dir", dir)
	require.NoError(t, err)
	var report struct {
		Synced  int `json:"synced"`
		Pending int `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 1, report.Synced)
	assert.Zero(t, report.Pending)

	env, err = execute(t, opts, "property", "list", "--format", "json", "--data-dir", dir)
	require.NoError(t, err)
	var props []struct {
		ID         string `json:"id"`
		ServerID   string `json:"server_id"`
		SyncStatus string `json:"sync_status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &props))
	require.Len(t, props, 1)
	assert.Equal(t, "synced", props[0].SyncStatus)
	assert.Equal(t, "srv-1", props[0].ServerID)
}

func TestMessageSend_OnlineAppliesDirectly(t *testing.T) {
	opts, dir, api := testOptions(t)

	env, err := execute(t, opts, "message", "send", "--conversation", "c1", "--sender", "u1", "--content", "hi",
		"--online", "--format", "json", "--data-dir", dir)
	require.NoError(t, err)

	var sent struct {
		Record struct {
			ID string `json:"id"`
		}
		Outcome struct {
			Kind     string `json:"kind"`
			ServerID string `json:"server_id"`
		}
	}
	require.NoError(t, json.Unmarshal(env.Data, &sent))
	assert.Equal(t, "applied", sent.Outcome.Kind)
	assert.NotEmpty(t, sent.Outcome.ServerID)
	assert.Len(t, api.Calls(), 1)

	env, err = execute(t, opts, "message", "read", sent.Record.ID, "--online", "--format", "json", "--data-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "ok", env.Status)
	assert.Len(t, api.Calls(), 2)
}

func TestValidationErrorIsReported(t *testing.T) {
	opts, dir, _ := testOptions(t)

	env, err := execute(t, opts, "property", "create", "--title", "Loft", "--price=-1",
		"--format", "json", "--data-dir", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, env.Error)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "INVALID_INPUT", env.Error.Code)
}

func TestReachabilitySetAndGet(t *testing.T) {
	opts, dir, _ := testOptions(t)
	file := filepath.Join(dir, "reachable")

	_, err := execute(t, opts, "reachability", "set", "online", "--file", file, "--format", "json")
	require.NoError(t, err)

	env, err := execute(t, opts, "reachability", "get", "--file", file, "--format", "json")
	require.NoError(t, err)
	var got struct {
		Reachable bool `json:"reachable"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.True(t, got.Reachable)

	_, err = execute(t, opts, "reachability", "set", "sideways", "--file", file)
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	opts, dir, _ := testOptions(t)

	_, err := execute(t, opts, "message", "send", "--conversation", "c1", "--sender", "u1", "--content", "hi",
		"--format", "json", "--data-dir", dir)
	require.NoError(t, err)

	env, err := execute(t, opts, "status", "--format", "json", "--data-dir", dir)
	require.NoError(t, err)
	var st StatusReport
	require.NoError(t, json.Unmarshal(env.Data, &st))
	assert.False(t, st.Connected)
	assert.Equal(t, 1, st.Outbox.Queued)
	assert.Equal(t, 1, st.Records["message"].Pending)
	assert.NotZero(t, st.SchemaVersion)
}
