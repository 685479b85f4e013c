package tests

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	engrammcp "github.com/parkerhale/engram/internal/mcp"
	"github.com/parkerhale/engram/internal/priority"
	"github.com/parkerhale/engram/internal/session"
	"github.com/parkerhale/engram/internal/store"
)

// newMCPServer wires a server against a tracker-backed file store.
func newMCPServer(t *testing.T) (*engrammcp.Server, *session.Tracker) {
	t.Helper()
	dir := t.TempDir()
	tracker, err := session.NewTracker(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
	st, err := store.NewFileStore(filepath.Join(dir, "memories"), priority.NewDefaultCalculator(), tracker, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	srv := engrammcp.NewServer(st, tracker, priority.NewDefaultCalculator(), engrammcp.Options{AutoTags: true}, testLogger())
	return srv, tracker
}

// makeReq builds a CallToolRequest with the given arguments.
func makeReq(toolName string, args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	return req
}

// textContent extracts the first TextContent string from a CallToolResult.
func textContent(t *testing.T, result *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content item")
	tc, ok := result.Content[0].(mcpgo.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// storeAndGetID calls the store_memory handler and returns the new ID.
func storeAndGetID(t *testing.T, srv *engrammcp.Server, args map[string]any) string {
	t.Helper()
	result, err := srv.HandleStoreMemory(context.Background(), makeReq("store_memory", args))
	require.NoError(t, err)
	require.False(t, result.IsError, "store_memory returned error: %s", textContent(t, result))

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	id, ok := out["id"].(string)
	require.True(t, ok)
	require.NotEmpty(t, id)
	return id
}

func TestMCPStoreAndGetMemory(t *testing.T) {
	srv, _ := newMCPServer(t)
	ctx := context.Background()

	id := storeAndGetID(t, srv, map[string]any{
		"topic":      "Postgres deadlocks",
		"content":    "## Summary\nOrder table locks consistently.\n\n## Content\nAcquire locks in primary-key order.\n",
		"tags":       []any{"postgres", "locks"},
		"difficulty": 0.7,
	})

	result, err := srv.HandleGetMemory(ctx, makeReq("get_memory", map[string]any{"id": id}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, "Postgres deadlocks", out["topic"])
	assert.Equal(t, "full", out["phase"])
	assert.InDelta(t, 0.7, out["difficulty"].(float64), 1e-9)
	assert.Contains(t, out["content"], "primary-key order")
}

func TestMCPStoreMemoryValidation(t *testing.T) {
	srv, _ := newMCPServer(t)
	ctx := context.Background()

	result, err := srv.HandleStoreMemory(ctx, makeReq("store_memory", map[string]any{"content": "body"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.HandleStoreMemory(ctx, makeReq("store_memory", map[string]any{"topic": "no content"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = srv.HandleStoreMemory(ctx, makeReq("store_memory", map[string]any{
		"topic": "too hard", "content": "body", "difficulty": 1.5,
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPStoreMemoryAutoTags(t *testing.T) {
	srv, _ := newMCPServer(t)

	result, err := srv.HandleStoreMemory(context.Background(), makeReq("store_memory", map[string]any{
		"topic":   "Docker networking",
		"content": "Redis lookups fail inside the docker compose network",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, true, out["auto_tagged"])

	var tags []string
	for _, v := range out["tags"].([]any) {
		tags = append(tags, v.(string))
	}
	assert.Contains(t, tags, "docker")
	assert.Contains(t, tags, "redis")
}

func TestMCPRecall(t *testing.T) {
	srv, _ := newMCPServer(t)
	ctx := context.Background()

	storeAndGetID(t, srv, map[string]any{
		"topic": "Kubernetes rollouts", "content": "watch for stuck pods during deploys",
	})
	storeAndGetID(t, srv, map[string]any{
		"topic": "unrelated", "content": "nothing to see here",
	})

	result, err := srv.HandleRecall(ctx, makeReq("recall", map[string]any{"query": "kubernetes"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, float64(1), out["matched"])
	assert.Equal(t, float64(1), out["memory_count"])
	assert.Contains(t, out["context"], "Kubernetes rollouts")

	// Empty query is rejected.
	result, err = srv.HandleRecall(ctx, makeReq("recall", map[string]any{"query": "  "}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPListMemories(t *testing.T) {
	srv, _ := newMCPServer(t)
	ctx := context.Background()

	storeAndGetID(t, srv, map[string]any{"topic": "first", "content": "body", "difficulty": 0.2})
	storeAndGetID(t, srv, map[string]any{"topic": "second", "content": "body", "difficulty": 0.9})

	result, err := srv.HandleListMemories(ctx, makeReq("list_memories", map[string]any{}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out store.ListResult
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, 2, out.Total)
	require.Len(t, out.Records, 2)
	assert.Equal(t, "second", out.Records[0].Topic)

	result, err = srv.HandleListMemories(ctx, makeReq("list_memories", map[string]any{"phase": 7}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestMCPForget(t *testing.T) {
	srv, _ := newMCPServer(t)
	ctx := context.Background()

	id := storeAndGetID(t, srv, map[string]any{"topic": "ephemeral", "content": "body"})

	result, err := srv.HandleForget(ctx, makeReq("forget", map[string]any{"id": id}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, true, out["deleted"])
	assert.Equal(t, true, out["archived"])

	result, err = srv.HandleGetMemory(ctx, makeReq("get_memory", map[string]any{"id": id}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "not found")
}

func TestMCPStatusAndSession(t *testing.T) {
	srv, tracker := newMCPServer(t)
	ctx := context.Background()

	_, err := tracker.Begin()
	require.NoError(t, err)
	require.NoError(t, tracker.RecordToolResult(false, 10))
	storeAndGetID(t, srv, map[string]any{"topic": "one", "content": "body"})

	result, err := srv.HandleStatus(ctx, makeReq("ltm_status", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &out))
	assert.Equal(t, float64(1), out["total"])
	assert.Equal(t, float64(1), out["session"])

	// reset_session clears the counters but keeps the ordinal.
	result, err = srv.HandleResetSession(ctx, makeReq("reset_session", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Zero(t, tracker.Counters().ToolFailures)
	assert.Equal(t, 1, tracker.Current())
}

func TestMCPCheckAndFix(t *testing.T) {
	srv, _ := newMCPServer(t)
	ctx := context.Background()

	storeAndGetID(t, srv, map[string]any{"topic": "healthy", "content": "body"})

	result, err := srv.HandleCheck(ctx, makeReq("ltm_check", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textContent(t, result), `"healthy":true`)

	result, err = srv.HandleFix(ctx, makeReq("ltm_fix", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var summary map[string]any
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &summary))
	assert.Equal(t, float64(0), summary["removed_content"])
}

func TestMCPToolsWithoutStore(t *testing.T) {
	// Opening a store against a path occupied by a plain file fails. The
	// server built from that failure must answer every tool call with an
	// error result, never crash.
	base := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(base, []byte("not a directory"), 0o644))

	var st store.Store
	if fs, err := store.NewFileStore(base, priority.NewDefaultCalculator(), store.StaticSession(1), testLogger()); err == nil {
		st = fs
	}
	// A typed nil backend pointer inside the interface would slip past the
	// handlers' nil checks; the open failure must leave a nil interface.
	require.Nil(t, st)

	srv := engrammcp.NewServer(st, nil, priority.NewDefaultCalculator(), engrammcp.Options{}, testLogger())

	calls := []struct {
		name string
		run  func(context.Context, mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error)
		args map[string]any
	}{
		{"store_memory", srv.HandleStoreMemory, map[string]any{"topic": "t", "content": "c"}},
		{"recall", srv.HandleRecall, map[string]any{"query": "q"}},
		{"list_memories", srv.HandleListMemories, nil},
		{"get_memory", srv.HandleGetMemory, map[string]any{"id": "mem_00000000"}},
		{"forget", srv.HandleForget, map[string]any{"id": "mem_00000000"}},
		{"ltm_status", srv.HandleStatus, nil},
		{"ltm_check", srv.HandleCheck, nil},
		{"ltm_fix", srv.HandleFix, nil},
	}
	for _, call := range calls {
		t.Run(call.name, func(t *testing.T) {
			result, err := call.run(context.Background(), makeReq(call.name, call.args))
			require.NoError(t, err)
			require.True(t, result.IsError)
			assert.Contains(t, textContent(t, result), "store is unavailable")
		})
	}
}
