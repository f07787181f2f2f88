package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/quorum/pkg/budget"
	"github.com/codeready-toolchain/quorum/pkg/bus"
	"github.com/codeready-toolchain/quorum/pkg/config"
	"github.com/codeready-toolchain/quorum/pkg/contextstore"
	"github.com/codeready-toolchain/quorum/pkg/keystore"
	"github.com/codeready-toolchain/quorum/pkg/providers"
	"github.com/codeready-toolchain/quorum/pkg/workflow"
)

// fakeEngine publishes a minimal event transcript and returns a fixed
// result, standing in for the workflow engine.
type fakeEngine struct {
	bus    *bus.Bus
	result *workflow.Result

	mu   sync.Mutex
	opts []workflow.Options
}

func (e *fakeEngine) Run(_ context.Context, opts workflow.Options) *workflow.Result {
	e.mu.Lock()
	e.opts = append(e.opts, opts)
	e.mu.Unlock()

	sid := opts.SessionID
	agent := opts.RequestedAgents[0]
	e.bus.Publish(sid, bus.Event{Type: bus.EventPhaseStart, Phase: "response"})
	e.bus.Publish(sid, bus.Event{Type: bus.EventAgentThinking, Provider: agent, Phase: "response"})
	e.bus.Publish(sid, bus.Event{
		Type: bus.EventAgentThought, Provider: agent, Phase: "response",
		Payload: map[string]any{"text": e.result.Final},
	})
	e.bus.Publish(sid, bus.Event{Type: bus.EventAgentResponseComplete, Provider: agent, Phase: "response"})
	e.bus.Publish(sid, bus.Event{
		Type: bus.EventCollaborationResult,
		Payload: map[string]any{
			"final":     e.result.Final,
			"rationale": e.result.Rationale,
			"spent_usd": e.result.SpentUSD,
		},
	})
	e.bus.Publish(sid, bus.Event{
		Type:    bus.EventCollaborationComplete,
		Payload: map[string]any{"elapsed_ms": int64(12)},
	})
	return e.result
}

func (e *fakeEngine) lastOpts(t *testing.T) workflow.Options {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.opts)
	return e.opts[len(e.opts)-1]
}

type fakeDirectory struct {
	available []providers.Provider

	mu          sync.Mutex
	invalidated []string
}

func (d *fakeDirectory) Availability(context.Context, string) []providers.Provider {
	return d.available
}

func (d *fakeDirectory) Invalidate(userID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidated = append(d.invalidated, userID)
}

type gatewayFixture struct {
	manager   *ConnectionManager
	engine    *fakeEngine
	directory *fakeDirectory
	daily     *budget.MemoryDailyStore
	keys      *keystore.MemoryStore
	server    *httptest.Server
}

func newFixture(t *testing.T) *gatewayFixture {
	return newFixtureWithDefaults(t, nil)
}

func newFixtureWithDefaults(t *testing.T, defaults *config.DefaultsConfig) *gatewayFixture {
	t.Helper()

	b := bus.New()
	engine := &fakeEngine{
		bus: b,
		result: &workflow.Result{
			Final:     "Use a write-through cache.",
			Rationale: "All drafts agreed.",
			SpentUSD:  0.25,
		},
	}
	directory := &fakeDirectory{
		available: []providers.Provider{providers.Claude, providers.Gemini},
	}
	daily := budget.NewMemoryDailyStore()
	keys := keystore.NewMemoryStore()

	manager := NewConnectionManager(ManagerConfig{
		Engine:    engine,
		Directory: directory,
		Bus:       b,
		Contexts:  contextstore.NewStore(contextstore.NewMemoryPersister()),
		Daily:     daily,
		Keys:      keys,
		Defaults:  defaults,
		// Long ping interval so liveness does not interfere with tests.
		PingInterval: time.Minute,
	})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		manager.HandleConnection(r.Context(), conn)
	}))
	t.Cleanup(server.Close)

	return &gatewayFixture{
		manager:   manager,
		engine:    engine,
		directory: directory,
		daily:     daily,
		keys:      keys,
		server:    server,
	}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	ctx  context.Context
}

func dial(t *testing.T, f *gatewayFixture) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	c := &wsClient{t: t, conn: conn, ctx: ctx}
	// Every connection opens with connection.established.
	established := c.readFrame()
	require.Equal(t, "connection.established", established["type"])
	return c
}

func (c *wsClient) send(frame map[string]any) {
	c.t.Helper()
	data, err := json.Marshal(frame)
	require.NoError(c.t, err)
	require.NoError(c.t, c.conn.Write(c.ctx, websocket.MessageText, data))
}

func (c *wsClient) readFrame() map[string]any {
	c.t.Helper()
	_, data, err := c.conn.Read(c.ctx)
	require.NoError(c.t, err)
	var frame map[string]any
	require.NoError(c.t, json.Unmarshal(data, &frame))
	return frame
}

// readUntil skips frames (server pings, status noise) until one of the
// wanted type arrives.
func (c *wsClient) readUntil(frameType string) map[string]any {
	c.t.Helper()
	for {
		frame := c.readFrame()
		if frame["type"] == frameType {
			return frame
		}
	}
}

func (c *wsClient) authenticate(userID string) map[string]any {
	c.t.Helper()
	c.send(map[string]any{"type": "authenticate", "userId": userID})
	return c.readUntil("authenticated")
}

func TestAuthenticateBindsSessionAndClearsCache(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)

	frame := c.authenticate("alice")
	assert.Equal(t, "alice", frame["userId"])
	assert.NotEmpty(t, frame["sessionId"])
	assert.Equal(t, false, frame["degraded"])

	f.directory.mu.Lock()
	defer f.directory.mu.Unlock()
	assert.Equal(t, []string{"alice"}, f.directory.invalidated)
}

func TestUnauthenticatedFramesRejectedExceptPing(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)

	c.send(map[string]any{"type": "ping"})
	assert.Equal(t, "pong", c.readFrame()["type"])

	c.send(map[string]any{"type": "chat", "message": "hello"})
	frame := c.readFrame()
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["message"], "authentication required")

	// Connection survives the rejection.
	c.send(map[string]any{"type": "ping"})
	assert.Equal(t, "pong", c.readFrame()["type"])
}

func TestChatStreamsCollaboration(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "chat", "message": "Should we cache writes?"})

	assert.Equal(t, "response", c.readUntil("phase_change")["phase"])

	status := c.readUntil("model_status")
	assert.Equal(t, "claude", status["target"])
	assert.Equal(t, "thinking", status["status"])

	chunk := c.readUntil("response")
	assert.Equal(t, "claude", chunk["target"])
	assert.Equal(t, true, chunk["start"])
	assert.Equal(t, "Use a write-through cache.", chunk["content"])

	end := c.readUntil("response")
	assert.Equal(t, true, end["end"])

	collab := c.readUntil("response")
	assert.Equal(t, "collab", collab["target"])
	assert.Equal(t, "Use a write-through cache.", collab["content"])
	assert.Equal(t, "All drafts agreed.", collab["rationale"])

	collabEnd := c.readUntil("response")
	assert.Equal(t, "collab", collabEnd["target"])
	assert.Equal(t, true, collabEnd["end"])

	cost := c.readUntil("cost_update")
	assert.InDelta(t, 0.25, cost["totalUsd"], 1e-9)

	complete := c.readUntil("model_status")
	assert.Equal(t, "complete", complete["status"])

	opts := f.engine.lastOpts(t)
	assert.Equal(t, "Should we cache writes?", opts.Prompt)
	assert.Equal(t, []providers.Provider{providers.Claude, providers.Gemini}, opts.RequestedAgents)
	assert.Equal(t, "alice", opts.UserID)
}

func TestChatRecordsSessionAndDailyCost(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "chat", "message": "hello"})
	c.readUntil("cost_update")

	// Spend is recorded after the engine returns; poll briefly.
	require.Eventually(t, func() bool {
		total, err := f.daily.Total(context.Background(), "alice", budget.Today())
		return err == nil && total > 0.24
	}, 2*time.Second, 10*time.Millisecond)

	c.send(map[string]any{"type": "get_session_cost"})
	frame := c.readUntil("session_cost")
	assert.InDelta(t, 0.25, frame["totalUsd"], 1e-9)

	c.send(map[string]any{"type": "get_daily_cost"})
	daily := c.readUntil("daily_cost")
	assert.InDelta(t, 0.25, daily["totalUsd"], 1e-9)
}

func TestChatSingleProviderTarget(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "chat", "target": "gemini", "message": "hi"})
	c.readUntil("cost_update")

	opts := f.engine.lastOpts(t)
	assert.Equal(t, workflow.ModeIndividual, opts.Mode)
	assert.Equal(t, []providers.Provider{providers.Gemini}, opts.RequestedAgents)
}

func TestChatTargetWithoutKeyRejected(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "chat", "target": "grok", "message": "hi"})
	frame := c.readUntil("error")
	assert.Equal(t, "grok", frame["target"])
	assert.Contains(t, frame["message"], "no API key")
}

func TestChatNoProvidersAvailable(t *testing.T) {
	f := newFixture(t)
	f.directory.available = nil
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "chat", "message": "hi"})
	frame := c.readUntil("error")
	assert.Contains(t, frame["message"], "no AI models available")
}

func TestDailyBudgetBlocksChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.daily.SetLimit(ctx, "alice", 1.0))
	_, err := f.daily.Add(ctx, "alice", budget.Today(), 1.0)
	require.NoError(t, err)

	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "chat", "message": "hi"})
	frame := c.readUntil("budget_exceeded")
	assert.Equal(t, "daily", frame["scope"])
}

func TestConfiguredDailyCapBlocksChatWithoutUserLimit(t *testing.T) {
	defaults := config.DefaultDefaultsConfig()
	defaults.DailyCapUSD = 0.5
	f := newFixtureWithDefaults(t, defaults)

	ctx := context.Background()
	_, err := f.daily.Add(ctx, "alice", budget.Today(), 0.6)
	require.NoError(t, err)

	c := dial(t, f)
	c.authenticate("alice")

	// No per-user limit is set; the configured default cap applies.
	c.send(map[string]any{"type": "chat", "message": "hi"})
	frame := c.readUntil("budget_exceeded")
	assert.Equal(t, "daily", frame["scope"])

	c.send(map[string]any{"type": "get_daily_cost"})
	daily := c.readUntil("daily_cost")
	assert.InDelta(t, 0.5, daily["limitUsd"], 1e-9)

	// A per-user limit overrides the default.
	c.send(map[string]any{"type": "set_budget_limit", "limitUsd": 10})
	c.readUntil("budget_limit_set")
	c.send(map[string]any{"type": "chat", "message": "hi again"})
	c.readUntil("cost_update")
}

func TestChatForwardsFilePaths(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{
		"type":      "chat",
		"message":   "summarise these",
		"filePaths": []string{"/docs/a.md", "/docs/b.md"},
	})
	c.readUntil("cost_update")

	opts := f.engine.lastOpts(t)
	assert.Equal(t, []string{"/docs/a.md", "/docs/b.md"}, opts.FilePaths)
}

func TestForwarderExitsWhenConnectionCloses(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	conn := &Connection{ID: "c1", ctx: ctx, cancel: cancel, session: &session{id: "s1"}}

	events, unsubscribe := f.manager.bus.Subscribe("s1")
	done := make(chan struct{})
	go func() {
		f.manager.forwardEvents(conn, events, unsubscribe)
		close(done)
	}()

	// Closing the connection releases the forwarder even though no
	// terminal event ever arrives.
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder still running after connection closed")
	}
	require.Eventually(t, func() bool {
		return f.manager.bus.SubscriberCount("s1") == 0
	}, time.Second, 10*time.Millisecond)
}

func TestSetBudgetLimitRoundTrip(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "set_budget_limit", "limitUsd": 7.5})
	frame := c.readUntil("budget_limit_set")
	assert.InDelta(t, 7.5, frame["limitUsd"], 1e-9)

	c.send(map[string]any{"type": "get_daily_cost"})
	daily := c.readUntil("daily_cost")
	assert.InDelta(t, 7.5, daily["limitUsd"], 1e-9)
}

func TestCollabSettingsFrames(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "set_collab_mode", "mode": "expert_panel"})
	assert.Equal(t, "expert_panel", c.readUntil("collab_mode_set")["mode"])

	c.send(map[string]any{"type": "set_collab_style", "style": "contrasting"})
	assert.Equal(t, "contrasting", c.readUntil("collab_style_set")["style"])

	c.send(map[string]any{"type": "set_collab_mode", "mode": "quantum_caucus"})
	frame := c.readUntil("error")
	assert.Contains(t, frame["message"], "unknown collaboration mode")

	// The chat that follows uses the updated settings.
	c.send(map[string]any{"type": "chat", "message": "hi"})
	c.readUntil("cost_update")
	assert.Equal(t, workflow.ModeExpertPanel, f.engine.lastOpts(t).Mode)
}

func TestContextFrames(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "context_status"})
	frame := c.readUntil("context_status")
	assert.EqualValues(t, 0, frame["size"])
	assert.EqualValues(t, 0, frame["messageCount"])

	c.send(map[string]any{"type": "chat", "message": "remember this"})
	c.readUntil("cost_update")

	// User message plus assistant response are recorded.
	require.Eventually(t, func() bool {
		c.send(map[string]any{"type": "context_status"})
		frame = c.readUntil("context_status")
		count, _ := frame["messageCount"].(float64)
		return count == 2
	}, 2*time.Second, 20*time.Millisecond)

	c.send(map[string]any{"type": "set_max_context_size", "size": 2000})
	assert.EqualValues(t, 2000, c.readUntil("max_context_size_set")["maxSize"])

	c.send(map[string]any{"type": "set_context_mode", "mode": "summary"})
	assert.Equal(t, "summary", c.readUntil("context_mode_set")["mode"])

	c.send(map[string]any{"type": "reset_context"})
	reset := c.readUntil("context_reset")
	assert.EqualValues(t, 0, reset["size"])
	assert.EqualValues(t, 0, reset["messageCount"])
}

func TestAPIKeyFrames(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "set_api_key", "provider": "grok", "apiKey": "xai-test"})
	assert.Equal(t, "grok", c.readUntil("api_key_set")["provider"])

	key, err := f.keys.Key(context.Background(), "alice", providers.Grok)
	require.NoError(t, err)
	assert.Equal(t, "xai-test", key)

	// Listing never echoes key material.
	c.send(map[string]any{"type": "list_api_keys"})
	frame := c.readUntil("api_keys")
	keys, ok := frame["keys"].([]any)
	require.True(t, ok)
	require.Len(t, keys, 1)
	entry, ok := keys[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "grok", entry["provider"])
	assert.Equal(t, true, entry["isValid"])
	assert.NotContains(t, entry, "key")
	assert.NotContains(t, entry, "apiKey")

	c.send(map[string]any{"type": "delete_api_key", "provider": "grok"})
	assert.Equal(t, "grok", c.readUntil("api_key_deleted")["provider"])

	c.send(map[string]any{"type": "list_api_keys"})
	assert.Empty(t, c.readUntil("api_keys")["keys"])

	// Mutations clear the user's cached clients.
	f.directory.mu.Lock()
	invalidations := len(f.directory.invalidated)
	f.directory.mu.Unlock()
	assert.Equal(t, 3, invalidations, "authenticate, set, delete")

	c.send(map[string]any{"type": "set_api_key", "provider": "hal9000", "apiKey": "k"})
	assert.Contains(t, c.readUntil("error")["message"], "unknown provider")
}

func TestCancelWithoutActiveCollaboration(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "cancel_collaboration"})
	frame := c.readUntil("error")
	assert.Contains(t, frame["message"], "no active collaboration")
}

func TestUnknownFrameTypeKeepsConnectionOpen(t *testing.T) {
	f := newFixture(t)
	c := dial(t, f)
	c.authenticate("alice")

	c.send(map[string]any{"type": "interpretive_dance"})
	frame := c.readUntil("error")
	assert.Contains(t, frame["message"], "unsupported message type")

	c.send(map[string]any{"type": "debug_ping"})
	pong := c.readUntil("debug_pong")
	assert.NotEmpty(t, pong["time"])
}

func TestActiveConnectionsCount(t *testing.T) {
	f := newFixture(t)
	c1 := dial(t, f)
	c2 := dial(t, f)
	_ = c1
	_ = c2

	require.Eventually(t, func() bool {
		return f.manager.ActiveConnections() == 2
	}, 2*time.Second, 10*time.Millisecond)
}
