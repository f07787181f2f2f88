// End-to-end scenario tests running the real stack in-process: HTTP
// server, WebSocket gateway, event bus, and workflow engine, with
// scripted agent clients standing in for the provider SDKs. Nothing
// leaves the process.
package e2e

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/quorum/pkg/api"
	"github.com/codeready-toolchain/quorum/pkg/budget"
	"github.com/codeready-toolchain/quorum/pkg/bus"
	"github.com/codeready-toolchain/quorum/pkg/config"
	"github.com/codeready-toolchain/quorum/pkg/contextstore"
	"github.com/codeready-toolchain/quorum/pkg/dispatch"
	"github.com/codeready-toolchain/quorum/pkg/gateway"
	"github.com/codeready-toolchain/quorum/pkg/llmclient"
	"github.com/codeready-toolchain/quorum/pkg/providers"
	"github.com/codeready-toolchain/quorum/pkg/retry"
	"github.com/codeready-toolchain/quorum/pkg/workflow"
)

// scriptedResponse is one canned completion for a scripted client.
// textChunks, when set, streams as multiple deltas instead of one.
type scriptedResponse struct {
	text         string
	textChunks   []string
	errMsg       string
	retryable    bool
	inputTokens  int
	outputTokens int
	delay        time.Duration
}

// scriptedClient plays back queued responses; an empty queue yields a
// generic line so multi-phase modes always run to completion.
type scriptedClient struct {
	provider providers.Provider

	mu    sync.Mutex
	queue []scriptedResponse
}

func (c *scriptedClient) Provider() providers.Provider { return c.provider }
func (c *scriptedClient) Model() string                { return c.provider.DefaultModel() }

func (c *scriptedClient) next() scriptedResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return scriptedResponse{
			text:         "generic response from " + string(c.provider),
			inputTokens:  10,
			outputTokens: 10,
		}
	}
	r := c.queue[0]
	c.queue = c.queue[1:]
	return r
}

func (c *scriptedClient) Stream(ctx context.Context, _ llmclient.StreamRequest) (<-chan llmclient.Chunk, error) {
	r := c.next()
	out := make(chan llmclient.Chunk, 8)
	go func() {
		defer close(out)
		if r.delay > 0 {
			select {
			case <-time.After(r.delay):
			case <-ctx.Done():
				out <- &llmclient.ErrorChunk{Message: ctx.Err().Error(), Retryable: false}
				return
			}
		}
		if r.errMsg != "" {
			out <- &llmclient.ErrorChunk{Message: r.errMsg, Retryable: r.retryable}
			return
		}
		if len(r.textChunks) > 0 {
			for _, text := range r.textChunks {
				out <- &llmclient.TextChunk{Text: text}
			}
		} else {
			out <- &llmclient.TextChunk{Text: r.text}
		}
		out <- &llmclient.SummaryChunk{
			InputTokens:  r.inputTokens,
			OutputTokens: r.outputTokens,
			FinishReason: "stop",
		}
	}()
	return out, nil
}

// scriptedSource doubles as the engine's client source and the gateway's
// agent directory: providers without a scripted client have no key.
// advertised providers appear in Availability but still fail key
// resolution, simulating a key revoked after the availability check.
type scriptedSource struct {
	clients    map[providers.Provider]*scriptedClient
	advertised []providers.Provider
}

func newScriptedSource(ps ...providers.Provider) *scriptedSource {
	s := &scriptedSource{clients: make(map[providers.Provider]*scriptedClient)}
	for _, p := range ps {
		s.clients[p] = &scriptedClient{provider: p}
	}
	return s
}

func (s *scriptedSource) GetClient(_ context.Context, _ string, p providers.Provider) (llmclient.AgentClient, error) {
	c, ok := s.clients[p]
	if !ok {
		return nil, llmclient.ErrNoKey
	}
	return c, nil
}

func (s *scriptedSource) Availability(context.Context, string) []providers.Provider {
	var out []providers.Provider
	for _, p := range providers.All() {
		_, keyed := s.clients[p]
		if keyed || containsProvider(s.advertised, p) {
			out = append(out, p)
		}
	}
	return out
}

func (s *scriptedSource) Invalidate(string) {}

func containsProvider(ps []providers.Provider, p providers.Provider) bool {
	for _, candidate := range ps {
		if candidate == p {
			return true
		}
	}
	return false
}

// recordingEngine delegates to the real engine and keeps the options each
// run was started with, so tests can assert what the gateway assembled.
type recordingEngine struct {
	inner *workflow.Engine

	mu   sync.Mutex
	opts []workflow.Options
}

func (e *recordingEngine) Run(ctx context.Context, opts workflow.Options) *workflow.Result {
	e.mu.Lock()
	e.opts = append(e.opts, opts)
	e.mu.Unlock()
	return e.inner.Run(ctx, opts)
}

func (e *recordingEngine) lastOpts(t *testing.T) workflow.Options {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.opts)
	return e.opts[len(e.opts)-1]
}

type stack struct {
	source  *scriptedSource
	engine  *recordingEngine
	manager *gateway.ConnectionManager
	daily   *budget.MemoryDailyStore
	server  *httptest.Server
}

// newStack wires the full service the way cmd/quorum does, minus the
// database and with scripted clients in place of the SDK registry.
func newStack(t *testing.T, source *scriptedSource, defaults *config.DefaultsConfig) *stack {
	t.Helper()

	if defaults == nil {
		defaults = config.DefaultDefaultsConfig()
	}

	b := bus.New()
	limiter := dispatch.NewLimiter(0)
	policy := retry.Policy{Initial: time.Millisecond, MaxRetries: 2, Jitter: 0.2}
	engine := &recordingEngine{inner: workflow.NewEngine(source, b, limiter, policy)}
	daily := budget.NewMemoryDailyStore()

	manager := gateway.NewConnectionManager(gateway.ManagerConfig{
		Engine:    engine,
		Directory: source,
		Bus:       b,
		Contexts:  contextstore.NewStore(contextstore.NewMemoryPersister()),
		Daily:     daily,
		Defaults:  defaults,
		// Long ping interval so liveness does not interleave with the
		// frames under test.
		PingInterval: time.Minute,
	})

	cfg := &config.Config{
		System:        config.DefaultSystemConfig(),
		Defaults:      defaults,
		Collaboration: config.DefaultCollaborationConfig(),
	}
	apiServer := api.NewServer(cfg, nil, manager)

	server := httptest.NewServer(apiServer.Handler())
	t.Cleanup(server.Close)

	return &stack{
		source:  source,
		engine:  engine,
		manager: manager,
		daily:   daily,
		server:  server,
	}
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	ctx  context.Context
}

func dial(t *testing.T, s *stack) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	c := &wsClient{t: t, conn: conn, ctx: ctx}
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

// readUntil skips frames until one of the wanted type arrives.
func (c *wsClient) readUntil(frameType string) map[string]any {
	c.t.Helper()
	for {
		frame := c.readFrame()
		if frame["type"] == frameType {
			return frame
		}
	}
}

// readCollaboration collects every frame up to and including the terminal
// model_status{status:complete}.
func (c *wsClient) readCollaboration() []map[string]any {
	c.t.Helper()
	var frames []map[string]any
	for {
		frame := c.readFrame()
		frames = append(frames, frame)
		if frame["type"] == "model_status" && frame["status"] == "complete" {
			return frames
		}
	}
}

func (c *wsClient) authenticate(userID string) map[string]any {
	c.t.Helper()
	c.send(map[string]any{"type": "authenticate", "userId": userID})
	return c.readUntil("authenticated")
}

// collabContent returns the content of the final collab response frame.
func collabContent(t *testing.T, frames []map[string]any) string {
	t.Helper()
	for _, f := range frames {
		if f["type"] == "response" && f["target"] == "collab" && f["start"] == true {
			content, _ := f["content"].(string)
			return content
		}
	}
	t.Fatal("no collab response frame in transcript")
	return ""
}
