// Package gateway owns the WebSocket session layer: connection lifecycle,
// authentication, frame routing, and fan-out of collaboration events to the
// client. One ConnectionManager instance serves the whole process.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/codeready-toolchain/quorum/pkg/budget"
	"github.com/codeready-toolchain/quorum/pkg/bus"
	"github.com/codeready-toolchain/quorum/pkg/config"
	"github.com/codeready-toolchain/quorum/pkg/contextstore"
	"github.com/codeready-toolchain/quorum/pkg/keystore"
	"github.com/codeready-toolchain/quorum/pkg/providers"
	"github.com/codeready-toolchain/quorum/pkg/workflow"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second

	// maxMissedPongs is how many liveness pings may go unanswered before
	// the connection is terminated.
	maxMissedPongs = 2
)

// CollaborationRunner executes one collaboration. Implemented by
// workflow.Engine.
type CollaborationRunner interface {
	Run(ctx context.Context, opts workflow.Options) *workflow.Result
}

// AgentDirectory answers which providers a user can reach and drops cached
// clients when keys change. Implemented by llmclient.Registry.
type AgentDirectory interface {
	Availability(ctx context.Context, userID string) []providers.Provider
	Invalidate(userID string)
}

// CommandRunner executes slash commands through the external CLI
// collaborator. Optional; sessions without one reject command frames.
type CommandRunner interface {
	Run(ctx context.Context, userID, command string) (string, error)
}

// ManagerConfig wires the ConnectionManager's collaborators.
type ManagerConfig struct {
	Engine    CollaborationRunner
	Directory AgentDirectory
	Bus       *bus.Bus
	Contexts  *contextstore.Store
	Daily     budget.DailyStore
	Keys      keystore.Store // optional
	Command   CommandRunner  // optional

	Defaults       *config.DefaultsConfig
	ModelOverrides map[providers.Provider]string

	PingInterval time.Duration
	WriteTimeout time.Duration
}

// ConnectionManager manages WebSocket connections and their sessions.
// Each Go process has one ConnectionManager instance.
type ConnectionManager struct {
	engine    CollaborationRunner
	directory AgentDirectory
	bus       *bus.Bus
	contexts  *contextstore.Store
	daily     budget.DailyStore
	keys      keystore.Store
	command   CommandRunner

	defaults       *config.DefaultsConfig
	modelOverrides map[providers.Provider]string

	pingInterval time.Duration
	writeTimeout time.Duration

	// Active connections: connection_id → *Connection
	connections map[string]*Connection
	mu          sync.RWMutex
}

// Connection represents a single WebSocket client and its session.
//
// session frame handling happens on the single goroutine that owns this
// connection (HandleConnection's read loop); only the fields the session
// struct guards with its own mutex are touched from collaboration
// goroutines.
type Connection struct {
	ID      string
	Conn    *websocket.Conn
	session *session

	ctx    context.Context
	cancel context.CancelFunc

	missedPongs atomic.Int32
}

// NewConnectionManager creates a ConnectionManager.
func NewConnectionManager(cfg ManagerConfig) *ConnectionManager {
	if cfg.Defaults == nil {
		cfg.Defaults = config.DefaultDefaultsConfig()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &ConnectionManager{
		engine:         cfg.Engine,
		directory:      cfg.Directory,
		bus:            cfg.Bus,
		contexts:       cfg.Contexts,
		daily:          cfg.Daily,
		keys:           cfg.Keys,
		command:        cfg.Command,
		defaults:       cfg.Defaults,
		modelOverrides: cfg.ModelOverrides,
		pingInterval:   cfg.PingInterval,
		writeTimeout:   cfg.WriteTimeout,
		connections:    make(map[string]*Connection),
	}
}

// HandleConnection manages the lifecycle of a single WebSocket connection.
// Called by the WebSocket HTTP handler after upgrade. Blocks until the
// connection closes.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn) {
	connID := uuid.New().String()
	ctx, cancel := context.WithCancel(parentCtx)

	c := &Connection{
		ID:   connID,
		Conn: conn,
		session: &session{
			id:    uuid.New().String(),
			state: StateConnecting,
		},
		ctx:    ctx,
		cancel: cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": connID,
	})

	go m.livenessLoop(c)

	// Read loop: process client frames until the connection closes.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var frame InboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			slog.Warn("Invalid WebSocket frame",
				"connection_id", connID, "error", err)
			m.sendJSON(c, errorFrame("invalid JSON frame"))
			continue
		}

		// Any inbound frame proves the client is alive.
		c.missedPongs.Store(0)

		if closed := m.dispatchFrame(ctx, c, &frame); closed {
			return
		}
	}
}

// livenessLoop sends periodic pings and terminates connections that stop
// answering.
func (m *ConnectionManager) livenessLoop(c *Connection) {
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.missedPongs.Add(1) > maxMissedPongs {
				slog.Info("Closing unresponsive WebSocket connection",
					"connection_id", c.ID)
				_ = c.Conn.Close(websocket.StatusPolicyViolation, "liveness timeout")
				c.cancel()
				return
			}
			m.sendJSON(c, map[string]string{"type": "ping"})
		}
	}
}

// dispatchFrame routes one inbound frame. Returns true when the connection
// must close (internal invariant violation).
func (m *ConnectionManager) dispatchFrame(ctx context.Context, c *Connection, f *InboundFrame) (closed bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic handling WebSocket frame",
				"connection_id", c.ID, "frame_type", f.Type, "panic", r)
			_ = c.Conn.Close(websocket.StatusInternalError, "internal error")
			c.cancel()
			closed = true
		}
	}()

	switch f.Type {
	case FramePing:
		m.sendJSON(c, map[string]string{"type": "pong"})
		return false
	case FramePong:
		c.missedPongs.Store(0)
		return false
	case FrameAuthenticate:
		m.handleAuthenticate(ctx, c, f)
		return false
	}

	if !c.session.authenticated() {
		m.sendJSON(c, errorFrame("authentication required"))
		return false
	}

	switch f.Type {
	case FrameChat:
		m.handleChat(ctx, c, f)
	case FrameCommand:
		m.handleCommand(ctx, c, f)
	case FrameSetCollabMode:
		m.handleSetCollabMode(c, f)
	case FrameSetCollabStyle:
		m.handleSetCollabStyle(c, f)
	case FrameCancelCollab:
		m.handleCancelCollaboration(c)
	case FrameContextStatus:
		m.handleContextStatus(c)
	case FrameResetContext:
		m.handleResetContext(ctx, c)
	case FrameTrimContext:
		m.handleTrimContext(c)
	case FrameSetMaxContextSize:
		m.handleSetMaxContextSize(c, f)
	case FrameSetContextMode:
		m.handleSetContextMode(c, f)
	case FrameGetSessionCost:
		m.sendJSON(c, map[string]any{
			"type":     "session_cost",
			"totalUsd": c.session.spent(),
		})
	case FrameGetDailyCost:
		m.handleGetDailyCost(ctx, c)
	case FrameSetBudgetLimit:
		m.handleSetBudgetLimit(ctx, c, f)
	case FrameSetAPIKey:
		m.handleSetAPIKey(ctx, c, f)
	case FrameDeleteAPIKey:
		m.handleDeleteAPIKey(ctx, c, f)
	case FrameListAPIKeys:
		m.handleListAPIKeys(ctx, c)
	case FrameDebugPing:
		m.sendJSON(c, map[string]string{
			"type": "debug_pong",
			"time": time.Now().UTC().Format(time.RFC3339Nano),
		})
	default:
		slog.Warn("Unsupported WebSocket frame type",
			"connection_id", c.ID, "frame_type", f.Type)
		m.sendJSON(c, errorFrame("unsupported message type"))
	}
	return false
}

// ActiveConnections returns the count of active WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// CloseAll terminates every connection. Used during graceful shutdown.
func (m *ConnectionManager) CloseAll(reason string) {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.mu.RUnlock()

	for _, c := range conns {
		c.session.cancelActive()
		_ = c.Conn.Close(websocket.StatusGoingAway, reason)
		c.cancel()
	}
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.session.cancelActive()
	c.session.setState(StateClosed)
	if m.bus != nil {
		m.bus.Release(c.session.id)
	}
	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

// sendJSON marshals and sends a JSON frame to a single connection.
func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket frame",
			"connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("Failed to send WebSocket frame",
			"connection_id", c.ID, "error", err)
	}
}

// sendRaw sends raw bytes to a single connection with a write timeout.
func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}

// handleAuthenticate binds the connection to a user and prepares its
// conversation context. Clears the registry's client cache for the user so
// key changes made elsewhere take effect immediately.
func (m *ConnectionManager) handleAuthenticate(ctx context.Context, c *Connection, f *InboundFrame) {
	if f.UserID == "" {
		m.sendJSON(c, errorFrame("userId is required"))
		return
	}
	if c.session.authenticated() {
		m.sendJSON(c, errorFrame("already authenticated"))
		return
	}

	m.directory.Invalidate(f.UserID)

	s := c.session
	s.userID = f.UserID
	s.settings = collabSettings{
		Mode:                m.defaults.CollabMode,
		Style:               m.defaults.CollabStyle,
		CostCapUSD:          m.defaults.CostCapUSD,
		DeadlineSeconds:     m.defaults.DeadlineSeconds,
		IgnoreFailingModels: m.defaults.IgnoreFailingModels == nil || *m.defaults.IgnoreFailingModels,
	}

	cc, err := m.contexts.GetOrCreate(ctx, f.UserID, s.id)
	s.context = cc
	if err != nil {
		var unavailable *contextstore.UnavailableError
		if errors.As(err, &unavailable) {
			slog.Warn("Context persistence unavailable, session degraded",
				"connection_id", c.ID, "user_id", f.UserID, "error", err)
			s.setState(StateDegraded)
		} else {
			m.sendJSON(c, errorFrame("failed to prepare session context"))
			return
		}
	} else {
		s.setState(StateAuthenticated)
	}

	_ = cc.SetMode(m.defaults.ContextMode)
	cc.SetMaxSize(m.defaults.MaxContextSize)

	m.sendJSON(c, map[string]any{
		"type":      "authenticated",
		"userId":    f.UserID,
		"sessionId": s.id,
		"degraded":  s.isDegraded(),
	})
}

func (m *ConnectionManager) handleGetDailyCost(ctx context.Context, c *Connection) {
	total, err := m.daily.Total(ctx, c.session.userID, budget.Today())
	if err != nil {
		m.sendJSON(c, errorFrame("daily cost unavailable"))
		return
	}
	limit, err := m.daily.Limit(ctx, c.session.userID)
	if err != nil {
		m.sendJSON(c, errorFrame("daily cost unavailable"))
		return
	}
	if limit <= 0 {
		// No per-user limit: report the configured default cap, if any.
		limit = m.defaults.DailyCapUSD
	}
	m.sendJSON(c, map[string]any{
		"type":     "daily_cost",
		"totalUsd": total,
		"limitUsd": limit,
	})
}

func (m *ConnectionManager) handleSetBudgetLimit(ctx context.Context, c *Connection, f *InboundFrame) {
	if f.LimitUSD < 0 {
		m.sendJSON(c, errorFrame("limitUsd must not be negative"))
		return
	}
	if err := m.daily.SetLimit(ctx, c.session.userID, f.LimitUSD); err != nil {
		m.sendJSON(c, errorFrame("failed to set budget limit"))
		return
	}
	m.sendJSON(c, map[string]any{
		"type":     "budget_limit_set",
		"limitUsd": f.LimitUSD,
	})
}

func (m *ConnectionManager) handleCommand(ctx context.Context, c *Connection, f *InboundFrame) {
	if m.command == nil {
		m.sendJSON(c, errorFrame("command execution is not available"))
		return
	}
	if f.Command == "" {
		m.sendJSON(c, errorFrame("command is required"))
		return
	}
	output, err := m.command.Run(ctx, c.session.userID, f.Command)
	if err != nil {
		m.sendJSON(c, errorFrame("command failed: "+err.Error()))
		return
	}
	m.sendJSON(c, map[string]any{
		"type":   "command_result",
		"output": output,
	})
}
