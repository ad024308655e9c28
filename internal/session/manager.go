// Package session owns the per-tenant connection state machine. All
// runtime connection state lives in the manager's registry; the tenant
// record only mirrors it for the outside world.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Didihazan/WhatsApp-Bot/internal/cache"
	"github.com/Didihazan/WhatsApp-Bot/internal/model"
	"github.com/Didihazan/WhatsApp-Bot/internal/transport"
)

type State string

const (
	StateDisconnected    State = "disconnected"
	StateConnecting      State = "connecting"
	StateAwaitingPairing State = "awaiting_pairing"
	StateConnected       State = "connected"
	StateFailed          State = "failed"
)

var (
	ErrNotConnected   = errors.New("whatsapp not connected for this tenant")
	ErrConnectTimeout = errors.New("connection timeout")
	ErrAuthFailed     = errors.New("authentication failed")
)

// StatusStore is the slice of the tenant store the manager writes
// connection transitions to.
type StatusStore interface {
	SetConnectionStatus(ctx context.Context, id string, connected bool, lastConnectedAt *time.Time) error
	SetPairingCode(ctx context.Context, id string, code *string) error
}

// Status is a pure snapshot of one tenant's session.
type Status struct {
	Connected   bool       `json:"connected"`
	State       State      `json:"state"`
	PairingCode *string    `json:"pairingCode"`
	GroupCount  int        `json:"groupCount"`
	Since       *time.Time `json:"since,omitempty"`
	// Reason carries the last failure when the session is down.
	Reason string `json:"reason,omitempty"`
}

// connectCall is the in-flight marker for a connect operation. A second
// concurrent connect attaches to the same call instead of starting new
// work; result is written exactly once, before done is closed.
type connectCall struct {
	done   chan struct{}
	result model.Result
}

type session struct {
	state           State
	client          transport.Client
	groups          []model.Group
	pairingCode     string
	pairingIssuedAt time.Time
	connectedSince  time.Time
	failReason      string
	pending         *connectCall
}

type Manager struct {
	factory        transport.Factory
	store          StatusStore
	pairing        cache.PairingCache // optional, may be nil
	onTransition   func(tenantID string, connected bool)
	connectTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

func NewManager(factory transport.Factory, store StatusStore, connectTimeout time.Duration) *Manager {
	if connectTimeout <= 0 {
		connectTimeout = 60 * time.Second
	}
	return &Manager{
		factory:        factory,
		store:          store,
		connectTimeout: connectTimeout,
		sessions:       make(map[string]*session),
	}
}

// WithPairingCache publishes fresh pairing codes to a short-TTL cache in
// addition to the tenant record.
func (m *Manager) WithPairingCache(c cache.PairingCache) *Manager {
	m.pairing = c
	return m
}

// WithTransitionHook registers a callback invoked after every persisted
// up/down transition. Must not block for long; it runs on the session's
// event path.
func (m *Manager) WithTransitionHook(fn func(tenantID string, connected bool)) *Manager {
	m.onTransition = fn
	return m
}

// Connect brings the tenant's session up. If a connect is already in
// flight the caller awaits that same operation; exactly one transport
// client exists per tenant at any time.
func (m *Manager) Connect(ctx context.Context, tenantID string) model.Result {
	m.mu.Lock()
	s := m.ensureLocked(tenantID)

	if call := s.pending; call != nil {
		m.mu.Unlock()
		return awaitCall(ctx, call)
	}

	if s.state == StateConnected {
		m.mu.Unlock()
		return model.Result{Success: true, Message: "Already connected"}
	}

	if s.client == nil {
		client, err := m.factory.NewClient(tenantID)
		if err != nil {
			s.state = StateFailed
			s.failReason = err.Error()
			m.mu.Unlock()
			slog.Error("transport client creation failed", "tenant", tenantID, "error", err)
			return model.Result{Success: false, Message: fmt.Sprintf("Connection failed: %v", err)}
		}
		s.client = client
		go m.consumeEvents(tenantID, client)
	}

	call := &connectCall{done: make(chan struct{})}
	s.pending = call
	s.state = StateConnecting
	client := s.client
	m.mu.Unlock()

	slog.Info("connecting", "tenant", tenantID)

	if err := client.Connect(ctx); err != nil {
		m.abortConnect(tenantID, call, fmt.Sprintf("Connection failed: %v", err))
		return awaitCall(ctx, call)
	}

	go m.watchTimeout(tenantID, call)

	return awaitCall(ctx, call)
}

// Disconnect tears the tenant's session down. Idempotent: succeeds when
// there is nothing to tear down.
func (m *Manager) Disconnect(ctx context.Context, tenantID string) model.Result {
	m.mu.Lock()
	s := m.sessions[tenantID]
	if s == nil || s.client == nil {
		if s != nil {
			s.state = StateDisconnected
			s.groups = nil
			s.pairingCode = ""
		}
		m.mu.Unlock()
		return model.Result{Success: true, Message: "Already disconnected"}
	}

	client := s.client
	call := s.pending
	s.client = nil
	s.pending = nil
	s.groups = nil
	s.pairingCode = ""
	s.failReason = ""
	s.state = StateDisconnected
	m.mu.Unlock()

	err := client.Destroy()

	if call != nil {
		resolveCall(call, model.Result{Success: false, Message: "Connection aborted"})
	}

	m.persistStatus(tenantID, false, nil)
	m.clearPairing(tenantID)

	if err != nil {
		slog.Error("transport teardown failed", "tenant", tenantID, "error", err)
		return model.Result{Success: false, Message: err.Error()}
	}

	slog.Info("disconnected", "tenant", tenantID)
	return model.Result{Success: true, Message: "Disconnected successfully"}
}

// Status reads the current session snapshot. Never blocks on the
// transport.
func (m *Manager) Status(tenantID string) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[tenantID]
	if s == nil {
		return Status{State: StateDisconnected}
	}

	st := Status{
		Connected:  s.state == StateConnected,
		State:      s.state,
		GroupCount: len(s.groups),
	}
	if s.state == StateAwaitingPairing && s.pairingCode != "" {
		code := s.pairingCode
		st.PairingCode = &code
	}
	if s.state == StateConnected && !s.connectedSince.IsZero() {
		since := s.connectedSince
		st.Since = &since
	}
	if s.state != StateConnected {
		st.Reason = s.failReason
	}
	return st
}

// ClientFor hands out the tenant's transport client for message
// dispatch. Fails with ErrNotConnected unless the session is up.
func (m *Manager) ClientFor(tenantID string) (transport.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.sessions[tenantID]
	if s == nil || s.state != StateConnected || s.client == nil {
		return nil, ErrNotConnected
	}
	return s.client, nil
}

func (m *Manager) IsConnected(tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[tenantID]
	return s != nil && s.state == StateConnected
}

// consumeEvents is the single owning task for one client's lifecycle
// events. It exits when Destroy closes the event channel. Events from a
// superseded client generation are dropped by the s.client identity
// checks in the handlers.
func (m *Manager) consumeEvents(tenantID string, client transport.Client) {
	for ev := range client.Events() {
		switch ev.Type {
		case transport.EventPairing:
			m.handlePairing(tenantID, client, ev.Code)
		case transport.EventReady:
			m.handleReady(tenantID, client)
		case transport.EventAuthFailure:
			m.handleAuthFailure(tenantID, client, ev.Reason)
		case transport.EventDisconnected:
			m.handleDropped(tenantID, client, ev.Reason)
		}
	}
}

func (m *Manager) handlePairing(tenantID string, client transport.Client, code string) {
	m.mu.Lock()
	s := m.sessions[tenantID]
	if s == nil || s.client != client {
		m.mu.Unlock()
		return
	}
	// A fresh code always overwrites a stale one.
	s.state = StateAwaitingPairing
	s.pairingCode = code
	s.pairingIssuedAt = time.Now()
	m.mu.Unlock()

	slog.Info("pairing code issued", "tenant", tenantID)

	ctx, cancel := persistCtx()
	defer cancel()
	if err := m.store.SetPairingCode(ctx, tenantID, &code); err != nil {
		slog.Error("persisting pairing code failed", "tenant", tenantID, "error", err)
	}
	if m.pairing != nil {
		if err := m.pairing.StorePairingCode(ctx, tenantID, code); err != nil {
			slog.Warn("caching pairing code failed", "tenant", tenantID, "error", err)
		}
	}
}

func (m *Manager) handleReady(tenantID string, client transport.Client) {
	now := time.Now()

	m.mu.Lock()
	s := m.sessions[tenantID]
	if s == nil || s.client != client {
		m.mu.Unlock()
		return
	}
	s.state = StateConnected
	s.connectedSince = now
	s.pairingCode = ""
	s.failReason = ""
	call := s.pending
	s.pending = nil
	m.mu.Unlock()

	slog.Info("session ready", "tenant", tenantID)

	if call != nil {
		resolveCall(call, model.Result{Success: true, Message: "Connected successfully"})
	}

	m.persistStatus(tenantID, true, &now)
	m.clearPairing(tenantID)

	ctx, cancel := persistCtx()
	defer cancel()
	if _, err := m.RefreshGroups(ctx, tenantID); err != nil {
		slog.Error("group load after connect failed", "tenant", tenantID, "error", err)
	}
}

func (m *Manager) handleAuthFailure(tenantID string, client transport.Client, reason string) {
	m.mu.Lock()
	s := m.sessions[tenantID]
	if s == nil || s.client != client {
		m.mu.Unlock()
		return
	}
	call := s.pending
	s.pending = nil
	s.client = nil
	s.groups = nil
	s.pairingCode = ""
	s.state = StateDisconnected
	s.failReason = reason
	m.mu.Unlock()

	slog.Error("authentication failed", "tenant", tenantID, "reason", reason)

	_ = client.Destroy()

	if call != nil {
		resolveCall(call, model.Result{Success: false, Message: fmt.Sprintf("Authentication failed: %s", reason)})
	}

	m.persistStatus(tenantID, false, nil)
	m.clearPairing(tenantID)
}

// handleDropped runs the same cleanup path as an explicit disconnect so
// persisted status stays consistent with runtime state.
func (m *Manager) handleDropped(tenantID string, client transport.Client, reason string) {
	m.mu.Lock()
	s := m.sessions[tenantID]
	if s == nil || s.client != client {
		m.mu.Unlock()
		return
	}
	call := s.pending
	s.pending = nil
	s.client = nil
	s.groups = nil
	s.pairingCode = ""
	s.state = StateDisconnected
	s.failReason = reason
	m.mu.Unlock()

	slog.Warn("session dropped", "tenant", tenantID, "reason", reason)

	_ = client.Destroy()

	if call != nil {
		msg := "Disconnected"
		if reason != "" {
			msg = fmt.Sprintf("Disconnected: %s", reason)
		}
		resolveCall(call, model.Result{Success: false, Message: msg})
	}

	m.persistStatus(tenantID, false, nil)
	m.clearPairing(tenantID)
}

// watchTimeout enforces the fixed connect deadline: no terminal event
// within the window tears the attempt down.
func (m *Manager) watchTimeout(tenantID string, call *connectCall) {
	timer := time.NewTimer(m.connectTimeout)
	defer timer.Stop()

	select {
	case <-call.done:
		return
	case <-timer.C:
	}

	m.mu.Lock()
	s := m.sessions[tenantID]
	if s == nil || s.pending != call {
		m.mu.Unlock()
		return
	}
	client := s.client
	s.pending = nil
	s.client = nil
	s.groups = nil
	s.pairingCode = ""
	s.state = StateDisconnected
	s.failReason = ErrConnectTimeout.Error()
	m.mu.Unlock()

	slog.Warn("connect timed out", "tenant", tenantID, "timeout", m.connectTimeout)

	if client != nil {
		_ = client.Destroy()
	}

	resolveCall(call, model.Result{Success: false, Message: "Connection timeout"})

	m.persistStatus(tenantID, false, nil)
	m.clearPairing(tenantID)
}

// abortConnect resolves a connect attempt that failed before any
// lifecycle event could arrive.
func (m *Manager) abortConnect(tenantID string, call *connectCall, msg string) {
	m.mu.Lock()
	s := m.sessions[tenantID]
	if s == nil || s.pending != call {
		m.mu.Unlock()
		return
	}
	client := s.client
	s.pending = nil
	s.client = nil
	s.state = StateFailed
	s.failReason = msg
	m.mu.Unlock()

	if client != nil {
		_ = client.Destroy()
	}

	resolveCall(call, model.Result{Success: false, Message: msg})

	m.persistStatus(tenantID, false, nil)
}

func (m *Manager) ensureLocked(tenantID string) *session {
	s := m.sessions[tenantID]
	if s == nil {
		s = &session{state: StateDisconnected}
		m.sessions[tenantID] = s
	}
	return s
}

func (m *Manager) persistStatus(tenantID string, connected bool, lastConnectedAt *time.Time) {
	ctx, cancel := persistCtx()
	defer cancel()

	if err := m.store.SetConnectionStatus(ctx, tenantID, connected, lastConnectedAt); err != nil {
		slog.Error("persisting connection status failed", "tenant", tenantID, "error", err)
	}
	// The code is only meaningful mid-pairing; both an up and a down
	// transition retire it from the tenant record.
	if err := m.store.SetPairingCode(ctx, tenantID, nil); err != nil {
		slog.Error("clearing pairing code failed", "tenant", tenantID, "error", err)
	}

	if m.onTransition != nil {
		m.onTransition(tenantID, connected)
	}
}

func (m *Manager) clearPairing(tenantID string) {
	if m.pairing == nil {
		return
	}
	ctx, cancel := persistCtx()
	defer cancel()
	if err := m.pairing.ClearPairingCode(ctx, tenantID); err != nil {
		slog.Warn("clearing cached pairing code failed", "tenant", tenantID, "error", err)
	}
}

func persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func awaitCall(ctx context.Context, call *connectCall) model.Result {
	select {
	case <-call.done:
		return call.result
	case <-ctx.Done():
		// The shared operation keeps running; only this caller gives up.
		return model.Result{Success: false, Message: ctx.Err().Error()}
	}
}

func resolveCall(call *connectCall, res model.Result) {
	call.result = res
	close(call.done)
}
