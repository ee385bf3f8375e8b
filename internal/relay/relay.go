// Package relay applies inbound agent and viewer events to the registry and
// fans the resulting state out to every connection.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
	"github.com/tejasdessai01/agentwatch-app/internal/hub"
	"github.com/tejasdessai01/agentwatch-app/internal/policy"
	"github.com/tejasdessai01/agentwatch-app/internal/protocol"
	"github.com/tejasdessai01/agentwatch-app/internal/registry"
)

// Broadcaster is the fan-out side of the hub.
type Broadcaster interface {
	Register(conn *hub.Connection)
	Unregister(conn *hub.Connection)
	Broadcast(data []byte) int
	SendToConnection(conn *hub.Connection, data []byte) error
}

// KillPolicy decides whether a kill request may proceed.
type KillPolicy interface {
	Evaluate(ctx context.Context, input policy.KillInput) (domain.KillDecision, error)
}

// Relay owns the mutation path. Every mutation and its broadcast happen
// under mu, so each connection sees updates in mutation order.
type Relay struct {
	mu       sync.Mutex
	registry *registry.Registry
	hub      Broadcaster
	policy   KillPolicy
	logger   *slog.Logger
}

// New creates a relay. policy may be nil, in which case every kill is allowed.
func New(reg *registry.Registry, h Broadcaster, killPolicy KillPolicy, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		registry: reg,
		hub:      h,
		policy:   killPolicy,
		logger:   logger.With("component", "relay"),
	}
}

// Registry exposes the underlying state for read-only collaborators.
func (r *Relay) Registry() *registry.Registry {
	return r.registry
}

// Attach registers an authenticated connection and queues the initial
// state as its first frame.
func (r *Relay) Attach(conn *hub.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := json.Marshal(protocol.NewInitialState(r.registry.SnapshotAll()))
	if err != nil {
		return fmt.Errorf("marshal initial state: %w", err)
	}
	// Broadcasts also run under r.mu, so initial_state is always queued first.
	r.hub.Register(conn)
	if err := r.hub.SendToConnection(conn, data); err != nil {
		r.hub.Unregister(conn)
		return fmt.Errorf("queue initial state: %w", err)
	}
	return nil
}

// Detach removes a connection. Agent records are left untouched.
func (r *Relay) Detach(conn *hub.Connection) {
	r.hub.Unregister(conn)
}

// HandleMessage decodes one inbound frame and applies it. Malformed frames,
// unknown types and unknown agents are dropped without a reply.
func (r *Relay) HandleMessage(ctx context.Context, conn *hub.Connection, data []byte) {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		r.logger.Debug("dropping inbound message", "conn_id", connID(conn), "error", err)
		return
	}

	switch m := msg.(type) {
	case *protocol.RegisterMessage:
		r.Register(m)
	case *protocol.ReportMessage:
		r.Report(m)
	case *protocol.KillRequestMessage:
		if err := r.Kill(ctx, m.TargetID, connID(conn)); err != nil {
			r.logger.Info("kill request rejected", "target_id", m.TargetID, "error", err)
		}
	}
}

// Register upserts the agent and broadcasts its record.
func (r *Relay) Register(msg *protocol.RegisterMessage) domain.AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := r.registry.Upsert(msg.ID, registry.RegisterFields{
		Name:   msg.Name,
		Status: domain.AgentStatus(msg.Status),
	})
	r.broadcastLocked(protocol.NewRecordUpdated(rec))
	r.logger.Info("agent registered", "agent_id", rec.ID, "name", rec.Name)
	return rec
}

// Report merges a report into a known agent and broadcasts the result.
// Reports for unknown agents produce nothing.
func (r *Relay) Report(msg *protocol.ReportMessage) (domain.AgentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.registry.Report(msg.ID, registry.ReportFields{
		Message: msg.Message,
		Status:  domain.AgentStatus(msg.Status),
		Metrics: msg.Metrics,
	})
	if !ok {
		r.logger.Debug("report for unknown agent dropped", "agent_id", msg.ID)
		return domain.AgentRecord{}, false
	}
	r.broadcastLocked(protocol.NewRecordUpdated(rec))
	return rec, true
}

// Kill marks the target killed (if known) and broadcasts the kill signal,
// followed by the updated record. There is no confirmation that the agent
// actually exits.
func (r *Relay) Kill(ctx context.Context, targetID, source string) error {
	if targetID == "" {
		return fmt.Errorf("%w: target_id is required", domain.ErrMalformedPayload)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	current, known := r.registry.Get(targetID)
	if r.policy != nil {
		decision, err := r.policy.Evaluate(ctx, policy.KillInput{
			TargetID:     targetID,
			TargetStatus: string(current.Status),
			TargetKnown:  known,
			Source:       source,
		})
		if err != nil {
			r.logger.Warn("kill policy evaluation failed, allowing", "target_id", targetID, "error", err)
		} else if decision == domain.KillDecisionBlock {
			return fmt.Errorf("%w: %s", domain.ErrKillBlocked, targetID)
		}
	}

	rec, existed := r.registry.SetStatus(targetID, domain.AgentStatusKilled)
	r.broadcastLocked(protocol.NewKillSignal(targetID))
	if existed {
		r.broadcastLocked(protocol.NewRecordUpdated(rec))
	}
	r.logger.Info("kill signal broadcast", "target_id", targetID, "known", existed, "source", source)
	return nil
}

func (r *Relay) broadcastLocked(msg protocol.Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		r.logger.Error("failed to marshal broadcast", "error", err)
		return
	}
	r.hub.Broadcast(data)
}

func connID(conn *hub.Connection) string {
	if conn == nil {
		return ""
	}
	return conn.ID
}
