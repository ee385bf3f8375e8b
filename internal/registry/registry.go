// Package registry holds the in-memory agent state owned by the relay.
package registry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
)

// RegisterFields are the optional fields merged by Upsert.
type RegisterFields struct {
	Name   string
	Status domain.AgentStatus
}

// ReportFields are the optional parts of a report. A nil Message means no
// log line; an empty Status leaves the status unchanged.
type ReportFields struct {
	Message *string
	Status  domain.AgentStatus
	Metrics map[string]any
}

// agentState is the mutable record kept per id.
type agentState struct {
	id            string
	name          string
	status        domain.AgentStatus
	logs          logRing
	metrics       map[string]any
	lastHeartbeat time.Time
}

func (a *agentState) record() domain.AgentRecord {
	metrics := make(map[string]any, len(a.metrics))
	for k, v := range a.metrics {
		metrics[k] = v
	}
	return domain.AgentRecord{
		ID:            a.id,
		Name:          a.name,
		Status:        a.status,
		Logs:          a.logs.entries(),
		Metrics:       metrics,
		LastHeartbeat: a.lastHeartbeat.UnixMilli(),
	}
}

// Registry maps agent id to agent state. All methods are safe for
// concurrent use and return deep copies.
type Registry struct {
	mu     sync.Mutex
	agents map[string]*agentState
	now    func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*agentState),
		now:    time.Now,
	}
}

// SetClock replaces the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Get returns the record for id.
func (r *Registry) Get(id string) (domain.AgentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	if !ok {
		return domain.AgentRecord{}, false
	}
	return a.record(), true
}

// Upsert creates the record if needed and merges the provided fields.
// Re-registration never resets logs or metrics.
func (r *Registry) Upsert(id string, fields RegisterFields) domain.AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		a = &agentState{
			id:      id,
			name:    id,
			status:  domain.AgentStatusIdle,
			logs:    newLogRing(domain.MaxLogEntries),
			metrics: make(map[string]any, len(domain.CumulativeMetrics)),
		}
		for _, key := range domain.CumulativeMetrics {
			a.metrics[key] = float64(0)
		}
		r.agents[id] = a
	}

	a.lastHeartbeat = r.now()
	if fields.Name != "" {
		a.name = fields.Name
	}
	if fields.Status != "" {
		a.status = fields.Status
	}
	return a.record()
}

// AppendLog pushes a log line. Unknown ids are ignored.
func (r *Registry) AppendLog(id, message string) (domain.AgentRecord, bool) {
	return r.Report(id, ReportFields{Message: &message})
}

// ApplyMetrics merges a metric delta. Unknown ids are ignored.
func (r *Registry) ApplyMetrics(id string, delta map[string]any) (domain.AgentRecord, bool) {
	return r.Report(id, ReportFields{Metrics: delta})
}

// SetStatus overwrites the status and nothing else; the heartbeat only
// moves on events from the agent itself. Unknown ids are ignored.
func (r *Registry) SetStatus(id string, status domain.AgentStatus) (domain.AgentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return domain.AgentRecord{}, false
	}
	a.status = status
	return a.record(), true
}

// Report applies a log line, a metric delta and a status change as one
// mutation. Unknown ids are ignored.
func (r *Registry) Report(id string, fields ReportFields) (domain.AgentRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return domain.AgentRecord{}, false
	}

	now := r.now()
	a.lastHeartbeat = now
	if fields.Message != nil {
		a.logs.push(domain.LogEntry{Timestamp: now.UnixMilli(), Message: *fields.Message})
	}
	for key, value := range fields.Metrics {
		mergeMetric(a.metrics, key, value)
	}
	if fields.Status != "" {
		a.status = fields.Status
	}
	return a.record(), true
}

// SnapshotAll returns every record keyed by id.
func (r *Registry) SnapshotAll() map[string]domain.AgentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.AgentRecord, len(r.agents))
	for id, a := range r.agents {
		out[id] = a.record()
	}
	return out
}

// Len returns the number of known agents.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.agents)
}

func mergeMetric(metrics map[string]any, key string, value any) {
	if !domain.IsCumulativeMetric(key) {
		metrics[key] = value
		return
	}
	delta, ok := toFloat(value)
	if !ok {
		// A non-numeric value cannot be added; keep the running total.
		return
	}
	current, _ := toFloat(metrics[key])
	metrics[key] = current + delta
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
