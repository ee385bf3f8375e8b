package domain

import "time"

// MaxLogEntries bounds the log history kept per agent.
const MaxLogEntries = 50

// LogEntry is one line reported by an agent.
type LogEntry struct {
	Timestamp int64  `json:"timestamp"` // unix ms
	Message   string `json:"message"`
}

// AgentRecord is the relay's view of one agent.
type AgentRecord struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Status        AgentStatus    `json:"status"`
	Logs          []LogEntry     `json:"logs"`
	Metrics       map[string]any `json:"metrics"`
	LastHeartbeat int64          `json:"last_heartbeat"` // unix ms
}

// Clone returns a deep copy of the record. Metric values are scalars, so a
// shallow copy of the map values is enough.
func (a AgentRecord) Clone() AgentRecord {
	out := a
	out.Logs = make([]LogEntry, len(a.Logs))
	copy(out.Logs, a.Logs)
	out.Metrics = make(map[string]any, len(a.Metrics))
	for k, v := range a.Metrics {
		out.Metrics[k] = v
	}
	return out
}

// ShareSnapshot is an immutable copy of an agent record exposed through a
// share link.
type ShareSnapshot struct {
	ShareID   string      `json:"share_id"`
	Agent     AgentRecord `json:"agent"`
	CreatedAt time.Time   `json:"created_at"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// Expired reports whether the snapshot is past its expiry at now.
func (s *ShareSnapshot) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}
