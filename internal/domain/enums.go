// Package domain defines the core domain models for the relay.
package domain

// AgentStatus is the open status tag of an agent. Reporters may send values
// outside the known set; they are stored verbatim.
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusWorking AgentStatus = "working"
	AgentStatusError   AgentStatus = "error"
	AgentStatusKilled  AgentStatus = "killed"
	AgentStatusSuccess AgentStatus = "success"
)

// Well-known metric keys. Values reported under these keys accumulate.
const (
	MetricCost    = "cost"
	MetricTokens  = "tokens"
	MetricRevenue = "revenue"

	// MetricProgress is a plain overwrite key used by reporters for 0..100 progress.
	MetricProgress = "progress"
)

// CumulativeMetrics lists the keys whose incoming values are added to the
// stored value instead of replacing it.
var CumulativeMetrics = []string{MetricCost, MetricTokens, MetricRevenue}

// IsCumulativeMetric reports whether key accumulates.
func IsCumulativeMetric(key string) bool {
	switch key {
	case MetricCost, MetricTokens, MetricRevenue:
		return true
	}
	return false
}

// KillDecision is the outcome of the kill policy.
type KillDecision string

const (
	KillDecisionAllow KillDecision = "allow"
	KillDecisionBlock KillDecision = "block"
)
