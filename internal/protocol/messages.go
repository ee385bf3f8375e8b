// Package protocol defines the WebSocket message protocol between agents,
// viewers and the relay.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tejasdessai01/agentwatch-app/internal/domain"
)

// Message types from clients to the relay
const (
	TypeRegister    = "register"
	TypeReport      = "report"
	TypeKillRequest = "kill_request"
)

// Message types from the relay to clients
const (
	TypeInitialState  = "initial_state"
	TypeRecordUpdated = "record_updated"
	TypeKillSignal    = "kill_signal"
)

// BaseMessage contains common fields for all messages.
type BaseMessage struct {
	Type string `json:"type"`
	Ts   int64  `json:"ts"`
}

// RegisterMessage is sent by a reporter on every (re)connect.
type RegisterMessage struct {
	BaseMessage
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// ReportMessage carries a log line, a status change and/or a metric delta.
type ReportMessage struct {
	BaseMessage
	ID      string         `json:"id"`
	Message *string        `json:"message,omitempty"`
	Status  string         `json:"status,omitempty"`
	Metrics map[string]any `json:"metrics,omitempty"`
}

// KillRequestMessage is sent by a viewer to terminate an agent.
type KillRequestMessage struct {
	BaseMessage
	TargetID string `json:"target_id"`
}

// InitialStateMessage is the first frame on every authenticated connection.
type InitialStateMessage struct {
	BaseMessage
	Agents map[string]domain.AgentRecord `json:"agents"`
}

// RecordUpdatedMessage carries the full record after a mutation.
type RecordUpdatedMessage struct {
	BaseMessage
	Agent domain.AgentRecord `json:"agent"`
}

// KillSignalMessage tells every party that target_id must terminate.
type KillSignalMessage struct {
	BaseMessage
	TargetID string `json:"target_id"`
}

// Inbound is one of *RegisterMessage, *ReportMessage or *KillRequestMessage.
type Inbound interface {
	inbound()
}

func (*RegisterMessage) inbound()    {}
func (*ReportMessage) inbound()      {}
func (*KillRequestMessage) inbound() {}

// Outbound is one of the server-to-client messages.
type Outbound interface {
	outbound()
}

func (*InitialStateMessage) outbound()  {}
func (*RecordUpdatedMessage) outbound() {}
func (*KillSignalMessage) outbound()    {}

func base(msgType string) BaseMessage {
	return BaseMessage{Type: msgType, Ts: time.Now().UnixMilli()}
}

// NewRegister builds a register message.
func NewRegister(id, name string, status domain.AgentStatus) *RegisterMessage {
	return &RegisterMessage{BaseMessage: base(TypeRegister), ID: id, Name: name, Status: string(status)}
}

// NewReport builds a report message for id.
func NewReport(id string) *ReportMessage {
	return &ReportMessage{BaseMessage: base(TypeReport), ID: id}
}

// NewKillRequest builds a kill request for targetID.
func NewKillRequest(targetID string) *KillRequestMessage {
	return &KillRequestMessage{BaseMessage: base(TypeKillRequest), TargetID: targetID}
}

// NewInitialState builds the snapshot frame.
func NewInitialState(agents map[string]domain.AgentRecord) *InitialStateMessage {
	if agents == nil {
		agents = map[string]domain.AgentRecord{}
	}
	return &InitialStateMessage{BaseMessage: base(TypeInitialState), Agents: agents}
}

// NewRecordUpdated builds a record fan-out frame.
func NewRecordUpdated(agent domain.AgentRecord) *RecordUpdatedMessage {
	return &RecordUpdatedMessage{BaseMessage: base(TypeRecordUpdated), Agent: agent}
}

// NewKillSignal builds a kill fan-out frame.
func NewKillSignal(targetID string) *KillSignalMessage {
	return &KillSignalMessage{BaseMessage: base(TypeKillSignal), TargetID: targetID}
}

// DecodeInbound parses and validates a client-to-relay message. Errors wrap
// domain.ErrMalformedPayload or domain.ErrUnknownType.
func DecodeInbound(data []byte) (Inbound, error) {
	var head BaseMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	switch head.Type {
	case TypeRegister:
		var msg RegisterMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: register: %v", domain.ErrMalformedPayload, err)
		}
		if msg.ID == "" {
			return nil, fmt.Errorf("%w: register: id is required", domain.ErrMalformedPayload)
		}
		return &msg, nil

	case TypeReport:
		var msg ReportMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: report: %v", domain.ErrMalformedPayload, err)
		}
		if msg.ID == "" {
			return nil, fmt.Errorf("%w: report: id is required", domain.ErrMalformedPayload)
		}
		return &msg, nil

	case TypeKillRequest:
		var msg KillRequestMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("%w: kill_request: %v", domain.ErrMalformedPayload, err)
		}
		if msg.TargetID == "" {
			return nil, fmt.Errorf("%w: kill_request: target_id is required", domain.ErrMalformedPayload)
		}
		return &msg, nil
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownType, head.Type)
}

// DecodeOutbound parses a relay-to-client message. Used by the client adapters.
func DecodeOutbound(data []byte) (Outbound, error) {
	var head BaseMessage
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}

	var msg Outbound
	switch head.Type {
	case TypeInitialState:
		msg = &InitialStateMessage{}
	case TypeRecordUpdated:
		msg = &RecordUpdatedMessage{}
	case TypeKillSignal:
		msg = &KillSignalMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownType, head.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrMalformedPayload, head.Type, err)
	}
	return msg, nil
}
