package domain

import "errors"

// Sentinel errors. Wrap with fmt.Errorf("...: %w", ErrXxx) and test with errors.Is.
var (
	// Connection errors
	ErrUnauthorized = errors.New("unauthorized")

	// Inbound event errors; these are dropped, never sent back to the peer.
	ErrMalformedPayload = errors.New("malformed payload")
	ErrUnknownType      = errors.New("unknown message type")
	ErrKillBlocked      = errors.New("kill request blocked by policy")

	// Lookup errors
	ErrAgentNotFound = errors.New("agent not found")
	ErrShareNotFound = errors.New("share not found")
	ErrShareExpired  = errors.New("share expired")
)
