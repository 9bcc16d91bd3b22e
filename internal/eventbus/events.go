package eventbus

import "time"

// Topic names used by the two concrete event types this bus carries.
const (
	TopicTransferProgress     = "transfer.progress"
	TopicProviderHealthChanged = "provider.health_changed"
)

// TransferProgress is published by the orchestrator at every state
// transition of a Transfer.
type TransferProgress struct {
	TransferID string
	FromState  string
	ToState    string
	At         time.Time
	Detail     string
}

// ProviderHealthChanged is published by the circuit breaker whenever a price
// provider's breaker changes state.
type ProviderHealthChanged struct {
	ProviderID string
	State      string // "closed", "open", "half-open"
	At         time.Time
	Reason     string
}
