package amqp

import (
	"encoding/json"
	"time"
)

// Event types routed through the ledger events queue.
const (
	EventTransactionCreated = "transaction.created"
	EventTransactionDeleted = "transaction.deleted"
	EventInvoicePaid        = "invoice.paid"
	EventBudgetThreshold    = "budget.threshold"
	EventCardDueSoon        = "card.due_soon"
	EventGoalReached        = "goal.reached"
)

// Event is a lightweight notification about a ledger change. It carries
// identifiers and a display amount; consumers fetch full rows from the
// database when they need more.
type Event struct {
	Type        string    `json:"type"`
	WorkspaceID string    `json:"workspaceId"`
	EntityID    string    `json:"entityId"`
	Amount      string    `json:"amount,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewEvent(eventType, workspaceID, entityID string) *Event {
	return &Event{
		Type:        eventType,
		WorkspaceID: workspaceID,
		EntityID:    entityID,
		Timestamp:   time.Now(),
	}
}

func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
