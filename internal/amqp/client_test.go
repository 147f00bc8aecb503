package amqp

import (
	"testing"
	"time"
)

func TestEventRoundTrip(t *testing.T) {
	event := NewEvent(EventTransactionCreated, "ws-1", "tx-1")
	event.Amount = "42.50"
	event.Detail = "spesa supermercato"

	body, err := event.ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := EventFromJSON(body)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != EventTransactionCreated {
		t.Errorf("type = %q, want %q", got.Type, EventTransactionCreated)
	}
	if got.WorkspaceID != "ws-1" || got.EntityID != "tx-1" {
		t.Errorf("identifiers = %q/%q, want ws-1/tx-1", got.WorkspaceID, got.EntityID)
	}
	if got.Amount != "42.50" {
		t.Errorf("amount = %q, want 42.50", got.Amount)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should survive the round trip")
	}
}

func TestEventFromJSONInvalid(t *testing.T) {
	if _, err := EventFromJSON([]byte("{not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestNewEventTimestamp(t *testing.T) {
	before := time.Now()
	event := NewEvent(EventInvoicePaid, "ws-1", "card-1")
	if event.Timestamp.Before(before.Add(-time.Second)) {
		t.Error("timestamp should be set to now")
	}
}
