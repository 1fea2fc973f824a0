package prescription

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType identifies an audit event.
type EventType string

const (
	EventRecorded EventType = "PrescriptionRecorded"
	EventAnchored EventType = "PrescriptionAnchored"
)

// AuditEvent is the envelope published to the audit stream. Events are
// written to the outbox in the same transaction as the domain write, so
// the stream never references a record that was not durably stored.
type AuditEvent struct {
	ID        string          `json:"id"`
	RecordID  string          `json:"record_id"`
	EventType EventType       `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewAuditEvent wraps a payload in an audit envelope.
func NewAuditEvent(recordID string, eventType EventType, payload interface{}) (*AuditEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &AuditEvent{
		ID:        uuid.New().String(),
		RecordID:  recordID,
		EventType: eventType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// RecordedData is the payload of a PrescriptionRecorded event.
type RecordedData struct {
	RecordID    string    `json:"record_id"`
	DataHash    string    `json:"data_hash"`
	HashVersion int       `json:"hash_version"`
	CreatedAt   time.Time `json:"created_at"`
}

// AnchoredData is the payload of a PrescriptionAnchored event.
type AnchoredData struct {
	RecordID   string    `json:"record_id"`
	DataHash   string    `json:"data_hash"`
	TxHash     string    `json:"tx_hash"`
	Network    string    `json:"network"`
	AnchoredAt time.Time `json:"anchored_at"`
}
