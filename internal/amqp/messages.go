package amqp

import (
	"encoding/json"
	"time"
)

// ExpenseSyncMessage asks the worker to re-export one expense. It only
// carries the ID and the reason; the worker reads the current row from
// the database so stale messages are harmless.
type ExpenseSyncMessage struct {
	ID        int64     `json:"id"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	ReasonCreated = "created"
	ReasonUpdated = "updated"
	ReasonDeleted = "deleted"
)

func NewExpenseSyncMessage(id int64, reason string) *ExpenseSyncMessage {
	return &ExpenseSyncMessage{ID: id, Reason: reason, Timestamp: time.Now()}
}

func (m *ExpenseSyncMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ExpenseSyncMessageFromJSON(data []byte) (*ExpenseSyncMessage, error) {
	var msg ExpenseSyncMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// AuthEventMessage mirrors a login attempt for downstream consumers
// (alerting, anomaly detection). Published best-effort.
type AuthEventMessage struct {
	AttemptID string    `json:"attempt_id"`
	UserID    *int64    `json:"user_id,omitempty"`
	IP        string    `json:"ip"`
	Country   string    `json:"country,omitempty"`
	Region    string    `json:"region,omitempty"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *AuthEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}
