package amqp

import (
	"encoding/json"
	"time"

	"gastos/internal/ledger"
)

// LedgerChangedMessage announces a committed ledger mutation. It carries no
// expense data; consumers re-read the ledger if they need it.
type LedgerChangedMessage struct {
	Op        string    `json:"op"`
	ID        string    `json:"id,omitempty"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerChangedMessage(c ledger.Change) *LedgerChangedMessage {
	ts := c.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return &LedgerChangedMessage{
		Op:        c.Op,
		ID:        c.ID,
		Count:     c.Count,
		Timestamp: ts.UTC(),
	}
}

func (m *LedgerChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerChangedMessageFromJSON(data []byte) (*LedgerChangedMessage, error) {
	var msg LedgerChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
