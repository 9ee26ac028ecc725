// Package events streams host state changes to subscribed agents over a
// WebSocket connection.
package events

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type identifies an event
type Type string

const (
	WalletBalanceChanged    Type = "wallet.balance_changed"
	WalletTransactionUpdate Type = "wallet.transaction_update"
	MiningStatusChanged     Type = "mining.status_changed"
	MiningModeChanged       Type = "mining.mode_changed"
	MiningBlockFound        Type = "mining.block_found"
	NodeSyncStatusChanged   Type = "node.sync_status_changed"
	NodeConnectionChanged   Type = "node.connection_changed"
	P2PoolStatsUpdate       Type = "p2pool.stats_update"
	AppConfigChanged        Type = "app.config_changed"
	AppError                Type = "app.error"
	AppStatusUpdate         Type = "app.status_update"
)

// AllTypes lists every event type
var AllTypes = []Type{
	WalletBalanceChanged,
	WalletTransactionUpdate,
	MiningStatusChanged,
	MiningModeChanged,
	MiningBlockFound,
	NodeSyncStatusChanged,
	NodeConnectionChanged,
	P2PoolStatsUpdate,
	AppConfigChanged,
	AppError,
	AppStatusUpdate,
}

// Category is the part of the event type before the dot
func (t Type) Category() string {
	s := string(t)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return "unknown"
}

// Valid reports whether t is a known event type
func (t Type) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event is one message on the stream
type Event struct {
	ID        string                 `json:"id"`
	Timestamp int64                  `json:"timestamp"`
	Type      Type                   `json:"type"`
	Data      map[string]interface{} `json:"data"`
}

// New creates a timestamped event with a fresh ID
func New(t Type, data map[string]interface{}) Event {
	if data == nil {
		data = map[string]interface{}{}
	}
	return Event{
		ID:        uuid.NewString(),
		Timestamp: time.Now().Unix(),
		Type:      t,
		Data:      data,
	}
}

// Severity is the severity carried by app.error events, or "" for others
func (e Event) Severity() string {
	if e.Type != AppError {
		return ""
	}
	s, _ := e.Data["severity"].(string)
	return s
}

// Publisher accepts events for delivery
type Publisher interface {
	Publish(Event)
}

// NopPublisher discards events
type NopPublisher struct{}

// Publish does nothing
func (NopPublisher) Publish(Event) {}
