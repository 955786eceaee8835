package entity

import (
	"encoding/json"
	"time"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "insert"
	ChangeUpdate ChangeType = "update"
	ChangeDelete ChangeType = "delete"
)

// ChangeEvent is a row-level change notification.
type ChangeEvent struct {
	Table  string          `json:"table"`
	Type   ChangeType      `json:"type"`
	UserID string          `json:"user_id"`
	Origin string          `json:"origin"`
	Row    json.RawMessage `json:"row,omitempty"`
	At     time.Time       `json:"at"`
}

// OrderEvent is published when an order is created or changes state.
type OrderEvent struct {
	Event string `json:"event"`
	Order Order  `json:"order"`
}
