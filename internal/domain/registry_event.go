package domain

import "github.com/google/uuid"

// AssetLifecycleEvent is the message published to RabbitMQ whenever an asset
// moves through its lifecycle (registered, verified, tokenized, retired,
// owner reassigned).
type AssetLifecycleEvent struct {
	EventID   uuid.UUID   `json:"event_id"`
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Actor     string      `json:"actor"`
	Status    AssetStatus `json:"status"`
	Timestamp int64       `json:"timestamp"`
}

// TokenTransferEvent is the message published to RabbitMQ after a successful
// balance transfer. Seq mirrors the transfer history log entry, so consumers
// can reconstruct the global transfer order.
type TokenTransferEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	AssetID   string    `json:"asset_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Amount    uint64    `json:"amount"`
	Seq       int64     `json:"seq"`
	Timestamp int64     `json:"timestamp"`
}
