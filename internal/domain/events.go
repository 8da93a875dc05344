/**
 * @description
 * This file defines the events the ledger-service publishes to the message broker
 * (RabbitMQ). They are the contract for downstream consumers such as notification
 * and analytics services.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

const TransactionPostedRoutingKey = "ledger.transaction.posted"

// TransactionPostedEvent is published once per committed posting. A transfer
// carries both legs.
type TransactionPostedEvent struct {
	EventID      uuid.UUID       `json:"event_id"`
	Kind         TransactionKind `json:"kind"`
	Transactions []Transaction   `json:"transactions"`
	TellerID     string          `json:"teller_id,omitempty"`
	PostedAt     time.Time       `json:"posted_at"`
}

// MessageID is the broker message id consumers deduplicate on.
func (e TransactionPostedEvent) MessageID() string {
	return e.EventID.String()
}
