// Package notify delivers fire-and-forget event messages to users. Delivery
// is best-effort: a failed write is logged and never rolls back the balance
// or status change that triggered it.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saugat-sapkota-2/digital-wallet/models"
	"github.com/saugat-sapkota-2/digital-wallet/store"
)

// deliverTimeout caps how long a background delivery may take.
const deliverTimeout = 5 * time.Second

// Sink accepts notification payloads without ever blocking the caller on
// delivery failure.
type Sink interface {
	Notify(recipientID, senderID uuid.UUID, message string)
}

// StoreSink persists notifications as durable rows, asynchronously.
type StoreSink struct {
	store store.Store
	log   *zap.Logger
}

// NewStoreSink builds a sink writing through the given store.
func NewStoreSink(s store.Store, log *zap.Logger) *StoreSink {
	return &StoreSink{store: s, log: log}
}

// Notify writes the notification row in the background. Errors are logged
// and dropped; the triggering operation has already committed.
func (s *StoreSink) Notify(recipientID, senderID uuid.UUID, message string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		defer cancel()
		err := s.store.AppendNotification(ctx, &models.Notification{
			UserID:   recipientID,
			SenderID: senderID,
			Message:  message,
		})
		if err != nil {
			s.log.Warn("notification delivery failed",
				zap.String("recipient_id", recipientID.String()),
				zap.Error(err))
		}
	}()
}
