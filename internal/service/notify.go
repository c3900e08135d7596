package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/mabruquaye/cardpay/internal/logging"
	"github.com/mabruquaye/cardpay/internal/models"
	"github.com/mabruquaye/cardpay/internal/store"
)

// Notifier appends notification records as a settlement side effect.
// Delivery is out of scope; only the record is.
type Notifier struct {
	notes  store.NotificationStore
	logger *logging.Logger
	now    func() time.Time
}

func NewNotifier(notes store.NotificationStore, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Notifier{notes: notes, logger: logger.Named("notifier"), now: time.Now}
}

func (n *Notifier) Emit(ctx context.Context, ownerID, title, message string) error {
	return n.notes.Append(ctx, &models.Notification{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     title,
		Message:   message,
		Unread:    true,
		CreatedAt: n.now(),
	})
}
