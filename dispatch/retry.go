package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/Programmerfd54/rocket-shelduer-sub002/access"
	"github.com/Programmerfd54/rocket-shelduer-sub002/database"
	"gorm.io/gorm"
)

// RetryDelay is how far into the future a retried message is rescheduled.
const RetryDelay = time.Minute

var (
	ErrNotRetryable = errors.New("only failed messages can be retried")
	ErrForbidden    = errors.New("not allowed to retry this message")
)

// Retry moves a failed message back to pending, due RetryDelay after now.
// Owners need CapRetryOwnMessage, everyone else CapRetryAnyMessage.
func Retry(ctx context.Context, DB *gorm.DB, principal *database.User, messageUUID string, now time.Time) (*database.ScheduledMessage, error) {
	db := DB.WithContext(ctx)

	msg, err := database.FindMessageByUUID(db, messageUUID)
	if err != nil {
		return nil, err
	}

	capability := access.CapRetryAnyMessage
	if msg.UserID == principal.ID {
		capability = access.CapRetryOwnMessage
	}
	if !principal.Can(capability) {
		return nil, ErrForbidden
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		conn, err := database.FindConnectionByID(tx, msg.ConnectionID)
		if err != nil {
			if database.IsNotFound(err) {
				return ErrNotRetryable
			}
			return err
		}
		if conn.IsArchived {
			return ErrNotRetryable
		}
		ok, err := database.RetryMessage(tx, msg.ID, now.Add(RetryDelay))
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotRetryable
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return database.FindMessageByID(db, msg.ID)
}
