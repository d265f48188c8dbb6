package interfaces

import (
	"context"

	"github.com/m-mizutani/queryscribe/pkg/model"
)

// Repository defines the interface for session record persistence
type Repository interface {
	// PutSession saves a session record to the repository
	PutSession(ctx context.Context, session *model.Session) error

	// GetSession retrieves a session record by ID. It returns model.ErrSessionNotFound if not exists.
	GetSession(ctx context.Context, id model.SessionID) (*model.Session, error)

	// ListSessions retrieves session records, newest first
	ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error)
}
