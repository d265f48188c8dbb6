package repository

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const collectionSessions = "sessions"

// Firestore implements interfaces.Repository with Cloud Firestore.
type Firestore struct {
	client *firestore.Client
}

// New creates a Firestore repository
func New(projectID, databaseID string) (*Firestore, error) {
	ctx := context.Background()
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID))
	}

	return &Firestore{client: client}, nil
}

func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) PutSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		return goerr.Wrap(model.ErrInvalidArgument, "session ID is empty")
	}

	if _, err := r.client.Collection(collectionSessions).Doc(string(session.ID)).Set(ctx, session); err != nil {
		return goerr.Wrap(err, "failed to put session", goerr.V("session_id", session.ID))
	}
	return nil
}

func (r *Firestore) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	doc, err := r.client.Collection(collectionSessions).Doc(string(id)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(model.ErrSessionNotFound, "session not found", goerr.V("session_id", id))
		}
		return nil, goerr.Wrap(err, "failed to get session", goerr.V("session_id", id))
	}

	var session model.Session
	if err := doc.DataTo(&session); err != nil {
		return nil, goerr.Wrap(err, "failed to decode session", goerr.V("session_id", id))
	}
	return &session, nil
}

func (r *Firestore) ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error) {
	iter := r.client.Collection(collectionSessions).
		OrderBy("StartedAt", firestore.Desc).
		Offset(offset).
		Limit(limit).
		Documents(ctx)
	defer iter.Stop()

	var sessions []*model.Session
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list sessions")
		}

		var session model.Session
		if err := doc.DataTo(&session); err != nil {
			return nil, goerr.Wrap(err, "failed to decode session", goerr.V("doc_id", doc.Ref.ID))
		}
		sessions = append(sessions, &session)
	}
	return sessions, nil
}
