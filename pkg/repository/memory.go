package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/queryscribe/pkg/model"
)

// Memory keeps sessions in process memory. Rows are dropped in the same way as the
// Firestore repository so that both behave alike.
type Memory struct {
	mu       sync.RWMutex
	sessions map[model.SessionID]*model.Session
}

func NewMemory() *Memory {
	return &Memory{sessions: make(map[model.SessionID]*model.Session)}
}

func (r *Memory) PutSession(ctx context.Context, session *model.Session) error {
	if session.ID == "" {
		return goerr.Wrap(model.ErrInvalidArgument, "session ID is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[session.ID] = cloneSession(session)
	return nil
}

func (r *Memory) GetSession(ctx context.Context, id model.SessionID) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	if !ok {
		return nil, goerr.Wrap(model.ErrSessionNotFound, "session not found", goerr.V("session_id", id))
	}
	return cloneSession(session), nil
}

func (r *Memory) ListSessions(ctx context.Context, offset, limit int) ([]*model.Session, error) {
	r.mu.RLock()
	all := make([]*model.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].StartedAt.After(all[j].StartedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}

	result := make([]*model.Session, len(all))
	for i, s := range all {
		result[i] = cloneSession(s)
	}
	return result, nil
}

func cloneSession(s *model.Session) *model.Session {
	c := *s
	c.Rows = nil
	c.History = make([]*model.Attempt, len(s.History))
	for i, a := range s.History {
		attempt := *a
		attempt.Rows = nil
		c.History[i] = &attempt
	}
	return &c
}
