package repository_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/queryscribe/pkg/model"
	"github.com/m-mizutani/queryscribe/pkg/repository"
)

func newSession(question string, startedAt time.Time) *model.Session {
	return &model.Session{
		ID:         model.NewSessionID(),
		Question:   question,
		Status:     model.SessionStatusSucceeded,
		FinalQuery: "SELECT 1",
		Rows:       &model.Rows{Columns: []string{"n"}, Values: [][]any{{1}}},
		RowCount:   1,
		History: []*model.Attempt{
			{Number: 1, Query: "SELECT 1", RowCount: 1, Rows: &model.Rows{Columns: []string{"n"}}},
		},
		StartedAt: startedAt,
	}
}

func TestMemoryPutGet(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()

	session := newSession("how many users?", time.Now())
	gt.NoError(t, repo.PutSession(ctx, session))

	got, err := repo.GetSession(ctx, session.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.ID, session.ID)
	gt.Equal(t, got.Question, session.Question)
	gt.Equal(t, got.RowCount, 1)
	gt.V(t, got.Rows).Nil()
	gt.A(t, got.History).Length(1)
	gt.V(t, got.History[0].Rows).Nil()

	// the stored record is not affected by later changes of the caller's value
	session.Question = "changed"
	got, err = repo.GetSession(ctx, session.ID)
	gt.NoError(t, err)
	gt.Equal(t, got.Question, "how many users?")
}

func TestMemoryGetNotFound(t *testing.T) {
	_, err := repository.NewMemory().GetSession(context.Background(), model.SessionID("missing"))
	gt.True(t, errors.Is(err, model.ErrSessionNotFound))
}

func TestMemoryPutEmptyID(t *testing.T) {
	err := repository.NewMemory().PutSession(context.Background(), &model.Session{})
	gt.True(t, errors.Is(err, model.ErrInvalidArgument))
}

func TestMemoryList(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemory()

	now := time.Now()
	oldest := newSession("first", now.Add(-2*time.Hour))
	middle := newSession("second", now.Add(-1*time.Hour))
	newest := newSession("third", now)
	for _, s := range []*model.Session{middle, oldest, newest} {
		gt.NoError(t, repo.PutSession(ctx, s))
	}

	all, err := repo.ListSessions(ctx, 0, 10)
	gt.NoError(t, err)
	gt.A(t, all).Length(3)
	gt.Equal(t, all[0].ID, newest.ID)
	gt.Equal(t, all[1].ID, middle.ID)
	gt.Equal(t, all[2].ID, oldest.ID)

	page, err := repo.ListSessions(ctx, 1, 1)
	gt.NoError(t, err)
	gt.A(t, page).Length(1)
	gt.Equal(t, page[0].ID, middle.ID)

	empty, err := repo.ListSessions(ctx, 10, 10)
	gt.NoError(t, err)
	gt.A(t, empty).Length(0)
}
