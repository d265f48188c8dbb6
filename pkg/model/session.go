package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SessionID string

// NewSessionID generates a new unique SessionID
func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

type ErrorKind string

const (
	ErrorKindSyntax      ErrorKind = "syntax"
	ErrorKindRuntime     ErrorKind = "runtime"
	ErrorKindTimeout     ErrorKind = "timeout"
	ErrorKindPolicy      ErrorKind = "policy"
	ErrorKindUnavailable ErrorKind = "unavailable"
)

// ExecError is a structured failure of a candidate query.
type ExecError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Rows is a tabular result of a successful execution.
type Rows struct {
	Columns []string
	Values  [][]any
}

func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}

// Attempt is one generate-and-execute round. Exactly one of Rows and Error is set, except
// that Rows is not persisted.
type Attempt struct {
	Number    int           `json:"number"`
	Query     string        `json:"query"`
	Rows      *Rows         `json:"-" firestore:"-"`
	RowCount  int           `json:"row_count"`
	Error     *ExecError    `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

func (a *Attempt) Succeeded() bool {
	return a.Error == nil
}

type SessionStatus string

const (
	SessionStatusSucceeded    SessionStatus = "succeeded"
	SessionStatusExhausted    SessionStatus = "exhausted"
	SessionStatusFatalAborted SessionStatus = "fatal_aborted"
)

const (
	AbortReasonOracleFailure = "oracle_failure"
	AbortReasonCanceled      = "canceled"
)

// Session is the terminal record of one question answered through the correction loop.
type Session struct {
	ID       SessionID
	Question string
	Status   SessionStatus

	FinalQuery  string
	Rows        *Rows `firestore:"-"`
	RowCount    int
	History     []*Attempt
	AbortReason string

	SnapshotID     SnapshotID
	Tables         []TableName
	UsedFullSchema bool
	Plan           *Plan
	Explanation    string

	StartedAt  time.Time
	FinishedAt time.Time
}

// Errors returns distinct execution errors in order of first appearance.
func (s *Session) Errors() []*ExecError {
	var errs []*ExecError
	seen := map[ExecError]bool{}
	for _, a := range s.History {
		if a.Error == nil || seen[*a.Error] {
			continue
		}
		seen[*a.Error] = true
		errs = append(errs, a.Error)
	}
	return errs
}
