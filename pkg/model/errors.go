package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrParse is returned when a schema text contains a table declaration that can not be segmented.
	ErrParse = goerr.New("schema parse error")

	// ErrGeneration is returned when the generation oracle fails or returns an unusable response.
	ErrGeneration = goerr.New("generation failure")

	// ErrEmbeddingMismatch is returned when vectors of a snapshot and a question can not be
	// compared, e.g. they come from different embedding models.
	ErrEmbeddingMismatch = goerr.New("embedding mismatch")

	ErrInvalidArgument  = goerr.New("invalid argument")
	ErrSnapshotNotFound = goerr.New("schema snapshot not found")
	ErrSessionNotFound  = goerr.New("session not found")
)
