// Package chat provides conversation management and the retrieval-augmented
// chat orchestrator.
package chat

import "errors"

var (
	// ErrForbidden is returned when a user addresses a conversation owned
	// by someone else.
	ErrForbidden = errors.New("conversation belongs to another user")

	// ErrRetrievalFailed is returned when the vector index cannot be
	// searched. The user's message is still persisted.
	ErrRetrievalFailed = errors.New("source retrieval failed")

	// ErrGenerationFailed is returned when the LLM fails to produce an
	// answer. The user's message is still persisted.
	ErrGenerationFailed = errors.New("answer generation failed")

	// ErrTimeout is returned when answer generation exceeds the configured
	// deadline. The user's message is still persisted.
	ErrTimeout = errors.New("answer generation timed out")
)
