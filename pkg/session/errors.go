package session

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrCompletionFailed  = errors.New("completion failed")
	ErrArchiveFailed     = errors.New("archive failed")
	ErrNotFound          = errors.New("conversation not found in history")
	ErrSessionBusy       = errors.New("session is busy with a pending request")
	ErrAlreadySubscribed = errors.New("session already has an active history subscription")
	ErrEngineNil         = errors.New("session engine is nil")
	ErrStoreNil          = errors.New("session store is nil")
	ErrNotWatchable      = errors.New("history store does not support subscriptions")
)

// CompletionError is returned by SendMessage when the completion service
// fails. The user turn stays in the conversation.
type CompletionError struct {
	Err error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion failed: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

func (e *CompletionError) Is(target error) bool { return target == ErrCompletionFailed }

// ArchiveError is returned by StartNewSession when the finished conversation
// could not be stored. The active conversation is left untouched.
type ArchiveError struct {
	UserID string
	Err    error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("archiving conversation for %s failed: %v", e.UserID, e.Err)
}

func (e *ArchiveError) Unwrap() error { return e.Err }

func (e *ArchiveError) Is(target error) bool { return target == ErrArchiveFailed }
