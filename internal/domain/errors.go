package domain

import "errors"

var (
	// ErrTestNotFound indicates the test or its question catalog could not be loaded.
	ErrTestNotFound = errors.New("test not found")
	// ErrQuestionNotFound indicates a referenced question ID is not part of the test.
	ErrQuestionNotFound = errors.New("question not found")
	// ErrAttemptNotFound indicates no attempt record exists for the given ID.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrAlreadyCompleted is returned when submitting or opening a finished attempt.
	ErrAlreadyCompleted = errors.New("attempt already completed")
	// ErrNotOwner is returned when an attempt does not belong to the caller.
	ErrNotOwner = errors.New("attempt does not belong to user")
	// ErrSessionActive is returned when a live session already holds the attempt.
	ErrSessionActive = errors.New("attempt session already active")
	// ErrRestorePending is returned for operations issued before the
	// restore-or-restart choice has been made.
	ErrRestorePending = errors.New("restore decision pending")
	// ErrNoRestorePending is returned when ChooseRestore is called but no
	// decision was asked for.
	ErrNoRestorePending = errors.New("no restore decision pending")
	// ErrSessionClosed is returned after Cancel or a terminal session error.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidDraft indicates a draft that does not fit its question
	// (wrong type, unknown option, incomplete ordering).
	ErrInvalidDraft = errors.New("invalid draft for question")
)
