package model

import (
	"context"
	"errors"
)

// Application-wide standard errors
var (
	// Common resource/store errors
	ErrNotFound = errors.New("resource not found")

	// Generation lifecycle errors
	ErrGenerationInProgress = errors.New("generation is already in progress for this story")
	ErrStoryTerminal        = errors.New("story is in a terminal state")
	ErrGenerationTimeout    = errors.New("generation operation timed out")
	ErrGenerationFailed     = errors.New("text generation failed")
)

// IsTimeout reports whether err is a timeout-kind failure. The distinction
// drives the single backup-model fallback in the stage executors.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrGenerationTimeout) || errors.Is(err, context.DeadlineExceeded)
}
