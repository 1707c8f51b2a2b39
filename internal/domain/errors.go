package domain

import "errors"

// Error taxonomy for the scoring pipeline. Callers test with errors.Is.
var (
	// ErrModelUnavailable means the classifier artifacts could not be loaded.
	// It is fatal at startup and never returned per call.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrInvalidInput is a user-correctable problem with the raw transaction.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClassifier covers every failure during alignment or scoring.
	ErrClassifier = errors.New("classifier error")
)
