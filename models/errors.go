package models

import (
	"errors"
	"fmt"
	"time"
)

// Error codes reported by the scrape pipeline.
const (
	ErrCodeLaunch        = "LAUNCH_FAILED"
	ErrCodeNavigation    = "NAVIGATION_FAILED"
	ErrCodeNotFound      = "ELEMENT_NOT_FOUND"
	ErrCodeScreenshot    = "SCREENSHOT_FAILED"
	ErrCodeExtraction    = "EXTRACTION_FAILED"
	ErrCodeInvalidConfig = "INVALID_CONFIG"
)

// ScrapeError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type ScrapeError struct {
	Code    string
	Message string

	// Timeout is the configured limit that elapsed, zero when the failure
	// was not a timeout.
	Timeout time.Duration

	Err error // wrapped original error
}

func (e *ScrapeError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Timeout > 0 {
		msg += fmt.Sprintf(" (timeout %s)", e.Timeout)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(code, message string, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Err: err}
}

// NewTimeoutError creates a ScrapeError for a wait that exceeded timeout.
func NewTimeoutError(code, message string, timeout time.Duration, err error) *ScrapeError {
	return &ScrapeError{Code: code, Message: message, Timeout: timeout, Err: err}
}

// CodeOf returns the code of the first ScrapeError in err's chain, or ""
// if there is none.
func CodeOf(err error) string {
	var se *ScrapeError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
