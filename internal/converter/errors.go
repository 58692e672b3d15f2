package converter

import (
	"fmt"
	"time"
)

// ElementNotFoundError indicates a required UI element or labeled option
// never became available within its wait bound
type ElementNotFoundError struct {
	Selector string
	Label    string
	Err      error
}

func (e *ElementNotFoundError) Error() string {
	if e.Label != "" {
		return fmt.Sprintf("element not found: option %q in %s", e.Label, e.Selector)
	}
	return fmt.Sprintf("element not found: %s", e.Selector)
}

func (e *ElementNotFoundError) Unwrap() error { return e.Err }

// PrefectureNotFoundError indicates neither the original prefecture label
// nor its fallback rewrite matched an available option. Fallback is empty
// when no rewrite prefix applied.
type PrefectureNotFoundError struct {
	Original string
	Fallback string
}

func (e *PrefectureNotFoundError) Error() string {
	if e.Fallback == "" {
		return fmt.Sprintf("prefecture not found: %q (no fallback prefix applies)", e.Original)
	}
	return fmt.Sprintf("prefecture not found: %q (fallback %q also unmatched)", e.Original, e.Fallback)
}

// ConversionTimeoutError indicates the submit produced no visible result
// within the configured bound
type ConversionTimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *ConversionTimeoutError) Error() string {
	return fmt.Sprintf("conversion result did not appear within %s", e.Timeout)
}

func (e *ConversionTimeoutError) Unwrap() error { return e.Err }

// ExtractionFailedError indicates the result section rendered but no
// extraction strategy yielded parseable text
type ExtractionFailedError struct {
	Reason string
}

func (e *ExtractionFailedError) Error() string {
	return fmt.Sprintf("failed to extract converted name: %s", e.Reason)
}
