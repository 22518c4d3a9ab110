package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeFetch represents transport or render failures while loading a page
	ErrorTypeFetch ErrorType = "fetch"
	// ErrorTypeParsing represents a malformed listing fragment
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeRateLimit represents the catalog refusing requests
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeConfiguration represents missing or invalid configuration
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeRegistry represents run storage read/write failures
	ErrorTypeRegistry ErrorType = "registry"
	// ErrorTypeCache represents cache-related errors
	ErrorTypeCache ErrorType = "cache"
	// ErrorTypePublisher represents publisher-related errors
	ErrorTypePublisher ErrorType = "publisher"
)

// ScrapeError is the error type shared by every stage of the pipeline
type ScrapeError struct {
	Type      ErrorType
	Component string
	Message   string
	Err       error
	Time      time.Time
}

// Error implements the error interface
func (e *ScrapeError) Error() string {
	if e.Component == "" {
		if e.Err != nil {
			return fmt.Sprintf("[%s] %s - %v", e.Type, e.Message, e.Err)
		}
		return fmt.Sprintf("[%s] %s", e.Type, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Component, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Component, e.Message)
}

// Unwrap returns the underlying error
func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a later run may succeed where this one failed.
// Retries are never attempted inside a run; the scheduler decides.
func (e *ScrapeError) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeFetch:
		return true
	case ErrorTypeRegistry:
		return true
	default:
		return false
	}
}

// New creates a new ScrapeError
func New(errType ErrorType, component, message string, err error) *ScrapeError {
	return &ScrapeError{
		Type:      errType,
		Component: component,
		Message:   message,
		Err:       err,
		Time:      time.Now(),
	}
}

// NewFetch creates a new fetch error
func NewFetch(component, message string, err error) *ScrapeError {
	return New(ErrorTypeFetch, component, message, err)
}

// NewParsing creates a new parsing error
func NewParsing(component, message string, err error) *ScrapeError {
	return New(ErrorTypeParsing, component, message, err)
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(component string, retryAfter string) *ScrapeError {
	message := "rate limited"
	if retryAfter != "" {
		message = fmt.Sprintf("rate limited; retry after %s", retryAfter)
	}
	return New(ErrorTypeRateLimit, component, message, nil)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *ScrapeError {
	return New(ErrorTypeConfiguration, "", message, err)
}

// NewRegistry creates a new registry error
func NewRegistry(component, message string, err error) *ScrapeError {
	return New(ErrorTypeRegistry, component, message, err)
}

// NewCache creates a new cache error
func NewCache(component, message string, err error) *ScrapeError {
	return New(ErrorTypeCache, component, message, err)
}

// NewPublisher creates a new publisher error
func NewPublisher(component, message string, err error) *ScrapeError {
	return New(ErrorTypePublisher, component, message, err)
}

// IsType reports whether any error in err's chain is a ScrapeError of the given type
func IsType(err error, errType ErrorType) bool {
	var se *ScrapeError
	for err != nil {
		if !stderrors.As(err, &se) {
			return false
		}
		if se.Type == errType {
			return true
		}
		err = se.Err
	}
	return false
}
