package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoSites     = errors.New("no active sites to scan")
	ErrNoFailures  = errors.New("run has no failed tasks")
	ErrRunNotFound = errors.New("run not found")
	ErrRunActive   = errors.New("another run is already in progress")
	ErrNotFound    = errors.New("record not found")
)

// ConfigurationError names a required setting that is missing or empty.
type ConfigurationError struct {
	Setting string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s is not set", e.Setting)
}

type FetchErrorKind string

const (
	MissingInput        FetchErrorKind = "missing_input"
	NavigationFailed    FetchErrorKind = "navigation_failed"
	SelectorNotFound    FetchErrorKind = "selector_not_found"
	BrowserLaunchFailed FetchErrorKind = "browser_launch_failed"
)

// FetchError is a typed page-fetch failure.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// IsFetchKind reports whether err is a FetchError of the given kind.
func IsFetchKind(err error, kind FetchErrorKind) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == kind
}

// ExtractionParseError means the model response did not match the posting schema.
type ExtractionParseError struct {
	Message string
}

func (e *ExtractionParseError) Error() string {
	return "extraction parse: " + e.Message
}

// Provider error codes.
const (
	ProviderAuth       = "auth"
	ProviderRateLimit  = "rate_limit"
	ProviderServer     = "server"
	ProviderNetwork    = "network"
	ProviderBadRequest = "bad_request"
	ProviderEmpty      = "empty"
)

// ExtractionProviderError means the language-model call itself failed.
type ExtractionProviderError struct {
	Code string
	Err  error
}

func (e *ExtractionProviderError) Error() string {
	return fmt.Sprintf("extraction provider (%s): %v", e.Code, e.Err)
}

func (e *ExtractionProviderError) Unwrap() error {
	return e.Err
}

// HTTPError wraps an HTTP status code so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}
