// Package failure separates infrastructure failures, which the caller may retry,
// from data-quality failures, which the pipeline absorbs by degrading its output.
package failure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"google.golang.org/api/googleapi"
)

// Class is the failure category surfaced to callers as the result error type.
type Class string

const (
	// None means no failure occurred.
	None Class = ""
	// ServiceFailure covers auth, quota, network and 5xx errors from an external backend.
	ServiceFailure Class = "service_failure"
	// DataQualityFailure means the backend answered but the content was unusable.
	DataQualityFailure Class = "data_quality_failure"
)

// serviceVocabulary is matched case-insensitively against error messages.
var serviceVocabulary = []string{
	"rate limit",
	"ratelimit",
	"rate_limit",
	"too many requests",
	"quota",
	"resource_exhausted",
	"resource exhausted",
	"unauthenticated",
	"unauthorized",
	"permission denied",
	"permission_denied",
	"api key",
	"api_key",
	"auth",
	"credential",
	"network",
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"timed out",
	"deadline exceeded",
	"deadline_exceeded",
	"bad gateway",
	"gateway timeout",
	"service unavailable",
	"unavailable",
}

// serviceStatus matches HTTP status codes standing alone in a message, not
// digits inside a larger number such as a byte count.
var serviceStatus = regexp.MustCompile(`\b(401|403|429|50[234])\b`)

// Error is a classified failure raised at a stage boundary.
type Error struct {
	Class Class
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap classifies err and attaches the stage that raised it.
// A nil err yields nil.
func Wrap(stage string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	return &Error{Class: Classify(err), Stage: stage, Err: err}
}

// ClassOf returns the class carried by err, classifying it if it was never wrapped.
func ClassOf(err error) Class {
	if err == nil {
		return None
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return Classify(err)
}

// Classify maps an error onto the failure taxonomy. Typed errors are checked
// first, then the message is matched against a fixed vocabulary. Anything
// unrecognised is a data-quality failure.
func Classify(err error) Class {
	if err == nil {
		return None
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ServiceFailure
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if isServiceStatus(apiErr.Code) {
			return ServiceFailure
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ServiceFailure
	}

	msg := strings.ToLower(err.Error())
	for _, word := range serviceVocabulary {
		if strings.Contains(msg, word) {
			return ServiceFailure
		}
	}
	if serviceStatus.MatchString(msg) {
		return ServiceFailure
	}
	return DataQualityFailure
}

// IsService reports whether err is classified as a service failure.
func IsService(err error) bool {
	return ClassOf(err) == ServiceFailure
}

func isServiceStatus(code int) bool {
	switch {
	case code == 401, code == 403, code == 408, code == 429:
		return true
	case code >= 500 && code <= 599:
		return true
	}
	return false
}
